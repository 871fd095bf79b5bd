package cli

import (
	"os"
	"strconv"
)

// Marker files next to the database let `jobq worker stop` reach a worker
// process without OS signal support, which Windows lacks.
const (
	pidFile  = ".jobq-pid"
	stopFile = ".jobq-stop"
)

func writePID(pid int) error {
	return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	b, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(b))
}

func removePID() {
	_ = os.Remove(pidFile)
}

func shouldStop() bool {
	_, err := os.Stat(stopFile)
	return err == nil
}

func createStopFile() error {
	return os.WriteFile(stopFile, []byte("stop"), 0644)
}

func removeStopFile() {
	_ = os.Remove(stopFile)
}
