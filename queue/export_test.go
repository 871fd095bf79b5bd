package queue

// OccurrenceKey exposes the occurrence idempotency key to external tests.
var OccurrenceKey = occurrenceKey
