package store

import "errors"

// ErrNotFound is returned when a key has no index entry.
var ErrNotFound = errors.New("store: key not found")

// ErrCorrupt is returned when a log record fails its structural checks: a
// short read, a length field exceeding the configured maxima, or a key
// mismatch between the index and the record found at its offset. The engine
// treats ErrCorrupt the same as ErrNotFound from the client's point of
// view; it is not auto-repaired. Operators recover with FLUSH.
var ErrCorrupt = errors.New("store: corrupt record")
