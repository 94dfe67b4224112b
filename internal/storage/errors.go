package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrIntegrity is returned when a row a write depends on cannot be resolved.
// It indicates a schema or logic defect and is never retried.
var ErrIntegrity = errors.New("storage: integrity")

// ErrDatabaseMissing is returned by Open when the SQLite file does not exist
// and creation was not requested.
var ErrDatabaseMissing = errors.New("storage: database missing")
