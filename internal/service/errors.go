package service

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is; the typed errors below report Is() true
// for their sentinel.
var (
	ErrValidation    = errors.New("validation failed")
	ErrStorageWrite  = errors.New("storage write failed")
	ErrMetadataWrite = errors.New("metadata write failed")
	ErrRange         = errors.New("range not satisfiable")
	ErrRangeRequired = errors.New("range header required")
	ErrNotFound      = errors.New("video not found")
)

// ValidationError is bad caller input; nothing was stored.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageWriteError is a failed blob write. Partial bytes were discarded.
type StorageWriteError struct {
	ID  string
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("store blob for upload %s: %v", e.ID, e.Err)
}

func (e *StorageWriteError) Is(target error) bool { return target == ErrStorageWrite }

func (e *StorageWriteError) Unwrap() error { return e.Err }

// MetadataWriteError is a failed upload+outbox transaction. The blob written
// before it has been compensated.
type MetadataWriteError struct {
	ID  string
	Err error
}

func (e *MetadataWriteError) Error() string {
	return fmt.Sprintf("commit metadata for upload %s: %v", e.ID, e.Err)
}

func (e *MetadataWriteError) Is(target error) bool { return target == ErrMetadataWrite }

func (e *MetadataWriteError) Unwrap() error { return e.Err }

// RangeError is a malformed or out-of-bounds Range header. Size is the blob
// size when it is known, -1 otherwise.
type RangeError struct {
	Header string
	Reason string
	Size   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %q: %s", e.Header, e.Reason)
}

func (e *RangeError) Is(target error) bool { return target == ErrRange }
