package speaker

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("speaker not found")
	ErrInvalidID         = errors.New("invalid speaker id")
	ErrInvalidName       = errors.New("invalid speaker name")
	ErrDimensionMismatch = errors.New("voiceprint dimension mismatch")
	ErrClosed            = errors.New("store closed")
)

// StoreIOError reports a failure to read or write the persisted document or
// a sample file. A mutating call that returns it has not changed the
// published gallery.
type StoreIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreIOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }

func ioError(op, path string, err error) error {
	var sio *StoreIOError
	if errors.As(err, &sio) {
		return err
	}
	return &StoreIOError{Op: op, Path: path, Err: err}
}
