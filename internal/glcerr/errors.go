// Package glcerr defines the sentinel errors shared across the capture
// pipeline, mapped onto the error-kind taxonomy of the glc stream format:
// transient, programming, capability, resource, stream, and cancellation.
package glcerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers distinguish failure modes with errors.Is,
// mirroring the original C implementation's errno-style return codes.
var (
	// ErrBusy is transient: the caller should retry.
	ErrBusy = errors.New("glc: busy")
	// ErrAgain is transient: the caller should retry.
	ErrAgain = errors.New("glc: resource temporarily unavailable")
	// ErrNoMem is a resource error: fatal for the pipeline.
	ErrNoMem = errors.New("glc: out of memory")
	// ErrInval is a programming error: abort the operation.
	ErrInval = errors.New("glc: invalid argument")
	// ErrNotSupported is a capability error: skip this stream.
	ErrNotSupported = errors.New("glc: not supported")
	// ErrAlready is a programming error: operation already in progress.
	ErrAlready = errors.New("glc: already in progress")
	// ErrBadMsg is a stream error: malformed message framing.
	ErrBadMsg = errors.New("glc: bad message")
	// ErrCanceled is not an error in the usual sense: it signals a clean
	// shutdown initiated via Buffer.Cancel or the process-wide cancel flag.
	ErrCanceled = errors.New("glc: canceled")
)

// StreamError wraps an underlying error with the operation that produced
// it, in the style of the package's ParseError precedent: a thin context
// wrapper that still unwraps to a sentinel for errors.Is comparisons.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("glc: %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Wrap annotates err with the operation name op. Wrap(op, nil) returns nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StreamError{Op: op, Err: err}
}

// IsCancel reports whether err is, or wraps, ErrCanceled — the one
// sentinel that is not treated as a pipeline failure (spec §7).
func IsCancel(err error) bool {
	return errors.Is(err, ErrCanceled)
}
