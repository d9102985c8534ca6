package j2kview

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMarker      = errors.New("j2kview: invalid marker")
	ErrUnsupportedFormat  = errors.New("j2kview: unsupported format")
	ErrInvalidHeader      = errors.New("j2kview: invalid header")
	ErrTruncatedData      = errors.New("j2kview: truncated data")
	ErrInvalidTile        = errors.New("j2kview: invalid tile")
	ErrTooManyTiles       = errors.New("j2kview: too many tiles")
	ErrImageTooLarge      = errors.New("j2kview: image too large")
	ErrUnsupportedWavelet = errors.New("j2kview: unsupported wavelet")
	ErrUnsupportedQuant   = errors.New("j2kview: unsupported quantization")
	ErrDecodeFailed       = errors.New("j2kview: decode failed")

	ErrInvalidComponent      = errors.New("j2kview: component index out of range")
	ErrInvalidResolution     = errors.New("j2kview: invalid resolution restriction")
	ErrNotReady              = errors.New("j2kview: operation not valid in current state")
	ErrReleased              = errors.New("j2kview: session released")
	ErrEndOfImage            = errors.New("j2kview: no more lines")
	ErrUnsupportedComponents = errors.New("j2kview: unsupported component layout")
)

// Kind classifies a session error. The exported Session methods degrade
// every error to a sentinel value; Kind decides how it is logged.
type Kind int

const (
	// KindInternal is an unexpected fault inside the session or the codec.
	KindInternal Kind = iota
	// KindDecode is a malformed or unsupported codestream.
	KindDecode
	// KindState is an operation called in the wrong lifecycle state.
	KindState
	// KindInvalidArgument is a bad component index or parameter.
	KindInvalidArgument
	// KindUnsupported is a valid image this session cannot pack.
	KindUnsupported
	// KindEndOfStream reports that every line has been delivered.
	KindEndOfStream
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindDecode:
		return "decode"
	case KindState:
		return "state"
	case KindInvalidArgument:
		return "invalid argument"
	case KindUnsupported:
		return "unsupported"
	case KindEndOfStream:
		return "end of stream"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the error type returned by the internal session and engine
// operations.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err. Errors that did not originate from this
// package are reported as KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// decodeError wraps a codec failure. Errors that already carry a Kind keep it.
func decodeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Op: op, Kind: KindDecode, Err: err}
}
