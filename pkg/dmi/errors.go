package dmi

import (
	"errors"
	"fmt"
)

// Decode error kinds. Every error returned by the decoder wraps exactly one
// of these, so callers can classify failures with errors.Is.
var (
	ErrFormat   = errors.New("invalid DMI container")
	ErrMetadata = errors.New("invalid DMI metadata")
	ErrGeometry = errors.New("invalid DMI geometry")
)

// ErrNoPixels is returned when frames are requested from a File that was
// decoded without its pixel data (see DecodeInfo).
var ErrNoPixels = errors.New("DMI decoded without pixel data")

// ErrRange is returned when a state, direction or frame outside what the
// file declares is requested.
var ErrRange = errors.New("out of range")

// Error describes a decode failure of a particular kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func formatf(format string, args ...any) error {
	return &Error{Kind: ErrFormat, Msg: fmt.Sprintf(format, args...)}
}

func metadataf(format string, args ...any) error {
	return &Error{Kind: ErrMetadata, Msg: fmt.Sprintf(format, args...)}
}

func geometryf(format string, args ...any) error {
	return &Error{Kind: ErrGeometry, Msg: fmt.Sprintf(format, args...)}
}
