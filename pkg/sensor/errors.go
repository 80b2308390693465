package sensor

import (
	"errors"
	"fmt"
)

// ErrNoReading is returned when a frame carries nothing to report.
// Callers should move on to the next frame; it is not a failure.
var ErrNoReading = errors.New("no reading")

// ErrDecodeFallback is returned together with a zero value when a register
// pair cannot be reinterpreted as a 32-bit float.
var ErrDecodeFallback = errors.New("register pair not decodable, using 0")

// ParseError describes a malformed distance frame.
type ParseError struct {
	Line   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame %q: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed frame %q: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Kind classifies hardware I/O failures.
type Kind int

const (
	// KindIO is a connection level failure (port missing, bus error, CRC mismatch).
	KindIO Kind = iota
	// KindTimeout means the device did not answer within the read bound.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	default:
		return "io"
	}
}

// Error is a hardware I/O failure on one of the channels.
type Error struct {
	Kind    Kind
	Channel string // "distance" or "probe"
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Channel, e.Kind)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Channel, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout wraps err as a KindTimeout failure of channel.
func Timeout(channel string, err error) error {
	return &Error{Kind: KindTimeout, Channel: channel, Err: err}
}

// IO wraps err as a KindIO failure of channel.
func IO(channel string, err error) error {
	return &Error{Kind: KindIO, Channel: channel, Err: err}
}

// IsTimeout reports whether err is a KindTimeout failure.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTimeout
}

// IsIO reports whether err is a KindIO failure.
func IsIO(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindIO
}
