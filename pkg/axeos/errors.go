package axeos

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. The set is closed: every failure returned by this
// package is exactly one of these kinds.
type Kind int

const (
	// KindURL indicates the base URL or the endpoint URL could not be parsed.
	KindURL Kind = iota + 1

	// KindTransport indicates a network-level failure (DNS, connect, timeout, TLS).
	KindTransport

	// KindStatus indicates the device answered with a non-2xx HTTP status.
	KindStatus

	// KindDecode indicates the payload did not match the expected wire shape.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindURL:
		return "url"
	case KindTransport:
		return "transport"
	case KindStatus:
		return "http status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

var (
	// ErrMissingField indicates a required field is absent from the payload.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidType indicates a field has the wrong JSON type.
	ErrInvalidType = errors.New("invalid type")

	// ErrOutOfRange indicates a numeric field does not fit its target type.
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidDifficulty indicates a difficulty string could not be parsed.
	ErrInvalidDifficulty = errors.New("invalid difficulty")

	// ErrUnknownUnit indicates a difficulty string carries an unrecognized magnitude suffix.
	ErrUnknownUnit = errors.New("unknown unit")

	// ErrNotAxeOSFirmware indicates the host did not answer like an AxeOS device.
	ErrNotAxeOSFirmware = errors.New("host is not running AxeOS firmware")
)

// Error is the single error type returned by the client and the decoder.
type Error struct {
	Kind Kind

	// URL is the request URL, when one was built.
	URL string

	// StatusCode is set for KindStatus.
	StatusCode int

	// Field is the wire name of the offending field for KindDecode.
	Field string

	// Body holds a short prefix of a non-2xx response body.
	Body string

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Body != "" {
			return fmt.Sprintf("axeos: request to %s failed with status %d: %s", e.URL, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("axeos: request to %s failed with status %d", e.URL, e.StatusCode)
	case KindDecode:
		if e.Field != "" {
			return fmt.Sprintf("axeos: decode field %q: %v", e.Field, e.Err)
		}
		return fmt.Sprintf("axeos: decode: %v", e.Err)
	default:
		if e.URL != "" {
			return fmt.Sprintf("axeos: %s error for %s: %v", e.Kind, e.URL, e.Err)
		}
		return fmt.Sprintf("axeos: %s error: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not a KindStatus error.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindStatus {
		return e.StatusCode
	}
	return 0
}

// IsNotFound reports whether the device answered 404, which usually means the
// host serves HTTP but not the AxeOS API.
func IsNotFound(err error) bool {
	return StatusCode(err) == 404
}

func decodeError(field string, err error) *Error {
	return &Error{Kind: KindDecode, Field: field, Err: err}
}
