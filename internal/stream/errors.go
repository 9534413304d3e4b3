package stream

import (
	"errors"
	"fmt"
)

// ErrNoContent is wrapped by FrameDecodeError when a payload decodes but has no content field.
var ErrNoContent = errors.New("stream: payload has no content field")

// TransportError is returned when the streaming request itself fails:
// a non-200 status or a network error while reading the body.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("stream: transport status %d: %v", e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("stream: transport: %v", e.Err)
	default:
		return fmt.Sprintf("stream: transport status %d", e.Status)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// FrameDecodeError reports one frame whose payload could not be decoded.
// It never aborts the stream.
type FrameDecodeError struct {
	Payload string
	Err     error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("stream: decode frame %q: %v", e.Payload, e.Err)
}

func (e *FrameDecodeError) Unwrap() error { return e.Err }

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
