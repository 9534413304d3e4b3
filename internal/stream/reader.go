package stream

import (
	"bytes"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Sink receives decoded fragments in arrival order.
type Sink func(fragment string)

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further fragments can be emitted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTerminated || s == StateFailed
}

type Option func(*Reader)

// WithDecoder replaces the default {"content": ...} payload decoder.
func WithDecoder(d DecodeFunc) Option {
	return func(r *Reader) {
		if d != nil {
			r.decode = d
		}
	}
}

// WithFrameErrorHandler receives every FrameDecodeError. The default logs it.
func WithFrameErrorHandler(h func(error)) Option {
	return func(r *Reader) {
		if h != nil {
			r.onFrameError = h
		}
	}
}

// Reader turns a growing byte buffer into an ordered sequence of fragments.
// It lives for exactly one request and is not safe for concurrent use:
// deliveries must be serialized by the transport driving it.
type Reader struct {
	sink         Sink
	decode       DecodeFunc
	onFrameError func(error)

	// processed is the length of the buffer prefix already scanned.
	// It always sits right after a newline.
	processed int
	last      []byte
	buf       []byte
	state     State
}

func NewReader(sink Sink, opts ...Option) *Reader {
	r := &Reader{
		sink:   sink,
		decode: DecodeContent,
		onFrameError: func(err error) {
			logrus.WithError(err).Warn("stream: skipping malformed frame")
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reader) State() State { return r.state }

// Deliver is called with the whole buffer received so far, every time it grows.
// Only the complete lines after the stored offset are processed. It returns true
// once the reader reached a terminal state; later deliveries are ignored.
func (r *Reader) Deliver(cumulative []byte) bool {
	if r.state.Terminal() {
		return true
	}
	r.state = StateStreaming
	r.last = cumulative

	if len(cumulative) <= r.processed {
		return false
	}
	fresh := cumulative[r.processed:]
	end := bytes.LastIndexByte(fresh, '\n')
	if end < 0 {
		// incomplete line, wait for the delimiter
		return false
	}
	complete := fresh[:end+1]
	r.processed += end + 1

	return r.scan(complete)
}

// Feed appends one chunk to the reader's own buffer and processes it.
// Use either Feed or Deliver for a request, not both.
func (r *Reader) Feed(chunk []byte) bool {
	if r.state.Terminal() {
		return true
	}
	r.buf = append(r.buf, chunk...)
	done := r.Deliver(r.buf)

	// drop consumed bytes so the buffer only holds the pending partial line
	n := copy(r.buf, r.buf[r.processed:])
	r.buf = r.buf[:n]
	r.processed = 0
	r.last = r.buf
	return done
}

// Finish closes the request. A transport error or a status other than 200
// fails the reader with a *TransportError. On success any trailing line
// without a final newline is processed, since end of body delimits it.
func (r *Reader) Finish(status int, err error) error {
	if r.state.Terminal() {
		return nil
	}
	if err != nil {
		r.state = StateFailed
		return &TransportError{Status: status, Err: err}
	}
	if status != http.StatusOK {
		r.state = StateFailed
		return &TransportError{Status: status}
	}

	if len(r.last) > r.processed {
		tail := r.last[r.processed:]
		r.processed = len(r.last)
		if r.scan(tail) {
			return nil
		}
	}
	r.state = StateCompleted
	return nil
}

// scan runs the per-line policy over complete lines and reports whether the sentinel was seen.
func (r *Reader) scan(chunk []byte) bool {
	for len(chunk) > 0 {
		var line []byte
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			line, chunk = chunk[:i], chunk[i+1:]
		} else {
			line, chunk = chunk, nil
		}

		kind, payload := classifyLine(line)
		switch kind {
		case lineSkip:
			continue
		case lineSentinel:
			r.state = StateTerminated
			return true
		}

		fragment, err := r.decode(payload)
		if err != nil {
			r.onFrameError(&FrameDecodeError{Payload: string(payload), Err: err})
			continue
		}
		if r.sink != nil {
			r.sink(fragment)
		}
	}
	return false
}
