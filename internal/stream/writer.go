package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// FrameWriter emits frames in the wire format Reader consumes.
// json.Marshal never emits raw newlines, so every payload stays on one line.
type FrameWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	fw := &FrameWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

// SetHeaders prepares an SSE response. Call before the first frame.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func (fw *FrameWriter) WriteContent(fragment string) error {
	b, err := json.Marshal(struct {
		Content string `json:"content"`
	}{Content: fragment})
	if err != nil {
		return err
	}
	return fw.write("%s %s\n", FramePrefix, b)
}

// WriteError reports a failure after headers were sent. Readers see a
// payload without content and skip it.
func (fw *FrameWriter) WriteError(msg string) error {
	b, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	if err != nil {
		return err
	}
	return fw.write("event: error\n%s %s\n", FramePrefix, b)
}

func (fw *FrameWriter) WriteDone() error {
	return fw.write("%s %s\n", FramePrefix, Sentinel)
}

// Ping writes an SSE comment line to keep idle connections open.
func (fw *FrameWriter) Ping() error {
	return fw.write(": ping\n")
}

func (fw *FrameWriter) write(format string, args ...any) error {
	if _, err := fmt.Fprintf(fw.w, format, args...); err != nil {
		return err
	}
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return nil
}
