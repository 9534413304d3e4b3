package stream

import (
	"bytes"
	"encoding/json"
)

const (
	// FramePrefix starts every data line. A single space after the colon is optional.
	FramePrefix = "data:"
	// Sentinel is the payload that ends a stream.
	Sentinel = "[DONE]"
)

// DecodeFunc extracts the fragment text from one frame payload.
type DecodeFunc func(payload []byte) (string, error)

type contentPayload struct {
	Content *string `json:"content"`
}

// DecodeContent decodes the {"content": "..."} payload used by the chat endpoint.
func DecodeContent(payload []byte) (string, error) {
	var p contentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", err
	}
	if p.Content == nil {
		return "", ErrNoContent
	}
	return *p.Content, nil
}

type lineKind int

const (
	lineSkip lineKind = iota
	lineSentinel
	linePayload
)

// classifyLine applies the per-line policy and returns the payload for data lines.
func classifyLine(line []byte) (lineKind, []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(bytes.TrimSpace(line)) == 0 {
		return lineSkip, nil
	}
	if !bytes.HasPrefix(line, []byte(FramePrefix)) {
		return lineSkip, nil
	}
	payload := line[len(FramePrefix):]
	payload = bytes.TrimPrefix(payload, []byte(" "))
	if string(bytes.TrimSpace(payload)) == Sentinel {
		return lineSentinel, nil
	}
	return linePayload, payload
}
