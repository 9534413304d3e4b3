package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Request is the body of the chat completion endpoint.
type Request struct {
	OldMessages []string `json:"oldMessages"`
	Message     string   `json:"message"`
}

// Client posts a conversation to a chat endpoint and streams the reply.
type Client struct {
	Endpoint string
	Token    string
	HTTP     *http.Client
	Log      logrus.FieldLogger

	// ReadSize bounds a single body read; defaults to 4KiB.
	ReadSize int
}

func NewClient(endpoint, token string, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		Endpoint: endpoint,
		Token:    token,
		// no global timeout; ctx controls the lifetime of a stream
		HTTP: &http.Client{},
		Log:  log,
	}
}

// Stream sends one request and calls sink for every fragment as it arrives.
// It returns nil when the body ends or the sentinel is seen, and a *TransportError
// otherwise. There is no retry.
func (c *Client) Stream(ctx context.Context, oldMessages []string, message string, sink Sink) error {
	if c.HTTP == nil {
		return &TransportError{Err: errors.New("http client is nil")}
	}
	if oldMessages == nil {
		oldMessages = []string{}
	}
	b, err := json.Marshal(Request{OldMessages: oldMessages, Message: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if strings.TrimSpace(c.Token) != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	log := c.logger()
	r := NewReader(sink, WithFrameErrorHandler(func(err error) {
		log.WithError(err).Warn("stream: skipping malformed frame")
	}))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return r.Finish(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain a little so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
		return r.Finish(resp.StatusCode, nil)
	}

	size := c.ReadSize
	if size <= 0 {
		size = 4 * 1024
	}
	chunk := make([]byte, size)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 && r.Feed(chunk[:n]) {
			log.WithField("state", r.State().String()).Debug("stream: sentinel received")
			return nil
		}
		if rerr == io.EOF {
			return r.Finish(resp.StatusCode, nil)
		}
		if rerr != nil {
			return r.Finish(resp.StatusCode, rerr)
		}
	}
}

func (c *Client) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

// Collect streams a reply and returns the concatenated fragments.
func Collect(ctx context.Context, c *Client, oldMessages []string, message string) (string, error) {
	var sb strings.Builder
	err := c.Stream(ctx, oldMessages, message, func(fragment string) {
		sb.WriteString(fragment)
	})
	return sb.String(), err
}
