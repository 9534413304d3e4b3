package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/suPer8Hu/ai-saas/internal/stream"
)

type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
	Log     logrus.FieldLogger
}

type openRouterChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type openRouterError struct {
	Message string `json:"message"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *openRouterError `json:"error,omitempty"`
}

type openRouterStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *openRouterError `json:"error,omitempty"`
}

// upstreamError is an error frame sent by openrouter mid-stream. Unlike a
// malformed frame it ends the stream.
type upstreamError struct{ msg string }

func (e *upstreamError) Error() string { return "openrouter: " + e.msg }

// errSkipFrame marks frames with no delta (role-only or keepalive chunks).
var errSkipFrame = errors.New("openrouter: empty delta")

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
		Log:     logrus.StandardLogger(),
	}
}

func (p *OpenRouterProvider) logger() logrus.FieldLogger {
	if p.Log == nil {
		return logrus.StandardLogger()
	}
	return p.Log
}

func (p *OpenRouterProvider) newRequest(ctx context.Context, messages []Message, streaming bool) (*http.Request, error) {
	if p.Client == nil {
		return nil, errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, errors.New("openrouter: model is required")
	}

	b, err := json.Marshal(openRouterChatReq{Model: model, Messages: messages, Stream: streaming})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}
	return req, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("openrouter: %s", msg)
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	req, err := p.newRequest(ctx, messages, false)
	if err != nil {
		return "", err
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp)
	}

	var decoded openRouterChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openrouter: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

func decodeOpenRouterDelta(payload []byte) (string, error) {
	var decoded openRouterStreamResp
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", &upstreamError{msg: decoded.Error.Message}
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Delta.Content == "" {
		return "", errSkipFrame
	}
	return decoded.Choices[0].Delta.Content, nil
}

// StreamChat streams assistant content chunks via SSE.
func (p *OpenRouterProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		req, err := p.newRequest(ctx, messages, true)
		if err != nil {
			errs <- err
			return
		}

		// streaming outlives the request timeout; ctx controls it
		client := *p.Client
		client.Timeout = 0

		resp, err := client.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- statusError(resp)
			return
		}

		var fatal error
		r := stream.NewReader(func(delta string) {
			if fatal != nil {
				return
			}
			select {
			case chunks <- delta:
			case <-ctx.Done():
			}
		},
			stream.WithDecoder(decodeOpenRouterDelta),
			stream.WithFrameErrorHandler(func(err error) {
				var ue *upstreamError
				switch {
				case errors.As(err, &ue):
					if fatal == nil {
						fatal = ue
					}
				case errors.Is(err, errSkipFrame):
				default:
					p.logger().WithError(err).Warn("openrouter: skipping malformed frame")
				}
			}),
		)

		buf := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				done := r.Feed(buf[:n])
				if fatal != nil {
					errs <- fatal
					return
				}
				if done {
					return
				}
			}
			if rerr == io.EOF {
				// end of body delimits a trailing frame
				_ = r.Finish(http.StatusOK, nil)
				if fatal != nil {
					errs <- fatal
				}
				return
			}
			if rerr != nil {
				if err := r.Finish(http.StatusOK, rerr); err != nil {
					errs <- err
				}
				return
			}
		}
	}()

	return chunks, errs
}
