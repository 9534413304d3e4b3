package ai

import (
	"context"
	"strings"
)

// EchoProvider replies with the last user message, word by word when streaming.
// Used for local development without a model server.
type EchoProvider struct{}

func lastUser(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func (EchoProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return lastUser(messages), nil
}

func (EchoProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		words := strings.SplitAfter(lastUser(messages), " ")
		for _, w := range words {
			if w == "" {
				continue
			}
			select {
			case chunks <- w:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errs
}
