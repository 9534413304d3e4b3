package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/ai-saas/internal/config"
	"github.com/suPer8Hu/ai-saas/internal/stream"
)

func drain(chunks <-chan string, errs <-chan error) ([]string, error) {
	var out []string
	for c := range chunks {
		out = append(out, c)
	}
	return out, <-errs
}

func TestOpenRouterStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": OPENROUTER PROCESSING\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	log, hook := test.NewNullLogger()
	p := NewOpenRouterProvider(srv.URL, "key", "m", "", "")
	p.Log = log
	out, err := drain(p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", " there"}, out)

	// the role-only chunk is skipped quietly, the broken one is logged
	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	var fe *stream.FrameDecodeError
	require.ErrorAs(t, entry.Data[logrus.ErrorKey].(error), &fe)
	assert.Equal(t, "not json", fe.Payload)
}

func TestOpenRouterStreamChat_UpstreamErrorFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"rate limited\"}}\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"tial\"}}]}\n")
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "m", "", "")
	out, err := drain(p.StreamChat(context.Background(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, []string{"par"}, out)
}

func TestOpenRouterStreamChat_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "m", "", "")
	out, err := drain(p.StreamChat(context.Background(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.Empty(t, out)
}

func TestOpenRouterRequiresKey(t *testing.T) {
	p := NewOpenRouterProvider("", "", "m", "", "")
	_, err := p.Chat(context.Background(), nil)
	assert.EqualError(t, err, "openrouter: api key is required")
}

func TestOllamaStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"A"},"done":false}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"B"},"done":true}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"C"},"done":false}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "")
	out, err := drain(p.StreamChat(context.Background(), nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, out)
}

func TestOllamaChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"pong"}}`)
	}))
	defer srv.Close()

	reply, err := NewOllamaProvider(srv.URL, "m").Chat(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
}

func TestEchoProviderStreams(t *testing.T) {
	out, err := drain(EchoProvider{}.StreamChat(context.Background(), []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "say it back"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "say it back", strings.Join(out, ""))
	assert.Len(t, out, 3)
}

func TestHistoryToMessages(t *testing.T) {
	msgs := HistoryToMessages("be brief", []string{"q1", "a1", "q2", "a2"}, "q3")
	require.Len(t, msgs, 6)
	assert.Equal(t, Message{Role: RoleSystem, Content: "be brief"}, msgs[0])
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.Equal(t, Message{Role: RoleUser, Content: "q3"}, msgs[5])

	assert.Len(t, HistoryToMessages("  ", nil, "hi"), 1)

	w := Window(msgs, 3)
	require.Len(t, w, 3)
	assert.Equal(t, RoleSystem, w[0].Role)
	assert.Equal(t, "a2", w[1].Content)
	assert.Equal(t, "q3", w[2].Content)
}

func TestRegistryFromConfig(t *testing.T) {
	reg := NewRegistryFromConfig(config.Config{OllamaBaseURL: "http://x", OllamaModel: "m"}, nil)
	assert.Equal(t, []string{"echo", "ollama"}, reg.Names())
	assert.False(t, reg.Has("openrouter"))

	p, err := reg.Get(context.Background(), " Ollama ", "")
	require.NoError(t, err)
	assert.Equal(t, "m", p.(*OllamaProvider).Model)

	_, err = reg.Get(context.Background(), "nope", "")
	assert.Error(t, err)
}
