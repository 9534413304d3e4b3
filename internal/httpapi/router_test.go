package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-saas/internal/ai"
	"github.com/suPer8Hu/ai-saas/internal/auth"
	"github.com/suPer8Hu/ai-saas/internal/chat"
	"github.com/suPer8Hu/ai-saas/internal/config"
	"github.com/suPer8Hu/ai-saas/internal/documents"
	"github.com/suPer8Hu/ai-saas/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-saas/internal/models"
	"github.com/suPer8Hu/ai-saas/internal/settings"
	"github.com/suPer8Hu/ai-saas/internal/store/redisstore"
	"github.com/suPer8Hu/ai-saas/internal/stream"
)

type memTokens struct {
	mu       sync.Mutex
	captchas map[string]string
	revoked  map[string]bool
}

func newMemTokens() *memTokens {
	return &memTokens{captchas: map[string]string{}, revoked: map[string]bool{}}
}

func (m *memTokens) SetCaptcha(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captchas[email] = code
	return nil
}

func (m *memTokens) GetCaptcha(_ context.Context, email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.captchas[email]
	if !ok {
		return "", redisstore.ErrNotFound
	}
	return c, nil
}

func (m *memTokens) DeleteCaptcha(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.captchas, email)
	return nil
}

func (m *memTokens) Revoke(_ context.Context, id string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[id] = true
	return nil
}

func (m *memTokens) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[id], nil
}

type mailbox struct {
	mu   sync.Mutex
	sent []string
}

func (m *mailbox) SendText(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+"|"+body)
	return nil
}

type nopQueue struct{}

func (nopQueue) PublishDocument(context.Context, string) error { return nil }

type brokenProvider struct{}

func (brokenProvider) Chat(context.Context, []ai.Message) (string, error) {
	return "", errors.New("model crashed")
}

func (brokenProvider) StreamChat(context.Context, []ai.Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 1)
	errs := make(chan error, 1)
	chunks <- "par"
	errs <- errors.New("model crashed")
	close(chunks)
	close(errs)
	return chunks, errs
}

type env struct {
	srv    *httptest.Server
	tokens *memTokens
	db     *gorm.DB
	cfg    config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.BotSettings{}, &models.UserPrompt{},
		&chat.Session{}, &chat.Message{}, &documents.Document{}))

	cfg := config.Config{
		JWTSecret:  "test-secret",
		JWTTTL:     time.Hour,
		SignInPath: "/signin",
	}
	log, _ := test.NewNullLogger()

	reg := ai.NewRegistry()
	reg.Register("echo", func(context.Context, string) (ai.Provider, error) { return ai.EchoProvider{}, nil })
	reg.Register("broken", func(context.Context, string) (ai.Provider, error) { return brokenProvider{}, nil })

	st := settings.NewService(db, nil, log)
	chatSvc := chat.NewService(chat.NewRepo(db), reg, st, 20)
	chatSvc.DefaultProvider = "echo"
	chatSvc.DefaultModel = ""
	docs := documents.NewService(documents.NewRepo(db), nopQueue{}, t.TempDir(), 1<<20, log)

	tokens := newMemTokens()
	h := handlers.NewHandler(db, cfg, tokens, &mailbox{}, chatSvc, docs, st, log)
	srv := httptest.NewServer(NewRouter(h, tokens))
	t.Cleanup(srv.Close)
	return &env{srv: srv, tokens: tokens, db: db, cfg: cfg}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) call(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (e *env) signUp(t *testing.T, email string) string {
	t.Helper()
	status, _ := e.call(t, http.MethodPost, "/captcha", "", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, status)
	code, err := e.tokens.GetCaptcha(context.Background(), email)
	require.NoError(t, err)

	status, resp := e.call(t, http.MethodPost, "/users", "", map[string]string{
		"email": email, "captcha": code, "password": "correct horse",
	})
	require.Equal(t, http.StatusOK, status, resp.Message)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestSignUpLoginLogout(t *testing.T) {
	e := newEnv(t)

	status, resp := e.call(t, http.MethodPost, "/users", "", map[string]string{
		"email": "a@example.com", "captcha": "000000", "password": "correct horse",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 10020, resp.Code)

	e.signUp(t, "a@example.com")

	status, resp = e.call(t, http.MethodPost, "/login", "", map[string]string{"email": "a@example.com", "password": "wrong pass"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 40102, resp.Code)

	status, resp = e.call(t, http.MethodPost, "/login", "", map[string]string{"email": "A@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, status)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &login))

	status, resp = e.call(t, http.MethodGet, "/me", login.Token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"email":"a@example.com"`)

	status, _ = e.call(t, http.MethodPost, "/logout", login.Token, nil)
	require.Equal(t, http.StatusOK, status)

	status, resp = e.call(t, http.MethodGet, "/me", login.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, string(resp.Data), `"redirect":"/signin"`)
}

func TestUnauthenticatedRedirects(t *testing.T) {
	e := newEnv(t)
	status, resp := e.call(t, http.MethodGet, "/chat/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, string(resp.Data), `"redirect":"/signin"`)

	status, resp = e.call(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 40400, resp.Code)
}

func TestChatCompletionsStream(t *testing.T) {
	e := newEnv(t)
	token := e.signUp(t, "s@example.com")

	client := stream.NewClient(e.srv.URL+"/chat/completions", token, nil)
	client.ReadSize = 5

	var fragments []string
	err := client.Stream(context.Background(), []string{"hi", "hello"}, "how are you", func(f string) {
		fragments = append(fragments, f)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"how ", "are ", "you"}, fragments)

	// a provider failure after headers ends with an error event and the sentinel
	status, _ := e.call(t, http.MethodPut, "/bot/settings", token, map[string]string{"provider": "broken"})
	require.Equal(t, http.StatusOK, status)

	log, hook := test.NewNullLogger()
	client.Log = log
	got, err := stream.Collect(context.Background(), client, nil, "x")
	require.NoError(t, err)
	assert.Equal(t, "par", got)
	require.Len(t, hook.AllEntries(), 1)

	// without a token the reader sees a transport error and no fragments
	anon := stream.NewClient(e.srv.URL+"/chat/completions", "", nil)
	calls := 0
	err = anon.Stream(context.Background(), nil, "x", func(string) { calls++ })
	var te *stream.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnauthorized, te.Status)
	assert.Zero(t, calls)
}

func TestChatSessionsAndMessageStream(t *testing.T) {
	e := newEnv(t)
	token := e.signUp(t, "c@example.com")
	other := e.signUp(t, "d@example.com")

	status, resp := e.call(t, http.MethodPost, "/chat/sessions", token, map[string]string{"title": "trip"})
	require.Equal(t, http.StatusOK, status, resp.Message)
	var created struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	sid := created.SessionID

	status, _ = e.call(t, http.MethodGet, "/chat/sessions/"+sid, other, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.call(t, http.MethodPatch, "/chat/sessions/"+sid, token, map[string]string{"title": "holiday"})
	require.Equal(t, http.StatusOK, status)

	// streamed reply, persisted
	b, _ := json.Marshal(map[string]string{"session_id": sid, "message": "pack light"})
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/chat/messages/stream", bytes.NewReader(b))
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	var body bytes.Buffer
	_, err = body.ReadFrom(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))
	assert.Equal(t, "data: {\"content\":\"pack \"}\ndata: {\"content\":\"light\"}\ndata: [DONE]\n", body.String())
	assert.NotEmpty(t, res.Trailer.Get("X-Message-Id"))

	status, resp = e.call(t, http.MethodGet, "/chat/sessions/"+sid+"/messages", token, nil)
	require.Equal(t, http.StatusOK, status)
	var list struct {
		Messages []chat.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list.Messages, 2)
	assert.Equal(t, "pack light", list.Messages[0].Content)
	assert.Equal(t, ai.RoleAssistant, list.Messages[0].Role)

	status, _ = e.call(t, http.MethodDelete, fmt.Sprintf("/chat/messages/%d", list.Messages[0].ID), other, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = e.call(t, http.MethodPatch, fmt.Sprintf("/chat/messages/%d", list.Messages[1].ID), token, map[string]string{"content": "pack lighter"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = e.call(t, http.MethodDelete, "/chat/sessions/"+sid, token, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = e.call(t, http.MethodGet, "/chat/sessions/"+sid+"/messages", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDocumentsPromptsAndAdmin(t *testing.T) {
	e := newEnv(t)
	token := e.signUp(t, "u@example.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("some notes"))
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	var up envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&up))
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode, up.Message)
	var doc struct {
		Document documents.Document `json:"document"`
	}
	require.NoError(t, json.Unmarshal(up.Data, &doc))

	status, resp := e.call(t, http.MethodGet, "/documents/"+doc.Document.ID+"/status", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"status":"queued"`)

	status, resp = e.call(t, http.MethodPost, "/prompts", token, map[string]string{"title": "t", "content": "c"})
	require.Equal(t, http.StatusOK, status, resp.Message)
	status, _ = e.call(t, http.MethodPost, "/prompts", token, map[string]string{"title": "", "content": "c"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.call(t, http.MethodGet, "/admin/stats", token, nil)
	assert.Equal(t, http.StatusForbidden, status)

	require.NoError(t, e.db.Model(&models.User{}).Where("email = ?", "u@example.com").Update("role", auth.RoleAdmin).Error)
	status, resp = e.call(t, http.MethodPost, "/login", "", map[string]string{"email": "u@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, status)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &login))

	status, resp = e.call(t, http.MethodGet, "/admin/stats", login.Token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"users":1`)

	// account deletion takes documents with it
	status, _ = e.call(t, http.MethodDelete, "/me", login.Token, map[string]string{"password": "correct horse"})
	require.Equal(t, http.StatusOK, status)
	var n int64
	require.NoError(t, e.db.Model(&documents.Document{}).Count(&n).Error)
	assert.Zero(t, n)
}
