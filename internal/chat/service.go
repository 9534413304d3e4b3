package chat

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-saas/internal/ai"
	"github.com/suPer8Hu/ai-saas/internal/common"
	"github.com/suPer8Hu/ai-saas/internal/models"
)

var (
	ErrStreamingUnsupported = errors.New("provider does not support streaming")
	ErrUnknownProvider      = errors.New("unknown ai provider")
)

// SettingsSource resolves a user's bot settings.
type SettingsSource interface {
	BotSettings(ctx context.Context, userID uint64) (models.BotSettings, error)
}

type Service struct {
	repo              *Repo
	registry          *ai.Registry
	settings          SettingsSource
	contextWindowSize int

	DefaultProvider string
	DefaultModel    string
}

const (
	defaultProvider = "ollama"
	defaultModel    = "llama3:latest"
)

func NewService(repo *Repo, registry *ai.Registry, settings SettingsSource, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Service{
		repo:              repo,
		registry:          registry,
		settings:          settings,
		contextWindowSize: contextWindowSize,
		DefaultProvider:   defaultProvider,
		DefaultModel:      defaultModel,
	}
}

func (s *Service) providerFor(ctx context.Context, provider, model string) (ai.Provider, error) {
	if provider == "" {
		provider = s.DefaultProvider
	}
	if model == "" && strings.EqualFold(provider, s.DefaultProvider) {
		model = s.DefaultModel
	}
	return s.registry.Get(ctx, provider, model)
}

func (s *Service) botSettings(ctx context.Context, userID uint64) (models.BotSettings, error) {
	if s.settings == nil {
		return models.BotSettings{UserID: userID}, nil
	}
	return s.settings.BotSettings(ctx, userID)
}

func (s *Service) CreateSession(ctx context.Context, userID uint64, title, provider, model string) (*Session, error) {
	if provider == "" {
		bs, err := s.botSettings(ctx, userID)
		if err != nil {
			return nil, err
		}
		provider = bs.Provider
		if model == "" {
			model = bs.Model
		}
	}
	if provider == "" {
		provider = s.DefaultProvider
	}
	if model == "" && strings.EqualFold(provider, s.DefaultProvider) {
		model = s.DefaultModel
	}
	if !s.registry.Has(provider) {
		return nil, ErrUnknownProvider
	}

	sid, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		SessionID: sid,
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		Provider:  strings.ToLower(provider),
		Model:     model,
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns the session if it belongs to userID; others look missing.
func (s *Service) GetSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return sess, nil
}

func (s *Service) ValidateSessionOwner(ctx context.Context, userID uint64, sessionID string) error {
	_, err := s.GetSession(ctx, userID, sessionID)
	return err
}

func (s *Service) ListSessions(ctx context.Context, userID uint64, limit, offset int) ([]Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListSessions(ctx, userID, limit, offset)
}

func (s *Service) RenameSession(ctx context.Context, userID uint64, sessionID, title string) error {
	return s.repo.UpdateSessionTitle(ctx, userID, sessionID, strings.TrimSpace(title))
}

func (s *Service) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	return s.repo.DeleteSession(ctx, userID, sessionID)
}

// history loads the recent window of a session in ASC order (oldest -> newest).
func (s *Service) history(ctx context.Context, userID uint64, sessionID string) ([]ai.Message, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, userID, sessionID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}
	out := make([]ai.Message, 0, len(recentDesc)+1)
	bs, err := s.botSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p := strings.TrimSpace(bs.SystemPrompt); p != "" {
		out = append(out, ai.Message{Role: ai.RoleSystem, Content: p})
	}
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

func (s *Service) SendMessage(ctx context.Context, userID uint64, sessionID string, content string) (reply string, assistantMsgID uint64, err error) {
	// 1) verify session ownership
	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return "", 0, err
	}

	// pick provider/model for this session
	provider, err := s.providerFor(ctx, session.Provider, session.Model)
	if err != nil {
		return "", 0, err
	}

	// 2) store user message (strong consistency)
	userMsg := &Message{
		SessionID: sessionID,
		UserID:    userID,
		Role:      ai.RoleUser,
		Content:   content,
	}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		return "", 0, err
	}

	// 3) build provider messages from recent DB history
	providerMsgs, err := s.history(ctx, userID, sessionID)
	if err != nil {
		return "", 0, err
	}

	// 4) call provider
	reply, err = provider.Chat(ctx, providerMsgs)
	if err != nil {
		return "", 0, err
	}

	// 5) store assistant message
	assistantMsg := &Message{
		SessionID: sessionID,
		UserID:    userID,
		Role:      ai.RoleAssistant,
		Content:   reply,
	}
	if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
		return "", 0, err
	}
	_ = s.repo.TouchSession(ctx, sessionID)

	return reply, assistantMsg.ID, nil
}

func (s *Service) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if err := s.ValidateSessionOwner(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListMessages(ctx, userID, sessionID, limit, beforeID)
}

func (s *Service) InsertUserMessageOrGetExisting(ctx context.Context, userID uint64, sessionID string, content string, key *string) (*Message, bool, error) {
	if err := s.ValidateSessionOwner(ctx, userID, sessionID); err != nil {
		return nil, false, err
	}
	m, created, err := s.repo.InsertUserMessageOrGetExisting(ctx, userID, sessionID, content, key)
	if err == nil && created {
		_ = s.repo.TouchSession(ctx, sessionID)
	}
	return m, created, err
}

func (s *Service) UpdateMessage(ctx context.Context, userID, id uint64, content string) (*Message, error) {
	if err := s.repo.UpdateMessageContent(ctx, userID, id, content); err != nil {
		return nil, err
	}
	return s.repo.GetMessage(ctx, userID, id)
}

func (s *Service) DeleteMessage(ctx context.Context, userID, id uint64) error {
	return s.repo.DeleteMessage(ctx, userID, id)
}

// SendMessageStream stores the user message immediately, streams assistant chunks,
// and finally stores the assistant message after streaming completes.
func (s *Service) SendMessageStream(ctx context.Context, userID uint64, sessionID string, content string) (chunks <-chan string, done <-chan struct{}, assistantMsgID <-chan uint64, errs <-chan error) {
	outChunks := make(chan string, 16)
	outDone := make(chan struct{})
	outMsgID := make(chan uint64, 1)
	outErrs := make(chan error, 1)

	go func() {
		defer close(outChunks)
		defer close(outDone)
		defer close(outMsgID)
		defer close(outErrs)

		// 1) session ownership check
		sess, err := s.GetSession(ctx, userID, sessionID)
		if err != nil {
			outErrs <- err
			return
		}

		provider, err := s.providerFor(ctx, sess.Provider, sess.Model)
		if err != nil {
			outErrs <- err
			return
		}
		sp, ok := provider.(ai.StreamProvider)
		if !ok {
			outErrs <- ErrStreamingUnsupported
			return
		}

		// 2) insert user message
		userMsg := &Message{
			SessionID: sessionID,
			UserID:    userID,
			Role:      ai.RoleUser,
			Content:   content,
		}
		if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
			outErrs <- err
			return
		}

		// 3) load recent messages, build provider context (ASC)
		providerMsgs, err := s.history(ctx, userID, sessionID)
		if err != nil {
			outErrs <- err
			return
		}

		// 4) stream from provider
		pChunks, pErrs := sp.StreamChat(ctx, providerMsgs)

		var b strings.Builder
		for c := range pChunks {
			b.WriteString(c)
			select {
			case outChunks <- c:
			case <-ctx.Done():
			}
		}
		if err := <-pErrs; err != nil {
			outErrs <- err
			return
		}

		// 5) insert assistant message at the end
		assistantMsg := &Message{
			SessionID: sessionID,
			UserID:    userID,
			Role:      ai.RoleAssistant,
			Content:   b.String(),
		}
		if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
			outErrs <- err
			return
		}
		_ = s.repo.TouchSession(ctx, sessionID)

		outMsgID <- assistantMsg.ID
	}()

	return outChunks, outDone, outMsgID, outErrs
}

// Complete streams a reply for a conversation the client holds itself.
// Nothing is persisted. Provider, model and system prompt come from the
// user's bot settings.
func (s *Service) Complete(ctx context.Context, userID uint64, oldMessages []string, message string) (<-chan string, <-chan error, error) {
	bs, err := s.botSettings(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	provider, err := s.providerFor(ctx, bs.Provider, bs.Model)
	if err != nil {
		return nil, nil, err
	}
	sp, ok := provider.(ai.StreamProvider)
	if !ok {
		return nil, nil, ErrStreamingUnsupported
	}

	msgs := ai.HistoryToMessages(bs.SystemPrompt, oldMessages, message)
	msgs = ai.Window(msgs, s.contextWindowSize)
	chunks, errs := sp.StreamChat(ctx, msgs)
	return chunks, errs, nil
}

// DeleteUserData removes every chat and message owned by userID.
func (s *Service) DeleteUserData(ctx context.Context, userID uint64) error {
	return s.repo.DeleteUserData(ctx, userID)
}

type Stats struct {
	Sessions int64 `json:"sessions"`
	Messages int64 `json:"messages"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Sessions, err = s.repo.CountSessions(ctx); err != nil {
		return Stats{}, err
	}
	if st.Messages, err = s.repo.CountMessages(ctx); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (s *Service) HasProvider(name string) bool { return s.registry.Has(name) }

// Providers lists the registered provider names.
func (s *Service) Providers() []string { return s.registry.Names() }
