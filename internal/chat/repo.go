package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns the user's chats, most recently updated first.
func (r *Repo) ListSessions(ctx context.Context, userID uint64, limit, offset int) ([]Session, error) {
	var out []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) UpdateSessionTitle(ctx context.Context, userID uint64, sessionID, title string) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TouchSession bumps updated_at so the chat list orders by activity.
func (r *Repo) TouchSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}

// DeleteSession removes a chat and its messages.
func (r *Repo) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).Delete(&Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("session_id = ? AND user_id = ?", sessionID, userID).Delete(&Message{}).Error
	})
}

func (r *Repo) DeleteUserData(ctx context.Context, userID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&Session{}).Error
	})
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessage(ctx context.Context, userID, id uint64) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) UpdateMessageContent(ctx context.Context, userID, id uint64, content string) error {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("content", content)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repo) DeleteMessage(ctx context.Context, userID, id uint64) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages in DESC id order (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, userID uint64, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.ListMessages(ctx, userID, sessionID, limit, 0)
}

func (r *Repo) GetMessageByIdempotencyKey(ctx context.Context, userID uint64, sessionID, key string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ? AND idempotency_key = ?", userID, sessionID, key).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertUserMessageOrGetExisting inserts a user message once per (user, session, key).
// A retry with the same key returns the stored message and created=false.
func (r *Repo) InsertUserMessageOrGetExisting(ctx context.Context, userID uint64, sessionID, content string, key *string) (*Message, bool, error) {
	m := &Message{
		SessionID: sessionID,
		UserID:    userID,
		Role:      "user",
		Content:   content,
	}
	if key == nil || *key == "" {
		if err := r.InsertMessage(ctx, m); err != nil {
			return nil, false, err
		}
		return m, true, nil
	}

	m.IdempotencyKey = key
	err := r.InsertMessage(ctx, m)
	if err == nil {
		return m, true, nil
	}

	existing, getErr := r.GetMessageByIdempotencyKey(ctx, userID, sessionID, *key)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

func (r *Repo) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).Count(&n).Error
	return n, err
}

func (r *Repo) CountSessions(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Session{}).Count(&n).Error
	return n, err
}
