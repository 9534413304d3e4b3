package settings

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/ai-saas/internal/models"
	"github.com/suPer8Hu/ai-saas/internal/store/redisstore"
)

const cacheTTL = time.Hour

var ErrInvalidPrompt = errors.New("title and content required")

// Cache is the JSON cache in front of bot settings. redisstore.Store implements it.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type Service struct {
	db    *gorm.DB
	cache Cache
	log   logrus.FieldLogger
}

// NewService returns a settings service. cache may be nil.
func NewService(db *gorm.DB, cache Cache, log logrus.FieldLogger) *Service {
	return &Service{db: db, cache: cache, log: log}
}

// BotSettings returns the user's settings, zero values when none were saved.
func (s *Service) BotSettings(ctx context.Context, userID uint64) (models.BotSettings, error) {
	key := redisstore.SettingsKey(userID)
	var bs models.BotSettings
	if s.cache != nil {
		hit, err := s.cache.GetJSON(ctx, key, &bs)
		if err != nil {
			s.log.WithError(err).Warn("bot settings cache read")
		} else if hit {
			bs.UserID = userID
			return bs, nil
		}
	}

	err := s.db.WithContext(ctx).First(&bs, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		bs = models.BotSettings{UserID: userID}
	} else if err != nil {
		return models.BotSettings{}, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, bs, cacheTTL); err != nil {
			s.log.WithError(err).Warn("bot settings cache write")
		}
	}
	return bs, nil
}

func (s *Service) SaveBotSettings(ctx context.Context, bs models.BotSettings) (models.BotSettings, error) {
	bs.Provider = strings.ToLower(strings.TrimSpace(bs.Provider))
	bs.Model = strings.TrimSpace(bs.Model)
	bs.UpdatedAt = time.Now()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider", "model", "system_prompt", "updated_at"}),
	}).Create(&bs).Error
	if err != nil {
		return models.BotSettings{}, err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, redisstore.SettingsKey(bs.UserID)); err != nil {
			s.log.WithError(err).Warn("bot settings cache invalidate")
		}
	}
	return bs, nil
}

// prompts

func (s *Service) ListPrompts(ctx context.Context, userID uint64) ([]models.UserPrompt, error) {
	var out []models.UserPrompt
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) CreatePrompt(ctx context.Context, userID uint64, title, content string) (*models.UserPrompt, error) {
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if title == "" || content == "" {
		return nil, ErrInvalidPrompt
	}
	p := &models.UserPrompt{UserID: userID, Title: title, Content: content}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) UpdatePrompt(ctx context.Context, userID, id uint64, title, content string) (*models.UserPrompt, error) {
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if title == "" || content == "" {
		return nil, ErrInvalidPrompt
	}
	var p models.UserPrompt
	if err := s.db.WithContext(ctx).First(&p, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, err
	}
	p.Title, p.Content = title, content
	if err := s.db.WithContext(ctx).Save(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) DeletePrompt(ctx context.Context, userID, id uint64) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.UserPrompt{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteUserData drops the user's settings and prompts.
func (s *Service) DeleteUserData(ctx context.Context, userID uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.UserPrompt{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.BotSettings{}).Error
	})
	if err == nil && s.cache != nil {
		_ = s.cache.Del(ctx, redisstore.SettingsKey(userID))
	}
	return err
}
