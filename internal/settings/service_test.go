package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-saas/internal/models"
	"github.com/suPer8Hu/ai-saas/internal/store/redisstore"
)

type memCache struct {
	data    map[string][]byte
	gets    int
	readErr error
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	m.gets++
	if m.readErr != nil {
		return false, m.readErr
	}
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (m *memCache) SetJSON(_ context.Context, key string, val any, _ time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	m.data[key] = b
	return nil
}

func (m *memCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func newTestService(t *testing.T, cache Cache) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.BotSettings{}, &models.UserPrompt{}))
	log, _ := test.NewNullLogger()
	return NewService(db, cache, log)
}

func TestBotSettingsDefaultsAndSave(t *testing.T) {
	cache := newMemCache()
	svc := newTestService(t, cache)
	ctx := context.Background()

	bs, err := svc.BotSettings(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), bs.UserID)
	assert.Empty(t, bs.Provider)
	assert.Contains(t, cache.data, redisstore.SettingsKey(7))

	_, err = svc.SaveBotSettings(ctx, models.BotSettings{UserID: 7, Provider: " Echo ", SystemPrompt: "short answers"})
	require.NoError(t, err)
	assert.NotContains(t, cache.data, redisstore.SettingsKey(7), "save invalidates the cache")

	bs, err = svc.BotSettings(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "echo", bs.Provider)
	assert.Equal(t, "short answers", bs.SystemPrompt)

	// second save updates in place
	_, err = svc.SaveBotSettings(ctx, models.BotSettings{UserID: 7, Provider: "ollama", Model: "llama3"})
	require.NoError(t, err)
	bs, err = svc.BotSettings(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "ollama", bs.Provider)
	assert.Equal(t, "llama3", bs.Model)
	assert.Empty(t, bs.SystemPrompt)
}

func TestBotSettingsCacheFailureFallsBackToDB(t *testing.T) {
	cache := newMemCache()
	cache.readErr = errors.New("redis down")
	svc := newTestService(t, cache)
	ctx := context.Background()

	_, err := svc.SaveBotSettings(ctx, models.BotSettings{UserID: 1, Provider: "echo"})
	require.NoError(t, err)

	bs, err := svc.BotSettings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "echo", bs.Provider)
}

func TestBotSettingsWithoutCache(t *testing.T) {
	svc := newTestService(t, nil)
	bs, err := svc.BotSettings(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), bs.UserID)
}

func TestPromptsCRUD(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreatePrompt(ctx, 1, " ", "x")
	assert.ErrorIs(t, err, ErrInvalidPrompt)

	p, err := svc.CreatePrompt(ctx, 1, "Translate", "Translate to French:")
	require.NoError(t, err)
	_, err = svc.CreatePrompt(ctx, 2, "Other", "not mine")
	require.NoError(t, err)

	list, err := svc.ListPrompts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Translate", list[0].Title)

	_, err = svc.UpdatePrompt(ctx, 2, p.ID, "hijack", "x")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	up, err := svc.UpdatePrompt(ctx, 1, p.ID, "Translate FR", "Translate to French, formally:")
	require.NoError(t, err)
	assert.Equal(t, "Translate FR", up.Title)

	assert.ErrorIs(t, svc.DeletePrompt(ctx, 2, p.ID), gorm.ErrRecordNotFound)
	require.NoError(t, svc.DeletePrompt(ctx, 1, p.ID))

	list, err = svc.ListPrompts(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteUserData(t *testing.T) {
	cache := newMemCache()
	svc := newTestService(t, cache)
	ctx := context.Background()

	_, err := svc.SaveBotSettings(ctx, models.BotSettings{UserID: 9, Provider: "echo"})
	require.NoError(t, err)
	_, err = svc.CreatePrompt(ctx, 9, "a", "b")
	require.NoError(t, err)
	_, err = svc.BotSettings(ctx, 9)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUserData(ctx, 9))
	assert.NotContains(t, cache.data, redisstore.SettingsKey(9))

	bs, err := svc.BotSettings(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, bs.Provider)
	list, err := svc.ListPrompts(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, list)
}
