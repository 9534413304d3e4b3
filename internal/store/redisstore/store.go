package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	captchaTTL = 10 * time.Minute

	captchaPrefix  = "captcha:"
	revokedPrefix  = "revoked:"
	settingsPrefix = "bot_settings:"
)

// ErrNotFound is returned when a key is missing or expired.
var ErrNotFound = errors.New("redisstore: not found")

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Store{rdb: rdb}, nil
}

func NewFromClient(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) Close() error { return s.rdb.Close() }

// verification codes

func (s *Store) SetCaptcha(ctx context.Context, email, code string) error {
	return s.rdb.Set(ctx, captchaPrefix+email, code, captchaTTL).Err()
}

func (s *Store) GetCaptcha(ctx context.Context, email string) (string, error) {
	v, err := s.rdb.Get(ctx, captchaPrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *Store) DeleteCaptcha(ctx context.Context, email string) error {
	return s.rdb.Del(ctx, captchaPrefix+email).Err()
}

// token denylist, entries expire with the token

func (s *Store) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, revokedPrefix+tokenID, 1, ttl).Err()
}

func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, revokedPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// json cache

func (s *Store) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		// corrupt entry: treat as miss
		_ = s.rdb.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (s *Store) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, b, ttl).Err()
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func SettingsKey(userID uint64) string {
	return settingsPrefix + strconv.FormatUint(userID, 10)
}
