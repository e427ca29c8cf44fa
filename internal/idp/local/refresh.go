package local

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/dualauth/internal/domain"
)

// ErrRefreshTokenInvalid covers unknown, expired and already rotated tokens.
var ErrRefreshTokenInvalid = errors.New("refresh token invalid")

// RefreshRecord is what a refresh token stands for.
type RefreshRecord struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
}

// RefreshStore issues opaque refresh tokens that are single use: every
// Rotate invalidates the presented token and returns a new one.
type RefreshStore interface {
	Issue(ctx context.Context, rec RefreshRecord, ttl time.Duration) (string, error)
	Rotate(ctx context.Context, token string, ttl time.Duration) (RefreshRecord, string, error)
	Revoke(ctx context.Context, token string) error
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "rt_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

// tokens are stored by digest only.
func refreshDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RedisRefreshStore keeps refresh tokens in Redis, one key per token.
type RedisRefreshStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRefreshStore creates a store whose keys are scoped to d.
func NewRedisRefreshStore(client *redis.Client, d domain.Domain) *RedisRefreshStore {
	return &RedisRefreshStore{client: client, prefix: "refresh:" + string(d) + ":"}
}

// Issue implements RefreshStore.
func (s *RedisRefreshStore) Issue(ctx context.Context, rec RefreshRecord, ttl time.Duration) (string, error) {
	token, err := newRefreshToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.prefix+refreshDigest(token), payload, ttl).Err(); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, nil
}

// Rotate implements RefreshStore.
func (s *RedisRefreshStore) Rotate(ctx context.Context, token string, ttl time.Duration) (RefreshRecord, string, error) {
	raw, err := s.client.GetDel(ctx, s.prefix+refreshDigest(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RefreshRecord{}, "", ErrRefreshTokenInvalid
		}
		return RefreshRecord{}, "", fmt.Errorf("load refresh token: %w", err)
	}
	var rec RefreshRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return RefreshRecord{}, "", fmt.Errorf("decode refresh token: %w", err)
	}
	next, err := s.Issue(ctx, rec, ttl)
	if err != nil {
		return RefreshRecord{}, "", err
	}
	return rec, next, nil
}

// Revoke implements RefreshStore.
func (s *RedisRefreshStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.prefix+refreshDigest(token)).Err()
}

// MemoryRefreshStore keeps refresh tokens in process.
type MemoryRefreshStore struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemoryRefreshStore creates an in-memory store.
func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{items: gocache.New(gocache.NoExpiration, 10*time.Minute)}
}

// Issue implements RefreshStore.
func (s *MemoryRefreshStore) Issue(_ context.Context, rec RefreshRecord, ttl time.Duration) (string, error) {
	token, err := newRefreshToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Set(refreshDigest(token), rec, ttl)
	return token, nil
}

// Rotate implements RefreshStore.
func (s *MemoryRefreshStore) Rotate(ctx context.Context, token string, ttl time.Duration) (RefreshRecord, string, error) {
	s.mu.Lock()
	key := refreshDigest(token)
	v, ok := s.items.Get(key)
	if !ok {
		s.mu.Unlock()
		return RefreshRecord{}, "", ErrRefreshTokenInvalid
	}
	s.items.Delete(key)
	s.mu.Unlock()

	rec := v.(RefreshRecord)
	next, err := s.Issue(ctx, rec, ttl)
	if err != nil {
		return RefreshRecord{}, "", err
	}
	return rec, next, nil
}

// Revoke implements RefreshStore.
func (s *MemoryRefreshStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Delete(refreshDigest(token))
	return nil
}

// PurgeExpired drops expired tokens; scheduled from cron.
func (s *MemoryRefreshStore) PurgeExpired() {
	s.items.DeleteExpired()
}
