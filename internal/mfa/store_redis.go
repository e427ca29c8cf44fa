package mfa

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/dualauth/internal/domain"
)

const challengeKeyPrefix = "mfa:challenge:"

// consumeScript decrements the attempt counter only if the challenge exists.
// -2: missing, -1: exhausted.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
local n = redis.call('HINCRBY', KEYS[1], 'attempts', -1)
if n < 0 then
  redis.call('HSET', KEYS[1], 'attempts', 0)
  return -1
end
return n
`)

// RedisStore keeps each challenge in a hash that expires with the challenge.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func challengeKey(token string) string { return challengeKeyPrefix + token }

// Save implements ChallengeStore.
func (s *RedisStore) Save(ctx context.Context, ch domain.MFAChallenge) error {
	key := challengeKey(ch.ChallengeToken)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"username":       ch.Username,
		"session":        ch.ProviderSession,
		"challenge_name": ch.ChallengeName,
		"expires_at":     ch.ExpiresAt.UnixMilli(),
		"attempts":       ch.AttemptsRemaining,
	})
	pipe.PExpireAt(ctx, key, ch.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

// Get implements ChallengeStore.
func (s *RedisStore) Get(ctx context.Context, token string) (domain.MFAChallenge, error) {
	fields, err := s.client.HGetAll(ctx, challengeKey(token)).Result()
	if err != nil {
		return domain.MFAChallenge{}, fmt.Errorf("load challenge: %w", err)
	}
	if len(fields) == 0 {
		return domain.MFAChallenge{}, ErrChallengeNotFound
	}
	expiresMs, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return domain.MFAChallenge{}, fmt.Errorf("challenge expires_at: %w", err)
	}
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return domain.MFAChallenge{}, fmt.Errorf("challenge attempts: %w", err)
	}
	return domain.MFAChallenge{
		ChallengeToken:    token,
		ExpiresAt:         time.UnixMilli(expiresMs).UTC(),
		AttemptsRemaining: attempts,
		Username:          fields["username"],
		ProviderSession:   fields["session"],
		ChallengeName:     fields["challenge_name"],
	}, nil
}

// ConsumeAttempt implements ChallengeStore.
func (s *RedisStore) ConsumeAttempt(ctx context.Context, token string) (int, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{challengeKey(token)}).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrChallengeNotFound
		}
		return 0, fmt.Errorf("reserve attempt: %w", err)
	}
	switch {
	case n == -2:
		return 0, ErrChallengeNotFound
	case n < 0:
		return 0, ErrNoAttemptsLeft
	default:
		return n, nil
	}
}

// Delete implements ChallengeStore.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, challengeKey(token)).Err()
}
