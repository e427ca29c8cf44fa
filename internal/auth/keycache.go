package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/gofiber/fiber/v2"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/observability"
)

// KeySource fetches the current signing key set of one issuer.
type KeySource interface {
	FetchKeySet(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// KeySourceFunc adapts a function to KeySource.
type KeySourceFunc func(ctx context.Context) (*jose.JSONWebKeySet, error)

// FetchKeySet calls f.
func (f KeySourceFunc) FetchKeySet(ctx context.Context) (*jose.JSONWebKeySet, error) {
	return f(ctx)
}

// StaticKeySource serves a key set held in process, e.g. by the local issuer.
func StaticKeySource(set func() *jose.JSONWebKeySet) KeySource {
	return KeySourceFunc(func(context.Context) (*jose.JSONWebKeySet, error) {
		return set(), nil
	})
}

// HTTPKeySource downloads a JWKS document.
type HTTPKeySource struct {
	URL     string
	Timeout time.Duration
}

// FetchKeySet implements KeySource.
func (s *HTTPKeySource) FetchKeySet(ctx context.Context) (*jose.JSONWebKeySet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agent := fiber.Get(s.URL)
	if s.Timeout > 0 {
		agent.Timeout(s.Timeout)
	}
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("fetch %s: %w", s.URL, errors.Join(errs...))
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", s.URL, status)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}
	return &set, nil
}

// DiscoverJWKSURL reads jwks_uri from the issuer's OpenID configuration and
// falls back to fallback when discovery is unavailable.
func DiscoverJWKSURL(ctx context.Context, issuer, fallback string) string {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return fallback
	}
	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil || meta.JWKSURI == "" {
		return fallback
	}
	return meta.JWKSURI
}

// KeyCacheOptions tunes the cache.
type KeyCacheOptions struct {
	TTL        time.Duration
	MinRefetch time.Duration
}

// KeyCache resolves (domain, kid) to a public key. Keys are cached with a TTL,
// concurrent misses for the same kid share one fetch, and refetches of a
// domain's key set are throttled so unknown kids cannot hammer the issuer.
type KeyCache struct {
	sources  map[domain.Domain]KeySource
	limiters map[domain.Domain]*rate.Limiter
	cache    *gocache.Cache
	ttl      time.Duration
	lookups  singleflight.Group
	fetches  singleflight.Group
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewKeyCache builds a cache over one key source per domain.
func NewKeyCache(sources map[domain.Domain]KeySource, opts KeyCacheOptions, logger *zap.Logger, metrics *observability.Metrics) *KeyCache {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.MinRefetch <= 0 {
		opts.MinRefetch = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiters := make(map[domain.Domain]*rate.Limiter, len(sources))
	for d := range sources {
		limiters[d] = rate.NewLimiter(rate.Every(opts.MinRefetch), 1)
	}
	return &KeyCache{
		sources:  sources,
		limiters: limiters,
		cache:    gocache.New(opts.TTL, 2*opts.TTL),
		ttl:      opts.TTL,
		logger:   logger,
		metrics:  metrics,
	}
}

func cacheKey(d domain.Domain, kid string) string {
	return string(d) + ":" + kid
}

// Key returns the key identified by kid in domain d. A kid that is still
// unknown after a refetch, or whose refetch is throttled, yields UnknownKey.
func (c *KeyCache) Key(ctx context.Context, d domain.Domain, kid string) (*jose.JSONWebKey, error) {
	if kid == "" {
		return nil, domain.NewAuthError(domain.KindUnknownKey, errors.New("empty key id"))
	}
	k := cacheKey(d, kid)
	if v, ok := c.cache.Get(k); ok {
		return v.(*jose.JSONWebKey), nil
	}

	v, err, _ := c.lookups.Do(k, func() (any, error) {
		if v, ok := c.cache.Get(k); ok {
			return v, nil
		}
		if err := c.refresh(context.WithoutCancel(ctx), d, false); err != nil {
			return nil, err
		}
		if v, ok := c.cache.Get(k); ok {
			return v, nil
		}
		return nil, domain.NewAuthError(domain.KindUnknownKey, fmt.Errorf("kid %q not published by %s issuer", kid, d))
	})
	if err != nil {
		return nil, err
	}
	return v.(*jose.JSONWebKey), nil
}

// Warm refetches every domain's key set, ignoring the refetch throttle.
func (c *KeyCache) Warm(ctx context.Context) error {
	var errs []error
	for d := range c.sources {
		if err := c.refresh(ctx, d, true); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of cached keys.
func (c *KeyCache) Len() int {
	return c.cache.ItemCount()
}

func (c *KeyCache) refresh(ctx context.Context, d domain.Domain, force bool) error {
	src, ok := c.sources[d]
	if !ok {
		return domain.NewAuthError(domain.KindUnknownKey, fmt.Errorf("no key source for domain %q", d))
	}
	_, err, _ := c.fetches.Do(string(d), func() (any, error) {
		if !force && !c.limiters[d].Allow() {
			c.metrics.RecordKeyFetch(string(d), "throttled")
			return nil, domain.NewAuthError(domain.KindUnknownKey, errors.New("key set refetch throttled"))
		}
		set, err := src.FetchKeySet(ctx)
		if err != nil {
			c.metrics.RecordKeyFetch(string(d), "error")
			c.logger.Warn("signing key fetch failed", zap.String("domain", string(d)), zap.Error(err))
			return nil, domain.NewAuthError(domain.KindUnknownKey, err)
		}
		stored := 0
		for i := range set.Keys {
			key := set.Keys[i]
			if key.KeyID == "" || !key.Valid() {
				continue
			}
			if !key.IsPublic() {
				key = key.Public()
			}
			if use := key.Use; use != "" && use != "sig" {
				continue
			}
			c.cache.Set(cacheKey(d, key.KeyID), &key, c.ttl)
			stored++
		}
		c.metrics.RecordKeyFetch(string(d), "ok")
		c.logger.Debug("signing keys refreshed", zap.String("domain", string(d)), zap.Int("keys", stored))
		return nil, nil
	})
	return err
}
