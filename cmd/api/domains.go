package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/dualauth/internal/auth"
	"github.com/spec-kit/dualauth/internal/config"
	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/idp"
	"github.com/spec-kit/dualauth/internal/idp/cognito"
	"github.com/spec-kit/dualauth/internal/idp/local"
	"github.com/spec-kit/dualauth/internal/persistence"
	"github.com/spec-kit/dualauth/internal/repository"
	"github.com/spec-kit/dualauth/internal/worker"
)

// domainRuntime is the provider side of one identity domain.
type domainRuntime struct {
	provider idp.Provider
	keys     auth.KeySource
	// issuer is set for local providers only; it backs the JWKS endpoint.
	issuer  *auth.TokenIssuer
	purgers []worker.Purger
}

func buildDomain(ctx context.Context, cfg *config.Config, dc config.DomainConfig, pg *persistence.Postgres, redis *persistence.Redis, logger *zap.Logger) (*domainRuntime, error) {
	if dc.Provider == config.ProviderCognito {
		return buildCognito(ctx, cfg, dc, logger)
	}
	return buildLocal(ctx, cfg, dc, pg, redis, logger)
}

func buildCognito(ctx context.Context, cfg *config.Config, dc config.DomainConfig, logger *zap.Logger) (*domainRuntime, error) {
	cc := cognito.Config{
		Region:          dc.Region,
		ClientID:        dc.Audience,
		ClientSecret:    dc.ClientSecret,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		SessionToken:    cfg.AWS.SessionToken,
	}
	discoverCtx, cancel := context.WithTimeout(ctx, cfg.KeyCache.FetchTimeout())
	defer cancel()
	jwksURL := auth.DiscoverJWKSURL(discoverCtx, dc.IssuerURL, dc.ResolvedJWKSURL())
	logger.Info("using cognito user pool", zap.String("issuer", dc.IssuerURL), zap.String("jwks", jwksURL))

	return &domainRuntime{
		provider: cognito.New(cognito.NewClient(cc), cc, logger),
		keys:     &auth.HTTPKeySource{URL: jwksURL, Timeout: cfg.KeyCache.FetchTimeout()},
	}, nil
}

func buildLocal(ctx context.Context, cfg *config.Config, dc config.DomainConfig, pg *persistence.Postgres, redis *persistence.Redis, logger *zap.Logger) (*domainRuntime, error) {
	var (
		key *rsa.PrivateKey
		err error
	)
	if dc.SigningKeyPath != "" {
		key, err = auth.LoadSigningKey(dc.SigningKeyPath)
	} else {
		logger.Warn("no signing key configured; generating an ephemeral key")
		key, err = auth.GenerateSigningKey()
	}
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	issuer, err := auth.NewTokenIssuer(dc.IssuerURL, dc.Audience, key,
		time.Duration(cfg.Local.AccessTokenTTLMinutes)*time.Minute)
	if err != nil {
		return nil, err
	}

	accounts, err := localAccounts(ctx, cfg, dc.Domain, pg, logger)
	if err != nil {
		return nil, err
	}

	rt := &domainRuntime{
		keys:   auth.StaticKeySource(issuer.KeySet),
		issuer: issuer,
	}
	var refresh local.RefreshStore
	if client := redis.Handle(); client != nil {
		refresh = local.NewRedisRefreshStore(client, dc.Domain)
	} else {
		memory := local.NewMemoryRefreshStore()
		refresh = memory
		rt.purgers = append(rt.purgers, memory)
	}

	provider := local.New(dc.Domain, accounts, issuer, refresh, local.Options{
		MFA:        dc.Domain == domain.DomainStaff,
		TOTPWindow: cfg.MFA.TOTPWindowSteps,
		PendingTTL: cfg.MFA.ChallengeTTL(),
		RefreshTTL: time.Duration(cfg.Local.RefreshTokenTTLMinutes) * time.Minute,
	}, logger)
	rt.provider = provider
	rt.purgers = append(rt.purgers, provider)
	logger.Info("using local identity provider", zap.String("issuer", dc.IssuerURL), zap.String("kid", issuer.KeyID()))
	return rt, nil
}

// localAccounts prefers Postgres, seeded from the accounts file when one is
// set, and falls back to in-memory accounts.
func localAccounts(ctx context.Context, cfg *config.Config, d domain.Domain, pg *persistence.Postgres, logger *zap.Logger) (local.AccountStore, error) {
	if pool := pg.PoolHandle(); pool != nil {
		path := cfg.Local.AccountsFile
		if d == domain.DomainStaff {
			repo := repository.NewStaffRepository(pool)
			if path != "" {
				n, err := local.SeedStaff(ctx, path, repo)
				if err != nil {
					return nil, err
				}
				logger.Info("seeded staff accounts", zap.Int("count", n))
			}
			return local.StaffAccounts{Repo: repo}, nil
		}
		repo := repository.NewCustomerRepository(pool)
		if path != "" {
			n, err := local.SeedCustomers(ctx, path, repo)
			if err != nil {
				return nil, err
			}
			logger.Info("seeded customer accounts", zap.Int("count", n))
		}
		return local.CustomerAccounts{Repo: repo}, nil
	}
	if cfg.Local.AccountsFile == "" {
		return local.NewMemoryAccounts(), nil
	}
	accounts, err := local.LoadAccountsFile(cfg.Local.AccountsFile, d)
	if err != nil {
		return nil, err
	}
	return local.NewMemoryAccounts(accounts...), nil
}
