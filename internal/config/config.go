package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/dualauth/internal/domain"
)

// Provider names accepted in *_PROVIDER.
const (
	ProviderCognito = "cognito"
	ProviderLocal   = "local"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Customer  DomainConfig
	Staff     DomainConfig
	MFA       MFAConfig
	KeyCache  KeyCacheConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	AWS       AWSConfig
	Local     LocalProviderConfig
	Audit     AuditConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	PublicURL             string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr selects in-memory stores.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// DomainConfig describes one identity domain.
type DomainConfig struct {
	Domain       domain.Domain
	Provider     string
	IssuerURL    string
	Audience     string
	ClientSecret string
	Region       string
	UserPoolID   string
	JWKSURL      string
	// SigningKeyPath is the PEM key of a local provider; empty generates
	// an ephemeral key at startup.
	SigningKeyPath string
	// Algorithms lists the accepted asymmetric signing algorithms.
	Algorithms                []string
	SessionTimeoutMinutes     int
	HardSessionTimeoutMinutes int
	ClockSkewSeconds          int
}

// MFAConfig configures the staff second factor.
type MFAConfig struct {
	Required            bool
	ChallengeTTLSeconds int
	MaxAttempts         int
	TOTPWindowSteps     int
	TOTPIssuer          string
}

// KeyCacheConfig configures signing key caching.
type KeyCacheConfig struct {
	TTLMinutes         int
	MinRefetchSeconds  int
	FetchTimeoutSecond int
	WarmSchedule       string
}

// SessionConfig configures client side session checks.
type SessionConfig struct {
	LowWaterMinutes      int
	CheckIntervalSeconds int
}

// RateLimitConfig limits login attempts per client address.
type RateLimitConfig struct {
	LoginRequestsPerSecond float64
	LoginBurst             int
}

// AWSConfig holds optional static credentials for the Cognito client.
type AWSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// LocalProviderConfig configures the development identity provider.
type LocalProviderConfig struct {
	// AccountsFile seeds in-memory accounts when no database is configured.
	AccountsFile           string
	AccessTokenTTLMinutes  int
	RefreshTokenTTLMinutes int
	BcryptCost             int
}

// AuditConfig controls where auth events are recorded besides the log.
type AuditConfig struct {
	StreamKey string
	MaxLen    int64
	// QueueSize bounds the records waiting for the sink; more are dropped.
	QueueSize         int
	WriteTimeoutMilli int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "dualauth"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			PublicURL:             getEnv("APP_PUBLIC_URL", "http://localhost:8080"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Customer: loadDomain(domain.DomainCustomer, "CUSTOMER", minutes(domain.CustomerSessionTimeout), minutes(domain.CustomerHardSessionTimeout)),
		Staff:    loadDomain(domain.DomainStaff, "STAFF", minutes(domain.StaffSessionTimeout), minutes(domain.StaffHardSessionTimeout)),
		MFA: MFAConfig{
			Required:            getEnvAsBool("MFA_REQUIRED", true),
			ChallengeTTLSeconds: getEnvAsInt("MFA_CHALLENGE_TTL_SECONDS", 180),
			MaxAttempts:         getEnvAsInt("MFA_MAX_ATTEMPTS", 3),
			TOTPWindowSteps:     getEnvAsInt("MFA_TOTP_WINDOW_STEPS", 1),
			TOTPIssuer:          getEnv("MFA_TOTP_ISSUER", "dualauth"),
		},
		KeyCache: KeyCacheConfig{
			TTLMinutes:         getEnvAsInt("KEYCACHE_TTL_MINUTES", 60),
			MinRefetchSeconds:  getEnvAsInt("KEYCACHE_MIN_REFETCH_SECONDS", 10),
			FetchTimeoutSecond: getEnvAsInt("KEYCACHE_FETCH_TIMEOUT_SECONDS", 5),
			WarmSchedule:       getEnv("KEYCACHE_WARM_SCHEDULE", "@every 30m"),
		},
		Session: LoadSession(),
		RateLimit: RateLimitConfig{
			LoginRequestsPerSecond: getEnvAsFloat("LOGIN_RATE_PER_SECOND", 1),
			LoginBurst:             getEnvAsInt("LOGIN_RATE_BURST", 5),
		},
		AWS: AWSConfig{
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		},
		Local: LocalProviderConfig{
			AccountsFile:           os.Getenv("LOCAL_ACCOUNTS_FILE"),
			AccessTokenTTLMinutes:  getEnvAsInt("LOCAL_ACCESS_TOKEN_TTL_MINUTES", 60),
			RefreshTokenTTLMinutes: getEnvAsInt("LOCAL_REFRESH_TOKEN_TTL_MINUTES", 30*1440),
			BcryptCost:             getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Audit: AuditConfig{
			StreamKey:         getEnv("AUDIT_STREAM_KEY", "dualauth:audit"),
			MaxLen:            int64(getEnvAsInt("AUDIT_STREAM_MAXLEN", 10000)),
			QueueSize:         getEnvAsInt("AUDIT_QUEUE_SIZE", 1024),
			WriteTimeoutMilli: getEnvAsInt("AUDIT_WRITE_TIMEOUT_MS", 2000),
		},
	}

	// The staff hard limit is a fixed constant of the deployment.
	cfg.Staff.HardSessionTimeoutMinutes = getEnvAsInt("STAFF_HARD_SESSION_TIMEOUT_MINUTES", cfg.Staff.HardSessionTimeoutMinutes)

	for _, dc := range []*DomainConfig{&cfg.Customer, &cfg.Staff} {
		if dc.Provider == ProviderLocal && dc.IssuerURL == "" {
			dc.IssuerURL = strings.TrimRight(cfg.App.PublicURL, "/") + "/auth/" + string(dc.Domain)
		}
		if dc.Provider == ProviderLocal && dc.Audience == "" {
			dc.Audience = cfg.App.Name + "-" + string(dc.Domain)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDomain(d domain.Domain, prefix string, sessionMinutes, hardMinutes int) DomainConfig {
	dc := DomainConfig{
		Domain:                    d,
		Provider:                  strings.ToLower(getEnv(prefix+"_PROVIDER", ProviderCognito)),
		IssuerURL:                 strings.TrimRight(os.Getenv(prefix+"_ISSUER_URL"), "/"),
		Audience:                  os.Getenv(prefix + "_AUDIENCE"),
		ClientSecret:              os.Getenv(prefix + "_CLIENT_SECRET"),
		Region:                    getEnv(prefix+"_REGION", getEnv("AWS_REGION", "")),
		UserPoolID:                os.Getenv(prefix + "_USER_POOL_ID"),
		JWKSURL:                   os.Getenv(prefix + "_JWKS_URL"),
		SigningKeyPath:            os.Getenv(prefix + "_SIGNING_KEY_PATH"),
		Algorithms:                getEnvAsList(prefix+"_ALGORITHMS", []string{"RS256"}),
		SessionTimeoutMinutes:     getEnvAsInt(prefix+"_SESSION_TIMEOUT_MINUTES", sessionMinutes),
		HardSessionTimeoutMinutes: getEnvAsInt(prefix+"_HARD_SESSION_TIMEOUT_MINUTES", hardMinutes),
		ClockSkewSeconds:          getEnvAsInt(prefix+"_CLOCK_SKEW_SECONDS", 0),
	}
	if dc.IssuerURL == "" && dc.Region != "" && dc.UserPoolID != "" {
		dc.IssuerURL = CognitoIssuer(dc.Region, dc.UserPoolID)
	}
	return dc
}

// CognitoIssuer builds the issuer URL of a Cognito user pool.
func CognitoIssuer(region, poolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, poolID)
}

// Validate checks the invariants the auth core relies on.
func (c *Config) Validate() error {
	var errs []error
	for _, dc := range []DomainConfig{c.Customer, c.Staff} {
		if dc.IssuerURL == "" {
			errs = append(errs, fmt.Errorf("%s: issuer URL is required", dc.Domain))
		}
		if dc.Audience == "" {
			errs = append(errs, fmt.Errorf("%s: audience is required", dc.Domain))
		}
		if dc.Provider != ProviderCognito && dc.Provider != ProviderLocal {
			errs = append(errs, fmt.Errorf("%s: unknown provider %q", dc.Domain, dc.Provider))
		}
		if dc.Provider == ProviderCognito && dc.Region == "" {
			errs = append(errs, fmt.Errorf("%s: region is required for cognito", dc.Domain))
		}
		if dc.SessionTimeoutMinutes <= 0 || dc.HardSessionTimeoutMinutes <= 0 {
			errs = append(errs, fmt.Errorf("%s: session timeouts must be positive", dc.Domain))
		}
		if dc.SessionTimeoutMinutes > dc.HardSessionTimeoutMinutes {
			errs = append(errs, fmt.Errorf("%s: session timeout exceeds hard session timeout", dc.Domain))
		}
	}
	if c.Customer.IssuerURL != "" && c.Customer.IssuerURL == c.Staff.IssuerURL {
		errs = append(errs, errors.New("customer and staff domains must use different issuers"))
	}
	if c.Staff.SessionTimeoutMinutes > c.Customer.SessionTimeoutMinutes {
		errs = append(errs, errors.New("staff session timeout must not exceed customer session timeout"))
	}
	if c.MFA.MaxAttempts <= 0 {
		errs = append(errs, errors.New("MFA_MAX_ATTEMPTS must be positive"))
	}
	if c.MFA.ChallengeTTLSeconds <= 0 {
		errs = append(errs, errors.New("MFA_CHALLENGE_TTL_SECONDS must be positive"))
	}
	return errors.Join(errs...)
}

// ForDomain returns the configuration of d.
func (c *Config) ForDomain(d domain.Domain) (DomainConfig, bool) {
	switch d {
	case domain.DomainCustomer:
		return c.Customer, true
	case domain.DomainStaff:
		return c.Staff, true
	default:
		return DomainConfig{}, false
	}
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// SessionTimeout is the idle timeout of the domain.
func (d DomainConfig) SessionTimeout() time.Duration {
	return time.Duration(d.SessionTimeoutMinutes) * time.Minute
}

// HardSessionTimeout is the absolute session lifetime of the domain.
func (d DomainConfig) HardSessionTimeout() time.Duration {
	return time.Duration(d.HardSessionTimeoutMinutes) * time.Minute
}

// ClockSkew is the leeway applied to exp/nbf checks.
func (d DomainConfig) ClockSkew() time.Duration {
	return time.Duration(d.ClockSkewSeconds) * time.Second
}

// ResolvedJWKSURL returns the configured JWKS URL or the conventional one under the issuer.
func (d DomainConfig) ResolvedJWKSURL() string {
	if d.JWKSURL != "" {
		return d.JWKSURL
	}
	return strings.TrimRight(d.IssuerURL, "/") + "/.well-known/jwks.json"
}

// ChallengeTTL is the lifetime of an MFA challenge.
func (m MFAConfig) ChallengeTTL() time.Duration {
	return time.Duration(m.ChallengeTTLSeconds) * time.Second
}

// TTL is how long fetched keys stay cached.
func (k KeyCacheConfig) TTL() time.Duration {
	return time.Duration(k.TTLMinutes) * time.Minute
}

// MinRefetch is the minimum spacing between key set refetches of one domain.
func (k KeyCacheConfig) MinRefetch() time.Duration {
	return time.Duration(k.MinRefetchSeconds) * time.Second
}

// FetchTimeout bounds a single key set fetch.
func (k KeyCacheConfig) FetchTimeout() time.Duration {
	return time.Duration(k.FetchTimeoutSecond) * time.Second
}

// WriteTimeout bounds one audit sink write.
func (a AuditConfig) WriteTimeout() time.Duration {
	return time.Duration(a.WriteTimeoutMilli) * time.Millisecond
}

// LoadSession reads the client session settings. The CLI uses it on its
// own since it never needs the server configuration.
func LoadSession() SessionConfig {
	return SessionConfig{
		LowWaterMinutes:      getEnvAsInt("SESSION_LOW_WATER_MINUTES", 5),
		CheckIntervalSeconds: getEnvAsInt("SESSION_CHECK_INTERVAL_SECONDS", 30),
	}
}

// LowWater is the remaining time at which a session refresh is attempted.
func (s SessionConfig) LowWater() time.Duration {
	return time.Duration(s.LowWaterMinutes) * time.Minute
}

// CheckInterval is the period of the background session check.
func (s SessionConfig) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
