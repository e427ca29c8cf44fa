package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer signs RS256 access tokens for the local identity provider and
// publishes the matching key set.
type TokenIssuer struct {
	issuer   string
	audience string
	key      *rsa.PrivateKey
	kid      string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer builds an issuer. The key id is the key's RFC 7638 thumbprint.
func NewTokenIssuer(issuer, audience string, key *rsa.PrivateKey, ttl time.Duration) (*TokenIssuer, error) {
	if key == nil {
		return nil, errors.New("signing key required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey}
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("key thumbprint: %w", err)
	}
	return &TokenIssuer{
		issuer:   issuer,
		audience: audience,
		key:      key,
		kid:      base64.RawURLEncoding.EncodeToString(thumb),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// IssueRequest describes the subject of a new access token.
type IssueRequest struct {
	Subject     string
	Username    string
	Groups      []string
	Tier        string
	StaffRole   string
	Permissions []string
}

// Issue signs an access token for req.
func (ti *TokenIssuer) Issue(req IssueRequest) (string, time.Time, error) {
	now := ti.now()
	expiresAt := now.Add(ti.ttl)
	claims := &TokenClaims{
		TokenUse:    "access",
		ClientID:    ti.audience,
		Username:    req.Username,
		Groups:      req.Groups,
		Tier:        req.Tier,
		StaffRole:   req.StaffRole,
		Permissions: req.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ti.issuer,
			Subject:   req.Subject,
			Audience:  jwt.ClaimStrings{ti.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = ti.kid
	signed, err := token.SignedString(ti.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// KeyID returns the kid stamped on issued tokens.
func (ti *TokenIssuer) KeyID() string { return ti.kid }

// Issuer returns the iss claim value.
func (ti *TokenIssuer) Issuer() string { return ti.issuer }

// TTL returns the access token lifetime.
func (ti *TokenIssuer) TTL() time.Duration { return ti.ttl }

// KeySet returns the public JWKS of the issuer.
func (ti *TokenIssuer) KeySet() *jose.JSONWebKeySet {
	return &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &ti.key.PublicKey,
		KeyID:     ti.kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
}

// GenerateSigningKey creates a fresh 2048 bit RSA key.
func GenerateSigningKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// LoadSigningKey reads a PEM encoded PKCS#1 or PKCS#8 RSA private key.
func LoadSigningKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: not an RSA key", path)
	}
	return key, nil
}
