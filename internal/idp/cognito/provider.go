// Package cognito authenticates users against an AWS Cognito user pool.
package cognito

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"go.uber.org/zap"

	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/idp"
)

// API is the subset of the Cognito client the provider calls.
type API interface {
	InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	RespondToAuthChallenge(ctx context.Context, in *cip.RespondToAuthChallengeInput, optFns ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error)
}

// Config identifies the user pool app client.
type Config struct {
	Region       string
	ClientID     string
	ClientSecret string
	// Endpoint overrides the service URL, e.g. for a local emulator.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Provider implements idp.Provider on Cognito.
type Provider struct {
	api          API
	clientID     string
	clientSecret string
	logger       *zap.Logger
	now          func() time.Time
}

// NewClient builds the SDK client. Without static keys the calls are
// unsigned, which the public auth APIs accept.
func NewClient(cfg Config) *cip.Client {
	var creds aws.CredentialsProvider = aws.AnonymousCredentials{}
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	}
	opts := cip.Options{
		Region:      cfg.Region,
		Credentials: creds,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return cip.New(opts)
}

// New wraps api for one app client.
func New(api API, cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		api:          api,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		logger:       logger,
		now:          time.Now,
	}
}

// InitiateAuth runs USER_PASSWORD_AUTH.
func (p *Provider) InitiateAuth(ctx context.Context, username, password string) (idp.AuthResult, error) {
	params := map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	}
	p.addSecretHash(params, username)

	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: params,
	})
	if err != nil {
		return idp.AuthResult{}, p.mapError("initiate auth", err)
	}
	if out.ChallengeName != "" {
		return idp.AuthResult{
			ChallengeName: string(out.ChallengeName),
			Session:       aws.ToString(out.Session),
		}, nil
	}
	tokens, err := p.tokenSet(out.AuthenticationResult, "")
	if err != nil {
		return idp.AuthResult{}, err
	}
	return idp.AuthResult{Tokens: &tokens}, nil
}

// RespondToMFA answers a SOFTWARE_TOKEN_MFA or SMS_MFA challenge.
func (p *Provider) RespondToMFA(ctx context.Context, username, session, challengeName, code string) (domain.TokenSet, error) {
	codeKey := "SOFTWARE_TOKEN_MFA_CODE"
	name := types.ChallengeNameTypeSoftwareTokenMfa
	if challengeName == idp.ChallengeSMS {
		codeKey = "SMS_MFA_CODE"
		name = types.ChallengeNameTypeSmsMfa
	}
	responses := map[string]string{
		"USERNAME": username,
		codeKey:    code,
	}
	p.addSecretHash(responses, username)

	out, err := p.api.RespondToAuthChallenge(ctx, &cip.RespondToAuthChallengeInput{
		ChallengeName:      name,
		ClientId:           aws.String(p.clientID),
		Session:            aws.String(session),
		ChallengeResponses: responses,
	})
	if err != nil {
		return domain.TokenSet{}, p.mapError("respond to challenge", err)
	}
	if out.ChallengeName != "" {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindProviderUnavailable,
			fmt.Errorf("unexpected follow-up challenge %s", out.ChallengeName))
	}
	return p.tokenSet(out.AuthenticationResult, "")
}

// Refresh runs REFRESH_TOKEN_AUTH. Cognito does not rotate refresh tokens,
// so the old one is carried over.
func (p *Provider) Refresh(ctx context.Context, username, refreshToken string) (domain.TokenSet, error) {
	params := map[string]string{"REFRESH_TOKEN": refreshToken}
	p.addSecretHash(params, username)

	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: params,
	})
	if err != nil {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindRefreshFailed, p.mapError("refresh", err))
	}
	tokens, err := p.tokenSet(out.AuthenticationResult, refreshToken)
	if err != nil {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindRefreshFailed, err)
	}
	return tokens, nil
}

func (p *Provider) tokenSet(res *types.AuthenticationResultType, fallbackRefresh string) (domain.TokenSet, error) {
	if res == nil || aws.ToString(res.AccessToken) == "" {
		return domain.TokenSet{}, domain.NewAuthError(domain.KindProviderUnavailable, errors.New("no authentication result"))
	}
	refresh := aws.ToString(res.RefreshToken)
	if refresh == "" {
		refresh = fallbackRefresh
	}
	tokenType := aws.ToString(res.TokenType)
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return domain.TokenSet{
		AccessToken:  aws.ToString(res.AccessToken),
		IDToken:      aws.ToString(res.IdToken),
		RefreshToken: refresh,
		TokenType:    tokenType,
		ExpiresAt:    p.now().Add(time.Duration(res.ExpiresIn) * time.Second),
	}, nil
}

// SecretHash computes the SECRET_HASH parameter for app clients with a secret.
func SecretHash(clientSecret, username, clientID string) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (p *Provider) addSecretHash(params map[string]string, username string) {
	if p.clientSecret == "" {
		return
	}
	params["SECRET_HASH"] = SecretHash(p.clientSecret, username, p.clientID)
}

func (p *Provider) mapError(op string, err error) error {
	var (
		notAuthorized *types.NotAuthorizedException
		userNotFound  *types.UserNotFoundException
		unconfirmed   *types.UserNotConfirmedException
		mismatch      *types.CodeMismatchException
		expired       *types.ExpiredCodeException
		resetRequired *types.PasswordResetRequiredException
	)
	switch {
	case errors.As(err, &notAuthorized), errors.As(err, &userNotFound), errors.As(err, &resetRequired):
		return domain.NewAuthError(domain.KindInvalidCredentials, fmt.Errorf("%s: %w", op, err))
	case errors.As(err, &unconfirmed):
		return domain.NewAuthError(domain.KindAccountUnconfirmed, fmt.Errorf("%s: %w", op, err))
	case errors.As(err, &mismatch):
		return domain.NewAuthError(domain.KindMFAIncorrect, fmt.Errorf("%s: %w", op, err))
	case errors.As(err, &expired):
		return domain.NewAuthError(domain.KindMFAExpired, fmt.Errorf("%s: %w", op, err))
	default:
		p.logger.Warn("cognito call failed", zap.String("op", op), zap.Error(err))
		return domain.NewAuthError(domain.KindProviderUnavailable, fmt.Errorf("%s: %w", op, err))
	}
}
