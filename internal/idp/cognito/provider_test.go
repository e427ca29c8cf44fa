package cognito

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/dualauth/internal/domain"
	"github.com/spec-kit/dualauth/internal/idp"
)

type fakeAPI struct {
	initiate   func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error)
	respond    func(*cip.RespondToAuthChallengeInput) (*cip.RespondToAuthChallengeOutput, error)
	lastParams map[string]string
}

func (f *fakeAPI) InitiateAuth(_ context.Context, in *cip.InitiateAuthInput, _ ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
	f.lastParams = in.AuthParameters
	return f.initiate(in)
}

func (f *fakeAPI) RespondToAuthChallenge(_ context.Context, in *cip.RespondToAuthChallengeInput, _ ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error) {
	f.lastParams = in.ChallengeResponses
	return f.respond(in)
}

func authResult() *types.AuthenticationResultType {
	return &types.AuthenticationResultType{
		AccessToken:  aws.String("access"),
		IdToken:      aws.String("id"),
		RefreshToken: aws.String("refresh"),
		TokenType:    aws.String("Bearer"),
		ExpiresIn:    3600,
	}
}

func newProvider(api API, secret string) *Provider {
	p := New(api, Config{ClientID: "client-1", ClientSecret: secret}, nil)
	p.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return p
}

func TestProvider_InitiateAuthTokens(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{initiate: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
		assert.Equal(t, types.AuthFlowTypeUserPasswordAuth, in.AuthFlow)
		assert.Equal(t, "client-1", aws.ToString(in.ClientId))
		return &cip.InitiateAuthOutput{AuthenticationResult: authResult()}, nil
	}}
	p := newProvider(api, "")

	res, err := p.InitiateAuth(context.Background(), "alice", "pw")
	require.NoError(t, err)
	require.NotNil(t, res.Tokens)
	assert.False(t, res.ChallengeRequired())
	assert.Equal(t, "access", res.Tokens.AccessToken)
	assert.Equal(t, time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC), res.Tokens.ExpiresAt)
	assert.NotContains(t, api.lastParams, "SECRET_HASH")
}

func TestProvider_ChallengeAndResponse(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{
		initiate: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{ChallengeName: types.ChallengeNameTypeSoftwareTokenMfa, Session: aws.String("sess")}, nil
		},
		respond: func(in *cip.RespondToAuthChallengeInput) (*cip.RespondToAuthChallengeOutput, error) {
			assert.Equal(t, types.ChallengeNameTypeSoftwareTokenMfa, in.ChallengeName)
			assert.Equal(t, "sess", aws.ToString(in.Session))
			if in.ChallengeResponses["SOFTWARE_TOKEN_MFA_CODE"] != "123456" {
				return nil, &types.CodeMismatchException{Message: aws.String("Invalid code")}
			}
			return &cip.RespondToAuthChallengeOutput{AuthenticationResult: authResult()}, nil
		},
	}
	p := newProvider(api, "shh")

	res, err := p.InitiateAuth(context.Background(), "ops", "pw")
	require.NoError(t, err)
	assert.True(t, res.ChallengeRequired())
	assert.Equal(t, idp.ChallengeSoftwareToken, res.ChallengeName)
	assert.Equal(t, SecretHash("shh", "ops", "client-1"), api.lastParams["SECRET_HASH"])

	_, err = p.RespondToMFA(context.Background(), "ops", res.Session, res.ChallengeName, "000000")
	assert.True(t, errors.Is(err, domain.ErrMFAIncorrect))

	tokens, err := p.RespondToMFA(context.Background(), "ops", res.Session, res.ChallengeName, "123456")
	require.NoError(t, err)
	assert.Equal(t, "refresh", tokens.RefreshToken)
}

func TestProvider_ErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		kind domain.ErrorKind
	}{
		{"not authorized", &types.NotAuthorizedException{}, domain.KindInvalidCredentials},
		{"user not found", &types.UserNotFoundException{}, domain.KindInvalidCredentials},
		{"unconfirmed", &types.UserNotConfirmedException{}, domain.KindAccountUnconfirmed},
		{"expired code", &types.ExpiredCodeException{}, domain.KindMFAExpired},
		{"throttled", &types.TooManyRequestsException{}, domain.KindProviderUnavailable},
		{"network", errors.New("dial tcp: timeout"), domain.KindProviderUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{initiate: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) { return nil, tc.err }}
			_, err := newProvider(api, "").InitiateAuth(context.Background(), "u", "p")
			kind, ok := domain.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tc.kind, kind)
		})
	}
}

func TestProvider_RefreshKeepsRefreshToken(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{initiate: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
		assert.Equal(t, types.AuthFlowTypeRefreshTokenAuth, in.AuthFlow)
		assert.Equal(t, "r-1", in.AuthParameters["REFRESH_TOKEN"])
		res := authResult()
		res.RefreshToken = nil
		return &cip.InitiateAuthOutput{AuthenticationResult: res}, nil
	}}
	tokens, err := newProvider(api, "").Refresh(context.Background(), "u", "r-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", tokens.RefreshToken)

	failing := &fakeAPI{initiate: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
		return nil, &types.NotAuthorizedException{Message: aws.String("Refresh Token has been revoked")}
	}}
	_, err = newProvider(failing, "").Refresh(context.Background(), "u", "r-1")
	assert.True(t, errors.Is(err, domain.ErrRefreshFailed))
}

func TestSecretHash(t *testing.T) {
	t.Parallel()
	a := SecretHash("secret", "user", "client")
	assert.Equal(t, a, SecretHash("secret", "user", "client"))
	assert.NotEqual(t, a, SecretHash("secret", "other", "client"))
	assert.Len(t, a, 44)
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	client := NewClient(Config{Region: "eu-west-1", Endpoint: "http://localhost:9229"})
	assert.Equal(t, "eu-west-1", client.Options().Region)
}
