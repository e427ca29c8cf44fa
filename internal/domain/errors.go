package domain

import "errors"

// ErrorKind classifies authentication and authorization failures.
type ErrorKind string

const (
	KindInvalidCredentials     ErrorKind = "INVALID_CREDENTIALS"
	KindAccountUnconfirmed     ErrorKind = "ACCOUNT_UNCONFIRMED"
	KindMFARequired            ErrorKind = "MFA_REQUIRED"
	KindMFAIncorrect           ErrorKind = "MFA_INCORRECT"
	KindMFAExpired             ErrorKind = "MFA_EXPIRED"
	KindTokenExpired           ErrorKind = "TOKEN_EXPIRED"
	KindTokenMalformed         ErrorKind = "TOKEN_MALFORMED"
	KindTokenNotYetValid       ErrorKind = "TOKEN_NOT_YET_VALID"
	KindWrongIssuer            ErrorKind = "WRONG_ISSUER"
	KindWrongAudience          ErrorKind = "WRONG_AUDIENCE"
	KindUnknownKey             ErrorKind = "UNKNOWN_KEY"
	KindBadSignature           ErrorKind = "BAD_SIGNATURE"
	KindCrossDomainAccess      ErrorKind = "CROSS_DOMAIN_ACCESS"
	KindInsufficientPermission ErrorKind = "INSUFFICIENT_PERMISSION"
	KindSessionExpired         ErrorKind = "SESSION_EXPIRED"
	KindRefreshFailed          ErrorKind = "REFRESH_FAILED"
	KindProviderUnavailable    ErrorKind = "PROVIDER_UNAVAILABLE"
)

// SecurityRelevant reports whether a failure of this kind points at
// misconfiguration or tampering rather than an ordinary auth failure.
func (k ErrorKind) SecurityRelevant() bool {
	switch k {
	case KindWrongIssuer, KindWrongAudience, KindBadSignature, KindUnknownKey, KindCrossDomainAccess:
		return true
	default:
		return false
	}
}

// ForcesLogout reports whether a session hitting this failure must end.
func (k ErrorKind) ForcesLogout() bool {
	return k == KindSessionExpired || k == KindRefreshFailed
}

// AuthError is a typed authentication/authorization failure.
type AuthError struct {
	Kind ErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any *AuthError with the same kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

// NewAuthError wraps err under kind.
func NewAuthError(kind ErrorKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

// KindOf returns the kind of the first AuthError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return "", false
}

// Sentinels for errors.Is.
var (
	ErrInvalidCredentials     = &AuthError{Kind: KindInvalidCredentials}
	ErrAccountUnconfirmed     = &AuthError{Kind: KindAccountUnconfirmed}
	ErrMFARequired            = &AuthError{Kind: KindMFARequired}
	ErrMFAIncorrect           = &AuthError{Kind: KindMFAIncorrect}
	ErrMFAExpired             = &AuthError{Kind: KindMFAExpired}
	ErrTokenExpired           = &AuthError{Kind: KindTokenExpired}
	ErrTokenMalformed         = &AuthError{Kind: KindTokenMalformed}
	ErrTokenNotYetValid       = &AuthError{Kind: KindTokenNotYetValid}
	ErrWrongIssuer            = &AuthError{Kind: KindWrongIssuer}
	ErrWrongAudience          = &AuthError{Kind: KindWrongAudience}
	ErrUnknownKey             = &AuthError{Kind: KindUnknownKey}
	ErrBadSignature           = &AuthError{Kind: KindBadSignature}
	ErrCrossDomainAccess      = &AuthError{Kind: KindCrossDomainAccess}
	ErrInsufficientPermission = &AuthError{Kind: KindInsufficientPermission}
	ErrSessionExpired         = &AuthError{Kind: KindSessionExpired}
	ErrRefreshFailed          = &AuthError{Kind: KindRefreshFailed}
	ErrProviderUnavailable    = &AuthError{Kind: KindProviderUnavailable}
)
