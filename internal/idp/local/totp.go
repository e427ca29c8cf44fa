package local

import (
	"encoding/base32"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSecretSize = 20
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Each step is validated on its own so the matching counter is known.
var totpStep = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      0,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateTOTPSecret creates an enrollment for account. It returns the raw
// secret as stored on the account and the key carrying the base32 secret
// and the otpauth:// URL.
func GenerateTOTPSecret(issuer, account string) ([]byte, *otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, nil, err
	}
	raw, err := DecodeTOTPSecret(key.Secret())
	if err != nil {
		return nil, nil, err
	}
	return raw, key, nil
}

// DecodeTOTPSecret parses a base32 secret as shown to authenticator apps.
func DecodeTOTPSecret(s string) ([]byte, error) {
	return b32.DecodeString(strings.ToUpper(strings.TrimSpace(s)))
}

// TOTPCode returns the code of secret at t.
func TOTPCode(secret []byte, t time.Time) string {
	code, err := totp.GenerateCodeCustom(b32.EncodeToString(secret), t, totpStep)
	if err != nil {
		return ""
	}
	return code
}

// VerifyTOTP checks code within ±window steps of t. Counters at or below
// lastCounter are skipped so a code cannot be replayed. Every step in the
// window is checked even after a match.
func VerifyTOTP(secret []byte, code string, t time.Time, window int, lastCounter *int64) (bool, int64) {
	code = strings.TrimSpace(code)
	encoded := b32.EncodeToString(secret)
	current := t.Unix() / totpPeriod
	var (
		matched bool
		counter int64
	)
	for c := current - int64(window); c <= current+int64(window); c++ {
		if lastCounter != nil && c <= *lastCounter {
			continue
		}
		ok, err := totp.ValidateCustom(code, encoded, time.Unix(c*totpPeriod, 0).UTC(), totpStep)
		if err == nil && ok && !matched {
			matched, counter = true, c
		}
	}
	return matched, counter
}
