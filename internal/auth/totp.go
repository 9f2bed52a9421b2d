package auth

import (
	"github.com/pquerna/otp/totp"
)

const totpIssuer = "SOC Portal"

// GenerateTOTPSecret enrolls a second factor for the account and returns the
// shared secret plus the otpauth provisioning URL for authenticator apps.
func GenerateTOTPSecret(email string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: email,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTP checks a one-time code against the enrolled secret.
func ValidateTOTP(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	return totp.Validate(code, secret)
}
