package twofa

import (
	"bytes"
	"image/png"

	"github.com/pquerna/otp/totp"
)

// newTOTPKey creates a new TOTP key for the given account.
// Returns the secret (the manual entry key), the otpauth provisioning URL and
// the QR code as PNG bytes.
func newTOTPKey(issuer, account string) (string, string, []byte, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", nil, err
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return "", "", nil, err
	}
	var buf bytes.Buffer
	err = png.Encode(&buf, img)

	return key.Secret(), key.URL(), buf.Bytes(), err
}

// validateTOTP validates the given TOTP code against the secret.
func validateTOTP(secret, code string) bool {
	return totp.Validate(code, secret)
}
