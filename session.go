package twofa

// EnrollmentSession holds the secrets issued when enrollment starts.
// It lives only while the controller is in StateSettingUp: it is discarded on
// cancel or on a successful verify, and deliberately kept across failed
// verifies so the user can retry without re-scanning the QR code.
type EnrollmentSession struct {
	// ManualEntryKey is the secret provisioning key, shown when a QR code
	// cannot be scanned.
	ManualEntryKey string

	// OTPAuthURL is the otpauth:// provisioning URL encoded in the QR code.
	OTPAuthURL string

	// QRCode is the provisioning QR code as PNG bytes, if the server sent one.
	QRCode []byte

	// BackupCodes are the single-use fallback credentials, in the order the
	// server issued them.
	BackupCodes []string
}

// clone returns a copy so callers can't mutate the controller's session.
func (e *EnrollmentSession) clone() *EnrollmentSession {
	if e == nil {
		return nil
	}
	cp := &EnrollmentSession{
		ManualEntryKey: e.ManualEntryKey,
		OTPAuthURL:     e.OTPAuthURL,
		QRCode:         append([]byte(nil), e.QRCode...),
		BackupCodes:    append([]string(nil), e.BackupCodes...),
	}
	return cp
}
