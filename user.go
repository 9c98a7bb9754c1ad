package twofa

import "time"

// User is one account in the store. TwoFactorEnabled is the single durable
// fact the controller's cached flag reads through to.
type User struct {
	// Some unique string
	Username string `yaml:"username"`

	// Bcrypt hash of the account password
	PasswordHash string `yaml:"password_hash"`

	// TOTP secret, set once enrollment is verified
	TOTPSecret string `yaml:"totp_secret,omitempty"`

	// Whether two-factor auth is on for this account
	TwoFactorEnabled bool `yaml:"two_factor_enabled"`

	// Single-use fallback credentials, stored hashed
	BackupCodes []*BackupCode `yaml:"backup_codes,omitempty"`
}

// BackupCode is one hashed fallback credential.
type BackupCode struct {
	Hash   string     `yaml:"hash"`
	UsedAt *time.Time `yaml:"used_at,omitempty"`
}

// clone returns a deep copy, so a handler can mutate its own view of an
// account without touching the stored record.
func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.BackupCodes != nil {
		cp.BackupCodes = make([]*BackupCode, len(u.BackupCodes))
		for i, bc := range u.BackupCodes {
			c := *bc
			cp.BackupCodes[i] = &c
		}
	}
	return &cp
}
