package twofa

import (
	"fmt"
	"io"
	"time"
)

// BackupCodeFilename is the suggested name for the exported document.
const BackupCodeFilename = "lexai-2fa-backup-codes.txt"

// WriteBackupCodes renders the plain-text backup code document: a fixed
// header, the generation timestamp, a short instruction, then every code with
// a 1-based ordinal. Pure transform, no side effects.
func WriteBackupCodes(w io.Writer, codes []string, generatedAt time.Time) error {
	_, err := fmt.Fprintf(w, `LexAI Practice Partner
Two-Factor Authentication Backup Codes

Generated: %s

Keep these codes somewhere safe. Each code can be used once in place of
your authenticator app if you lose access to your device.

`, generatedAt.Format(time.RFC1123))
	if err != nil {
		return err
	}

	for i, code := range codes {
		if _, err := fmt.Fprintf(w, "%2d. %s\n", i+1, code); err != nil {
			return err
		}
	}
	return nil
}
