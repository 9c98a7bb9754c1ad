package twofa

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Charset for backup codes, with ambiguous characters (0/O, 1/I) left out.
const backupCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// randBytes generates a random byte slice of length n.
func randBytes(n int) ([]byte, error) {
	data := make([]byte, n)
	_, err := rand.Read(data)
	return data, err
}

// newBackupCodes generates n single-use codes in XXXX-XXXX form.
func newBackupCodes(n int) ([]string, error) {
	max := big.NewInt(int64(len(backupCodeCharset)))
	codes := make([]string, n)
	for i := range codes {
		chars := make([]byte, 8)
		for j := range chars {
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, err
			}
			chars[j] = backupCodeCharset[idx.Int64()]
		}
		codes[i] = fmt.Sprintf("%s-%s", chars[:4], chars[4:])
	}
	return codes, nil
}
