package twofa

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBackupCodes(t *testing.T) {
	codes := []string{
		"AAAA-1111", "BBBB-2222", "CCCC-3333", "DDDD-4444",
		"EEEE-5555", "FFFF-6666", "GGGG-7777", "HHHH-8888",
		"JJJJ-9999", "KKKK-2345",
	}
	generatedAt := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

	var b strings.Builder
	require.Nil(t, WriteBackupCodes(&b, codes, generatedAt))
	doc := b.String()

	assert.Contains(t, doc, "LexAI Practice Partner")
	assert.Contains(t, doc, "Two-Factor Authentication Backup Codes")
	assert.Contains(t, doc, "Generated: "+generatedAt.Format(time.RFC1123))

	// every code appears exactly once, with its 1-based ordinal
	for i, code := range codes {
		assert.Contains(t, doc, fmt.Sprintf("%2d. %s", i+1, code))
		assert.Equal(t, 1, strings.Count(doc, code))
	}

	// one numbered line per code
	numbered := 0
	for _, line := range strings.Split(doc, "\n") {
		if strings.Contains(line, ". ") && strings.Contains(line, "-") {
			numbered++
		}
	}
	assert.Equal(t, len(codes), numbered)
}

func TestWriteBackupCodesEmpty(t *testing.T) {
	var b strings.Builder
	require.Nil(t, WriteBackupCodes(&b, nil, time.Now()))
	assert.Contains(t, b.String(), "Two-Factor Authentication Backup Codes")
}

func TestBackupCodeFilename(t *testing.T) {
	assert.Equal(t, "lexai-2fa-backup-codes.txt", BackupCodeFilename)
}
