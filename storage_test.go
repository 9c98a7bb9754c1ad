package twofa

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "users.yaml")

	store, err := NewFileStore(filename)
	require.Nil(t, err)

	used := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.Nil(t, store.SaveUser(&User{
		Username:         "mary",
		PasswordHash:     "$2a$10$fakefakefakefakefakefake",
		TOTPSecret:       "ABCD1234",
		TwoFactorEnabled: true,
		BackupCodes: []*BackupCode{
			{Hash: "hash-1"},
			{Hash: "hash-2", UsedAt: &used},
		},
	}))
	require.Nil(t, store.SaveUser(&User{Username: "james", PasswordHash: "x"}))

	// a fresh store sees everything the first one wrote
	reopened, err := NewFileStore(filename)
	require.Nil(t, err)

	mary, err := reopened.User("mary")
	require.Nil(t, err)
	assert.True(t, mary.TwoFactorEnabled)
	assert.Equal(t, "ABCD1234", mary.TOTPSecret)
	require.Len(t, mary.BackupCodes, 2)
	assert.Nil(t, mary.BackupCodes[0].UsedAt)
	require.NotNil(t, mary.BackupCodes[1].UsedAt)
	assert.True(t, used.Equal(*mary.BackupCodes[1].UsedAt))

	_, err = reopened.User("nobody")
	assert.NotNil(t, err)
}

func TestFileStoreUserReturnsCopy(t *testing.T) {
	store := NewDebugStore()
	require.Nil(t, store.SaveUser(&User{
		Username:         "mary",
		PasswordHash:     "x",
		TwoFactorEnabled: true,
		BackupCodes:      []*BackupCode{{Hash: "hash-1"}},
	}))

	// scribbling on a fetched user must not leak into the store
	u, err := store.User("mary")
	require.Nil(t, err)
	u.TwoFactorEnabled = false
	u.TOTPSecret = "stolen"
	now := time.Now()
	u.BackupCodes[0].UsedAt = &now

	fresh, err := store.User("mary")
	require.Nil(t, err)
	assert.True(t, fresh.TwoFactorEnabled)
	assert.Equal(t, "", fresh.TOTPSecret)
	assert.Nil(t, fresh.BackupCodes[0].UsedAt)
}

func TestFileStoreFailedSaveLeavesStoreUnchanged(t *testing.T) {
	// parent directory is never created, so every file write fails
	store, err := NewFileStore(filepath.Join(t.TempDir(), "missing", "users.yaml"))
	require.Nil(t, err)

	err = store.SaveUser(&User{Username: "mary", TwoFactorEnabled: true})
	require.NotNil(t, err)

	// nothing was installed in memory either
	_, err = store.User("mary")
	assert.NotNil(t, err)
}

func TestFileStoreMissingFile(t *testing.T) {
	// a path that doesn't exist yet is an empty store, not an error
	store, err := NewFileStore(filepath.Join(t.TempDir(), "new.yaml"))
	require.Nil(t, err)

	_, err = store.User("mary")
	assert.NotNil(t, err)
}

func TestDebugStore(t *testing.T) {
	store := NewDebugStore()
	for _, name := range []string{"mary", "james", "test"} {
		u, err := store.User(name)
		require.Nil(t, err)
		assert.False(t, u.TwoFactorEnabled)
		assert.NotEqual(t, "", u.PasswordHash)
	}
}
