package twofa

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	s, err := buildServer(
		WithJWTKey([]byte("test-jwt-key")),
		WithStorage(NewDebugStore()),
		WithSecondsBetweenLogins(0),
		WithBackupCodeCount(4),
	)
	require.Nil(t, err)

	srv := httptest.NewServer(s.newHTTPHandler())
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildServerValidation(t *testing.T) {
	_, err := buildServer(WithStorage(NewDebugStore()))
	assert.NotNil(t, err)

	_, err = buildServer(WithJWTKey([]byte("key")))
	assert.NotNil(t, err)
}

func TestServerUnauthorized(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)

	_, err := client.Status(context.Background())
	var bErr *BackendError
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, "unauthorized", bErr.Message)
}

func TestServerLoginBadPassword(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)

	err := client.Login(context.Background(), "mary", "wrong", "")
	var bErr *BackendError
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, "invalid credentials", bErr.Message)
}

func TestServerVerifyWithoutSetup(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)
	ctx := context.Background()
	require.Nil(t, client.Login(ctx, "mary", "password", ""))

	err := client.VerifyCode(ctx, "123456")
	var bErr *BackendError
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, "no enrollment in progress, start setup first", bErr.Message)
}

// Full lifecycle over the wire: enroll, re-login with a TOTP code, burn a
// backup code, then disable again.
func TestServerEnrollmentLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	client := NewClient(srv.URL)
	require.Nil(t, client.Login(ctx, "test", "password", ""))

	enabled, err := client.Status(ctx)
	require.Nil(t, err)
	require.False(t, enabled)

	// start setup: secrets are issued but nothing is durable yet
	reply, err := client.StartSetup(ctx)
	require.Nil(t, err)
	assert.NotEqual(t, "", reply.ManualEntryKey)
	assert.NotEqual(t, "", reply.OTPAuthURL)
	assert.NotEmpty(t, reply.QRCode)
	require.Len(t, reply.BackupCodes, 4)

	enabled, err = client.Status(ctx)
	require.Nil(t, err)
	assert.False(t, enabled)

	// a wrong code is rejected and changes nothing
	err = client.VerifyCode(ctx, "000000")
	var bErr *BackendError
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, "invalid code", bErr.Message)

	// a real code finishes enrollment
	code, err := totp.GenerateCode(reply.ManualEntryKey, time.Now())
	require.Nil(t, err)
	require.Nil(t, client.VerifyCode(ctx, code))

	enabled, err = client.Status(ctx)
	require.Nil(t, err)
	assert.True(t, enabled)

	// setup can't start again while enabled
	_, err = client.StartSetup(ctx)
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, "two-factor authentication is already enabled", bErr.Message)

	// logins now demand a second factor
	fresh := NewClient(srv.URL)
	err = fresh.Login(ctx, "test", "password", "")
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, "two-factor code required", bErr.Message)

	// a backup code works once
	require.Nil(t, fresh.Login(ctx, "test", "password", reply.BackupCodes[0]))
	err = NewClient(srv.URL).Login(ctx, "test", "password", reply.BackupCodes[0])
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, "invalid two-factor code", bErr.Message)

	// disable needs the right password
	err = fresh.Disable(ctx, "wrong")
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, "incorrect password", bErr.Message)

	require.Nil(t, fresh.Disable(ctx, "password"))
	enabled, err = fresh.Status(ctx)
	require.Nil(t, err)
	assert.False(t, enabled)
}

func TestServerSetupReplacesPending(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	client := NewClient(srv.URL)
	require.Nil(t, client.Login(ctx, "james", "password", ""))

	first, err := client.StartSetup(ctx)
	require.Nil(t, err)
	second, err := client.StartSetup(ctx)
	require.Nil(t, err)
	require.NotEqual(t, first.ManualEntryKey, second.ManualEntryKey)

	// only the latest pending secret verifies
	code, err := totp.GenerateCode(first.ManualEntryKey, time.Now())
	require.Nil(t, err)
	assert.NotNil(t, client.VerifyCode(ctx, code))

	code, err = totp.GenerateCode(second.ManualEntryKey, time.Now())
	require.Nil(t, err)
	assert.Nil(t, client.VerifyCode(ctx, code))
}

// failingStore accepts reads but fails every save, like a full disk.
type failingStore struct {
	Storage
}

func (f *failingStore) SaveUser(u *User) error {
	return errors.New("disk full")
}

func TestServerVerifySaveFailureLeavesDisabled(t *testing.T) {
	s, err := buildServer(
		WithJWTKey([]byte("test-jwt-key")),
		WithStorage(&failingStore{Storage: NewDebugStore()}),
		WithSecondsBetweenLogins(0),
		WithBackupCodeCount(2),
	)
	require.Nil(t, err)
	srv := httptest.NewServer(s.newHTTPHandler())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client := NewClient(srv.URL)
	require.Nil(t, client.Login(ctx, "mary", "password", ""))

	reply, err := client.StartSetup(ctx)
	require.Nil(t, err)
	code, err := totp.GenerateCode(reply.ManualEntryKey, time.Now())
	require.Nil(t, err)

	err = client.VerifyCode(ctx, code)
	var bErr *BackendError
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, "internal server error", bErr.Message)

	// the failed save must not leave a half-enrolled account behind
	enabled, err := client.Status(ctx)
	require.Nil(t, err)
	assert.False(t, enabled)

	// logging in again still needs no second factor
	assert.Nil(t, NewClient(srv.URL).Login(ctx, "mary", "password", ""))
}

// Reads and writes for the same account may land together; run under the race
// detector this pins down that handlers never share a mutable user record.
func TestServerConcurrentStatusAndDisable(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	statusClient := NewClient(srv.URL)
	require.Nil(t, statusClient.Login(ctx, "mary", "password", ""))
	disableClient := NewClient(srv.URL)
	require.Nil(t, disableClient.Login(ctx, "mary", "password", ""))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			_, err := statusClient.Status(ctx)
			assert.Nil(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			assert.Nil(t, disableClient.Disable(ctx, "password"))
		}
	}()
	wg.Wait()
}

func TestServerHealthz(t *testing.T) {
	srv := newTestServer(t)
	assert.Nil(t, NewClient(srv.URL).Ping(context.Background()))
}
