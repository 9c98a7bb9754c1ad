package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/lexai/twofa"
)

var cli struct {
	Serve   cmdServe   `cmd:"" help:"Serve the auth API"`
	Enroll  cmdEnroll  `cmd:"" help:"Enroll an account in two-factor auth"`
	Disable cmdDisable `cmd:"" help:"Turn two-factor auth off for an account"`
	Status  cmdStatus  `cmd:"" help:"Show whether two-factor auth is on"`
	Useradd cmdUseradd `cmd:"" help:"Add an account to the user file"`
}

type cmdServe struct {
	Port        int    `long:"port" default:"8080" help:"Port to listen on" env:"PORT"`
	Config      string `long:"config" default:"conf.yaml" help:"User file path" env:"USER_CONFIG"`
	Debug       bool   `long:"debug" help:"Enable debug mode." env:"DEBUG"`
	JWTKey      string `long:"jwt-key" env:"JWT_KEY" help:"JWT signing key (required when not in debug mode)"`
	Issuer      string `long:"issuer" default:"LexAI Practice Partner" env:"ISSUER" help:"Issuer name for TOTP provisioning"`
	PendingSize int    `long:"pending-size" default:"250" env:"PENDING_SIZE" help:"Pending enrollment cache size"`
	PendingTTL  int    `long:"pending-ttl" default:"600" env:"PENDING_TTL" help:"Pending enrollment TTL in seconds"` // 10 mins
	JWTTTL      int    `long:"jwt-ttl" default:"7200" env:"JWT_TTL" help:"JWT session TTL in seconds"`              // 2 hours
	Cookie      string `long:"cookie" default:"twofa-auth" env:"COOKIE" help:"Cookie name"`
	BackupCodes int    `long:"backup-codes" default:"10" env:"BACKUP_CODES" help:"Backup codes issued per enrollment"`

	OtelResourceAttributes string `long:"otel-resource-attributes" env:"OTEL_RESOURCE_ATTRIBUTES" help:"OpenTelemetry resource attributes" default:"service.name=twofa,service.version=0.0.0"`
	SecondsBetweenLogins   int64  `long:"seconds-between-logins" default:"1" env:"SECONDS_BETWEEN_LOGINS" help:"Minimum time between logins in seconds"`

	HTTPReadTimeout  int `long:"http-read-timeout" default:"1" env:"HTTP_READ_TIMEOUT" help:"HTTP read timeout in seconds"`
	HTTPWriteTimeout int `long:"http-write-timeout" default:"5" env:"HTTP_WRITE_TIMEOUT" help:"HTTP write timeout in seconds"`
}

// defaults sets up some default values for the server, generating keys if needed (debug mode only)
func (c *cmdServe) defaults() error {
	if c.JWTKey == "" {
		if c.Debug {
			log.Println("No JWT key provided, generating a random one")
			rb, err := randBytes(64)
			if err != nil {
				return err
			}
			c.JWTKey = string(rb)
		} else {
			return fmt.Errorf("JWT key is required")
		}
	}
	return nil
}

// Run starts the auth server.
func (c *cmdServe) Run() error {
	err := c.defaults()
	if err != nil {
		return err
	}

	var store twofa.Storage
	if c.Debug {
		log.Println("Debug mode enabled, loading canned users only")
		store = twofa.NewDebugStore()
	} else {
		store, err = twofa.NewFileStore(c.Config)
		if err != nil {
			return err
		}
	}
	return twofa.ServeHTTP(
		twofa.WithJWTKey([]byte(c.JWTKey)),
		twofa.WithStorage(store),
		twofa.WithPort(c.Port),
		twofa.WithIssuer(c.Issuer),
		twofa.WithPendingCacheSize(c.PendingSize),
		twofa.WithPendingTTL(time.Duration(c.PendingTTL)*time.Second),
		twofa.WithJWTSessionTTL(time.Duration(c.JWTTTL)*time.Second),
		twofa.WithServerCookieName(c.Cookie),
		twofa.WithBackupCodeCount(c.BackupCodes),
		twofa.WithSecondsBetweenLogins(c.SecondsBetweenLogins),
		twofa.WithHTTPReadTimeout(time.Duration(c.HTTPReadTimeout)*time.Second),
		twofa.WithHTTPWriteTimeout(time.Duration(c.HTTPWriteTimeout)*time.Second),
	)
}

type cmdEnroll struct {
	Server   string `long:"server" default:"http://localhost:8080" env:"TWOFA_SERVER" help:"Auth service base URL"`
	Username string `arg:"" help:"Account username"`
	Password string `long:"password" env:"TWOFA_PASSWORD" help:"Account password (prompted when empty)"`
	QROut    string `long:"qr-out" short:"o" default:"qr.png" help:"Path to save the provisioning QR code"`
	CodesOut string `long:"codes-out" default:"" help:"Path for the backup code export (defaults to the standard filename)"`
}

// Run walks the whole enrollment flow from the terminal: login, start setup,
// save the QR code and backup codes, then verify codes until one is accepted.
func (c *cmdEnroll) Run() error {
	ctx := context.Background()
	ctrl, err := connect(ctx, c.Server, c.Username, c.Password, "")
	if err != nil {
		return err
	}
	if ctrl.Enabled() {
		return fmt.Errorf("two-factor auth is already enabled for %s", c.Username)
	}

	if err := ctrl.StartSetup(ctx); err != nil {
		return err
	}
	sess := ctrl.Session()

	fmt.Println("Manual entry key:", sess.ManualEntryKey)
	if len(sess.QRCode) > 0 {
		if err := os.WriteFile(c.QROut, sess.QRCode, 0644); err != nil {
			return err
		}
		fmt.Println("QR code saved to:", c.QROut)
	}

	codesOut := c.CodesOut
	if codesOut == "" {
		codesOut = twofa.BackupCodeFilename
	}
	f, err := os.Create(codesOut)
	if err != nil {
		return err
	}
	err = ctrl.ExportBackupCodes(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Println("Backup codes saved to:", codesOut)

	// keep asking until the server accepts a code
	for {
		code, err := prompt("Enter the 6 digit code from your authenticator app: ")
		if err != nil {
			return err
		}
		err = ctrl.Verify(ctx, code)
		if err == nil {
			fmt.Println("Two-factor auth is now enabled.")
			return nil
		}

		var vErr *twofa.ValidationError
		var bErr *twofa.BackendError
		if errors.As(err, &vErr) || errors.As(err, &bErr) {
			fmt.Println(err.Error() + ", try again")
			continue
		}
		return err
	}
}

type cmdDisable struct {
	Server   string `long:"server" default:"http://localhost:8080" env:"TWOFA_SERVER" help:"Auth service base URL"`
	Username string `arg:"" help:"Account username"`
	Password string `long:"password" env:"TWOFA_PASSWORD" help:"Account password (prompted when empty)"`
	Code     string `long:"code" help:"Current TOTP or backup code, needed to log in"`
}

// Run turns two-factor auth off, re-confirming the password as the server requires.
func (c *cmdDisable) Run() error {
	ctx := context.Background()
	ctrl, err := connect(ctx, c.Server, c.Username, c.Password, c.Code)
	if err != nil {
		return err
	}
	if !ctrl.Enabled() {
		return fmt.Errorf("two-factor auth is not enabled for %s", c.Username)
	}

	if err := ctrl.StartDisable(); err != nil {
		return err
	}
	password, err := prompt("Confirm your password to disable two-factor auth: ")
	if err != nil {
		return err
	}
	if err := ctrl.ConfirmDisable(ctx, password); err != nil {
		return err
	}
	fmt.Println("Two-factor auth is now disabled.")
	return nil
}

type cmdStatus struct {
	Server   string `long:"server" default:"http://localhost:8080" env:"TWOFA_SERVER" help:"Auth service base URL"`
	Username string `arg:"" help:"Account username"`
	Password string `long:"password" env:"TWOFA_PASSWORD" help:"Account password (prompted when empty)"`
	Code     string `long:"code" help:"Current TOTP or backup code, if enrolled"`
}

// Run prints the durable two-factor flag for the account.
func (c *cmdStatus) Run() error {
	ctx := context.Background()
	ctrl, err := connect(ctx, c.Server, c.Username, c.Password, c.Code)
	if err != nil {
		return err
	}
	fmt.Printf("two-factor auth for %s: %s\n", c.Username, ctrl.State())
	return nil
}

type cmdUseradd struct {
	Config   string `long:"config" default:"conf.yaml" help:"User file path" env:"USER_CONFIG"`
	Username string `arg:"" help:"Account username"`
	Password string `long:"password" env:"TWOFA_PASSWORD" help:"Account password (prompted when empty)"`
}

// Run adds an account with a bcrypt password hash to the user file.
// Intended for an admin creating accounts.
func (c *cmdUseradd) Run() error {
	password := c.Password
	if password == "" {
		var err error
		password, err = prompt("Password for " + c.Username + ": ")
		if err != nil {
			return err
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	store, err := twofa.NewFileStore(c.Config)
	if err != nil {
		return err
	}
	err = store.SaveUser(&twofa.User{Username: c.Username, PasswordHash: string(hash)})
	if err != nil {
		return err
	}
	fmt.Println("Added", c.Username, "to", c.Config)
	return nil
}

// connect waits for the server, logs in and returns a controller seeded with
// the account's current two-factor flag.
func connect(ctx context.Context, server, username, password, code string) (*twofa.Controller, error) {
	if password == "" {
		var err error
		password, err = prompt("Password for " + username + ": ")
		if err != nil {
			return nil, err
		}
	}

	client := twofa.NewClient(server)

	// the server may still be coming up, eg. under docker compose
	err := backoff.Retry(func() error {
		return client.Ping(ctx)
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))
	if err != nil {
		return nil, fmt.Errorf("auth service unreachable at %s: %w", server, err)
	}

	if err := client.Login(ctx, username, password, code); err != nil {
		return nil, err
	}
	enabled, err := client.Status(ctx)
	if err != nil {
		return nil, err
	}
	return twofa.NewController(client, twofa.WithEnabled(enabled)), nil
}

// prompt reads one line from stdin.
func prompt(msg string) (string, error) {
	fmt.Print(msg)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// randBytes generates n random bytes.
// Only used to be helpful & generate keys for debug style mode.
func randBytes(n int) ([]byte, error) {
	data := make([]byte, n)
	_, err := rand.Read(data)
	return data, err
}

func main() {
	ctx := kong.Parse(&cli)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
