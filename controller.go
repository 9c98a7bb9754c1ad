package twofa

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Controller drives the two-factor enrollment state machine for one account.
//
// It owns a single EnrollmentSession and a cached copy of the server's enabled
// flag. The cache is a read-through for display only: it is refreshed on every
// state-changing response and can be re-synced with RefreshStatus; the server
// is always the source of truth.
//
// One action runs at a time. While a backend call is pending every other
// mutating call fails fast with ErrActionInFlight, mirroring a disabled submit
// button. Failed calls never move the machine: it holds whatever state it was
// in immediately before the action.
type Controller struct {
	mu      sync.Mutex
	backend Backend

	state   State
	session *EnrollmentSession
	enabled bool
	busy    bool

	notice    string
	noticeAt  time.Time
	noticeTTL time.Duration
	now       func() time.Time

	log *slog.Logger
}

// NewController creates a controller in StateDisabled. Pass WithEnabled if the
// account already has two-factor auth on.
func NewController(backend Backend, opts ...ControllerOption) *Controller {
	c := &Controller{
		backend:   backend,
		state:     StateDisabled,
		noticeTTL: 5 * time.Second,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Enabled returns the cached copy of the server's two-factor flag.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Session returns a copy of the open enrollment session, or nil.
func (c *Controller) Session() *EnrollmentSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// Notice returns the current transient message, or "" once it has expired.
// Notices auto-dismiss after the configured TTL.
func (c *Controller) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notice == "" || c.now().Sub(c.noticeAt) >= c.noticeTTL {
		return ""
	}
	return c.notice
}

// StartSetup begins enrollment. On success the controller moves to
// StateSettingUp holding the issued session; on failure it stays in
// StateDisabled.
func (c *Controller) StartSetup(ctx context.Context) error {
	if err := c.begin(StateDisabled, "start setup"); err != nil {
		return err
	}
	defer c.finish()

	reply, err := c.backend.StartSetup(ctx)
	if err != nil {
		c.fail("start setup", err)
		return err
	}

	c.mu.Lock()
	c.session = &EnrollmentSession{
		ManualEntryKey: reply.ManualEntryKey,
		OTPAuthURL:     reply.OTPAuthURL,
		QRCode:         reply.QRCode,
		BackupCodes:    reply.BackupCodes,
	}
	c.state = StateSettingUp
	c.mu.Unlock()

	c.log.Info("enrollment started", "codes", len(reply.BackupCodes))
	return nil
}

// Verify submits a TOTP code to finish enrollment. Non-digit characters are
// stripped first; anything other than exactly 6 digits is rejected locally
// without a network call. A failed verify keeps the session so the user can
// retry without re-scanning the QR code.
func (c *Controller) Verify(ctx context.Context, code string) error {
	code = digitsOnly(code)
	if len(code) != 6 {
		err := &ValidationError{Reason: "code must be exactly 6 digits"}
		c.show(err)
		return err
	}

	if err := c.begin(StateSettingUp, "verify"); err != nil {
		return err
	}
	defer c.finish()

	if err := c.backend.VerifyCode(ctx, code); err != nil {
		c.fail("verify", err)
		return err
	}

	c.mu.Lock()
	c.session = nil
	c.enabled = true
	c.state = StateEnabled
	c.mu.Unlock()

	c.log.Info("two-factor auth enabled")
	return nil
}

// Cancel abandons the current step: SettingUp falls back to Disabled and the
// session is discarded, Disabling falls back to Enabled. No backend call.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrActionInFlight
	}
	switch c.state {
	case StateSettingUp:
		c.session = nil
		c.state = StateDisabled
	case StateDisabling:
		c.state = StateEnabled
	default:
		return &StateError{State: c.state, Action: "cancel"}
	}
	return nil
}

// StartDisable opens the password confirmation step. Local only.
func (c *Controller) StartDisable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrActionInFlight
	}
	if c.state != StateEnabled {
		return &StateError{State: c.state, Action: "start disable"}
	}
	c.state = StateDisabling
	return nil
}

// ConfirmDisable turns two-factor auth off after the backend accepts the
// password. An empty password is rejected locally.
func (c *Controller) ConfirmDisable(ctx context.Context, password string) error {
	if password == "" {
		err := &ValidationError{Reason: "password is required"}
		c.show(err)
		return err
	}

	if err := c.begin(StateDisabling, "confirm disable"); err != nil {
		return err
	}
	defer c.finish()

	if err := c.backend.Disable(ctx, password); err != nil {
		c.fail("disable", err)
		return err
	}

	c.mu.Lock()
	c.enabled = false
	c.state = StateDisabled
	c.mu.Unlock()

	c.log.Info("two-factor auth disabled")
	return nil
}

// RefreshStatus re-reads the durable flag from the server. When the controller
// is idle (Disabled or Enabled) the state is realigned to match; mid-flow
// states are left alone.
func (c *Controller) RefreshStatus(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrActionInFlight
	}
	c.busy = true
	c.mu.Unlock()
	defer c.finish()

	enabled, err := c.backend.Status(ctx)
	if err != nil {
		c.fail("refresh status", err)
		return err
	}

	c.mu.Lock()
	c.enabled = enabled
	if c.state == StateDisabled || c.state == StateEnabled {
		if enabled {
			c.state = StateEnabled
		} else {
			c.state = StateDisabled
		}
	}
	c.mu.Unlock()
	return nil
}

// ExportBackupCodes writes the backup code document for the open session.
// Fails with ErrNoActiveSession when no enrollment is in progress.
func (c *Controller) ExportBackupCodes(w io.Writer) error {
	c.mu.Lock()
	session := c.session
	now := c.now()
	c.mu.Unlock()

	if session == nil {
		return ErrNoActiveSession
	}
	return WriteBackupCodes(w, session.BackupCodes, now)
}

// begin takes the single-flight slot, checking the machine is in from.
func (c *Controller) begin(from State, action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrActionInFlight
	}
	if c.state != from {
		return &StateError{State: c.state, Action: action}
	}
	c.busy = true
	return nil
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// fail logs the failed action and records its transient notice. State is
// untouched: the machine holds its pre-call position.
func (c *Controller) fail(action string, err error) {
	c.log.Warn(action+" failed", "error", err)
	c.show(err)
}

// show records a transient notice for the given error. Backend messages are
// surfaced verbatim; network failures get a generic connectivity message.
func (c *Controller) show(err error) {
	msg := err.Error()
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		msg = "could not reach the authentication service, please try again"
	}

	c.mu.Lock()
	c.notice = msg
	c.noticeAt = c.now()
	c.mu.Unlock()
}

// digitsOnly strips everything that is not an ASCII digit.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
