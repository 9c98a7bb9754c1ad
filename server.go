package twofa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// pendingEnrollment is a setup that has been started but not yet verified.
// It lives in a TTL-bounded cache only; nothing becomes durable until the
// user proves they can produce a code.
type pendingEnrollment struct {
	ID         string
	Secret     string
	CodeHashes []string
}

// server is our HTTP auth service
type server struct {
	// configurable
	jwtKey               []byte
	port                 int
	issuer               string
	pendingSize          int
	pendingTTL           time.Duration
	jwtSessionTTL        time.Duration
	store                Storage
	secondsBetweenLogins int64
	cookieName           string
	backupCodeCount      int
	httpReadTimeout      time.Duration
	httpWriteTimeout     time.Duration

	// internal
	pending   *expirable.LRU[string, *pendingEnrollment]
	lastLogin int64
	log       *slog.Logger

	enrollsStarted   metric.Int64Counter
	enrollsCompleted metric.Int64Counter
	disables         metric.Int64Counter
}

// buildServer creates a new server with the given options - this allows us to track server state
// between handlers.
func buildServer(opts ...ServerOption) (*server, error) {
	// set up our server struct
	s := &server{ // default values
		port:                 8080,
		issuer:               "LexAI Practice Partner",
		pendingSize:          250,
		pendingTTL:           time.Minute * 10,
		jwtSessionTTL:        time.Hour * 2,
		cookieName:           "twofa-auth",
		backupCodeCount:      10,
		secondsBetweenLogins: 1,
		httpReadTimeout:      time.Second,
		httpWriteTimeout:     time.Second * 5,
		log:                  slog.Default(),
	}
	for _, opt := range opts { // apply options
		opt(s)
	}
	s.pending = expirable.NewLRU[string, *pendingEnrollment](s.pendingSize, nil, s.pendingTTL)

	// validate our configuration
	if s.jwtKey == nil {
		return nil, fmt.Errorf("JWT key is required")
	}
	if s.store == nil {
		return nil, fmt.Errorf("storage is required")
	}

	// counters for the enrollment lifecycle
	meter := otel.Meter(scopeName)
	var err error
	s.enrollsStarted, err = meter.Int64Counter("twofa.enrollments.started")
	if err != nil {
		return nil, err
	}
	s.enrollsCompleted, err = meter.Int64Counter("twofa.enrollments.completed")
	if err != nil {
		return nil, err
	}
	s.disables, err = meter.Int64Counter("twofa.disables")
	if err != nil {
		return nil, err
	}

	return s, nil
}

// ServeHTTP starts the HTTP server on the given port.
func ServeHTTP(opts ...ServerOption) error {
	s, err := buildServer(opts...)
	if err != nil {
		return err
	}

	// Handle SIGINT (CTRL+C) gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Set up OpenTelemetry.
	otelShutdown, err := setupOTelSDK(ctx)
	if err != nil {
		return err
	}
	defer otelShutdown()
	s.log = otelslog.NewLogger(scopeName)

	// build & start HTTP server.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
		ReadTimeout:  s.httpReadTimeout,
		WriteTimeout: s.httpWriteTimeout,
		Handler:      s.newHTTPHandler(),
	}
	srvErr := make(chan error, 1)
	go func() {
		s.log.Info("server is running", "port", s.port)
		srvErr <- srv.ListenAndServe()
	}()

	// Wait for interruption.
	select {
	case err = <-srvErr:
		// Error when starting HTTP server.
		return err
	case <-ctx.Done():
		// Wait for first CTRL+C.
		// Stop receiving signal notifications as soon as possible.
		stop()
	}

	// When Shutdown is called, ListenAndServe immediately returns ErrServerClosed.
	return srv.Shutdown(context.Background())
}

// newHTTPHandler creates a new HTTP handler for the server.
func (s *server) newHTTPHandler() http.Handler {
	mux := http.NewServeMux()

	// handleFunc is a replacement for mux.HandleFunc
	// which enriches the handler's HTTP instrumentation with the pattern as the http.route.
	handleFunc := func(pattern string, handlerFunc func(http.ResponseWriter, *http.Request)) {
		// Configure the "http.route" for the HTTP instrumentation.
		handler := otelhttp.WithRouteTag(pattern, http.HandlerFunc(handlerFunc))
		mux.Handle(pattern, handler)
	}

	// register our handlers
	handleFunc("/healthz", s.healthz)
	handleFunc("/auth/login", s.authLogin)
	handleFunc("/auth/check", s.authCheck)
	handleFunc("/2fa/status", s.twoFactorStatus)
	handleFunc("/2fa/setup", s.twoFactorSetup)
	handleFunc("/2fa/verify", s.twoFactorVerify)
	handleFunc("/2fa/disable", s.twoFactorDisable)

	// Add HTTP instrumentation for the whole server.
	return otelWrapHandler(mux, "/")
}

// healthz reports liveness. Unauthenticated.
func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// authCheck validates that a user is logged in (JWT cookie is present and valid).
func (s *server) authCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, err := s.requireUser(r)
	if err != nil {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("welcome"))
}

// authLogin validates the password (and, for enrolled accounts, a TOTP or
// backup code) and issues the session cookie.
func (s *server) authLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if time.Now().Unix() < s.lastLogin+s.secondsBetweenLogins {
		writeJSONError(w, "too many login attempts", http.StatusTooManyRequests)
		return
	}
	s.lastLogin = time.Now().Unix()

	req := loginRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "bad request", http.StatusBadRequest)
		return
	}

	user, err := s.store.User(req.Username)
	if err != nil {
		s.log.Warn("login for unknown user", "user", req.Username)
		writeJSONError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.log.Warn("login with bad password", "user", req.Username)
		writeJSONError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	// enrolled accounts need a second factor: a TOTP code or an unused backup code
	if user.TwoFactorEnabled {
		if req.Code == "" {
			writeJSONError(w, "two-factor code required", http.StatusUnauthorized)
			return
		}
		if !validateTOTP(user.TOTPSecret, req.Code) && !s.consumeBackupCode(user, req.Code) {
			s.log.Warn("login with bad second factor", "user", req.Username)
			writeJSONError(w, "invalid two-factor code", http.StatusUnauthorized)
			return
		}
	}

	token, err := newSessionToken(s.jwtKey, user.Username, s.jwtSessionTTL)
	if err != nil {
		s.log.Error("signing session token", "error", err)
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeCookie(w, s.cookieName, token)
	writeJSON(w, http.StatusOK, struct{}{})
}

// twoFactorStatus returns the durable enabled flag for the logged in account.
// Clients treat their local copy as a read-through of this.
func (s *server) twoFactorStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, err := s.requireUser(r)
	if err != nil {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, StatusReply{Enabled: user.TwoFactorEnabled})
}

// twoFactorSetup starts enrollment: issues a fresh TOTP secret, QR code and
// backup codes. Nothing is persisted; the enrollment sits in the pending
// cache until verified or expired. Starting again simply replaces it.
func (s *server) twoFactorSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, err := s.requireUser(r)
	if err != nil {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if user.TwoFactorEnabled {
		writeJSONError(w, "two-factor authentication is already enabled", http.StatusConflict)
		return
	}

	secret, url, qr, err := newTOTPKey(s.issuer, user.Username)
	if err != nil {
		s.log.Error("generating TOTP key", "error", err)
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	codes, err := newBackupCodes(s.backupCodeCount)
	if err != nil {
		s.log.Error("generating backup codes", "error", err)
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			s.log.Error("hashing backup code", "error", err)
			writeJSONError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		hashes[i] = string(h)
	}

	p := &pendingEnrollment{ID: uuid.NewString(), Secret: secret, CodeHashes: hashes}
	s.pending.Add(user.Username, p)
	s.enrollsStarted.Add(r.Context(), 1)
	s.log.Info("enrollment started", "user", user.Username, "enrollment", p.ID)

	writeJSON(w, http.StatusOK, SetupReply{
		ManualEntryKey: secret,
		OTPAuthURL:     url,
		QRCode:         qr,
		BackupCodes:    codes,
	})
}

// twoFactorVerify finishes enrollment. Only here does the secret, the code
// hashes and the enabled flag become durable.
func (s *server) twoFactorVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, err := s.requireUser(r)
	if err != nil {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	req := struct {
		Code string `json:"code"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "bad request", http.StatusBadRequest)
		return
	}

	p, ok := s.pending.Get(user.Username)
	if !ok {
		writeJSONError(w, "no enrollment in progress, start setup first", http.StatusBadRequest)
		return
	}
	if !validateTOTP(p.Secret, req.Code) {
		s.log.Warn("enrollment verify failed", "user", user.Username, "enrollment", p.ID)
		writeJSONError(w, "invalid code", http.StatusBadRequest)
		return
	}

	user.TOTPSecret = p.Secret
	user.TwoFactorEnabled = true
	user.BackupCodes = make([]*BackupCode, len(p.CodeHashes))
	for i, h := range p.CodeHashes {
		user.BackupCodes[i] = &BackupCode{Hash: h}
	}
	if err := s.store.SaveUser(user); err != nil {
		s.log.Error("persisting enrollment", "error", err)
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.pending.Remove(user.Username)
	s.enrollsCompleted.Add(r.Context(), 1)
	s.log.Info("enrollment completed", "user", user.Username, "enrollment", p.ID)

	writeJSON(w, http.StatusOK, struct{}{})
}

// twoFactorDisable turns two-factor auth off after re-confirming the password.
func (s *server) twoFactorDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, err := s.requireUser(r)
	if err != nil {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	req := struct {
		Password string `json:"password"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "bad request", http.StatusBadRequest)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.log.Warn("disable with bad password", "user", user.Username)
		writeJSONError(w, "incorrect password", http.StatusBadRequest)
		return
	}

	user.TwoFactorEnabled = false
	user.TOTPSecret = ""
	user.BackupCodes = nil
	if err := s.store.SaveUser(user); err != nil {
		s.log.Error("persisting disable", "error", err)
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.disables.Add(r.Context(), 1)
	s.log.Info("two-factor auth disabled", "user", user.Username)

	writeJSON(w, http.StatusOK, struct{}{})
}

// consumeBackupCode checks code against the account's unused backup codes and
// burns the first match.
func (s *server) consumeBackupCode(user *User, code string) bool {
	for _, bc := range user.BackupCodes {
		if bc.UsedAt != nil {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(bc.Hash), []byte(code)) == nil {
			now := time.Now()
			bc.UsedAt = &now
			if err := s.store.SaveUser(user); err != nil {
				s.log.Error("persisting used backup code", "error", err)
				return false
			}
			s.log.Info("backup code consumed", "user", user.Username)
			return true
		}
	}
	return false
}

// requireUser resolves the session cookie to a private copy of the stored
// account; mutations only become durable through SaveUser.
func (s *server) requireUser(r *http.Request) (*User, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return nil, errors.New("no session cookie")
	}
	claims, err := validateSessionToken(s.jwtKey, cookie.Value)
	if err != nil {
		return nil, err
	}
	return s.store.User(claims.Username)
}

// writeCookie writes a cookie to the response.
func writeCookie(w http.ResponseWriter, name, value string) {
	cookie := http.Cookie{}
	cookie.Name = name
	cookie.Value = value
	cookie.Path = "/"
	cookie.Secure = true
	cookie.HttpOnly = true
	http.SetCookie(w, &cookie)
}

// writeJSON writes v to the response.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes an error payload to the response.
func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, errorReply{Error: msg})
}
