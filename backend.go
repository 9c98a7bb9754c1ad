package twofa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SetupReply is what the auth service hands back when enrollment starts.
type SetupReply struct {
	ManualEntryKey string   `json:"manual_entry_key"`
	OTPAuthURL     string   `json:"otpauth_url,omitempty"`
	QRCode         []byte   `json:"qr_png,omitempty"`
	BackupCodes    []string `json:"backup_codes"`
}

// StatusReply mirrors the durable server-side flag.
type StatusReply struct {
	Enabled bool `json:"enabled"`
}

type errorReply struct {
	Error string `json:"error"`
}

// Backend is the auth service as the controller sees it. All calls are single
// attempt with no retry; the controller handles failures by holding state.
type Backend interface {
	// StartSetup begins enrollment and returns the issued secrets.
	StartSetup(ctx context.Context) (*SetupReply, error)

	// VerifyCode submits a 6 digit TOTP code to finish enrollment.
	VerifyCode(ctx context.Context, code string) error

	// Disable turns two-factor auth off after confirming the password.
	Disable(ctx context.Context, password string) error

	// Status fetches the durable enabled flag.
	Status(ctx context.Context) (bool, error)
}

// Client is the HTTP implementation of Backend. Sessions are cookie based: call
// Login first, afterwards the session cookie rides along on every request.
type Client struct {
	baseURL    string
	cookieName string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client talking to the auth service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		cookieName: "twofa-auth",
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client, eg. for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCookieName sets the session cookie name, which must match the server's.
func WithCookieName(name string) ClientOption {
	return func(c *Client) {
		c.cookieName = name
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

// Login authenticates and stores the session cookie for later calls. Accounts
// with two-factor auth enabled must supply a TOTP code or an unused backup code.
func (c *Client) Login(ctx context.Context, username, password, code string) error {
	resp, err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{
		Username: username,
		Password: password,
		Code:     code,
	}, nil)
	if err != nil {
		return err
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == c.cookieName {
			c.token = cookie.Value
			return nil
		}
	}
	return &BackendError{Message: "login response carried no session cookie"}
}

// StartSetup implements Backend.
func (c *Client) StartSetup(ctx context.Context) (*SetupReply, error) {
	reply := &SetupReply{}
	_, err := c.do(ctx, http.MethodPost, "/2fa/setup", nil, reply)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// VerifyCode implements Backend.
func (c *Client) VerifyCode(ctx context.Context, code string) error {
	_, err := c.do(ctx, http.MethodPost, "/2fa/verify", map[string]string{"code": code}, nil)
	return err
}

// Disable implements Backend.
func (c *Client) Disable(ctx context.Context, password string) error {
	_, err := c.do(ctx, http.MethodPost, "/2fa/disable", map[string]string{"password": password}, nil)
	return err
}

// Status implements Backend.
func (c *Client) Status(ctx context.Context) (bool, error) {
	reply := &StatusReply{}
	_, err := c.do(ctx, http.MethodGet, "/2fa/status", nil, reply)
	if err != nil {
		return false, err
	}
	return reply.Enabled, nil
}

// Ping checks the server is up. Used by callers that want to wait for the
// service before starting a flow; the controller itself never retries.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}

// do issues a single request. Transport failures become NetworkError, non-2xx
// responses become BackendError with the server's message verbatim.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: c.token})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reply := errorReply{}
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil || reply.Error == "" {
			reply.Error = resp.Status
		}
		return resp, &BackendError{Message: reply.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, &NetworkError{Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp, nil
}
