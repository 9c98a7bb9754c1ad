package twofa

import "time"

type ServerOption func(*server)

// WithJWTKey sets the key used to sign session tokens.
// If this is changed existing tokens will be invalid.
// (Required).
func WithJWTKey(key []byte) ServerOption {
	return func(s *server) {
		s.jwtKey = key
	}
}

// WithStorage sets the storage backend for the server (required)
func WithStorage(store Storage) ServerOption {
	return func(s *server) {
		s.store = store
	}
}

// WithPort sets the port the server will listen on.
func WithPort(port int) ServerOption {
	return func(s *server) {
		s.port = port
	}
}

// WithIssuer sets the issuer name stamped into TOTP provisioning URLs.
func WithIssuer(issuer string) ServerOption {
	return func(s *server) {
		s.issuer = issuer
	}
}

// WithPendingCacheSize sets the size of the LRU cache holding unverified
// enrollments.
func WithPendingCacheSize(size int) ServerOption {
	return func(s *server) {
		s.pendingSize = size
	}
}

// WithPendingTTL sets how long an unverified enrollment may sit before it
// expires and the user has to start setup again.
func WithPendingTTL(ttl time.Duration) ServerOption {
	return func(s *server) {
		s.pendingTTL = ttl
	}
}

// WithJWTSessionTTL sets the TTL of the JWT session. After this time has elapsed the token is invalid
func WithJWTSessionTTL(ttl time.Duration) ServerOption {
	return func(s *server) {
		s.jwtSessionTTL = ttl
	}
}

// WithServerCookieName sets the name of the cookie used to store the JWT token
func WithServerCookieName(name string) ServerOption {
	return func(s *server) {
		s.cookieName = name
	}
}

// WithBackupCodeCount sets how many backup codes each enrollment issues.
func WithBackupCodeCount(n int) ServerOption {
	return func(s *server) {
		s.backupCodeCount = n
	}
}

// WithSecondsBetweenLogins sets the minimum time between logins.
// That is, we ratelimit attempts to POST to /auth/login
func WithSecondsBetweenLogins(seconds int64) ServerOption {
	return func(s *server) {
		s.secondsBetweenLogins = seconds
	}
}

// WithHTTPReadTimeout sets the read timeout for the HTTP server
func WithHTTPReadTimeout(timeout time.Duration) ServerOption {
	return func(s *server) {
		s.httpReadTimeout = timeout
	}
}

// WithHTTPWriteTimeout sets the write timeout for the HTTP server
func WithHTTPWriteTimeout(timeout time.Duration) ServerOption {
	return func(s *server) {
		s.httpWriteTimeout = timeout
	}
}
