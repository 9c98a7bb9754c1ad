package twofa

import (
	"log/slog"
	"time"
)

type ControllerOption func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(log *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.log = log
	}
}

// WithEnabled seeds the cached two-factor flag, eg. from a status fetch done
// at page load. The controller starts in StateEnabled when true.
func WithEnabled(enabled bool) ControllerOption {
	return func(c *Controller) {
		c.enabled = enabled
		if enabled {
			c.state = StateEnabled
		}
	}
}

// WithNoticeTTL sets how long transient notices stay visible before they
// auto-dismiss.
func WithNoticeTTL(ttl time.Duration) ControllerOption {
	return func(c *Controller) {
		c.noticeTTL = ttl
	}
}

// WithClock overrides the controller's clock. Used in tests.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		c.now = now
	}
}
