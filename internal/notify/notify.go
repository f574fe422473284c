// Package notify collects the user-facing events the daemon emits:
// duplicate submissions, IP drift on re-resolution, first resolutions.
// Entries carry an expiry timestamp and are swept on read and by a
// periodic cleaner; when the buffer is full the oldest entries go first.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/log"
)

// Type classifies a notification for display purposes.
type Type string

const (
	Info    Type = "info"
	Warning Type = "warning"
	Error   Type = "error"
)

const (
	_defaultTTL   = 10 * time.Minute
	_defaultLimit = 200
	// How often the cleaner sweeps expired notifications.
	_cleanInterval = 30 * time.Second
)

// Notification is one user-facing event.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	// Expires holds the unix epoch timestamp at which the notification
	// expires and can be cleaned up. Zero means it never expires.
	Expires int64 `json:"expires"`
}

func (n Notification) expired(now time.Time) bool {
	return n.Expires > 0 && n.Expires < now.Unix()
}

// Center is an in-memory notification buffer. Every emit is mirrored to
// the daemon log so events survive their expiry in some form.
type Center struct {
	mu      sync.Mutex
	ttl     time.Duration
	limit   int
	entries []Notification
}

// Opt is a function option for configuring the Center.
type Opt func(c *Center)

// NewCenter creates a notification center with the given options.
func NewCenter(opts ...Opt) *Center {
	c := &Center{
		ttl:   _defaultTTL,
		limit: _defaultLimit,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// WithTTL returns an option to set how long notifications stay readable.
func WithTTL(ttl time.Duration) Opt {
	return func(c *Center) {
		c.ttl = ttl
	}
}

// WithLimit returns an option to cap the number of buffered notifications.
func WithLimit(limit int) Opt {
	return func(c *Center) {
		c.limit = limit
	}
}

// Info emits an informational notification.
func (c *Center) Info(msg string) {
	log.Infof("notify: %s", msg)
	c.add(Info, msg)
}

// Warn emits a warning notification.
func (c *Center) Warn(msg string) {
	log.Warnf("notify: %s", msg)
	c.add(Warning, msg)
}

// Error emits an error notification.
func (c *Center) Error(msg string) {
	log.Errorf("notify: %s", msg)
	c.add(Error, msg)
}

func (c *Center) add(t Type, msg string) {
	now := time.Now()
	n := Notification{
		ID:        uuid.NewString(),
		Type:      t,
		Message:   msg,
		CreatedAt: now,
		Expires:   now.Add(c.ttl).Unix(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(now)
	c.entries = append(c.entries, n)
	if over := len(c.entries) - c.limit; over > 0 {
		c.entries = append([]Notification(nil), c.entries[over:]...)
	}
}

// List returns the live notifications, oldest first. Expired entries are
// swept before the copy is taken.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(time.Now())
	out := make([]Notification, len(c.entries))
	copy(out, c.entries)
	return out
}

// Clean drops entries that expired before now.
func (c *Center) Clean(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(now)
}

func (c *Center) sweepLocked(now time.Time) {
	kept := c.entries[:0]
	for _, n := range c.entries {
		if n.expired(now) {
			continue
		}
		kept = append(kept, n)
	}
	c.entries = kept
}

// Run sweeps expired notifications periodically until the context is
// cancelled. Reads sweep on their own, so running the cleaner is only
// about keeping memory bounded on quiet days.
func (c *Center) Run(ctx context.Context) {
	log.Info("notify: cleaner starting")
	ticker := time.NewTicker(_cleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Clean(time.Now())
		case <-ctx.Done():
			log.Info("notify: cleaner stopping")
			return
		}
	}
}
