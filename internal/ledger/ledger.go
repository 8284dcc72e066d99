// Package ledger records which inbound messages have already been drafted and
// notified, so a message is surfaced to the operator at most once per retention window.
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"replygate/internal/cache"
)

const (
	// DefaultTTL is the retention window for processed markers.
	DefaultTTL = 6 * time.Hour

	keyPrefix   = "ledger:"
	markerValue = "processed"
)

type Ledger struct {
	cache   cache.Cache
	ttl     time.Duration
	sliding bool
	logger  *zap.Logger
}

type Option func(*Ledger)

func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithSlidingExpiry makes every hit push the marker's expiry out by a full TTL.
func WithSlidingExpiry(on bool) Option {
	return func(l *Ledger) { l.sliding = on }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func New(c cache.Cache, opts ...Option) *Ledger {
	l := &Ledger{
		cache:   c,
		ttl:     DefaultTTL,
		sliding: true,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func key(messageID string) string { return keyPrefix + messageID }

// IsProcessed reports whether messageID was marked within the TTL.
// A backend failure reads as "not processed"; the worst case is a duplicate preview.
func (l *Ledger) IsProcessed(ctx context.Context, messageID string) bool {
	k := key(messageID)
	if l.sliding {
		ok, err := l.cache.Expire(ctx, k, l.ttl)
		if err != nil {
			l.logger.Warn("ledger lookup failed, treating message as new",
				zap.String("message_id", messageID),
				zap.Error(err),
			)
			return false
		}
		return ok
	}

	_, ok, err := l.cache.Get(ctx, k)
	if err != nil {
		l.logger.Warn("ledger lookup failed, treating message as new",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// MarkProcessed records messageID. Failures are logged and swallowed.
func (l *Ledger) MarkProcessed(ctx context.Context, messageID string) {
	if err := l.cache.Set(ctx, key(messageID), []byte(markerValue), l.ttl); err != nil {
		l.logger.Error("failed to mark message processed",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}
