// Package pending holds candidate replies awaiting operator approval, keyed by a
// random single-use bearer token.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"replygate/internal/cache"
)

const (
	DefaultTTL = 6 * time.Hour
	keyPrefix  = "pending:"
)

// ErrNotFound covers both expired and never-issued tokens.
var ErrNotFound = errors.New("pending response not found")

// Response is a drafted reply waiting for approval.
type Response struct {
	ConversationID string    `json:"conversation_id"`
	Reply          string    `json:"reply"`
	Sender         string    `json:"sender"`
	MessageID      string    `json:"message_id,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type Store struct {
	cache  cache.Cache
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func NewStore(c cache.Cache, opts ...Option) *Store {
	s := &Store{
		cache:  c,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(token string) string { return keyPrefix + token }

// NewToken returns a version 4 UUID (122 random bits).
func NewToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return id.String(), nil
}

// Create stores resp under a fresh token. CreatedAt and ExpiresAt are set here.
func (s *Store) Create(ctx context.Context, resp Response) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	resp.CreatedAt = now
	resp.ExpiresAt = now.Add(s.ttl)

	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("marshal pending response: %w", err)
	}
	if err := s.cache.Set(ctx, key(token), data, s.ttl); err != nil {
		return "", fmt.Errorf("store pending response: %w", err)
	}
	return token, nil
}

// Resolve returns the pending response without consuming it.
func (s *Store) Resolve(ctx context.Context, token string) (Response, error) {
	if token == "" {
		return Response{}, ErrNotFound
	}
	data, ok, err := s.cache.Get(ctx, key(token))
	if err != nil {
		return Response{}, fmt.Errorf("resolve pending response: %w", err)
	}
	if !ok {
		return Response{}, ErrNotFound
	}
	return s.decode(data)
}

// Consume deletes the token. Consuming an unknown token is not an error.
func (s *Store) Consume(ctx context.Context, token string) error {
	if err := s.cache.Delete(ctx, key(token)); err != nil {
		return fmt.Errorf("consume pending response: %w", err)
	}
	return nil
}

// Take resolves and consumes in one atomic step; at most one caller gets the response.
func (s *Store) Take(ctx context.Context, token string) (Response, error) {
	if token == "" {
		return Response{}, ErrNotFound
	}
	data, ok, err := s.cache.Take(ctx, key(token))
	if err != nil {
		return Response{}, fmt.Errorf("take pending response: %w", err)
	}
	if !ok {
		return Response{}, ErrNotFound
	}
	return s.decode(data)
}

// Restore puts a taken response back under the same token for whatever is left
// of its original lifetime. Past ExpiresAt it is dropped.
func (s *Store) Restore(ctx context.Context, token string, resp Response) error {
	remaining := resp.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		s.logger.Info("pending response expired before restore",
			zap.String("conversation_id", resp.ConversationID),
		)
		return ErrNotFound
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal pending response: %w", err)
	}
	if err := s.cache.Set(ctx, key(token), data, remaining); err != nil {
		return fmt.Errorf("restore pending response: %w", err)
	}
	return nil
}

func (s *Store) decode(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode pending response: %w", err)
	}
	return resp, nil
}
