// Package approval commits an operator-approved reply exactly once per token.
package approval

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	contracts "replygate/contracts/mq"
	"replygate/internal/mailstore"
	"replygate/internal/pending"
	"replygate/pkg/logger"
	"replygate/pkg/metrics"
	"replygate/pkg/mq"
	"replygate/pkg/trace"
	"replygate/pkg/util"
)

const ActionApprove = "approve"

// User-visible callback responses.
const (
	MsgInvalidRequest = "Invalid request"
	MsgBadRequest     = "Bad request"
	MsgNotFound       = "Response expired or not found"
	MsgSent           = "Response sent successfully!"
	MsgSendFailed     = "Failed to send response, please try again"
	MsgUnavailable    = "Service temporarily unavailable, please try again"
)

// Outcome is what the callback endpoint renders.
type Outcome struct {
	Status  int
	Message string
	// Result is the metrics label.
	Result string
}

type PendingStore interface {
	Resolve(ctx context.Context, token string) (pending.Response, error)
	Consume(ctx context.Context, token string) error
	Take(ctx context.Context, token string) (pending.Response, error)
	Restore(ctx context.Context, token string, resp pending.Response) error
}

type Replier interface {
	Reply(ctx context.Context, in mailstore.ReplyInput) error
}

type Handler struct {
	store       PendingStore
	mail        Replier
	events      mq.EventPublisher
	atomicClaim bool
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Handler)

// WithAtomicClaim selects take-then-reply (true, default) or resolve-reply-consume (false).
// The latter lets two near-simultaneous activations both send.
func WithAtomicClaim(on bool) Option {
	return func(h *Handler) { h.atomicClaim = on }
}

func WithEvents(p mq.EventPublisher) Option {
	return func(h *Handler) {
		if p != nil {
			h.events = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func New(store PendingStore, mail Replier, log *zap.Logger, opts ...Option) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		store:       store,
		mail:        mail,
		events:      mq.NopPublisher{},
		atomicClaim: true,
		now:         time.Now,
		logger:      log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one link activation. The returned error, if any, is for logging;
// the Outcome is always safe to render. The token itself is never logged.
func (h *Handler) Handle(ctx context.Context, action, token string) (Outcome, error) {
	out, err := h.handle(ctx, action, token)
	metrics.IncrementApproval(out.Result)
	return out, err
}

func (h *Handler) handle(ctx context.Context, action, token string) (Outcome, error) {
	log := logger.WithTrace(ctx, h.logger)

	if token == "" {
		return Outcome{http.StatusBadRequest, MsgInvalidRequest, "invalid"}, nil
	}
	if action != ActionApprove {
		log.Info("callback with unsupported action", zap.String("action", action))
		return Outcome{http.StatusBadRequest, MsgBadRequest, "bad_action"}, nil
	}

	var (
		resp pending.Response
		err  error
	)
	if h.atomicClaim {
		resp, err = h.store.Take(ctx, token)
	} else {
		resp, err = h.store.Resolve(ctx, token)
	}
	if errors.Is(err, pending.ErrNotFound) {
		log.Info("approval token expired or unknown")
		return Outcome{http.StatusNotFound, MsgNotFound, "not_found"}, nil
	}
	if err != nil {
		_, kind := util.ClassifyError(err)
		log.Error("pending store lookup failed", zap.String("error_type", kind), zap.Error(err))
		return Outcome{http.StatusServiceUnavailable, MsgUnavailable, "failed"}, err
	}

	log = log.With(
		zap.String("conversation_id", resp.ConversationID),
		zap.String("message_id", resp.MessageID),
	)

	err = h.mail.Reply(ctx, mailstore.ReplyInput{
		ConversationID: resp.ConversationID,
		To:             resp.Sender,
		Body:           resp.Reply,
	})
	if err != nil {
		retryable, kind := util.ClassifyError(err)
		log.Error("failed to send approved reply",
			zap.String("error_type", kind),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		if h.atomicClaim {
			if rerr := h.store.Restore(ctx, token, resp); rerr != nil && !errors.Is(rerr, pending.ErrNotFound) {
				log.Error("failed to restore pending response", zap.Error(rerr))
			}
		}
		return Outcome{http.StatusBadGateway, MsgSendFailed, "failed"}, err
	}

	if !h.atomicClaim {
		if err := h.store.Consume(ctx, token); err != nil {
			// the reply went out; a later activation may send it again
			log.Error("failed to consume approval token", zap.Error(err))
		}
	}

	log.Info("approved reply sent")
	if err := h.events.Publish(ctx, contracts.RoutingKeyReplySent, contracts.ReplySentPayload{
		MessageID:      resp.MessageID,
		ConversationID: resp.ConversationID,
		Sender:         resp.Sender,
		SentAt:         h.now(),
		TraceID:        trace.FromContext(ctx),
	}); err != nil {
		log.Warn("failed to publish reply.sent event", zap.Error(err))
	}
	return Outcome{http.StatusOK, MsgSent, "sent"}, nil
}
