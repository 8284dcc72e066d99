// Package pipeline runs one inbox scan: search, dedupe, draft, notify, mark.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	contracts "replygate/contracts/mq"
	"replygate/internal/generator"
	"replygate/internal/mailstore"
	"replygate/pkg/logger"
	"replygate/pkg/metrics"
	"replygate/pkg/mq"
	"replygate/pkg/trace"
	"replygate/pkg/util"
)

const (
	DefaultSearchLimit = 50
	DefaultCallTimeout = 30 * time.Second
)

type Ledger interface {
	IsProcessed(ctx context.Context, messageID string) bool
	MarkProcessed(ctx context.Context, messageID string)
}

type Notifier interface {
	Notify(ctx context.Context, draft, sender string, conv mailstore.Conversation) (string, error)
}

type Config struct {
	// PrioritySender is searched first and only its newest unread conversation is handled.
	PrioritySender   string
	MonitoredSenders []string
	SearchLimit      int64
	// CallTimeout bounds each mail store search.
	CallTimeout time.Duration
}

// Outcome of one conversation.
type Outcome string

const (
	OutcomeNotified         Outcome = "notified"
	OutcomeSkippedProcessed Outcome = "skipped_processed"
	OutcomeSkippedNoDraft   Outcome = "skipped_no_draft"
	OutcomeFailed           Outcome = "failed"
)

type Report struct {
	TraceID          string        `json:"trace_id"`
	Found            int           `json:"found"`
	Notified         int           `json:"notified"`
	SkippedProcessed int           `json:"skipped_processed"`
	SkippedNoDraft   int           `json:"skipped_no_draft"`
	Failed           int           `json:"failed"`
	Duration         time.Duration `json:"duration"`
}

func (r *Report) add(o Outcome) {
	switch o {
	case OutcomeNotified:
		r.Notified++
	case OutcomeSkippedProcessed:
		r.SkippedProcessed++
	case OutcomeSkippedNoDraft:
		r.SkippedNoDraft++
	case OutcomeFailed:
		r.Failed++
	}
}

type Pipeline struct {
	cfg      Config
	mail     mailstore.Store
	ledger   Ledger
	drafter  generator.Drafter
	notifier Notifier
	events   mq.EventPublisher
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Pipeline)

func WithEvents(p mq.EventPublisher) Option {
	return func(pl *Pipeline) {
		if p != nil {
			pl.events = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

func New(cfg Config, mail mailstore.Store, ledger Ledger, drafter generator.Drafter, n Notifier, log *zap.Logger, opts ...Option) *Pipeline {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		cfg:      cfg,
		mail:     mail,
		ledger:   ledger,
		drafter:  drafter,
		notifier: n,
		events:   mq.NopPublisher{},
		now:      time.Now,
		logger:   log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BuildQuery ORs one "from:(s) is:unread" clause per sender. Blank senders are ignored.
func BuildQuery(senders []string) string {
	clauses := make([]string, 0, len(senders))
	for _, s := range senders {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("from:(%s) is:unread", s))
	}
	return strings.Join(clauses, " OR ")
}

// RunCycle never fails: search errors and per-conversation failures are logged and counted.
func (p *Pipeline) RunCycle(ctx context.Context) Report {
	ctx = trace.Ensure(ctx)
	start := p.now()
	report := Report{TraceID: trace.FromContext(ctx)}
	log := logger.WithTrace(ctx, p.logger)
	log.Info("scan cycle started")

	if p.cfg.PrioritySender != "" {
		convs := p.search(ctx, BuildQuery([]string{p.cfg.PrioritySender}), 1)
		if len(convs) > 0 {
			report.Found++
			report.add(p.processConversation(ctx, convs[0]))
		} else {
			log.Info("no unread conversations from priority sender", zap.String("sender", p.cfg.PrioritySender))
		}
	}

	if query := BuildQuery(p.cfg.MonitoredSenders); query != "" {
		convs := p.search(ctx, query, p.cfg.SearchLimit)
		report.Found += len(convs)
		for _, conv := range convs {
			if ctx.Err() != nil {
				log.Warn("scan cycle cancelled", zap.Error(ctx.Err()))
				break
			}
			report.add(p.processConversation(ctx, conv))
		}
	}

	report.Duration = p.now().Sub(start)
	metrics.RecordScanCycle(report.Duration)
	log.Info("scan cycle finished",
		zap.Int("found", report.Found),
		zap.Int("notified", report.Notified),
		zap.Int("skipped_processed", report.SkippedProcessed),
		zap.Int("skipped_no_draft", report.SkippedNoDraft),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report
}

func (p *Pipeline) search(ctx context.Context, query string, limit int64) []mailstore.Conversation {
	log := logger.WithTrace(ctx, p.logger)
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	convs, err := p.mail.Search(ctx, query, limit)
	if err != nil {
		retryable, kind := util.ClassifyError(err)
		log.Error("mail search failed",
			zap.String("query", query),
			zap.String("error_type", kind),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		return nil
	}
	log.Info("mail search", zap.String("query", query), zap.Int("matches", len(convs)))
	return convs
}

// processConversation handles the newest message of conv. Panics are contained here.
func (p *Pipeline) processConversation(ctx context.Context, conv mailstore.Conversation) (outcome Outcome) {
	log := logger.WithTrace(ctx, p.logger).With(zap.String("conversation_id", conv.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing conversation", zap.Any("panic", r), zap.Stack("stack"))
			outcome = OutcomeFailed
		}
		metrics.IncrementMessageProcessed(string(outcome))
	}()

	latest, ok := conv.Latest()
	if !ok {
		log.Warn("conversation has no messages")
		return OutcomeFailed
	}
	log = log.With(zap.String("message_id", latest.ID))

	if p.ledger.IsProcessed(ctx, latest.ID) {
		log.Debug("message already processed")
		return OutcomeSkippedProcessed
	}

	draft, ok := p.drafter.Generate(ctx, latest.Body)
	if !ok {
		log.Info("no draft produced, will retry next cycle")
		return OutcomeSkippedNoDraft
	}

	if _, err := p.notifier.Notify(ctx, draft, latest.From, conv); err != nil {
		retryable, kind := util.ClassifyError(err)
		log.Error("failed to notify operator",
			zap.String("error_type", kind),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		return OutcomeFailed
	}
	p.ledger.MarkProcessed(ctx, latest.ID)

	if err := p.events.Publish(ctx, contracts.RoutingKeyReplyDrafted, contracts.ReplyDraftedPayload{
		MessageID:      latest.ID,
		ConversationID: conv.ID,
		Sender:         latest.From,
		Subject:        latest.Subject,
		DraftedAt:      p.now(),
		TraceID:        trace.FromContext(ctx),
	}); err != nil {
		log.Warn("failed to publish reply.drafted event", zap.Error(err))
	}

	log.Info("approval request dispatched", zap.String("sender", latest.From))
	return OutcomeNotified
}
