package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nalgeon/be"
	"go.uber.org/zap/zaptest"

	contracts "replygate/contracts/mq"
	"replygate/internal/approval"
	"replygate/internal/cache"
	"replygate/internal/ledger"
	"replygate/internal/mailstore"
	"replygate/internal/notifier"
	"replygate/internal/pending"
	"replygate/internal/testutil"
)

const flex = "amazonflex-support@example.com"

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

// countingNotifier wraps a real notifier and records the tokens it issued.
type countingNotifier struct {
	inner  Notifier
	tokens []string
	err    error
}

func (n *countingNotifier) Notify(ctx context.Context, draft, sender string, conv mailstore.Conversation) (string, error) {
	if n.err != nil {
		return "", n.err
	}
	token, err := n.inner.Notify(ctx, draft, sender, conv)
	if err == nil {
		n.tokens = append(n.tokens, token)
	}
	return token, err
}

type panickyDrafter struct{ testutil.Drafter }

func (d *panickyDrafter) Generate(ctx context.Context, body string) (string, bool) {
	if body == "boom" {
		panic("drafter exploded")
	}
	return d.Drafter.Generate(ctx, body)
}

type env struct {
	clock    *testutil.Clock
	cache    *cache.MemoryCache
	mail     *testutil.MailStore
	ledger   *ledger.Ledger
	store    *pending.Store
	drafter  *panickyDrafter
	notifier *countingNotifier
	events   *recordingPublisher
}

func newEnv(t *testing.T, convs ...mailstore.Conversation) *env {
	t.Helper()
	clk := testutil.NewClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	c := cache.NewMemoryCache(cache.WithClock(clk.Now))
	mail := testutil.NewMailStore("me@example.com", convs...)
	store := pending.NewStore(c, pending.WithClock(clk.Now))
	return &env{
		clock:    clk,
		cache:    c,
		mail:     mail,
		ledger:   ledger.New(c),
		store:    store,
		drafter:  &panickyDrafter{testutil.Drafter{Reply: "Thanks, I'll be there."}},
		notifier: &countingNotifier{inner: notifier.New(notifier.Config{PublicURL: "https://replies.example.com"}, store, mail, nil)},
		events:   &recordingPublisher{},
	}
}

func (e *env) pipeline(t *testing.T, cfg Config) *Pipeline {
	return New(cfg, e.mail, e.ledger, e.drafter, e.notifier, zaptest.NewLogger(t),
		WithEvents(e.events), WithClock(e.clock.Now))
}

func TestBuildQuery(t *testing.T) {
	be.Equal(t, BuildQuery([]string{"a@example.com"}), "from:(a@example.com) is:unread")
	be.Equal(t, BuildQuery([]string{"a@example.com", " ", "b@example.com"}),
		"from:(a@example.com) is:unread OR from:(b@example.com) is:unread")
	be.Equal(t, BuildQuery(nil), "")
}

func TestCycleIsIdempotent(t *testing.T) {
	e := newEnv(t,
		testutil.Thread("C1", "m1", "a@example.com", "Hi", "one"),
		testutil.Thread("C2", "m2", "b@example.com", "Hey", "two"),
	)
	p := e.pipeline(t, Config{MonitoredSenders: []string{"a@example.com", "b@example.com"}})
	ctx := context.Background()

	r := p.RunCycle(ctx)
	be.Equal(t, r.Found, 2)
	be.Equal(t, r.Notified, 2)
	be.True(t, r.TraceID != "")

	r = p.RunCycle(ctx)
	be.Equal(t, r.Notified, 0)
	be.Equal(t, r.SkippedProcessed, 2)

	be.Equal(t, e.mail.SentCount(), 2)
	be.Equal(t, e.drafter.CallCount(), 2)
	be.Equal(t, e.events.keys, []string{contracts.RoutingKeyReplyDrafted, contracts.RoutingKeyReplyDrafted})
	be.Equal(t, e.mail.Queries[0], "from:(a@example.com) is:unread OR from:(b@example.com) is:unread")
}

func TestNoDraftLeavesMessageForNextCycle(t *testing.T) {
	e := newEnv(t, testutil.Thread("C1", "m1", "a@example.com", "Hi", "one"))
	e.drafter.Fail = true
	p := e.pipeline(t, Config{MonitoredSenders: []string{"a@example.com"}})
	ctx := context.Background()

	r := p.RunCycle(ctx)
	be.Equal(t, r.SkippedNoDraft, 1)
	be.True(t, !e.ledger.IsProcessed(ctx, "m1"))
	be.Equal(t, e.mail.SentCount(), 0)

	e.drafter.Fail = false
	r = p.RunCycle(ctx)
	be.Equal(t, r.Notified, 1)
	be.True(t, e.ledger.IsProcessed(ctx, "m1"))
}

func TestNotifyFailureLeavesMessageUnmarked(t *testing.T) {
	e := newEnv(t, testutil.Thread("C1", "m1", "a@example.com", "Hi", "one"))
	e.notifier.err = errors.New("send failed")
	p := e.pipeline(t, Config{MonitoredSenders: []string{"a@example.com"}})

	r := p.RunCycle(context.Background())
	be.Equal(t, r.Failed, 1)
	be.True(t, !e.ledger.IsProcessed(context.Background(), "m1"))
}

func TestPanicIsIsolated(t *testing.T) {
	e := newEnv(t,
		testutil.Thread("C1", "m1", "a@example.com", "Hi", "boom"),
		testutil.Thread("C2", "m2", "a@example.com", "Hey", "fine"),
	)
	p := e.pipeline(t, Config{MonitoredSenders: []string{"a@example.com"}})

	r := p.RunCycle(context.Background())
	be.Equal(t, r.Failed, 1)
	be.Equal(t, r.Notified, 1)
	be.True(t, e.ledger.IsProcessed(context.Background(), "m2"))
}

func TestSearchFailureDoesNotEscape(t *testing.T) {
	e := newEnv(t)
	e.mail.SearchErr = errors.New("gmail unavailable")
	p := e.pipeline(t, Config{PrioritySender: "amazonflex-support", MonitoredSenders: []string{"a@example.com"}})

	r := p.RunCycle(context.Background())
	be.Equal(t, r, Report{TraceID: r.TraceID})
}

func TestPrioritySenderIsLatestOnly(t *testing.T) {
	e := newEnv(t,
		testutil.Thread("F2", "f2", flex, "Newest", "newest"),
		testutil.Thread("F1", "f1", flex, "Older", "older"),
		testutil.Thread("C1", "m1", "a@example.com", "Hi", "one"),
	)
	p := e.pipeline(t, Config{PrioritySender: "amazonflex-support", MonitoredSenders: []string{"a@example.com"}})
	ctx := context.Background()

	r := p.RunCycle(ctx)
	be.Equal(t, r.Notified, 2)
	be.Equal(t, e.mail.Queries[0], "from:(amazonflex-support) is:unread")
	be.True(t, e.ledger.IsProcessed(ctx, "f2"))
	be.True(t, !e.ledger.IsProcessed(ctx, "f1"))
	be.Equal(t, e.drafter.Calls[0], "newest")
}

func TestUsesNewestMessageOfThread(t *testing.T) {
	conv := testutil.Thread("C1", "m1", "a@example.com", "Hi", "old")
	conv.Messages = append(conv.Messages, mailstore.Message{
		ID: "m2", ThreadID: "C1", From: "a@example.com", Subject: "Re: Hi", Body: "new", Unread: true,
	})
	e := newEnv(t, conv)
	p := e.pipeline(t, Config{MonitoredSenders: []string{"a@example.com"}})

	p.RunCycle(context.Background())
	be.Equal(t, e.drafter.Calls, []string{"new"})
	be.True(t, e.ledger.IsProcessed(context.Background(), "m2"))
}

func TestLedgerExpiryReopensMessage(t *testing.T) {
	e := newEnv(t, testutil.Thread("C1", "m1", "a@example.com", "Hi", "one"))
	e.ledger = ledger.New(e.cache, ledger.WithSlidingExpiry(false))
	p := e.pipeline(t, Config{MonitoredSenders: []string{"a@example.com"}})
	ctx := context.Background()

	p.RunCycle(ctx)
	e.clock.Advance(ledger.DefaultTTL)
	r := p.RunCycle(ctx)
	be.Equal(t, r.Notified, 1)
	be.Equal(t, e.mail.SentCount(), 2)
}

func TestAmazonFlexScenario(t *testing.T) {
	e := newEnv(t, testutil.Thread("C1", "m1", flex, "Shift", "Your shift starts at 8am."))
	p := e.pipeline(t, Config{PrioritySender: "amazonflex-support"})
	ctx := context.Background()

	r := p.RunCycle(ctx)
	be.Equal(t, r.Notified, 1)
	be.Equal(t, e.drafter.Calls, []string{"Your shift starts at 8am."})
	be.Equal(t, e.mail.SentCount(), 1)
	be.Equal(t, e.mail.Sent[0].To, "me@example.com")
	be.True(t, e.ledger.IsProcessed(ctx, "m1"))

	be.Equal(t, len(e.notifier.tokens), 1)
	token := e.notifier.tokens[0]
	resp, err := e.store.Resolve(ctx, token)
	be.Err(t, err, nil)
	be.Equal(t, resp.ConversationID, "C1")
	be.Equal(t, resp.Reply, "Thanks, I'll be there.")
	be.Equal(t, resp.Sender, flex)

	h := approval.New(e.store, e.mail, zaptest.NewLogger(t))
	out, err := h.Handle(ctx, "approve", token)
	be.Err(t, err, nil)
	be.Equal(t, out.Status, http.StatusOK)
	be.Equal(t, out.Message, "Response sent successfully!")

	replies := e.mail.RepliesTo("C1")
	be.Equal(t, len(replies), 1)
	be.Equal(t, replies[0].Body, "Thanks, I'll be there.")

	out, _ = h.Handle(ctx, "approve", token)
	be.Equal(t, out.Message, "Response expired or not found")
	be.Equal(t, len(e.mail.RepliesTo("C1")), 1)
}
