package testutil

import (
	"context"
	"sync"
	"time"

	"replygate/internal/mailstore"
)

// Drafter returns Reply for every body unless Fail is set.
type Drafter struct {
	mu    sync.Mutex
	Reply string
	Fail  bool
	Calls []string
}

func (d *Drafter) Generate(_ context.Context, body string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, body)
	if d.Fail {
		return "", false
	}
	return d.Reply, true
}

func (d *Drafter) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Thread builds a one-message unread conversation.
func Thread(convID, msgID, from, subject, body string) mailstore.Conversation {
	return mailstore.Conversation{
		ID: convID,
		Messages: []mailstore.Message{{
			ID:       msgID,
			ThreadID: convID,
			From:     from,
			Subject:  subject,
			Body:     body,
			Unread:   true,
		}},
	}
}
