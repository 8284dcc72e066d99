// Package mailstore defines the mailbox the pipeline reads from and replies through.
package mailstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist (or is no longer visible).
var ErrNotFound = errors.New("mailstore: not found")

type Message struct {
	ID       string
	ThreadID string
	From     string
	To       string
	Subject  string
	Body     string
	// RFC 5322 Message-ID, used for In-Reply-To/References when replying.
	HeaderMessageID string
	Unread          bool
	Date            time.Time
}

// Conversation is a thread; Messages are ordered oldest first.
type Conversation struct {
	ID       string
	Messages []Message
}

// Latest returns the newest message, or false for an empty conversation.
func (c Conversation) Latest() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// ReplyInput appends Body to ConversationID, addressed to To.
type ReplyInput struct {
	ConversationID string
	To             string
	Body           string
}

// Outgoing is a fresh message, optionally HTML.
type Outgoing struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

type Store interface {
	// Search returns conversations matching a provider query, newest first.
	Search(ctx context.Context, query string, limit int64) ([]Conversation, error)
	Conversation(ctx context.Context, id string) (Conversation, error)
	Reply(ctx context.Context, in ReplyInput) error
	Send(ctx context.Context, out Outgoing) error
	// Address is the mailbox owner's address.
	Address(ctx context.Context) (string, error)
}
