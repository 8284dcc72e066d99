// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"replygate/internal/mailstore"
)

// MailStore is an in-memory mailstore.Store. Search matches conversations whose
// newest message's From contains any of the query's from:(...) terms.
type MailStore struct {
	mu            sync.Mutex
	Owner         string
	Conversations []mailstore.Conversation
	Replies       []mailstore.ReplyInput
	Sent          []mailstore.Outgoing
	Queries       []string

	SearchErr error
	ReplyErr  error
	SendErr   error
}

var _ mailstore.Store = (*MailStore)(nil)

func NewMailStore(owner string, convs ...mailstore.Conversation) *MailStore {
	return &MailStore{Owner: owner, Conversations: convs}
}

func (s *MailStore) Search(_ context.Context, query string, limit int64) ([]mailstore.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries = append(s.Queries, query)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	terms := fromTerms(query)
	var out []mailstore.Conversation
	for _, c := range s.Conversations {
		latest, ok := c.Latest()
		if !ok || !latest.Unread {
			continue
		}
		for _, term := range terms {
			if strings.Contains(latest.From, term) {
				out = append(out, c)
				break
			}
		}
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MailStore) Conversation(_ context.Context, id string) (mailstore.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, nil
		}
	}
	return mailstore.Conversation{}, fmt.Errorf("thread %s: %w", id, mailstore.ErrNotFound)
}

func (s *MailStore) Reply(ctx context.Context, in mailstore.ReplyInput) error {
	if _, err := s.Conversation(ctx, in.ConversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReplyErr != nil {
		return s.ReplyErr
	}
	s.Replies = append(s.Replies, in)
	return nil
}

func (s *MailStore) Send(_ context.Context, out mailstore.Outgoing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, out)
	return nil
}

func (s *MailStore) Address(context.Context) (string, error) {
	if s.Owner == "" {
		return "", errors.New("no owner address")
	}
	return s.Owner, nil
}

// RepliesTo returns replies recorded for conversation id.
func (s *MailStore) RepliesTo(id string) []mailstore.ReplyInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mailstore.ReplyInput
	for _, r := range s.Replies {
		if r.ConversationID == id {
			out = append(out, r)
		}
	}
	return out
}

// SentCount is len(Sent) under the lock.
func (s *MailStore) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

func fromTerms(query string) []string {
	var terms []string
	for _, clause := range strings.Split(query, " OR ") {
		start := strings.Index(clause, "from:(")
		if start < 0 {
			continue
		}
		rest := clause[start+len("from:("):]
		if end := strings.Index(rest, ")"); end >= 0 {
			terms = append(terms, rest[:end])
		}
	}
	return terms
}
