// Package notifier mails the operator an approval request for a drafted reply.
package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"replygate/internal/mailstore"
	"replygate/internal/pending"
	"replygate/pkg/logger"
)

const (
	CallbackPath  = "/callback"
	subjectPrefix = "AI Response Preview - RE: "
)

// PendingStore is the part of pending.Store the notifier writes to.
type PendingStore interface {
	Create(ctx context.Context, resp pending.Response) (string, error)
	Consume(ctx context.Context, token string) error
}

type Config struct {
	// PublicURL is where the callback endpoint is reachable, e.g. https://replies.example.com.
	PublicURL string
	// OperatorAddress receives approval requests; empty means the mailbox owner.
	OperatorAddress string
}

type Notifier struct {
	cfg    Config
	store  PendingStore
	mail   mailstore.Store
	logger *zap.Logger
}

func New(cfg Config, store PendingStore, mail mailstore.Store, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Notifier{cfg: cfg, store: store, mail: mail, logger: log}
}

// ApprovalURL is the one-time link for token.
func ApprovalURL(publicURL, token string) string {
	q := url.Values{}
	q.Set("action", "approve")
	q.Set("id", token)
	return strings.TrimRight(publicURL, "/") + CallbackPath + "?" + q.Encode()
}

// Notify stores the draft under a new token and mails the operator a preview with
// the approval link. The original sender is never contacted here. On a send failure
// the token is retired before returning the error.
func (n *Notifier) Notify(ctx context.Context, draft, sender string, conv mailstore.Conversation) (string, error) {
	latest, ok := conv.Latest()
	if !ok {
		return "", errors.New("notify: conversation has no messages")
	}

	operator, err := n.operator(ctx)
	if err != nil {
		return "", err
	}

	token, err := n.store.Create(ctx, pending.Response{
		ConversationID: conv.ID,
		Reply:          draft,
		Sender:         sender,
		MessageID:      latest.ID,
		Subject:        latest.Subject,
	})
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	err = approvalTemplate.Execute(&body, approvalView{
		Sender:      sender,
		Subject:     latest.Subject,
		Original:    latest.Body,
		Draft:       draft,
		ApprovalURL: ApprovalURL(n.cfg.PublicURL, token),
	})
	if err == nil {
		err = n.mail.Send(ctx, mailstore.Outgoing{
			To:       operator,
			Subject:  subjectPrefix + latest.Subject,
			HTMLBody: body.String(),
		})
	}
	if err != nil {
		if cerr := n.store.Consume(ctx, token); cerr != nil {
			logger.WithTrace(ctx, n.logger).Warn("failed to retire token after notify failure",
				zap.String("conversation_id", conv.ID),
				zap.Error(cerr),
			)
		}
		return "", fmt.Errorf("send approval request: %w", err)
	}

	logger.WithTrace(ctx, n.logger).Info("approval request sent",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", latest.ID),
	)
	return token, nil
}

func (n *Notifier) operator(ctx context.Context) (string, error) {
	if n.cfg.OperatorAddress != "" {
		return n.cfg.OperatorAddress, nil
	}
	addr, err := n.mail.Address(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve operator address: %w", err)
	}
	return addr, nil
}
