// Package gmail implements mailstore.Store over the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"replygate/internal/mailstore"
	"replygate/pkg/util"
)

const (
	user         = "me"
	unreadLabel  = "UNREAD"
	defaultLimit = 50
)

type Client struct {
	srv    *gmailapi.Service
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	address string
}

var _ mailstore.Store = (*Client)(nil)

// New wraps an existing Gmail service.
func New(srv *gmailapi.Service, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{srv: srv, logger: log, now: time.Now}
}

// NewFromFiles authorizes with credentials/token files and builds a client.
func NewFromFiles(ctx context.Context, credentialsFile, tokenFile string, log *zap.Logger) (*Client, error) {
	httpClient, err := HTTPClient(ctx, credentialsFile, tokenFile)
	if err != nil {
		return nil, err
	}
	return NewWithHTTPClient(ctx, httpClient, log, nil)
}

// NewWithHTTPClient is New with a caller-supplied transport and extra service options.
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, log *zap.Logger, opts []option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	srv, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return New(srv, log), nil
}

func (c *Client) Search(ctx context.Context, query string, limit int64) ([]mailstore.Conversation, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	list, err := c.srv.Users.Threads.List(user).Q(query).MaxResults(limit).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	convs := make([]mailstore.Conversation, 0, len(list.Threads))
	for _, t := range list.Threads {
		conv, err := c.Conversation(ctx, t.Id)
		if errors.Is(err, mailstore.ErrNotFound) {
			// deleted between list and get
			c.logger.Debug("thread vanished during search", zap.String("conversation_id", t.Id))
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			retryable, errType := util.ClassifyError(err)
			c.logger.Warn("skipping thread that failed to load",
				zap.String("conversation_id", t.Id),
				zap.String("error_type", errType),
				zap.Bool("retryable", retryable),
				zap.Error(err),
			)
			continue
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (c *Client) Conversation(ctx context.Context, id string) (mailstore.Conversation, error) {
	t, err := c.srv.Users.Threads.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return mailstore.Conversation{}, fmt.Errorf("thread %s: %w", id, mailstore.ErrNotFound)
		}
		return mailstore.Conversation{}, fmt.Errorf("get thread %s: %w", id, err)
	}

	conv := mailstore.Conversation{ID: t.Id, Messages: make([]mailstore.Message, 0, len(t.Messages))}
	for _, m := range t.Messages {
		conv.Messages = append(conv.Messages, parseMessage(m))
	}
	return conv, nil
}

// Reply sends in.Body on the conversation, threaded under its newest message.
func (c *Client) Reply(ctx context.Context, in mailstore.ReplyInput) error {
	conv, err := c.Conversation(ctx, in.ConversationID)
	if err != nil {
		return err
	}
	latest, ok := conv.Latest()
	if !ok {
		return fmt.Errorf("thread %s is empty: %w", in.ConversationID, mailstore.ErrNotFound)
	}

	from, err := c.Address(ctx)
	if err != nil {
		return err
	}
	raw, err := buildMessage(outgoingMessage{
		From:      from,
		To:        in.To,
		Subject:   replySubject(latest.Subject),
		Text:      in.Body,
		InReplyTo: latest.HeaderMessageID,
		Date:      c.now(),
	})
	if err != nil {
		return err
	}

	_, err = c.srv.Users.Messages.Send(user, &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: conv.ID,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("send reply on thread %s: %w", conv.ID, err)
	}
	return nil
}

func (c *Client) Send(ctx context.Context, out mailstore.Outgoing) error {
	from, err := c.Address(ctx)
	if err != nil {
		return err
	}
	raw, err := buildMessage(outgoingMessage{
		From:    from,
		To:      out.To,
		Subject: out.Subject,
		Text:    out.TextBody,
		HTML:    out.HTMLBody,
		Date:    c.now(),
	})
	if err != nil {
		return err
	}
	if _, err := c.srv.Users.Messages.Send(user, &gmailapi.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Address returns the authorized account's address; cached after the first call.
func (c *Client) Address(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.address != "" {
		return c.address, nil
	}
	profile, err := c.srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	c.address = profile.EmailAddress
	return c.address, nil
}

func parseMessage(m *gmailapi.Message) mailstore.Message {
	msg := mailstore.Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Date:     time.UnixMilli(m.InternalDate),
	}
	for _, l := range m.LabelIds {
		if l == unreadLabel {
			msg.Unread = true
			break
		}
	}
	if m.Payload == nil {
		return msg
	}
	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "from":
			msg.From = h.Value
		case "to":
			msg.To = h.Value
		case "message-id":
			msg.HeaderMessageID = h.Value
		}
	}
	msg.Body = plainTextBody(m.Payload)
	return msg
}

// plainTextBody walks the MIME tree depth-first for the first text/plain part.
func plainTextBody(part *gmailapi.MessagePart) string {
	if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		if data, err := decodeBody(part.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, p := range part.Parts {
		mt := strings.ToLower(p.MimeType)
		if strings.HasPrefix(mt, "text/") || strings.HasPrefix(mt, "multipart/") {
			if body := plainTextBody(p); body != "" {
				return body
			}
		}
	}
	return ""
}

// Gmail usually pads, but not always.
func decodeBody(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
