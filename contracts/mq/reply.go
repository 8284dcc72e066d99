package mq

import "time"

// Routing keys for reply lifecycle events.
const (
	RoutingKeyReplyDrafted = "reply.drafted"
	RoutingKeyReplySent    = "reply.sent"
)

// ReplyDraftedPayload is published once an approval request reached the operator.
// It never carries the approval token.
type ReplyDraftedPayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject"`
	DraftedAt      time.Time `json:"drafted_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// ReplySentPayload is published after an approved reply was committed.
type ReplySentPayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	SentAt         time.Time `json:"sent_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}
