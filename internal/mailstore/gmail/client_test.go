package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/nalgeon/be"
	"go.uber.org/zap/zaptest"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"replygate/internal/mailstore"
)

type fakeGmail struct {
	mu      sync.Mutex
	query   string
	threads map[string]*gmailapi.Thread
	broken  map[string]bool
	sent    []*gmailapi.Message
}

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	path := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/")
	switch {
	case r.Method == http.MethodGet && path == "profile":
		_ = json.NewEncoder(w).Encode(gmailapi.Profile{EmailAddress: "operator@example.com"})
	case r.Method == http.MethodGet && path == "threads":
		f.query = r.URL.Query().Get("q")
		list := gmailapi.ListThreadsResponse{}
		for _, id := range []string{"C2", "C1", "gone"} {
			list.Threads = append(list.Threads, &gmailapi.Thread{Id: id})
		}
		_ = json.NewEncoder(w).Encode(list)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "threads/"):
		id := strings.TrimPrefix(path, "threads/")
		if f.broken[id] {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend error"}}`))
			return
		}
		t, ok := f.threads[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(t)
	case r.Method == http.MethodPost && path == "messages/send":
		var m gmailapi.Message
		_ = json.NewDecoder(r.Body).Decode(&m)
		f.sent = append(f.sent, &m)
		_ = json.NewEncoder(w).Encode(gmailapi.Message{Id: "sent-1", ThreadId: m.ThreadId})
	default:
		http.NotFound(w, r)
	}
}

func newFake() *fakeGmail {
	return &fakeGmail{threads: map[string]*gmailapi.Thread{
		"C1": {Id: "C1", Messages: []*gmailapi.Message{
			{
				Id: "m1", ThreadId: "C1", InternalDate: 1767258000000,
				Payload: &gmailapi.MessagePart{
					MimeType: "text/plain",
					Headers: []*gmailapi.MessagePartHeader{
						{Name: "From", Value: "Amazon Flex <amazonflex-support@example.com>"},
						{Name: "Subject", Value: "Shift reminder"},
					},
					Body: &gmailapi.MessagePartBody{Data: b64("first")},
				},
			},
			{
				Id: "m2", ThreadId: "C1", LabelIds: []string{"INBOX", "UNREAD"}, InternalDate: 1767261600000,
				Payload: &gmailapi.MessagePart{
					MimeType: "multipart/alternative",
					Headers: []*gmailapi.MessagePartHeader{
						{Name: "From", Value: "Amazon Flex <amazonflex-support@example.com>"},
						{Name: "Subject", Value: "Shift reminder"},
						{Name: "Message-ID", Value: "<abc123@mail.example.com>"},
					},
					Parts: []*gmailapi.MessagePart{
						{MimeType: "text/html", Body: &gmailapi.MessagePartBody{Data: b64("<p>html</p>")}},
						{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{
							Data: base64.RawURLEncoding.EncodeToString([]byte("Your shift starts at 8am.")),
						}},
					},
				},
			},
		}},
		"C2": {Id: "C2", Messages: []*gmailapi.Message{{
			Id: "m3", ThreadId: "C2", LabelIds: []string{"UNREAD"},
			Payload: &gmailapi.MessagePart{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: b64("hi")}},
		}}},
	}}
}

func newTestClient(t *testing.T, f *fakeGmail) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := NewWithHTTPClient(context.Background(), srv.Client(), zaptest.NewLogger(t),
		[]option.ClientOption{option.WithEndpoint(srv.URL + "/")})
	be.Err(t, err, nil)
	c.now = func() time.Time { return time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC) }
	return c
}

func readRaw(t *testing.T, m *gmailapi.Message) (*mail.Reader, string) {
	t.Helper()
	raw, err := base64.URLEncoding.DecodeString(m.Raw)
	be.Err(t, err, nil)
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	be.Err(t, err, nil)
	p, err := mr.NextPart()
	be.Err(t, err, nil)
	body, err := io.ReadAll(p.Body)
	be.Err(t, err, nil)
	return mr, string(body)
}

func TestSearchParsesThreads(t *testing.T) {
	f := newFake()
	c := newTestClient(t, f)

	convs, err := c.Search(context.Background(), "from:(amazonflex-support) is:unread", 10)
	be.Err(t, err, nil)
	be.Equal(t, f.query, "from:(amazonflex-support) is:unread")
	// "gone" 404s and is skipped
	be.Equal(t, len(convs), 2)
	be.Equal(t, convs[0].ID, "C2")

	latest, ok := convs[1].Latest()
	be.True(t, ok)
	be.Equal(t, latest.ID, "m2")
	be.Equal(t, latest.Body, "Your shift starts at 8am.")
	be.Equal(t, latest.From, "Amazon Flex <amazonflex-support@example.com>")
	be.Equal(t, latest.HeaderMessageID, "<abc123@mail.example.com>")
	be.True(t, latest.Unread)
	be.True(t, !convs[1].Messages[0].Unread)
	be.Equal(t, convs[1].Messages[0].Body, "first")
	be.Equal(t, latest.Date.UnixMilli(), int64(1767261600000))
}

func TestSearchSkipsFailingThread(t *testing.T) {
	f := newFake()
	f.broken = map[string]bool{"C2": true}
	c := newTestClient(t, f)

	convs, err := c.Search(context.Background(), "is:unread", 10)
	be.Err(t, err, nil)
	be.Equal(t, len(convs), 1)
	be.Equal(t, convs[0].ID, "C1")
}

func TestConversationNotFound(t *testing.T) {
	c := newTestClient(t, newFake())
	_, err := c.Conversation(context.Background(), "nope")
	be.Err(t, err, mailstore.ErrNotFound)
}

func TestReplyThreadsUnderLatestMessage(t *testing.T) {
	f := newFake()
	c := newTestClient(t, f)

	err := c.Reply(context.Background(), mailstore.ReplyInput{
		ConversationID: "C1",
		To:             "Amazon Flex <amazonflex-support@example.com>",
		Body:           "Thanks, I'll be there.",
	})
	be.Err(t, err, nil)
	be.Equal(t, len(f.sent), 1)
	be.Equal(t, f.sent[0].ThreadId, "C1")

	mr, body := readRaw(t, f.sent[0])
	be.Equal(t, strings.TrimSpace(body), "Thanks, I'll be there.")
	subject, _ := mr.Header.Subject()
	be.Equal(t, subject, "Re: Shift reminder")
	to, _ := mr.Header.AddressList("To")
	be.Equal(t, to[0].Address, "amazonflex-support@example.com")
	from, _ := mr.Header.AddressList("From")
	be.Equal(t, from[0].Address, "operator@example.com")
	ids, _ := mr.Header.MsgIDList("In-Reply-To")
	be.Equal(t, ids, []string{"abc123@mail.example.com"})
}

func TestReplyMissingThread(t *testing.T) {
	f := newFake()
	c := newTestClient(t, f)
	err := c.Reply(context.Background(), mailstore.ReplyInput{ConversationID: "nope", To: "a@example.com", Body: "x"})
	be.True(t, errors.Is(err, mailstore.ErrNotFound))
	be.Equal(t, len(f.sent), 0)
}

func TestSendHTML(t *testing.T) {
	f := newFake()
	c := newTestClient(t, f)

	err := c.Send(context.Background(), mailstore.Outgoing{
		To:       "operator@example.com",
		Subject:  "AI Response Preview - RE: Shift reminder",
		HTMLBody: "<p>preview</p>",
	})
	be.Err(t, err, nil)
	be.Equal(t, len(f.sent), 1)
	be.Equal(t, f.sent[0].ThreadId, "")

	mr, body := readRaw(t, f.sent[0])
	be.True(t, strings.Contains(body, "<p>preview</p>"))
	ct, _, _ := mr.Header.ContentType()
	be.Equal(t, ct, "text/html")
}

func TestSendRejectsBadAddress(t *testing.T) {
	f := newFake()
	c := newTestClient(t, f)
	err := c.Send(context.Background(), mailstore.Outgoing{To: "not an address", TextBody: "x"})
	be.Err(t, err, "parse to address")
	be.Equal(t, len(f.sent), 0)
}

func TestReplySubject(t *testing.T) {
	be.Equal(t, replySubject("Hello"), "Re: Hello")
	be.Equal(t, replySubject("RE: Hello"), "RE: Hello")
	be.Equal(t, replySubject("re: hi"), "re: hi")
}
