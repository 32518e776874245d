package email

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/towndir/pkg/logger"
)

type received struct {
	from string
	to   []string
	data []byte
}

// sink is an in-process SMTP server that records every message.
type sink struct {
	mu       sync.Mutex
	messages []received
	rcptErr  error
}

func (s *sink) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &sinkSession{sink: s}, nil
}

func (s *sink) Messages() []received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]received(nil), s.messages...)
}

type sinkSession struct {
	sink *sink
	cur  received
}

func (s *sinkSession) Reset()        { s.cur = received{} }
func (s *sinkSession) Logout() error { return nil }

func (s *sinkSession) Mail(from string, _ *smtp.MailOptions) error {
	s.cur.from = from
	return nil
}

func (s *sinkSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.sink.rcptErr != nil {
		return s.sink.rcptErr
	}
	s.cur.to = append(s.cur.to, to)
	return nil
}

func (s *sinkSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.cur.data = b
	s.sink.mu.Lock()
	s.sink.messages = append(s.sink.messages, s.cur)
	s.sink.mu.Unlock()
	return nil
}

func startSink(t *testing.T) (*sink, string, int) {
	t.Helper()

	be := &sink{}
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	addr := l.Addr().(*net.TCPAddr)
	return be, "127.0.0.1", addr.Port
}

func TestSMTPTransport_DeliversMultipartMessage(t *testing.T) {
	be, host, port := startSink(t)
	transport := NewSMTPTransport(SMTPConfig{Host: host, Port: port, From: "noreply@towndir.test"})

	err := transport.Send(context.Background(), Message{
		To:      "reader@example.com",
		Subject: "Homer was updated",
		HTML:    "<p>Homer moved to Shelbyville</p>",
		Text:    "Homer moved to Shelbyville",
		Headers: map[string]string{"List-Unsubscribe": "<https://towndir.test/unsubscribe/abc>"},
	})
	require.NoError(t, err)

	msgs := be.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "noreply@towndir.test", msgs[0].from)
	assert.Equal(t, []string{"reader@example.com"}, msgs[0].to)

	mr, err := mail.CreateReader(bytes.NewReader(msgs[0].data))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Homer was updated", subject)
	assert.Equal(t, "<https://towndir.test/unsubscribe/abc>", mr.Header.Get("List-Unsubscribe"))

	types := map[string]string{}
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		h, ok := p.Header.(*mail.InlineHeader)
		require.True(t, ok)
		ct, _, err := h.ContentType()
		require.NoError(t, err)
		body, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		types[ct] = strings.TrimSpace(string(body))
	}
	assert.Equal(t, "Homer moved to Shelbyville", types["text/plain"])
	assert.Equal(t, "<p>Homer moved to Shelbyville</p>", types["text/html"])
}

func TestSMTPTransport_RejectedRecipient(t *testing.T) {
	be, host, port := startSink(t)
	be.rcptErr = &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "no such user"}
	transport := NewSMTPTransport(SMTPConfig{Host: host, Port: port, From: "noreply@towndir.test"})

	err := transport.Send(context.Background(), Message{To: "ghost@example.com", Subject: "hi", Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost@example.com")
	assert.Empty(t, be.Messages())
}

func TestSMTPTransport_InvalidMessageNeverDials(t *testing.T) {
	transport := NewSMTPTransport(SMTPConfig{Host: "127.0.0.1", Port: 1})

	err := transport.Send(context.Background(), Message{To: "reader@example.com", Subject: "no body"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSMTPTransport_CancelledContext(t *testing.T) {
	transport := NewSMTPTransport(SMTPConfig{Host: "127.0.0.1", Port: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := transport.Send(ctx, Message{To: "reader@example.com", Subject: "s", Text: "t"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogTransport(t *testing.T) {
	transport := NewLogTransport(logger.Nop())

	assert.NoError(t, transport.Send(context.Background(), Message{To: "a@example.com", Subject: "s", HTML: "<p>x</p>"}))
	assert.ErrorIs(t, transport.Send(context.Background(), Message{Subject: "s", HTML: "x"}), ErrInvalidMessage)
}
