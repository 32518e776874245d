package email

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidMessage is returned before any network activity when a message
// cannot be sent as given.
var ErrInvalidMessage = errors.New("invalid email message")

// Message is a rendered email ready for hand-off.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	// Headers are extra headers such as List-Unsubscribe.
	Headers map[string]string
}

func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.To) == "":
		return errors.Join(ErrInvalidMessage, errors.New("missing recipient"))
	case strings.TrimSpace(m.Subject) == "":
		return errors.Join(ErrInvalidMessage, errors.New("missing subject"))
	case m.HTML == "" && m.Text == "":
		return errors.Join(ErrInvalidMessage, errors.New("missing body"))
	}
	return nil
}

// Transport hands a message to the mail system. A nil error means the
// message was accepted, not that it was delivered.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}
