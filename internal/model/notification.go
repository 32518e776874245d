package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid email status transition")

type EmailStatus string

const (
	EmailStatusQueued    EmailStatus = "QUEUED"
	EmailStatusSending   EmailStatus = "SENDING"
	EmailStatusSent      EmailStatus = "SENT"
	EmailStatusDelivered EmailStatus = "DELIVERED"
	EmailStatusBounced   EmailStatus = "BOUNCED"
	EmailStatusOpened    EmailStatus = "OPENED"
	EmailStatusFailed    EmailStatus = "FAILED"
)

// EmailStatuses lists every status in lifecycle order.
var EmailStatuses = []EmailStatus{
	EmailStatusQueued,
	EmailStatusSending,
	EmailStatusSent,
	EmailStatusDelivered,
	EmailStatusBounced,
	EmailStatusOpened,
	EmailStatusFailed,
}

// emailTransitions is the state machine. Same-state updates are handled by
// Transition as no-ops and are not listed.
var emailTransitions = map[EmailStatus][]EmailStatus{
	EmailStatusQueued:    {EmailStatusSending, EmailStatusFailed},
	EmailStatusSending:   {EmailStatusSent, EmailStatusFailed},
	EmailStatusSent:      {EmailStatusDelivered, EmailStatusBounced, EmailStatusOpened},
	EmailStatusDelivered: {EmailStatusOpened},
	EmailStatusBounced:   {},
	EmailStatusOpened:    {},
	EmailStatusFailed:    {EmailStatusQueued},
}

func (s EmailStatus) Valid() bool {
	_, ok := emailTransitions[s]
	return ok
}

// Terminal reports whether the pipeline never moves the row again on its own.
func (s EmailStatus) Terminal() bool {
	switch s {
	case EmailStatusDelivered, EmailStatusBounced, EmailStatusOpened:
		return true
	default:
		return false
	}
}

func ParseEmailStatus(s string) (EmailStatus, error) {
	st := EmailStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown email status %q", s)
	}
	return st, nil
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to EmailStatus) bool {
	for _, next := range emailTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a status change. changed is false for a same-state
// update, which is always accepted so repeated webhook deliveries are no-ops.
func Transition(from, to EmailStatus) (changed bool, err error) {
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if from == to {
		return false, nil
	}
	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return true, nil
}

// EmailNotification is one queued email about a person update.
type EmailNotification struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	UserID          uuid.UUID   `json:"user_id" db:"user_id"`
	ToEmail         string      `json:"to_email" db:"to_email"`
	PersonID        *uuid.UUID  `json:"person_id,omitempty" db:"person_id"`
	PersonHistoryID *uuid.UUID  `json:"person_history_id,omitempty" db:"person_history_id"`
	Subject         string      `json:"subject" db:"subject"`
	HTMLContent     string      `json:"html_content" db:"html_content"`
	TextContent     *string     `json:"text_content,omitempty" db:"text_content"`
	Status          EmailStatus `json:"status" db:"status"`
	RetryCount      int         `json:"retry_count" db:"retry_count"`
	ScheduledFor    time.Time   `json:"scheduled_for" db:"scheduled_for"`
	SentAt          *time.Time  `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt     *time.Time  `json:"delivered_at,omitempty" db:"delivered_at"`
	OpenedAt        *time.Time  `json:"opened_at,omitempty" db:"opened_at"`
	ErrorMessage    *string     `json:"error_message,omitempty" db:"error_message"`
	BounceType      *string     `json:"bounce_type,omitempty" db:"bounce_type"`
	BounceSubType   *string     `json:"bounce_sub_type,omitempty" db:"bounce_sub_type"`
	TrackingEnabled bool        `json:"tracking_enabled" db:"tracking_enabled"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// Retryable reports whether RetryFailed may requeue the row.
func (n *EmailNotification) Retryable(maxRetries int) bool {
	return n.Status == EmailStatusFailed && n.RetryCount < maxRetries
}

// StatusUpdate carries the optional details of a webhook or admin update.
type StatusUpdate struct {
	ErrorMessage  string
	BounceType    string
	BounceSubType string
	// Complaint marks a spam complaint reported with the event.
	Complaint bool
}

// Bounce types as reported by the mail provider.
const (
	BounceTypePermanent = "Permanent"
	BounceTypeTransient = "Transient"
)

// EmailStats is the admin summary of the notification table.
type EmailStats struct {
	Total    int64                 `json:"total"`
	ByStatus map[EmailStatus]int64 `json:"by_status"`
}

// EmailFilter narrows notification listings.
type EmailFilter struct {
	Status   EmailStatus
	PersonID *uuid.UUID
	UserID   *uuid.UUID
	Pagination
}

// SendReport summarises one dispatch pass.
type SendReport struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// QueueReport summarises a batch enqueue.
type QueueReport struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
