package model

import (
	"fmt"
	"strings"
	"time"
)

// SuppressionReason enumerates why an address is blocked.
type SuppressionReason string

const (
	ReasonPermanentBounce SuppressionReason = "permanent-bounce"
	ReasonTransientBounce SuppressionReason = "transient-bounce"
	ReasonSpamComplaint   SuppressionReason = "spam-complaint"
	ReasonManual          SuppressionReason = "manual"
	ReasonUnsubscribeLink SuppressionReason = "unsubscribe-link"
)

var SuppressionReasons = []SuppressionReason{
	ReasonPermanentBounce,
	ReasonTransientBounce,
	ReasonSpamComplaint,
	ReasonManual,
	ReasonUnsubscribeLink,
}

func (r SuppressionReason) Valid() bool {
	for _, known := range SuppressionReasons {
		if r == known {
			return true
		}
	}
	return false
}

// IsBounce reports whether bounce type fields are meaningful for r.
func (r SuppressionReason) IsBounce() bool {
	return r == ReasonPermanentBounce || r == ReasonTransientBounce
}

func ParseSuppressionReason(s string) (SuppressionReason, error) {
	r := SuppressionReason(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown suppression reason %q", s)
	}
	return r, nil
}

// Suppression sources.
const (
	SuppressionSourceAdmin   = "admin"
	SuppressionSourceWebhook = "webhook"
	SuppressionSourceLink    = "unsubscribe-link"
	SuppressionSourceCLI     = "cli"
)

// EmailSuppression blocks every new notification to Email while it exists.
type EmailSuppression struct {
	Email         string            `json:"email" db:"email"`
	Reason        SuppressionReason `json:"reason" db:"reason"`
	ReasonDetails *string           `json:"reason_details,omitempty" db:"reason_details"`
	Source        string            `json:"source" db:"source"`
	BounceType    *string           `json:"bounce_type,omitempty" db:"bounce_type"`
	BounceSubType *string           `json:"bounce_sub_type,omitempty" db:"bounce_sub_type"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// SuppressionFilter narrows suppression listings.
type SuppressionFilter struct {
	Search string
	Reason SuppressionReason
	Pagination
}

// NormalizeEmail is the canonical form used as the suppression key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
