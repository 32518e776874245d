package suppression

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
	"github.com/jwalitptl/towndir/pkg/logger"
)

var (
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrInvalidReason = errors.New("invalid suppression reason")
)

// Entry is an add request. Details and the bounce fields are optional.
type Entry struct {
	Email         string
	Reason        model.SuppressionReason
	Details       string
	Source        string
	BounceType    string
	BounceSubType string
}

type Service struct {
	repo repository.SuppressionRepository
	log  *logger.Logger
}

func NewService(repo repository.SuppressionRepository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, log: log}
}

// Add lists an address, replacing any earlier entry for it.
func (s *Service) Add(ctx context.Context, e Entry) (*model.EmailSuppression, error) {
	email, err := canonical(e.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, e.Email)
	}
	if !e.Reason.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, e.Reason)
	}

	row := &model.EmailSuppression{
		Email:  email,
		Reason: e.Reason,
		Source: e.Source,
	}
	if row.Source == "" {
		row.Source = model.SuppressionSourceAdmin
	}
	if e.Details != "" {
		row.ReasonDetails = &e.Details
	}
	if e.Reason.IsBounce() {
		if e.BounceType != "" {
			row.BounceType = &e.BounceType
		}
		if e.BounceSubType != "" {
			row.BounceSubType = &e.BounceSubType
		}
	}

	if err := s.repo.Upsert(ctx, row); err != nil {
		return nil, err
	}
	s.log.WithContext(ctx).Info("address suppressed",
		"email", email,
		"reason", string(e.Reason),
		"source", row.Source,
	)
	return row, nil
}

// Remove re-enables sends to email. Removing an unlisted address is not an
// error; removed reports whether a row existed.
func (s *Service) Remove(ctx context.Context, email string) (removed bool, err error) {
	key := lookupKey(email)
	removed, err = s.repo.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	if removed {
		s.log.WithContext(ctx).Info("address unsuppressed", "email", key)
	}
	return removed, nil
}

func (s *Service) IsSuppressed(ctx context.Context, email string) (bool, error) {
	return s.repo.Exists(ctx, lookupKey(email))
}

func (s *Service) Get(ctx context.Context, email string) (*model.EmailSuppression, error) {
	return s.repo.Get(ctx, lookupKey(email))
}

func (s *Service) List(ctx context.Context, filter model.SuppressionFilter) ([]*model.EmailSuppression, int64, error) {
	if filter.Reason != "" && !filter.Reason.Valid() {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidReason, filter.Reason)
	}
	return s.repo.List(ctx, filter)
}

// canonical reduces an address to the bare lower-cased mailbox rows are
// keyed by. Display names and angle brackets are dropped.
func canonical(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return model.NormalizeEmail(addr.Address), nil
}

func lookupKey(raw string) string {
	if key, err := canonical(raw); err == nil {
		return key
	}
	return model.NormalizeEmail(raw)
}
