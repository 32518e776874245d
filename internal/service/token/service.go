// Package token issues and verifies the single-secret links sent in
// notification emails: opt-out links and magic login links.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
	"github.com/jwalitptl/towndir/pkg/logger"
)

const secretBytes = 32

// ErrInvalidToken covers unknown, expired, revoked and wrong-kind tokens
// alike so callers cannot tell which tokens ever existed.
var ErrInvalidToken = errors.New("invalid or expired token")

type Config struct {
	OptOutTTL    time.Duration
	MagicLinkTTL time.Duration
}

// Issued is a freshly generated token. Secret is only available here.
type Issued struct {
	Secret    string          `json:"token"`
	Kind      model.TokenKind `json:"kind"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type Service struct {
	tokens  repository.TokenRepository
	optOuts repository.OptOutRepository
	cfg     Config
	log     *logger.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(tokens repository.TokenRepository, optOuts repository.OptOutRepository, cfg Config, opts ...Option) *Service {
	if cfg.OptOutTTL <= 0 {
		cfg.OptOutTTL = 14 * 24 * time.Hour
	}
	if cfg.MagicLinkTTL <= 0 {
		cfg.MagicLinkTTL = 24 * time.Hour
	}
	s := &Service{
		tokens:  tokens,
		optOuts: optOuts,
		cfg:     cfg,
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateOptOutToken issues an unsubscribe token covering every person, or
// only personID when it is set.
func (s *Service) GenerateOptOutToken(ctx context.Context, userID uuid.UUID, personID *uuid.UUID) (*Issued, error) {
	return s.issue(ctx, model.TokenKindOptOut, userID, personID, s.cfg.OptOutTTL)
}

func (s *Service) GenerateMagicLinkToken(ctx context.Context, userID uuid.UUID, personID *uuid.UUID) (*Issued, error) {
	return s.issue(ctx, model.TokenKindMagicLink, userID, personID, s.cfg.MagicLinkTTL)
}

func (s *Service) issue(ctx context.Context, kind model.TokenKind, userID uuid.UUID, personID *uuid.UUID, ttl time.Duration) (*Issued, error) {
	if userID == uuid.Nil {
		return nil, errors.New("token: user id is required")
	}

	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("token: read random: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)

	now := s.now()
	row := &model.Token{
		Hash:      hash(secret),
		Kind:      kind,
		UserID:    userID,
		PersonID:  personID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		return nil, err
	}

	return &Issued{Secret: secret, Kind: kind, ExpiresAt: row.ExpiresAt}, nil
}

// Verify returns the scope granted by secret when it is a live token of
// kind.
func (s *Service) Verify(ctx context.Context, secret string, kind model.TokenKind) (model.TokenScope, error) {
	if !wellFormed(secret) {
		return model.TokenScope{}, ErrInvalidToken
	}

	row, err := s.tokens.GetByHash(ctx, hash(secret))
	if errors.Is(err, repository.ErrNotFound) {
		return model.TokenScope{}, ErrInvalidToken
	}
	if err != nil {
		return model.TokenScope{}, err
	}
	if row.Kind != kind || !row.Usable(s.now()) {
		return model.TokenScope{}, ErrInvalidToken
	}

	return model.TokenScope{Kind: row.Kind, UserID: row.UserID, PersonID: row.PersonID}, nil
}

// RedeemOptOut records the opt-out an unsubscribe link grants. The token
// stays valid until it expires so a second click succeeds too.
func (s *Service) RedeemOptOut(ctx context.Context, secret string) (model.TokenScope, error) {
	scope, err := s.Verify(ctx, secret, model.TokenKindOptOut)
	if err != nil {
		return scope, err
	}

	if err := s.optOuts.Add(ctx, &model.OptOut{
		UserID:    scope.UserID,
		PersonID:  scope.PersonID,
		CreatedAt: s.now(),
	}); err != nil {
		return scope, err
	}

	fields := []interface{}{"user_id", scope.UserID.String(), "all_persons", scope.AllPersons()}
	if scope.PersonID != nil {
		fields = append(fields, "person_id", scope.PersonID.String())
	}
	s.log.WithContext(ctx).Info("opt-out recorded", fields...)
	return scope, nil
}

// Preferences is what an opened magic link shows: who it belongs to and
// the opt-outs already recorded for them.
type Preferences struct {
	Scope   model.TokenScope `json:"scope"`
	OptOuts []*model.OptOut  `json:"opt_outs"`
}

// OpenMagicLink verifies a magic-link secret and loads the user's opt-outs.
// The link stays usable until it expires or is revoked.
func (s *Service) OpenMagicLink(ctx context.Context, secret string) (*Preferences, error) {
	scope, err := s.Verify(ctx, secret, model.TokenKindMagicLink)
	if err != nil {
		return nil, err
	}

	optOuts, err := s.optOuts.ListByUser(ctx, scope.UserID)
	if err != nil {
		return nil, err
	}
	return &Preferences{Scope: scope, OptOuts: optOuts}, nil
}

// Revoke invalidates secret. Revoking an unknown or already revoked token
// is reported as ErrInvalidToken.
func (s *Service) Revoke(ctx context.Context, secret string) error {
	if !wellFormed(secret) {
		return ErrInvalidToken
	}
	ok, err := s.tokens.Revoke(ctx, hash(secret), s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidToken
	}
	return nil
}

// CleanupExpired deletes tokens that expired before the given time.
func (s *Service) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("token cleanup: %w", err)
	}
	return n, nil
}

func (s *Service) Now() time.Time {
	return s.now()
}

func hash(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func wellFormed(secret string) bool {
	b, err := base64.RawURLEncoding.DecodeString(secret)
	return err == nil && len(b) == secretBytes
}
