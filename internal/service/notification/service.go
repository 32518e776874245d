// Package notification owns the email notification lifecycle: enqueue,
// dispatch, retry and webhook-driven status updates.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/towndir/internal/email"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
	"github.com/jwalitptl/towndir/internal/service/suppression"
	"github.com/jwalitptl/towndir/internal/service/token"
	"github.com/jwalitptl/towndir/pkg/logger"
	"github.com/jwalitptl/towndir/pkg/metrics"
)

const (
	msgSuppressed  = "recipient is on the suppression list"
	msgOptedOut    = "recipient opted out"
	msgInterrupted = "dispatch interrupted"
)

var (
	ErrRecipientSuppressed = errors.New("recipient is suppressed")
	ErrRecipientOptedOut   = errors.New("recipient opted out")
	ErrInvalidNotification = errors.New("invalid notification")
	// ErrStatusConflict means the row changed status between read and write.
	ErrStatusConflict = errors.New("notification status changed concurrently")
)

// Suppressions is the part of the suppression service the pipeline uses.
type Suppressions interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
	Add(ctx context.Context, e suppression.Entry) (*model.EmailSuppression, error)
}

type OptOuts interface {
	IsOptedOut(ctx context.Context, userID uuid.UUID, personID *uuid.UUID) (bool, error)
}

// UnsubscribeIssuer mints the opt-out link placed in List-Unsubscribe.
type UnsubscribeIssuer interface {
	GenerateOptOutToken(ctx context.Context, userID uuid.UUID, personID *uuid.UUID) (*token.Issued, error)
}

type Config struct {
	From       string
	MaxRetries int
	StuckAfter time.Duration
	// UnsubscribeURL is the public prefix the opt-out token is appended to.
	UnsubscribeURL string
}

type Service struct {
	repo         repository.NotificationRepository
	suppressions Suppressions
	optOuts      OptOuts
	transport    email.Transport
	cfg          Config

	issuer  UnsubscribeIssuer
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithUnsubscribeIssuer(i UnsubscribeIssuer) Option {
	return func(s *Service) { s.issuer = i }
}

// WithRateLimit throttles transport hand-offs.
func WithRateLimit(l *rate.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	repo repository.NotificationRepository,
	suppressions Suppressions,
	optOuts OptOuts,
	transport email.Transport,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 15 * time.Minute
	}

	s := &Service{
		repo:         repo,
		suppressions: suppressions,
		optOuts:      optOuts,
		transport:    transport,
		cfg:          cfg,
		log:          logger.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New("towndir")
	}
	return s
}

func (s *Service) MaxRetries() int {
	return s.cfg.MaxRetries
}

// Queue stores n as QUEUED. Suppressed and opted-out recipients get no row;
// the matching sentinel error is returned instead.
func (s *Service) Queue(ctx context.Context, n *model.EmailNotification) error {
	if err := validate(n); err != nil {
		return err
	}

	if reason, err := s.blocked(ctx, n); err != nil {
		return err
	} else if reason != nil {
		s.metrics.EmailSkipped.WithLabelValues(skipLabel(reason)).Inc()
		return reason
	}

	n.ToEmail = strings.TrimSpace(n.ToEmail)
	n.Status = model.EmailStatusQueued
	n.RetryCount = 0
	n.ErrorMessage = nil
	if n.ScheduledFor.IsZero() {
		n.ScheduledFor = s.now()
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	s.metrics.EmailTransitions.WithLabelValues(string(model.EmailStatusQueued)).Inc()
	return nil
}

// QueueBatch queues every row it can. One bad row never stops the rest.
func (s *Service) QueueBatch(ctx context.Context, batch []*model.EmailNotification) model.QueueReport {
	var report model.QueueReport
	for _, n := range batch {
		err := s.Queue(ctx, n)
		switch {
		case err == nil:
			report.Queued++
		case errors.Is(err, ErrRecipientSuppressed), errors.Is(err, ErrRecipientOptedOut):
			report.Skipped++
		default:
			report.Failed++
			s.log.WithContext(ctx).Error(err, "failed to queue notification", "to", n.ToEmail)
		}
	}
	return report
}

// DispatchDue sends up to limit QUEUED rows whose schedule has come.
func (s *Service) DispatchDue(ctx context.Context, limit int) (model.SendReport, error) {
	rows, err := s.repo.ListDue(ctx, s.now(), limit)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("list_due_emails", "error").Inc()
		return model.SendReport{}, err
	}
	s.metrics.DatabaseOperations.WithLabelValues("list_due_emails", "success").Inc()
	return s.dispatch(ctx, rows)
}

// SendSelected dispatches the given rows now regardless of schedule. Rows
// that are not QUEUED are skipped.
func (s *Service) SendSelected(ctx context.Context, ids []uuid.UUID) (model.SendReport, error) {
	if len(ids) == 0 {
		return model.SendReport{}, nil
	}
	rows, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return model.SendReport{}, err
	}

	report := model.SendReport{Skipped: len(ids) - len(rows)}
	queued := rows[:0]
	for _, n := range rows {
		if n.Status != model.EmailStatusQueued {
			report.Skipped++
			continue
		}
		queued = append(queued, n)
	}

	sent, err := s.dispatch(ctx, queued)
	report.Sent += sent.Sent
	report.Failed += sent.Failed
	report.Skipped += sent.Skipped
	return report, err
}

func (s *Service) dispatch(ctx context.Context, rows []*model.EmailNotification) (model.SendReport, error) {
	var report model.SendReport
	for _, n := range rows {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}

		switch s.send(ctx, n) {
		case outcomeSent:
			report.Sent++
		case outcomeFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
)

// send runs one row through QUEUED -> SENDING -> SENT|FAILED. Errors are
// recorded on the row, never returned.
func (s *Service) send(ctx context.Context, n *model.EmailNotification) outcome {
	log := s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"notification_id": n.ID.String(),
	})

	claimed := *n
	claimed.Status = model.EmailStatusSending
	ok, err := s.repo.UpdateIfStatus(ctx, &claimed, model.EmailStatusQueued)
	if err != nil {
		log.Error(err, "failed to claim notification")
		return outcomeSkipped
	}
	if !ok {
		// Another worker got there first.
		return outcomeSkipped
	}
	s.metrics.EmailTransitions.WithLabelValues(string(model.EmailStatusSending)).Inc()

	// The outcome must be written even if the caller is shutting down.
	writeCtx := context.WithoutCancel(ctx)

	reason, err := s.blocked(ctx, &claimed)
	if err != nil {
		s.fail(writeCtx, &claimed, err.Error(), log)
		return outcomeFailed
	}
	if reason != nil {
		s.metrics.EmailSkipped.WithLabelValues(skipLabel(reason)).Inc()
		msg := msgSuppressed
		if errors.Is(reason, ErrRecipientOptedOut) {
			msg = msgOptedOut
		}
		s.fail(writeCtx, &claimed, msg, log)
		return outcomeSkipped
	}

	timer := prometheus.NewTimer(s.metrics.EmailDispatchLatency)
	err = s.transport.Send(ctx, s.message(ctx, &claimed))
	timer.ObserveDuration()
	if err != nil {
		s.metrics.EmailDispatched.WithLabelValues("failed").Inc()
		s.fail(writeCtx, &claimed, err.Error(), log)
		return outcomeFailed
	}

	sentAt := s.now()
	done := claimed
	done.Status = model.EmailStatusSent
	done.SentAt = &sentAt
	done.ErrorMessage = nil
	if _, err := s.repo.UpdateIfStatus(writeCtx, &done, model.EmailStatusSending); err != nil {
		// The mail left; a stuck SENDING row is recovered later.
		log.Error(err, "failed to mark notification sent")
	}
	s.metrics.EmailDispatched.WithLabelValues("sent").Inc()
	s.metrics.EmailTransitions.WithLabelValues(string(model.EmailStatusSent)).Inc()
	return outcomeSent
}

func (s *Service) fail(ctx context.Context, n *model.EmailNotification, msg string, log *logger.Logger) {
	failed := *n
	failed.Status = model.EmailStatusFailed
	failed.ErrorMessage = &msg
	failed.RetryCount = s.bumpRetry(n.RetryCount)

	if _, err := s.repo.UpdateIfStatus(ctx, &failed, model.EmailStatusSending); err != nil {
		log.Error(err, "failed to mark notification failed")
		return
	}
	s.metrics.EmailTransitions.WithLabelValues(string(model.EmailStatusFailed)).Inc()
	log.Warn("notification failed", "error", msg, "retry_count", failed.RetryCount)
}

func (s *Service) bumpRetry(n int) int {
	if n+1 > s.cfg.MaxRetries {
		return s.cfg.MaxRetries
	}
	return n + 1
}

func (s *Service) message(ctx context.Context, n *model.EmailNotification) email.Message {
	msg := email.Message{
		From:    s.cfg.From,
		To:      n.ToEmail,
		Subject: n.Subject,
		HTML:    n.HTMLContent,
	}
	if n.TextContent != nil {
		msg.Text = *n.TextContent
	}

	if s.issuer != nil && s.cfg.UnsubscribeURL != "" {
		issued, err := s.issuer.GenerateOptOutToken(ctx, n.UserID, n.PersonID)
		if err != nil {
			s.log.WithContext(ctx).Error(err, "failed to issue unsubscribe token", "notification_id", n.ID.String())
			return msg
		}
		link := strings.TrimRight(s.cfg.UnsubscribeURL, "/") + "/" + url.PathEscape(issued.Secret)
		msg.Headers = map[string]string{
			"List-Unsubscribe": "<" + link + ">",
			// RFC 8058 one-click: mail clients POST to the same link.
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		}
	}
	return msg
}

// blocked returns ErrRecipientSuppressed or ErrRecipientOptedOut when n
// must not be sent, or a non-nil err when that could not be decided.
func (s *Service) blocked(ctx context.Context, n *model.EmailNotification) (reason error, err error) {
	suppressed, err := s.suppressions.IsSuppressed(ctx, n.ToEmail)
	if err != nil {
		return nil, fmt.Errorf("check suppression: %w", err)
	}
	if suppressed {
		return ErrRecipientSuppressed, nil
	}

	if s.optOuts != nil {
		out, err := s.optOuts.IsOptedOut(ctx, n.UserID, n.PersonID)
		if err != nil {
			return nil, fmt.Errorf("check opt-out: %w", err)
		}
		if out {
			return ErrRecipientOptedOut, nil
		}
	}
	return nil, nil
}

// RetryFailedEmails requeues FAILED rows below the retry ceiling, all of
// them when ids is nil. Rows at the ceiling are left alone.
func (s *Service) RetryFailedEmails(ctx context.Context, ids []uuid.UUID) (int64, error) {
	n, err := s.repo.RequeueFailed(ctx, ids, s.cfg.MaxRetries, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.EmailTransitions.WithLabelValues(string(model.EmailStatusQueued)).Add(float64(n))
	if n > 0 {
		s.log.WithContext(ctx).Info("failed notifications requeued", "count", n)
	}
	return n, nil
}

// ForceRetry requeues the named FAILED rows even at the ceiling and starts
// their retry count over.
func (s *Service) ForceRetry(ctx context.Context, ids []uuid.UUID) (int64, error) {
	n, err := s.repo.ForceRequeue(ctx, ids, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.EmailTransitions.WithLabelValues(string(model.EmailStatusQueued)).Add(float64(n))
	s.log.WithContext(ctx).Info("notifications force requeued", "requested", len(ids), "count", n)
	return n, nil
}

// UpdateEmailStatus applies a webhook or admin status change. Repeating
// the current status is a no-op apart from suppression side effects.
func (s *Service) UpdateEmailStatus(ctx context.Context, id uuid.UUID, status model.EmailStatus, upd model.StatusUpdate) (*model.EmailNotification, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, err := model.Transition(cur.Status, status)
	if err != nil {
		return nil, err
	}

	next := *cur
	if changed {
		s.apply(&next, status, upd)
		ok, err := s.repo.UpdateIfStatus(ctx, &next, cur.Status)
		if err != nil {
			return nil, err
		}
		if ok {
			s.metrics.EmailTransitions.WithLabelValues(string(status)).Inc()
			s.log.WithContext(ctx).Info("notification status updated",
				"notification_id", id.String(),
				"from", string(cur.Status),
				"to", string(status),
			)
		} else {
			// A concurrent update that landed on the same status makes this
			// call a repeat; anything else is a real conflict.
			latest, err := s.repo.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if latest.Status != status {
				return nil, fmt.Errorf("%w: %s", ErrStatusConflict, id)
			}
			next = *latest
		}
	}

	if err := s.suppressFromEvent(ctx, &next, upd); err != nil {
		return &next, err
	}
	return &next, nil
}

func (s *Service) apply(n *model.EmailNotification, status model.EmailStatus, upd model.StatusUpdate) {
	now := s.now()
	leaving := n.Status
	n.Status = status

	switch status {
	case model.EmailStatusSent:
		if n.SentAt == nil {
			n.SentAt = &now
		}
	case model.EmailStatusDelivered:
		n.DeliveredAt = &now
	case model.EmailStatusOpened:
		n.OpenedAt = &now
	case model.EmailStatusBounced:
		n.BounceType = optional(upd.BounceType)
		n.BounceSubType = optional(upd.BounceSubType)
	case model.EmailStatusFailed:
		msg := upd.ErrorMessage
		if msg == "" {
			msg = "marked failed"
		}
		n.ErrorMessage = &msg
		n.RetryCount = s.bumpRetry(n.RetryCount)
	}

	if leaving == model.EmailStatusFailed {
		n.ErrorMessage = nil
		n.BounceType = nil
		n.BounceSubType = nil
	}
}

func (s *Service) suppressFromEvent(ctx context.Context, n *model.EmailNotification, upd model.StatusUpdate) error {
	var entry *suppression.Entry
	switch {
	case upd.Complaint:
		entry = &suppression.Entry{Reason: model.ReasonSpamComplaint}
	case n.Status == model.EmailStatusBounced && n.BounceType != nil && *n.BounceType == model.BounceTypePermanent:
		entry = &suppression.Entry{
			Reason:     model.ReasonPermanentBounce,
			BounceType: model.BounceTypePermanent,
		}
		if n.BounceSubType != nil {
			entry.BounceSubType = *n.BounceSubType
		}
	default:
		return nil
	}

	entry.Email = n.ToEmail
	entry.Source = model.SuppressionSourceWebhook
	entry.Details = fmt.Sprintf("notification %s", n.ID)
	if _, err := s.suppressions.Add(ctx, *entry); err != nil {
		return fmt.Errorf("suppress %s: %w", n.ToEmail, err)
	}
	return nil
}

// GetEmailStats counts rows by status. Every status is present.
func (s *Service) GetEmailStats(ctx context.Context) (model.EmailStats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return model.EmailStats{}, err
	}

	stats := model.EmailStats{ByStatus: make(map[model.EmailStatus]int64, len(model.EmailStatuses))}
	for _, st := range model.EmailStatuses {
		stats.ByStatus[st] = counts[st]
		stats.Total += counts[st]
	}
	return stats, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.EmailNotification, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter model.EmailFilter) ([]*model.EmailNotification, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidNotification, filter.Status)
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) Delete(ctx context.Context, ids []uuid.UUID) (int64, error) {
	n, err := s.repo.Delete(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.log.WithContext(ctx).Info("notifications deleted", "requested", len(ids), "count", n)
	return n, nil
}

// RecoverStuck fails SENDING rows that have not moved for the configured
// window, e.g. after a worker crash mid-dispatch.
func (s *Service) RecoverStuck(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.repo.FailStuck(ctx, now.Add(-s.cfg.StuckAfter), msgInterrupted, s.cfg.MaxRetries, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.EmailTransitions.WithLabelValues(string(model.EmailStatusFailed)).Add(float64(n))
		s.log.WithContext(ctx).Warn("stuck notifications failed", "count", n)
	}
	return n, nil
}

func validate(n *model.EmailNotification) error {
	var problems []string
	if n.UserID == uuid.Nil {
		problems = append(problems, "user id is required")
	}
	if strings.TrimSpace(n.ToEmail) == "" {
		problems = append(problems, "recipient is required")
	}
	if strings.TrimSpace(n.Subject) == "" {
		problems = append(problems, "subject is required")
	}
	if n.HTMLContent == "" {
		problems = append(problems, "html content is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidNotification, strings.Join(problems, ", "))
	}
	return nil
}

func skipLabel(reason error) string {
	if errors.Is(reason, ErrRecipientOptedOut) {
		return "opted_out"
	}
	return "suppressed"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
