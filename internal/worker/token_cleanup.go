package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/towndir/pkg/logger"
)

// TokenStore is what the cleanup worker needs from the token service.
type TokenStore interface {
	CleanupExpired(ctx context.Context, before time.Time) (int64, error)
	Now() time.Time
}

type TokenCleanupWorker struct {
	tokens   TokenStore
	interval time.Duration
	logger   *logger.Logger
}

func NewTokenCleanupWorker(tokens TokenStore, interval time.Duration, logger *logger.Logger) *TokenCleanupWorker {
	return &TokenCleanupWorker{
		tokens:   tokens,
		interval: interval,
		logger:   logger,
	}
}

func (w *TokenCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.cleanup(ctx); err != nil {
				// Log error but continue
				w.logger.Error(err, "Error cleaning up expired tokens")
			}
		}
	}
}

func (w *TokenCleanupWorker) cleanup(ctx context.Context) (int64, error) {
	cutoff := w.tokens.Now()

	rows, err := w.tokens.CleanupExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup tokens: %w", err)
	}

	if rows > 0 {
		w.logger.Info("Cleaned up expired tokens", "count", rows, "cutoff", cutoff.Format(time.RFC3339))
	}
	return rows, nil
}
