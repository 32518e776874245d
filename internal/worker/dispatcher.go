package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/pkg/logger"
	"github.com/jwalitptl/towndir/pkg/metrics"
)

// Pipeline is the part of the notification service the dispatcher drives.
type Pipeline interface {
	DispatchDue(ctx context.Context, limit int) (model.SendReport, error)
	RecoverStuck(ctx context.Context) (int64, error)
	RetryFailedEmails(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type DispatcherConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// AutoRetry requeues failed rows below the ceiling on every tick.
	AutoRetry bool
}

type Dispatcher struct {
	pipeline Pipeline
	config   DispatcherConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(pipeline Pipeline, config DispatcherConfig, logger *logger.Logger, metrics *metrics.Metrics) (*Dispatcher, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("dispatcher: batch size must be greater than 0")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("dispatcher: poll interval must be greater than 0")
	}

	return &Dispatcher{
		pipeline: pipeline,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Start polls until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Info("Starting email dispatcher",
		"batch_size", d.config.BatchSize,
		"poll_interval", d.config.PollInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutting down email dispatcher")
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error(err, "Failed to dispatch emails")
			}
		}
	}
}

// RunOnce performs one tick: recover stuck rows, optionally requeue failed
// rows, then send one batch.
func (d *Dispatcher) RunOnce(ctx context.Context) (model.SendReport, error) {
	if n, err := d.pipeline.RecoverStuck(ctx); err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("recover_stuck", "error").Inc()
		d.logger.Error(err, "Failed to recover stuck emails")
	} else if n > 0 {
		d.metrics.DatabaseOperations.WithLabelValues("recover_stuck", "success").Inc()
	}

	if d.config.AutoRetry {
		if _, err := d.pipeline.RetryFailedEmails(ctx, nil); err != nil {
			d.logger.Error(err, "Failed to requeue failed emails")
		}
	}

	report, err := d.pipeline.DispatchDue(ctx, d.config.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to dispatch due emails: %w", err)
	}
	if report.Sent+report.Failed+report.Skipped > 0 {
		d.logger.Info("Dispatched emails",
			"sent", report.Sent,
			"failed", report.Failed,
			"skipped", report.Skipped,
		)
	}
	return report, nil
}
