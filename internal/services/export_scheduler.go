package services

import (
	"context"
	"errors"
	"time"
)

const (
	defaultExportInterval = 7 * 24 * time.Hour
	defaultExportLockWait = 30 * time.Second
)

// ErrExportBusy reports that another export run holds the scheduler lock.
var ErrExportBusy = errors.New("export: another run is in progress")

// ExportSchedulerDeps bundles collaborators for the periodic export loop.
type ExportSchedulerDeps struct {
	Exports  ExportService
	Interval time.Duration
	LockWait time.Duration
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// ExportScheduler runs batch exports on a fixed interval. A single in-process
// lock with a bounded wait keeps runs from overlapping; it does not guard
// against other instances of the service.
type ExportScheduler struct {
	exports  ExportService
	interval time.Duration
	lockWait time.Duration
	lock     chan struct{}
	logger   func(context.Context, string, map[string]any)
}

// NewExportScheduler constructs the scheduler around an export service.
func NewExportScheduler(deps ExportSchedulerDeps) (*ExportScheduler, error) {
	if deps.Exports == nil {
		return nil, errors.New("export scheduler: export service is required")
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = defaultExportInterval
	}

	lockWait := deps.LockWait
	if lockWait <= 0 {
		lockWait = defaultExportLockWait
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &ExportScheduler{
		exports:  deps.Exports,
		interval: interval,
		lockWait: lockWait,
		lock:     make(chan struct{}, 1),
		logger:   logger,
	}, nil
}

// Run blocks until ctx is cancelled, triggering a batch export every interval.
// It returns the context error that ended the loop.
func (s *ExportScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Trigger(ctx); err != nil && !errors.Is(err, ErrExportBusy) {
				s.logger(ctx, "export.run_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Trigger runs one batch export immediately, waiting up to the configured
// bound for the scheduler lock. A busy lock skips the run with ErrExportBusy.
func (s *ExportScheduler) Trigger(ctx context.Context) (ExportResult, error) {
	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case s.lock <- struct{}{}:
	case <-timer.C:
		s.logger(ctx, "export.run_skipped", map[string]any{"reason": "lock busy"})
		return ExportResult{}, ErrExportBusy
	case <-ctx.Done():
		return ExportResult{}, ctx.Err()
	}
	defer func() { <-s.lock }()

	return s.exports.ExportBatch(ctx)
}
