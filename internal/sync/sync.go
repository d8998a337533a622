// Package sync periodically backs up every dashboard and component as JSONL
// to S3 and/or a git repository.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	writeAttempts    = 3
	defaultRetryWait = 500 * time.Millisecond
)

// Destination is a backup target.
type Destination interface {
	// Name identifies the destination in logs, e.g. "s3://bucket/key".
	Name() string
	Write(ctx context.Context, snap *Snapshot) error
}

// Scheduler exports on an interval and writes each export to every
// destination that does not already hold the same content.
type Scheduler struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger
	retryWait    time.Duration

	mu      sync.Mutex
	written map[string]string // destination name -> digest last written

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from src to the given
// destinations at the specified interval.
func NewScheduler(src Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		source:       src,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		retryWait:    defaultRetryWait,
		written:      make(map[string]string),
	}
}

// Start runs a sync immediately, then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current sync (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.syncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *Scheduler) syncOnce(ctx context.Context) {
	snap, err := s.RunOnce(ctx)
	if snap == nil {
		s.logger.Error("sync export failed", "err", err)
		return
	}
	if err != nil {
		s.logger.Error("sync incomplete", "err", err)
		return
	}
	s.logger.Info("sync completed",
		"dashboards", snap.Dashboards,
		"components", snap.Components,
		"bytes", len(snap.Data),
	)
}

// RunOnce exports once and writes the snapshot to each destination whose
// last successful write had a different digest. A destination that fails
// is retried a few times, then again on the next run. The snapshot is nil
// only when the export itself failed.
func (s *Scheduler) RunOnce(ctx context.Context) (*Snapshot, error) {
	snap, err := Export(ctx, s.source)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	var errs []error
	for _, d := range s.destinations {
		name := d.Name()
		s.mu.Lock()
		same := s.written[name] == snap.Digest
		s.mu.Unlock()
		if same {
			s.logger.Debug("sync destination unchanged", "destination", name)
			continue
		}
		if err := s.write(ctx, d, snap); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		s.mu.Lock()
		s.written[name] = snap.Digest
		s.mu.Unlock()
	}
	return snap, errors.Join(errs...)
}

func (s *Scheduler) write(ctx context.Context, d Destination, snap *Snapshot) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryWait
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, d.Write(ctx, snap)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(writeAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Warn("sync write failed", "destination", d.Name(), "err", err, "retry_in", wait)
		}),
	)
	return err
}
