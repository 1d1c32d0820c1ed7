package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lanesync/lanesync/internal/metrics"
)

// Progress reports bootstrap progress after each entity type completes.
type Progress struct {
	Completed int
	Total     int
	Label     string
	Err       error // nil when this entity loaded cleanly
}

// ProgressFunc receives bootstrap progress updates.
type ProgressFunc func(Progress)

// Bootstrap runs a full replication pass across every registered
// repository in a fixed order. Triggered on first activation, by the
// operator's re-download action, and after a local wipe.
//
// A failure in one entity type is collected and reported but does not
// abort the remaining entities; the pass always finishes. The returned
// error is non-nil when any entity failed, wrapping every per-entity
// error.
type Bootstrap struct {
	repos    []*Repository
	pageSize int
	status   *Status
	metrics  *metrics.Metrics
	logger   *log.Logger
}

// NewBootstrap creates a bootstrap loader over repositories in the
// given order.
func NewBootstrap(repos []*Repository, pageSize int, status *Status, m *metrics.Metrics, logger *log.Logger) *Bootstrap {
	if logger == nil {
		logger = log.New(os.Stderr, "[bootstrap] ", log.LstdFlags)
	}
	return &Bootstrap{
		repos:    repos,
		pageSize: pageSize,
		status:   status,
		metrics:  m,
		logger:   logger,
	}
}

// Run executes the pass. progress may be nil.
func (b *Bootstrap) Run(ctx context.Context, progress ProgressFunc) error {
	total := len(b.repos)
	b.logger.Printf("Starting full sync across %d entity types", total)
	if b.metrics != nil {
		b.metrics.BootstrapRuns.Inc()
	}

	var failures []error
	for i, repo := range b.repos {
		count, err := repo.BulkLoad(ctx, b.pageSize)
		if err != nil {
			// Cancelled mid-pass: stop here, nothing more will
			// succeed and the operator asked us to.
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return fmt.Errorf("bootstrap cancelled during %s: %w", repo.Label(), err)
			}
			b.logger.Printf("WARNING: %s failed: %v", repo.Label(), err)
			failures = append(failures, fmt.Errorf("%s: %w", repo.Label(), err))
		} else {
			b.logger.Printf("Loaded %d records: %s", count, repo.Label())
		}

		if progress != nil {
			progress(Progress{Completed: i + 1, Total: total, Label: repo.Label(), Err: err})
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("bootstrap finished with %d of %d entity types failed: %w",
			len(failures), total, errors.Join(failures...))
	}

	if b.status != nil {
		b.status.recordFullSync(time.Now())
	}
	b.logger.Printf("Full sync complete")
	return nil
}
