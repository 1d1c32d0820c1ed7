package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lanesync/lanesync/internal/docstore"
	"github.com/lanesync/lanesync/internal/entity"
	"github.com/lanesync/lanesync/internal/gateway"
	"github.com/lanesync/lanesync/internal/metrics"
)

// OutboundConfig configures the outbound retry manager.
type OutboundConfig struct {
	// Interval between retry passes. Coarser than the heartbeat.
	// Default 5 minutes.
	Interval time.Duration

	// MaxElapsed bounds the backoff retries for a single record within
	// one pass. Default 30 seconds.
	MaxElapsed time.Duration

	// InitialBackoff is the first retry delay within a pass. Default
	// 500ms.
	InitialBackoff time.Duration

	// SessionActive reports whether an operator session is active.
	// Scheduled passes only run while it returns true; nil means
	// always active.
	SessionActive func() bool

	// Logger for retry activity.
	Logger *log.Logger
}

// Outbound owns locally authored records until the remote system
// acknowledges them. Records live in their own collection, separate
// from replicated reference data, and are deleted locally only on an
// acknowledged push: the remote system then becomes the sole owner.
type Outbound struct {
	store   *docstore.Store
	gw      gateway.Gateway
	status  *Status
	metrics *metrics.Metrics
	logger  *log.Logger
	config  OutboundConfig

	trigger chan struct{}
}

// NewOutbound creates the retry manager.
func NewOutbound(store *docstore.Store, gw gateway.Gateway, status *Status, m *metrics.Metrics, config OutboundConfig) *Outbound {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.MaxElapsed <= 0 {
		config.MaxElapsed = 30 * time.Second
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[outbound] ", log.LstdFlags)
	}

	return &Outbound{
		store:   store,
		gw:      gw,
		status:  status,
		metrics: m,
		logger:  config.Logger,
		config:  config,
		trigger: make(chan struct{}, 1),
	}
}

// Record stores a completed transaction for transmission. Called by the
// checkout workflow the moment a sale is finalized; transmission itself
// happens on the retry schedule or the next immediate trigger.
func (o *Outbound) Record(ctx context.Context, tx *entity.Transaction) error {
	if tx.State == "" {
		tx.State = entity.OutboundPending
	}
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid outbound transaction: %w", err)
	}

	body, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction %s: %w", tx.ID, err)
	}
	if err := o.store.Put(ctx, entity.CollectionOutbound, docstore.Canonical(tx.ID), body); err != nil {
		return err
	}

	o.logger.Printf("Recorded transaction for transmission: %s (%d cents)", tx.ID, tx.TotalCents)
	o.refreshStatus(ctx)
	return nil
}

// PendingCount returns the number of records awaiting transmission.
func (o *Outbound) PendingCount(ctx context.Context) (int, error) {
	return o.store.Count(ctx, entity.CollectionOutbound)
}

// TriggerNow schedules an immediate pass, bypassing the interval. Used
// when connectivity is regained.
func (o *Outbound) TriggerNow() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run executes scheduled passes until ctx is cancelled. Scheduled
// passes are skipped while no operator session is active; triggered
// passes run regardless, since a connectivity recovery should flush
// the queue even from the lock screen.
func (o *Outbound) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if o.config.SessionActive != nil && !o.config.SessionActive() {
				continue
			}
			if err := o.RunOnce(ctx); err != nil {
				o.logger.Printf("Retry pass failed: %v", err)
			}

		case <-o.trigger:
			if err := o.RunOnce(ctx); err != nil {
				o.logger.Printf("Triggered pass failed: %v", err)
			}
		}
	}
}

// RunOnce scans every record awaiting transmission and attempts
// delivery. One record's failure never blocks the others.
func (o *Outbound) RunOnce(ctx context.Context) error {
	docs, err := o.store.List(ctx, entity.CollectionOutbound)
	if err != nil {
		return fmt.Errorf("failed to scan outbound records: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}

	o.logger.Printf("Retrying %d outbound records", len(docs))

	var sent, failed int
	for _, doc := range docs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.sendOne(ctx, doc); err != nil {
			failed++
			o.logger.Printf("Failed to transmit %s: %v", doc.Key.ID, err)
		} else {
			sent++
		}
	}

	o.logger.Printf("Retry pass done: sent=%d failed=%d", sent, failed)
	o.refreshStatus(ctx)
	return nil
}

// sendOne pushes a single record with bounded backoff. On acknowledged
// success the local copy (lines and payments embedded) is deleted; on
// failure the record is marked errored with an incremented attempt
// count for the next pass.
func (o *Outbound) sendOne(ctx context.Context, doc docstore.Document) error {
	var tx entity.Transaction
	if err := json.Unmarshal(doc.Body, &tx); err != nil {
		return fmt.Errorf("failed to decode outbound record %s: %w", doc.Key.ID, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.config.InitialBackoff
	policy.MaxElapsedTime = o.config.MaxElapsed

	pushErr := backoff.Retry(func() error {
		err := o.gw.Push(ctx, gateway.OutboundRecord{
			ID:   tx.ID,
			Kind: entity.TypeTransaction,
			Body: doc.Body,
		})
		if err != nil && !gateway.IsNetwork(err) {
			// Non-transport failures will not heal within this pass.
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))

	if pushErr != nil {
		if o.metrics != nil {
			o.metrics.OutboundPushes.WithLabelValues("failure").Inc()
		}
		now := time.Now()
		tx.State = entity.OutboundErrored
		tx.Attempts++
		tx.LastError = pushErr.Error()
		tx.LastAttemptAt = &now

		body, err := json.Marshal(&tx)
		if err != nil {
			return fmt.Errorf("failed to re-marshal record %s: %w", tx.ID, err)
		}
		if err := o.store.Put(ctx, entity.CollectionOutbound, doc.Key, body); err != nil {
			return err
		}
		return pushErr
	}

	if o.metrics != nil {
		o.metrics.OutboundPushes.WithLabelValues("success").Inc()
	}
	if err := o.store.Delete(ctx, entity.CollectionOutbound, doc.Key); err != nil {
		return fmt.Errorf("pushed %s but failed to remove local copy: %w", tx.ID, err)
	}
	o.logger.Printf("Transmitted and cleared transaction: %s", tx.ID)
	return nil
}

func (o *Outbound) refreshStatus(ctx context.Context) {
	if o.status == nil {
		return
	}
	count, err := o.PendingCount(ctx)
	if err != nil {
		return
	}
	o.status.setPendingOutbound(count)
	if o.metrics != nil {
		o.metrics.PendingOutbound.Set(float64(count))
	}
}
