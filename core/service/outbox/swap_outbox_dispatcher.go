// Package outbox relays committed domain events from the database to the
// stream broker. Events reach the outbox table inside the transaction that
// produced them, so dispatch is at-least-once and never publishes a state
// change that later rolled back.
package outbox

import (
	"context"
	"fmt"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/clock"
	"skillswap_server/pkg/logger"
)

// DispatcherConfig tunes the relay loop.
type DispatcherConfig struct {
	TickInterval time.Duration
	BatchSize    int
}

// Dispatcher polls the outbox table and publishes pending events in id
// order, which preserves per-aggregate FIFO. A publish failure stops the
// batch so ordering survives; the failed event is retried on the next tick.
type Dispatcher struct {
	uow       out.UnitOfWork
	publisher out.EventPublisher
	archive   out.EventArchive
	clk       clock.Clock
	cfg       DispatcherConfig
}

func NewDispatcher(uow out.UnitOfWork, publisher out.EventPublisher, archive out.EventArchive, clk clock.Clock, cfg DispatcherConfig) *Dispatcher {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Dispatcher{uow: uow, publisher: publisher, archive: archive, clk: clk, cfg: cfg}
}

// Run blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	logger.WithField("tick", d.cfg.TickInterval.String()).Info("outbox dispatcher started")

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if err := d.DispatchPending(ctx); err != nil {
				logger.WithError(err).Error("outbox dispatch failed")
			}
		}
	}
}

// DispatchPending publishes one batch of pending events.
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	repo := d.uow.Read().Outbox()

	events, err := repo.FetchPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch pending events: %w", err)
	}

	for _, event := range events {
		if err := d.publisher.Publish(ctx, event); err != nil {
			if markErr := repo.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
				logger.WithError(markErr).WithField("event_id", event.ID).Error("mark outbox event failed")
			}
			// stop the batch: later events of the same aggregate must not
			// overtake this one
			return fmt.Errorf("publish event %d (%s): %w", event.ID, event.EventType, err)
		}

		if err := repo.MarkDispatched(ctx, event.ID, d.clk.Now()); err != nil {
			logger.WithError(err).WithField("event_id", event.ID).Error("mark outbox event dispatched")
		}
		d.archiveEvent(ctx, event)
	}
	return nil
}

func (d *Dispatcher) archiveEvent(ctx context.Context, event *domain.OutboxEvent) {
	if d.archive == nil {
		return
	}
	if err := d.archive.Archive(ctx, event); err != nil {
		logger.WithError(err).
			WithField("event_id", event.ID).
			WithField("event_type", string(event.EventType)).
			Warn("event archive write failed")
	}
}
