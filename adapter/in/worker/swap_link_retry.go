// Package worker holds the background loops of the orchestrator: the
// meeting-link retry loop and the calendar mirror consumer. The reminder
// processor and outbox dispatcher live next to their services.
package worker

import (
	"context"
	"math/rand"
	"time"

	"skillswap_server/core/port/out"
	"skillswap_server/pkg/clock"

	"github.com/rs/zerolog"
)

// LinkAttacher is the slice of the session service this loop drives.
// Satisfied by *session.Service.
type LinkAttacher interface {
	AttachMeetingLink(ctx context.Context, appointmentID int64)
}

// LinkRetryConfig tunes the meeting-link retry loop.
type LinkRetryConfig struct {
	BaseDelay time.Duration // first retry delay, default 30s
	CapDelay  time.Duration // backoff ceiling, default 30m
	BatchSize int
}

// LinkRetryLoop re-attempts meeting link generation for appointments the
// synchronous path could not link. Backoff doubles per attempt from
// BaseDelay up to CapDelay, with ±20% jitter so retries never align
// across appointments.
type LinkRetryLoop struct {
	uow      out.UnitOfWork
	sessions LinkAttacher
	clk      clock.Clock
	cfg      LinkRetryConfig
	log      zerolog.Logger

	attempts map[int64]int
	nextTry  map[int64]time.Time
}

func NewLinkRetryLoop(uow out.UnitOfWork, sessions LinkAttacher, clk clock.Clock, cfg LinkRetryConfig, log zerolog.Logger) *LinkRetryLoop {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 30 * time.Second
	}
	if cfg.CapDelay <= 0 {
		cfg.CapDelay = 30 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &LinkRetryLoop{
		uow:      uow,
		sessions: sessions,
		clk:      clk,
		cfg:      cfg,
		log:      log.With().Str("component", "link_retry").Logger(),
		attempts: make(map[int64]int),
		nextTry:  make(map[int64]time.Time),
	}
}

// Run ticks at the base delay until the context is cancelled.
func (l *LinkRetryLoop) Run(ctx context.Context) {
	l.log.Info().
		Dur("base_delay", l.cfg.BaseDelay).
		Dur("cap_delay", l.cfg.CapDelay).
		Msg("starting meeting link retry loop")

	ticker := time.NewTicker(l.cfg.BaseDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(ctx)
		}
	}
}

// Sweep retries every unlinked appointment whose backoff has elapsed.
func (l *LinkRetryLoop) Sweep(ctx context.Context) {
	appts, err := l.uow.Read().Appointments().ListWithoutMeetingLink(ctx, l.cfg.BatchSize)
	if err != nil {
		l.log.Error().Err(err).Msg("unlinked appointment lookup failed")
		return
	}

	now := l.clk.Now()
	seen := make(map[int64]bool, len(appts))

	for _, appt := range appts {
		seen[appt.ID] = true
		if appt.IsTerminal() {
			l.forget(appt.ID)
			continue
		}
		if due, ok := l.nextTry[appt.ID]; ok && now.Before(due) {
			continue
		}

		l.sessions.AttachMeetingLink(ctx, appt.ID)

		linked, err := l.linked(ctx, appt.ID)
		if err != nil {
			l.log.Error().Err(err).Int64("appointment_id", appt.ID).Msg("link state check failed")
			continue
		}
		if linked {
			l.forget(appt.ID)
			continue
		}

		l.attempts[appt.ID]++
		delay := l.backoff(l.attempts[appt.ID])
		l.nextTry[appt.ID] = now.Add(delay)
		l.log.Warn().
			Int64("appointment_id", appt.ID).
			Int("attempt", l.attempts[appt.ID]).
			Dur("next_retry_in", delay).
			Msg("meeting link retry failed")
	}

	// appointments that dropped out of the unlinked set are done
	for id := range l.attempts {
		if !seen[id] {
			l.forget(id)
		}
	}
}

func (l *LinkRetryLoop) linked(ctx context.Context, appointmentID int64) (bool, error) {
	appt, err := l.uow.Read().Appointments().GetByID(ctx, appointmentID)
	if err != nil {
		return false, err
	}
	return appt == nil || appt.MeetingLink != nil || appt.IsTerminal(), nil
}

func (l *LinkRetryLoop) forget(appointmentID int64) {
	delete(l.attempts, appointmentID)
	delete(l.nextTry, appointmentID)
}

// backoff doubles the base delay per attempt, capped, with ±20% jitter.
func (l *LinkRetryLoop) backoff(attempt int) time.Duration {
	delay := l.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= l.cfg.CapDelay {
			delay = l.cfg.CapDelay
			break
		}
	}

	jitter := 0.8 + 0.4*rand.Float64()
	delay = time.Duration(float64(delay) * jitter)
	if delay > l.cfg.CapDelay {
		delay = l.cfg.CapDelay
	}
	return delay
}
