package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"skillswap_server/core/port/out"
	"skillswap_server/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// serializationBackoff is the wait schedule between transaction retries.
var serializationBackoff = []time.Duration{
	50 * time.Millisecond,
	200 * time.Millisecond,
	1 * time.Second,
}

// repositories bundles every adapter over one sqlx executor, which is
// either the root *sqlx.DB or an open *sqlx.Tx.
type repositories struct {
	connections  *ConnectionAdapter
	series       *SeriesAdapter
	appointments *AppointmentAdapter
	settings     *ReminderSettingsAdapter
	reminders    *ScheduledReminderAdapter
	integrations *CalendarIntegrationAdapter
	outbox       *OutboxAdapter
	mirrors      *CalendarEventMirrorAdapter
}

func newRepositories(ext sqlx.ExtContext) *repositories {
	return &repositories{
		connections:  NewConnectionAdapter(ext),
		series:       NewSeriesAdapter(ext),
		appointments: NewAppointmentAdapter(ext),
		settings:     NewReminderSettingsAdapter(ext),
		reminders:    NewScheduledReminderAdapter(ext),
		integrations: NewCalendarIntegrationAdapter(ext),
		outbox:       NewOutboxAdapter(ext),
		mirrors:      NewCalendarEventMirrorAdapter(ext),
	}
}

func (r *repositories) Connections() out.ConnectionRepository                { return r.connections }
func (r *repositories) Series() out.SeriesRepository                         { return r.series }
func (r *repositories) Appointments() out.AppointmentRepository              { return r.appointments }
func (r *repositories) ReminderSettings() out.ReminderSettingsRepository    { return r.settings }
func (r *repositories) ScheduledReminders() out.ScheduledReminderRepository { return r.reminders }
func (r *repositories) Outbox() out.OutboxRepository                        { return r.outbox }

func (r *repositories) CalendarIntegrations() out.CalendarIntegrationRepository {
	return r.integrations
}

func (r *repositories) CalendarEventMirrors() out.CalendarEventMirrorRepository {
	return r.mirrors
}

// UnitOfWork implements out.UnitOfWork over sqlx. Commands run under
// REPEATABLE READ and are retried on serialization failure, so the
// callback must be safe to re-execute.
type UnitOfWork struct {
	db   *sqlx.DB
	read *repositories
}

var _ out.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(db *sqlx.DB) *UnitOfWork {
	return &UnitOfWork{db: db, read: newRepositories(db)}
}

func (u *UnitOfWork) Read() out.RepositoryTx {
	return u.read
}

func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(tx out.RepositoryTx) error) error {
	var lastErr error

	for attempt := 0; attempt <= len(serializationBackoff); attempt++ {
		if attempt > 0 {
			logger.WithField("attempt", attempt).Warn("retrying transaction after serialization failure")
			select {
			case <-time.After(serializationBackoff[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = u.runOnce(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !isSerializationFailure(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("transaction aborted after %d retries: %w", len(serializationBackoff), lastErr)
}

func (u *UnitOfWork) runOnce(ctx context.Context, fn func(tx out.RepositoryTx) error) error {
	tx, err := u.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(newRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
