package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/snowflake"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// ReminderSettings
// =============================================================================

// ReminderSettingsAdapter implements out.ReminderSettingsRepository
type ReminderSettingsAdapter struct {
	ext sqlx.ExtContext
}

var _ out.ReminderSettingsRepository = (*ReminderSettingsAdapter)(nil)

func NewReminderSettingsAdapter(ext sqlx.ExtContext) *ReminderSettingsAdapter {
	return &ReminderSettingsAdapter{ext: ext}
}

func (r *ReminderSettingsAdapter) Get(ctx context.Context, userID uuid.UUID) (*domain.ReminderSettings, error) {
	query := `
		SELECT user_id, minutes_before, email_enabled, push_enabled, sms_enabled,
		       created_at, updated_at
		FROM reminder_settings
		WHERE user_id = $1`

	var row reminderSettingsRow
	if err := sqlx.GetContext(ctx, r.ext, &row, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reminder settings: %w", err)
	}
	return row.toDomain(), nil
}

func (r *ReminderSettingsAdapter) Upsert(ctx context.Context, settings *domain.ReminderSettings) error {
	now := time.Now().UTC()
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now

	minutes := make(pq.Int64Array, len(settings.MinutesBefore))
	for i, m := range settings.MinutesBefore {
		minutes[i] = int64(m)
	}

	query := `
		INSERT INTO reminder_settings (
			user_id, minutes_before, email_enabled, push_enabled, sms_enabled,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			minutes_before = EXCLUDED.minutes_before,
			email_enabled = EXCLUDED.email_enabled,
			push_enabled = EXCLUDED.push_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			updated_at = EXCLUDED.updated_at`

	_, err := r.ext.ExecContext(ctx, query,
		settings.UserID, minutes, settings.EmailEnabled, settings.PushEnabled,
		settings.SMSEnabled, settings.CreatedAt, settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert reminder settings: %w", err)
	}
	return nil
}

type reminderSettingsRow struct {
	UserID        uuid.UUID     `db:"user_id"`
	MinutesBefore pq.Int64Array `db:"minutes_before"`
	EmailEnabled  bool          `db:"email_enabled"`
	PushEnabled   bool          `db:"push_enabled"`
	SMSEnabled    bool          `db:"sms_enabled"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
}

func (row *reminderSettingsRow) toDomain() *domain.ReminderSettings {
	minutes := make([]int, len(row.MinutesBefore))
	for i, m := range row.MinutesBefore {
		minutes[i] = int(m)
	}
	return &domain.ReminderSettings{
		UserID:        row.UserID,
		MinutesBefore: minutes,
		EmailEnabled:  row.EmailEnabled,
		PushEnabled:   row.PushEnabled,
		SMSEnabled:    row.SMSEnabled,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

// =============================================================================
// ScheduledReminder
// =============================================================================

// ScheduledReminderAdapter implements out.ScheduledReminderRepository
type ScheduledReminderAdapter struct {
	ext sqlx.ExtContext
}

var _ out.ScheduledReminderRepository = (*ScheduledReminderAdapter)(nil)

func NewScheduledReminderAdapter(ext sqlx.ExtContext) *ScheduledReminderAdapter {
	return &ScheduledReminderAdapter{ext: ext}
}

const scheduledReminderColumns = `
	id, appointment_id, user_id, reminder_type, minutes_before, scheduled_for,
	status, partner_name, skill_name, appointment_time, meeting_link,
	claimed_by, sent_at, error_message, created_at, updated_at`

func (r *ScheduledReminderAdapter) CreateBatch(ctx context.Context, reminders []*domain.ScheduledReminder) error {
	if len(reminders) == 0 {
		return nil
	}

	query := `
		INSERT INTO scheduled_reminders (
			id, appointment_id, user_id, reminder_type, minutes_before, scheduled_for,
			status, partner_name, skill_name, appointment_time, meeting_link,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	now := time.Now().UTC()
	for _, rem := range reminders {
		if rem.ID == 0 {
			rem.ID = snowflake.ID()
		}
		if rem.CreatedAt.IsZero() {
			rem.CreatedAt = now
		}
		rem.UpdatedAt = now
		if rem.Status == "" {
			rem.Status = domain.ReminderPending
		}

		_, err := r.ext.ExecContext(ctx, query,
			rem.ID, rem.AppointmentID, rem.UserID, rem.ReminderType, rem.MinutesBefore,
			rem.ScheduledFor, rem.Status, rem.PartnerName, rem.SkillName,
			rem.AppointmentTime, nullString(rem.MeetingLink), rem.CreatedAt, rem.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create scheduled reminder: %w", err)
		}
	}
	return nil
}

func (r *ScheduledReminderAdapter) GetByID(ctx context.Context, id int64) (*domain.ScheduledReminder, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM scheduled_reminders WHERE id = $1`, scheduledReminderColumns)

	var row scheduledReminderRow
	if err := sqlx.GetContext(ctx, r.ext, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scheduled reminder: %w", err)
	}
	return row.toDomain(), nil
}

func (r *ScheduledReminderAdapter) ListByAppointment(ctx context.Context, appointmentID int64) ([]*domain.ScheduledReminder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scheduled_reminders
		WHERE appointment_id = $1
		ORDER BY scheduled_for ASC, id ASC`, scheduledReminderColumns)

	var rows []scheduledReminderRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, query, appointmentID); err != nil {
		return nil, fmt.Errorf("list scheduled reminders: %w", err)
	}

	out := make([]*domain.ScheduledReminder, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// ClaimDue is the idempotence gate of the reminder processor: a conditional
// update moves due Pending rows to Dispatching. SKIP LOCKED keeps multiple
// processors from blocking on the same rows; rows another worker already
// claimed no longer match status = 'pending' and are skipped.
func (r *ScheduledReminderAdapter) ClaimDue(ctx context.Context, now time.Time, limit int, workerID string) ([]*domain.ScheduledReminder, error) {
	query := fmt.Sprintf(`
		UPDATE scheduled_reminders SET
			status = 'dispatching',
			claimed_by = $3,
			updated_at = $1
		WHERE id IN (
			SELECT id FROM scheduled_reminders
			WHERE status = 'pending' AND scheduled_for <= $1
			ORDER BY scheduled_for ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, scheduledReminderColumns)

	var rows []scheduledReminderRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, query, now, limit, workerID); err != nil {
		return nil, fmt.Errorf("claim due reminders: %w", err)
	}

	claimed := make([]*domain.ScheduledReminder, 0, len(rows))
	for i := range rows {
		claimed = append(claimed, rows[i].toDomain())
	}
	return claimed, nil
}

func (r *ScheduledReminderAdapter) CountDue(ctx context.Context, now time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM scheduled_reminders WHERE status = 'pending' AND scheduled_for <= $1`

	var count int64
	if err := sqlx.GetContext(ctx, r.ext, &count, query, now); err != nil {
		return 0, fmt.Errorf("count due reminders: %w", err)
	}
	return count, nil
}

func (r *ScheduledReminderAdapter) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	query := `
		UPDATE scheduled_reminders SET status = 'sent', sent_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'dispatching'`

	res, err := r.ext.ExecContext(ctx, query, id, sentAt)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ScheduledReminderAdapter) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE scheduled_reminders SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'dispatching'`

	res, err := r.ext.ExecContext(ctx, query, id, errorMessage)
	if err != nil {
		return fmt.Errorf("mark reminder failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ScheduledReminderAdapter) CancelPending(ctx context.Context, appointmentID int64) error {
	query := `
		UPDATE scheduled_reminders SET status = 'cancelled', updated_at = NOW()
		WHERE appointment_id = $1 AND status IN ('pending', 'dispatching')`

	if _, err := r.ext.ExecContext(ctx, query, appointmentID); err != nil {
		return fmt.Errorf("cancel pending reminders: %w", err)
	}
	return nil
}

func (r *ScheduledReminderAdapter) Update(ctx context.Context, rem *domain.ScheduledReminder) error {
	rem.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE scheduled_reminders SET
			status = $2, sent_at = $3, error_message = $4, updated_at = $5
		WHERE id = $1`

	res, err := r.ext.ExecContext(ctx, query,
		rem.ID, rem.Status, rem.SentAt, rem.ErrorMessage, rem.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update scheduled reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scheduledReminderRow struct {
	ID              int64          `db:"id"`
	AppointmentID   int64          `db:"appointment_id"`
	UserID          uuid.UUID      `db:"user_id"`
	ReminderType    string         `db:"reminder_type"`
	MinutesBefore   int            `db:"minutes_before"`
	ScheduledFor    time.Time      `db:"scheduled_for"`
	Status          string         `db:"status"`
	PartnerName     string         `db:"partner_name"`
	SkillName       string         `db:"skill_name"`
	AppointmentTime time.Time      `db:"appointment_time"`
	MeetingLink     sql.NullString `db:"meeting_link"`
	ClaimedBy       sql.NullString `db:"claimed_by"`
	SentAt          sql.NullTime   `db:"sent_at"`
	ErrorMessage    sql.NullString `db:"error_message"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (row *scheduledReminderRow) toDomain() *domain.ScheduledReminder {
	rem := &domain.ScheduledReminder{
		ID:              row.ID,
		AppointmentID:   row.AppointmentID,
		UserID:          row.UserID,
		ReminderType:    domain.ReminderChannel(row.ReminderType),
		MinutesBefore:   row.MinutesBefore,
		ScheduledFor:    row.ScheduledFor,
		Status:          domain.ReminderStatus(row.Status),
		PartnerName:     row.PartnerName,
		SkillName:       row.SkillName,
		AppointmentTime: row.AppointmentTime,
		MeetingLink:     row.MeetingLink.String,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.ClaimedBy.Valid {
		rem.ClaimedBy = &row.ClaimedBy.String
	}
	if row.SentAt.Valid {
		rem.SentAt = &row.SentAt.Time
	}
	if row.ErrorMessage.Valid {
		rem.ErrorMessage = &row.ErrorMessage.String
	}
	return rem
}
