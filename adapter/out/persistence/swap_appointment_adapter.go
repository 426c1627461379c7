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

// AppointmentAdapter implements out.AppointmentRepository
type AppointmentAdapter struct {
	ext sqlx.ExtContext
}

var _ out.AppointmentRepository = (*AppointmentAdapter)(nil)

func NewAppointmentAdapter(ext sqlx.ExtContext) *AppointmentAdapter {
	return &AppointmentAdapter{ext: ext}
}

const appointmentColumns = `
	id, session_series_id, session_number, title, scheduled_date, duration_minutes,
	organizer_user_id, participant_user_id, meeting_link, status, previous_status,
	cancelled_by, cancel_reason, reschedule_requested_by, proposed_date,
	proposed_duration, reschedule_reason, no_show_user_ids, no_show_reported_by,
	is_auto_created, is_late_cancellation, terminated_at,
	created_at, updated_at, is_deleted, deleted_at`

const appointmentInsert = `
	INSERT INTO session_appointments (
		id, session_series_id, session_number, title, scheduled_date, duration_minutes,
		organizer_user_id, participant_user_id, meeting_link, status, previous_status,
		cancelled_by, cancel_reason, reschedule_requested_by, proposed_date,
		proposed_duration, reschedule_reason, no_show_user_ids, no_show_reported_by,
		is_auto_created, is_late_cancellation, terminated_at, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24
	)`

func (r *AppointmentAdapter) Create(ctx context.Context, appt *domain.SessionAppointment) error {
	prepareAppointment(appt)

	_, err := r.ext.ExecContext(ctx, appointmentInsert, appointmentArgs(appt)...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

func (r *AppointmentAdapter) CreateBatch(ctx context.Context, appts []*domain.SessionAppointment) error {
	for _, appt := range appts {
		if err := r.Create(ctx, appt); err != nil {
			return err
		}
	}
	return nil
}

func (r *AppointmentAdapter) GetByID(ctx context.Context, id int64) (*domain.SessionAppointment, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM session_appointments WHERE id = $1 AND is_deleted = FALSE`, appointmentColumns)

	var row appointmentRow
	if err := sqlx.GetContext(ctx, r.ext, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return row.toDomain(), nil
}

func (r *AppointmentAdapter) ListBySeries(ctx context.Context, seriesID int64) ([]*domain.SessionAppointment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM session_appointments
		WHERE session_series_id = $1 AND is_deleted = FALSE
		ORDER BY session_number ASC`, appointmentColumns)

	return r.list(ctx, query, seriesID)
}

func (r *AppointmentAdapter) ListByUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.SessionAppointment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM session_appointments
		WHERE (organizer_user_id = $1 OR participant_user_id = $1)
		  AND scheduled_date >= $2 AND scheduled_date < $3
		  AND is_deleted = FALSE
		ORDER BY scheduled_date ASC`, appointmentColumns)

	return r.list(ctx, query, userID, from, to)
}

func (r *AppointmentAdapter) NextSessionNumber(ctx context.Context, seriesID int64) (int, error) {
	query := `
		SELECT COALESCE(MAX(session_number), 0) + 1
		FROM session_appointments
		WHERE session_series_id = $1 AND is_deleted = FALSE`

	var next int
	if err := sqlx.GetContext(ctx, r.ext, &next, query, seriesID); err != nil {
		return 0, fmt.Errorf("next session number: %w", err)
	}
	return next, nil
}

func (r *AppointmentAdapter) ListWithoutMeetingLink(ctx context.Context, limit int) ([]*domain.SessionAppointment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM session_appointments
		WHERE meeting_link IS NULL
		  AND status IN ('scheduled', 'confirmed')
		  AND is_deleted = FALSE
		ORDER BY scheduled_date ASC
		LIMIT $1`, appointmentColumns)

	return r.list(ctx, query, limit)
}

func (r *AppointmentAdapter) Update(ctx context.Context, appt *domain.SessionAppointment) error {
	appt.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE session_appointments SET
			title = $2,
			scheduled_date = $3,
			duration_minutes = $4,
			meeting_link = $5,
			status = $6,
			previous_status = $7,
			cancelled_by = $8,
			cancel_reason = $9,
			reschedule_requested_by = $10,
			proposed_date = $11,
			proposed_duration = $12,
			reschedule_reason = $13,
			no_show_user_ids = $14,
			no_show_reported_by = $15,
			is_late_cancellation = $16,
			terminated_at = $17,
			updated_at = $18
		WHERE id = $1 AND is_deleted = FALSE`

	res, err := r.ext.ExecContext(ctx, query,
		appt.ID, appt.Title, appt.ScheduledDate, appt.DurationMinutes,
		appt.MeetingLink, appt.Status, statusPtr(appt.PreviousStatus),
		appt.CancelledBy, appt.CancelReason, appt.RescheduleRequestedBy,
		appt.ProposedDate, appt.ProposedDuration, appt.RescheduleReason,
		uuidArray(appt.NoShowUserIDs), appt.NoShowReportedBy,
		appt.IsLateCancellation, appt.TerminatedAt, appt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AppointmentAdapter) list(ctx context.Context, query string, args ...any) ([]*domain.SessionAppointment, error) {
	var rows []appointmentRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	appts := make([]*domain.SessionAppointment, 0, len(rows))
	for i := range rows {
		appts = append(appts, rows[i].toDomain())
	}
	return appts, nil
}

func prepareAppointment(appt *domain.SessionAppointment) {
	if appt.ID == 0 {
		appt.ID = snowflake.ID()
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	if appt.Status == "" {
		appt.Status = domain.AppointmentScheduled
	}
}

func appointmentArgs(appt *domain.SessionAppointment) []any {
	return []any{
		appt.ID, appt.SessionSeriesID, appt.SessionNumber, appt.Title,
		appt.ScheduledDate, appt.DurationMinutes,
		appt.OrganizerID, appt.ParticipantID, appt.MeetingLink,
		appt.Status, statusPtr(appt.PreviousStatus),
		appt.CancelledBy, appt.CancelReason, appt.RescheduleRequestedBy,
		appt.ProposedDate, appt.ProposedDuration, appt.RescheduleReason,
		uuidArray(appt.NoShowUserIDs), appt.NoShowReportedBy,
		appt.IsAutoCreated, appt.IsLateCancellation, appt.TerminatedAt,
		appt.CreatedAt, appt.UpdatedAt,
	}
}

func statusPtr(s *domain.AppointmentStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func uuidArray(ids []uuid.UUID) pq.StringArray {
	if len(ids) == 0 {
		return nil
	}
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

type appointmentRow struct {
	ID                    int64          `db:"id"`
	SessionSeriesID       int64          `db:"session_series_id"`
	SessionNumber         int            `db:"session_number"`
	Title                 string         `db:"title"`
	ScheduledDate         time.Time      `db:"scheduled_date"`
	DurationMinutes       int            `db:"duration_minutes"`
	OrganizerID           uuid.UUID      `db:"organizer_user_id"`
	ParticipantID         uuid.UUID      `db:"participant_user_id"`
	MeetingLink           sql.NullString `db:"meeting_link"`
	Status                string         `db:"status"`
	PreviousStatus        sql.NullString `db:"previous_status"`
	CancelledBy           *uuid.UUID     `db:"cancelled_by"`
	CancelReason          sql.NullString `db:"cancel_reason"`
	RescheduleRequestedBy *uuid.UUID     `db:"reschedule_requested_by"`
	ProposedDate          sql.NullTime   `db:"proposed_date"`
	ProposedDuration      sql.NullInt64  `db:"proposed_duration"`
	RescheduleReason      sql.NullString `db:"reschedule_reason"`
	NoShowUserIDs         pq.StringArray `db:"no_show_user_ids"`
	NoShowReportedBy      *uuid.UUID     `db:"no_show_reported_by"`
	IsAutoCreated         bool           `db:"is_auto_created"`
	IsLateCancellation    bool           `db:"is_late_cancellation"`
	TerminatedAt          sql.NullTime   `db:"terminated_at"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
	IsDeleted             bool           `db:"is_deleted"`
	DeletedAt             sql.NullTime   `db:"deleted_at"`
}

func (row *appointmentRow) toDomain() *domain.SessionAppointment {
	appt := &domain.SessionAppointment{
		ID:                    row.ID,
		SessionSeriesID:       row.SessionSeriesID,
		SessionNumber:         row.SessionNumber,
		Title:                 row.Title,
		ScheduledDate:         row.ScheduledDate,
		DurationMinutes:       row.DurationMinutes,
		OrganizerID:           row.OrganizerID,
		ParticipantID:         row.ParticipantID,
		Status:                domain.AppointmentStatus(row.Status),
		CancelledBy:           row.CancelledBy,
		RescheduleRequestedBy: row.RescheduleRequestedBy,
		NoShowReportedBy:      row.NoShowReportedBy,
		IsAutoCreated:         row.IsAutoCreated,
		IsLateCancellation:    row.IsLateCancellation,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
		IsDeleted:             row.IsDeleted,
	}
	if row.MeetingLink.Valid {
		appt.MeetingLink = &row.MeetingLink.String
	}
	if row.PreviousStatus.Valid {
		prev := domain.AppointmentStatus(row.PreviousStatus.String)
		appt.PreviousStatus = &prev
	}
	if row.CancelReason.Valid {
		appt.CancelReason = &row.CancelReason.String
	}
	if row.ProposedDate.Valid {
		appt.ProposedDate = &row.ProposedDate.Time
	}
	if row.ProposedDuration.Valid {
		d := int(row.ProposedDuration.Int64)
		appt.ProposedDuration = &d
	}
	if row.RescheduleReason.Valid {
		appt.RescheduleReason = &row.RescheduleReason.String
	}
	if row.TerminatedAt.Valid {
		appt.TerminatedAt = &row.TerminatedAt.Time
	}
	if row.DeletedAt.Valid {
		appt.DeletedAt = &row.DeletedAt.Time
	}
	for _, raw := range row.NoShowUserIDs {
		if id, err := uuid.Parse(raw); err == nil {
			appt.NoShowUserIDs = append(appt.NoShowUserIDs, id)
		}
	}
	return appt
}
