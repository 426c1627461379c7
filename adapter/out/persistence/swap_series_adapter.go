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
)

// SeriesAdapter implements out.SeriesRepository
type SeriesAdapter struct {
	ext sqlx.ExtContext
}

var _ out.SeriesRepository = (*SeriesAdapter)(nil)

func NewSeriesAdapter(ext sqlx.ExtContext) *SeriesAdapter {
	return &SeriesAdapter{ext: ext}
}

const seriesColumns = `
	id, connection_id, teacher_user_id, learner_user_id, skill_id,
	total_sessions, completed_sessions, default_duration_minutes,
	title, description, created_at, updated_at, is_deleted, deleted_at`

func (r *SeriesAdapter) Create(ctx context.Context, series *domain.SessionSeries) error {
	if series.ID == 0 {
		series.ID = snowflake.ID()
	}
	now := time.Now().UTC()
	if series.CreatedAt.IsZero() {
		series.CreatedAt = now
	}
	series.UpdatedAt = now

	query := `
		INSERT INTO session_series (
			id, connection_id, teacher_user_id, learner_user_id, skill_id,
			total_sessions, completed_sessions, default_duration_minutes,
			title, description, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := r.ext.ExecContext(ctx, query,
		series.ID, series.ConnectionID, series.TeacherID, series.LearnerID, series.SkillID,
		series.TotalSessions, series.CompletedSessions, series.DefaultDurationMinutes,
		series.Title, nullString(series.Description), series.CreatedAt, series.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create series: %w", err)
	}
	return nil
}

func (r *SeriesAdapter) GetByID(ctx context.Context, id int64) (*domain.SessionSeries, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM session_series WHERE id = $1 AND is_deleted = FALSE`, seriesColumns)

	var row seriesRow
	if err := sqlx.GetContext(ctx, r.ext, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get series: %w", err)
	}
	return row.toDomain(), nil
}

func (r *SeriesAdapter) ListByConnection(ctx context.Context, connectionID int64) ([]*domain.SessionSeries, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM session_series
		WHERE connection_id = $1 AND is_deleted = FALSE
		ORDER BY id ASC`, seriesColumns)

	var rows []seriesRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, query, connectionID); err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}

	series := make([]*domain.SessionSeries, 0, len(rows))
	for i := range rows {
		series = append(series, rows[i].toDomain())
	}
	return series, nil
}

func (r *SeriesAdapter) Update(ctx context.Context, series *domain.SessionSeries) error {
	series.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE session_series SET
			completed_sessions = $2,
			title = $3,
			description = $4,
			updated_at = $5
		WHERE id = $1 AND is_deleted = FALSE`

	res, err := r.ext.ExecContext(ctx, query,
		series.ID, series.CompletedSessions, series.Title,
		nullString(series.Description), series.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update series: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type seriesRow struct {
	ID                     int64          `db:"id"`
	ConnectionID           int64          `db:"connection_id"`
	TeacherID              uuid.UUID      `db:"teacher_user_id"`
	LearnerID              uuid.UUID      `db:"learner_user_id"`
	SkillID                string         `db:"skill_id"`
	TotalSessions          int            `db:"total_sessions"`
	CompletedSessions      int            `db:"completed_sessions"`
	DefaultDurationMinutes int            `db:"default_duration_minutes"`
	Title                  string         `db:"title"`
	Description            sql.NullString `db:"description"`
	CreatedAt              time.Time      `db:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
	IsDeleted              bool           `db:"is_deleted"`
	DeletedAt              sql.NullTime   `db:"deleted_at"`
}

func (row *seriesRow) toDomain() *domain.SessionSeries {
	s := &domain.SessionSeries{
		ID:                     row.ID,
		ConnectionID:           row.ConnectionID,
		TeacherID:              row.TeacherID,
		LearnerID:              row.LearnerID,
		SkillID:                row.SkillID,
		TotalSessions:          row.TotalSessions,
		CompletedSessions:      row.CompletedSessions,
		DefaultDurationMinutes: row.DefaultDurationMinutes,
		Title:                  row.Title,
		Description:            row.Description.String,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
		IsDeleted:              row.IsDeleted,
	}
	if row.DeletedAt.Valid {
		s.DeletedAt = &row.DeletedAt.Time
	}
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
