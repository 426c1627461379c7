package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/crypto"
	"skillswap_server/pkg/snowflake"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// CalendarIntegration - tokens encrypted at rest
// =============================================================================

// CalendarIntegrationAdapter implements out.CalendarIntegrationRepository.
// Access and refresh tokens are AES-256-GCM encrypted before they reach the
// database and decrypted on read.
type CalendarIntegrationAdapter struct {
	ext sqlx.ExtContext
}

var _ out.CalendarIntegrationRepository = (*CalendarIntegrationAdapter)(nil)

func NewCalendarIntegrationAdapter(ext sqlx.ExtContext) *CalendarIntegrationAdapter {
	return &CalendarIntegrationAdapter{ext: ext}
}

const integrationColumns = `
	id, user_id, provider, access_token, refresh_token, expires_at,
	calendar_id, email, created_at, updated_at, is_deleted, deleted_at`

func (r *CalendarIntegrationAdapter) Upsert(ctx context.Context, integration *domain.CalendarIntegration) error {
	if integration.ID == 0 {
		integration.ID = snowflake.ID()
	}
	now := time.Now().UTC()
	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = now
	}
	integration.UpdatedAt = now

	accessEnc, err := crypto.EncryptToken(integration.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := crypto.EncryptToken(integration.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	query := `
		INSERT INTO calendar_integrations (
			id, user_id, provider, access_token, refresh_token, expires_at,
			calendar_id, email, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, provider) WHERE is_deleted = FALSE DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			calendar_id = EXCLUDED.calendar_id,
			email = EXCLUDED.email,
			updated_at = EXCLUDED.updated_at`

	_, err = r.ext.ExecContext(ctx, query,
		integration.ID, integration.UserID, integration.Provider,
		accessEnc, refreshEnc, integration.ExpiresAt,
		nullString(integration.CalendarID), nullString(integration.Email),
		integration.CreatedAt, integration.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert calendar integration: %w", err)
	}
	return nil
}

func (r *CalendarIntegrationAdapter) Get(ctx context.Context, userID uuid.UUID, provider domain.CalendarProvider) (*domain.CalendarIntegration, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM calendar_integrations
		WHERE user_id = $1 AND provider = $2 AND is_deleted = FALSE`, integrationColumns)

	var row integrationRow
	if err := sqlx.GetContext(ctx, r.ext, &row, query, userID, provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get calendar integration: %w", err)
	}
	return row.toDomain()
}

func (r *CalendarIntegrationAdapter) GetByID(ctx context.Context, id int64) (*domain.CalendarIntegration, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM calendar_integrations
		WHERE id = $1 AND is_deleted = FALSE`, integrationColumns)

	var row integrationRow
	if err := sqlx.GetContext(ctx, r.ext, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get calendar integration: %w", err)
	}
	return row.toDomain()
}

func (r *CalendarIntegrationAdapter) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.CalendarIntegration, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM calendar_integrations
		WHERE user_id = $1 AND is_deleted = FALSE
		ORDER BY provider ASC`, integrationColumns)

	var rows []integrationRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list calendar integrations: %w", err)
	}

	out := make([]*domain.CalendarIntegration, 0, len(rows))
	for i := range rows {
		integration, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, integration)
	}
	return out, nil
}

func (r *CalendarIntegrationAdapter) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	accessEnc, err := crypto.EncryptToken(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := crypto.EncryptToken(refreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	query := `
		UPDATE calendar_integrations SET
			access_token = $2, refresh_token = $3, expires_at = $4, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE`

	res, err := r.ext.ExecContext(ctx, query, id, accessEnc, refreshEnc, expiresAt)
	if err != nil {
		return fmt.Errorf("update calendar tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CalendarIntegrationAdapter) Delete(ctx context.Context, userID uuid.UUID, provider domain.CalendarProvider) error {
	query := `
		UPDATE calendar_integrations SET is_deleted = TRUE, deleted_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND provider = $2 AND is_deleted = FALSE`

	res, err := r.ext.ExecContext(ctx, query, userID, provider)
	if err != nil {
		return fmt.Errorf("delete calendar integration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type integrationRow struct {
	ID           int64          `db:"id"`
	UserID       uuid.UUID      `db:"user_id"`
	Provider     string         `db:"provider"`
	AccessToken  string         `db:"access_token"`
	RefreshToken string         `db:"refresh_token"`
	ExpiresAt    sql.NullTime   `db:"expires_at"`
	CalendarID   sql.NullString `db:"calendar_id"`
	Email        sql.NullString `db:"email"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	IsDeleted    bool           `db:"is_deleted"`
	DeletedAt    sql.NullTime   `db:"deleted_at"`
}

func (row *integrationRow) toDomain() (*domain.CalendarIntegration, error) {
	access, err := crypto.DecryptToken(row.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err := crypto.DecryptToken(row.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	integration := &domain.CalendarIntegration{
		ID:           row.ID,
		UserID:       row.UserID,
		Provider:     domain.CalendarProvider(row.Provider),
		AccessToken:  access,
		RefreshToken: refresh,
		CalendarID:   row.CalendarID.String,
		Email:        row.Email.String,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		IsDeleted:    row.IsDeleted,
	}
	if row.ExpiresAt.Valid {
		integration.ExpiresAt = &row.ExpiresAt.Time
	}
	if row.DeletedAt.Valid {
		integration.DeletedAt = &row.DeletedAt.Time
	}
	return integration, nil
}

// =============================================================================
// CalendarEventMirror
// =============================================================================

// CalendarEventMirrorAdapter implements out.CalendarEventMirrorRepository
type CalendarEventMirrorAdapter struct {
	ext sqlx.ExtContext
}

var _ out.CalendarEventMirrorRepository = (*CalendarEventMirrorAdapter)(nil)

func NewCalendarEventMirrorAdapter(ext sqlx.ExtContext) *CalendarEventMirrorAdapter {
	return &CalendarEventMirrorAdapter{ext: ext}
}

func (r *CalendarEventMirrorAdapter) Save(ctx context.Context, mirror *out.CalendarEventMirror) error {
	if mirror.ID == 0 {
		mirror.ID = snowflake.ID()
	}
	now := time.Now().UTC()
	if mirror.CreatedAt.IsZero() {
		mirror.CreatedAt = now
	}
	mirror.UpdatedAt = now

	query := `
		INSERT INTO calendar_event_mirrors (
			id, appointment_id, integration_id, external_event_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (appointment_id, integration_id) DO UPDATE SET
			external_event_id = EXCLUDED.external_event_id,
			updated_at = EXCLUDED.updated_at`

	_, err := r.ext.ExecContext(ctx, query,
		mirror.ID, mirror.AppointmentID, mirror.IntegrationID,
		mirror.ExternalEventID, mirror.CreatedAt, mirror.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save calendar event mirror: %w", err)
	}
	return nil
}

func (r *CalendarEventMirrorAdapter) ListByAppointment(ctx context.Context, appointmentID int64) ([]*out.CalendarEventMirror, error) {
	query := `
		SELECT id, appointment_id, integration_id, external_event_id, created_at, updated_at
		FROM calendar_event_mirrors
		WHERE appointment_id = $1
		ORDER BY id ASC`

	var mirrors []*out.CalendarEventMirror
	rows, err := r.ext.QueryxContext(ctx, query, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list calendar event mirrors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m out.CalendarEventMirror
		if err := rows.Scan(&m.ID, &m.AppointmentID, &m.IntegrationID,
			&m.ExternalEventID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan calendar event mirror: %w", err)
		}
		mirrors = append(mirrors, &m)
	}
	return mirrors, rows.Err()
}

func (r *CalendarEventMirrorAdapter) Delete(ctx context.Context, id int64) error {
	if _, err := r.ext.ExecContext(ctx, `DELETE FROM calendar_event_mirrors WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete calendar event mirror: %w", err)
	}
	return nil
}
