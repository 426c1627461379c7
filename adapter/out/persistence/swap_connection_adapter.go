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

// ConnectionAdapter implements out.ConnectionRepository
type ConnectionAdapter struct {
	ext sqlx.ExtContext
}

var _ out.ConnectionRepository = (*ConnectionAdapter)(nil)

func NewConnectionAdapter(ext sqlx.ExtContext) *ConnectionAdapter {
	return &ConnectionAdapter{ext: ext}
}

const connectionColumns = `
	id, match_request_id, requester_id, target_user_id, connection_type,
	skill_id, exchange_skill_id, payment_rate_per_hour, currency,
	total_sessions_planned, total_sessions_completed, balance_minutes,
	created_at, updated_at, closed_at, is_deleted, deleted_at`

func (r *ConnectionAdapter) Create(ctx context.Context, conn *domain.Connection) error {
	if conn.ID == 0 {
		conn.ID = snowflake.ID()
	}
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	query := `
		INSERT INTO connections (
			id, match_request_id, requester_id, target_user_id, connection_type,
			skill_id, exchange_skill_id, payment_rate_per_hour, currency,
			total_sessions_planned, total_sessions_completed, balance_minutes,
			created_at, updated_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`

	_, err := r.ext.ExecContext(ctx, query,
		conn.ID, conn.MatchRequestID, conn.RequesterID, conn.TargetUserID, conn.ConnectionType,
		conn.SkillID, conn.ExchangeSkillID, conn.PaymentRatePerHour, conn.Currency,
		conn.TotalSessionsPlanned, conn.TotalSessionsCompleted, conn.BalanceMinutes,
		conn.CreatedAt, conn.UpdatedAt, conn.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

func (r *ConnectionAdapter) GetByID(ctx context.Context, id int64) (*domain.Connection, error) {
	return r.getOne(ctx, fmt.Sprintf(
		`SELECT %s FROM connections WHERE id = $1 AND is_deleted = FALSE`, connectionColumns), id)
}

func (r *ConnectionAdapter) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Connection, error) {
	return r.getOne(ctx, fmt.Sprintf(
		`SELECT %s FROM connections WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`, connectionColumns), id)
}

func (r *ConnectionAdapter) GetByMatchRequestID(ctx context.Context, matchRequestID string) (*domain.Connection, error) {
	return r.getOne(ctx, fmt.Sprintf(
		`SELECT %s FROM connections WHERE match_request_id = $1 AND is_deleted = FALSE`, connectionColumns), matchRequestID)
}

func (r *ConnectionAdapter) getOne(ctx context.Context, query string, arg any) (*domain.Connection, error) {
	var row connectionRow
	if err := sqlx.GetContext(ctx, r.ext, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return row.toDomain(), nil
}

func (r *ConnectionAdapter) ListByUser(ctx context.Context, userID uuid.UUID, page *domain.PageRequest) ([]*domain.Connection, int64, error) {
	countQuery := `
		SELECT COUNT(*) FROM connections
		WHERE (requester_id = $1 OR target_user_id = $1) AND is_deleted = FALSE`

	var total int64
	if err := sqlx.GetContext(ctx, r.ext, &total, countQuery, userID); err != nil {
		return nil, 0, fmt.Errorf("count connections: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM connections
		WHERE (requester_id = $1 OR target_user_id = $1) AND is_deleted = FALSE
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, connectionColumns)

	var rows []connectionRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, query, userID, page.Limit(), page.Offset()); err != nil {
		return nil, 0, fmt.Errorf("list connections: %w", err)
	}

	conns := make([]*domain.Connection, 0, len(rows))
	for i := range rows {
		conns = append(conns, rows[i].toDomain())
	}
	return conns, total, nil
}

func (r *ConnectionAdapter) Update(ctx context.Context, conn *domain.Connection) error {
	conn.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE connections SET
			total_sessions_completed = $2,
			balance_minutes = $3,
			closed_at = $4,
			updated_at = $5
		WHERE id = $1 AND is_deleted = FALSE`

	res, err := r.ext.ExecContext(ctx, query,
		conn.ID, conn.TotalSessionsCompleted, conn.BalanceMinutes, conn.ClosedAt, conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type connectionRow struct {
	ID                     int64           `db:"id"`
	MatchRequestID         string          `db:"match_request_id"`
	RequesterID            uuid.UUID       `db:"requester_id"`
	TargetUserID           uuid.UUID       `db:"target_user_id"`
	ConnectionType         string          `db:"connection_type"`
	SkillID                string          `db:"skill_id"`
	ExchangeSkillID        sql.NullString  `db:"exchange_skill_id"`
	PaymentRatePerHour     sql.NullFloat64 `db:"payment_rate_per_hour"`
	Currency               sql.NullString  `db:"currency"`
	TotalSessionsPlanned   int             `db:"total_sessions_planned"`
	TotalSessionsCompleted int             `db:"total_sessions_completed"`
	BalanceMinutes         int             `db:"balance_minutes"`
	CreatedAt              time.Time       `db:"created_at"`
	UpdatedAt              time.Time       `db:"updated_at"`
	ClosedAt               sql.NullTime    `db:"closed_at"`
	IsDeleted              bool            `db:"is_deleted"`
	DeletedAt              sql.NullTime    `db:"deleted_at"`
}

func (row *connectionRow) toDomain() *domain.Connection {
	conn := &domain.Connection{
		ID:                     row.ID,
		MatchRequestID:         row.MatchRequestID,
		RequesterID:            row.RequesterID,
		TargetUserID:           row.TargetUserID,
		ConnectionType:         domain.ConnectionType(row.ConnectionType),
		SkillID:                row.SkillID,
		TotalSessionsPlanned:   row.TotalSessionsPlanned,
		TotalSessionsCompleted: row.TotalSessionsCompleted,
		BalanceMinutes:         row.BalanceMinutes,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
		IsDeleted:              row.IsDeleted,
	}
	if row.ExchangeSkillID.Valid {
		conn.ExchangeSkillID = &row.ExchangeSkillID.String
	}
	if row.PaymentRatePerHour.Valid {
		conn.PaymentRatePerHour = &row.PaymentRatePerHour.Float64
	}
	if row.Currency.Valid {
		conn.Currency = &row.Currency.String
	}
	if row.ClosedAt.Valid {
		conn.ClosedAt = &row.ClosedAt.Time
	}
	if row.DeletedAt.Valid {
		conn.DeletedAt = &row.DeletedAt.Time
	}
	return conn
}
