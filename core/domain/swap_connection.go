package domain

import (
	"time"

	"github.com/google/uuid"

	"skillswap_server/pkg/apperr"
)

// ConnectionType determines what the two parties exchange for tutoring.
type ConnectionType string

const (
	ConnectionTypeSkillExchange ConnectionType = "skill_exchange"
	ConnectionTypePayment       ConnectionType = "payment"
	ConnectionTypeFree          ConnectionType = "free"
)

// Session count and duration bounds accepted when materializing a match.
const (
	MinTotalSessions = 1
	MaxTotalSessions = 52

	MinSessionDurationMinutes = 15
	MaxSessionDurationMinutes = 480
)

// Connection is the agreement between two users. It owns one SessionSeries,
// or two with reversed roles for a skill exchange.
type Connection struct {
	ID             int64          `json:"id"`
	MatchRequestID string         `json:"match_request_id"`
	RequesterID    uuid.UUID      `json:"requester_id"`
	TargetUserID   uuid.UUID      `json:"target_user_id"`
	ConnectionType ConnectionType `json:"connection_type"`
	SkillID        string         `json:"skill_id"`

	// Present iff ConnectionType == SkillExchange
	ExchangeSkillID *string `json:"exchange_skill_id,omitempty"`

	// Present iff ConnectionType == Payment
	PaymentRatePerHour *float64 `json:"payment_rate_per_hour,omitempty"`
	Currency           *string  `json:"currency,omitempty"`

	TotalSessionsPlanned   int `json:"total_sessions_planned"`
	TotalSessionsCompleted int `json:"total_sessions_completed"`

	// Signed teaching debt in minutes for skill exchanges. Positive means
	// the requester has taught more than they have been taught.
	BalanceMinutes int `json:"balance_minutes"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	IsDeleted bool       `json:"-"`
	DeletedAt *time.Time `json:"-"`
}

// Validate checks the structural invariants of the agreement.
func (c *Connection) Validate() error {
	if c.RequesterID == c.TargetUserID {
		return apperr.InvalidInput("target_user_id", "requester and target must be distinct users")
	}
	if c.MatchRequestID == "" {
		return apperr.MissingField("match_request_id")
	}
	if c.SkillID == "" {
		return apperr.MissingField("skill_id")
	}
	if c.TotalSessionsPlanned < MinTotalSessions || c.TotalSessionsPlanned > MaxTotalSessions {
		return apperr.InvalidInput("total_sessions", "must be between 1 and 52")
	}
	if c.TotalSessionsCompleted < 0 || c.TotalSessionsCompleted > c.TotalSessionsPlanned {
		return apperr.Fatal("completed sessions exceed planned sessions", nil)
	}

	switch c.ConnectionType {
	case ConnectionTypeSkillExchange:
		if c.ExchangeSkillID == nil || *c.ExchangeSkillID == "" {
			return apperr.MissingField("exchange_skill_id")
		}
		if c.PaymentRatePerHour != nil || c.Currency != nil {
			return apperr.InvalidInput("payment_rate_per_hour", "not allowed for skill exchange")
		}
	case ConnectionTypePayment:
		if c.PaymentRatePerHour == nil || c.Currency == nil {
			return apperr.MissingField("payment_rate_per_hour")
		}
		if c.ExchangeSkillID != nil {
			return apperr.InvalidInput("exchange_skill_id", "not allowed for paid connections")
		}
	case ConnectionTypeFree:
		if c.ExchangeSkillID != nil || c.PaymentRatePerHour != nil || c.Currency != nil {
			return apperr.InvalidInput("connection_type", "free connections carry no exchange or payment terms")
		}
	default:
		return apperr.InvalidInput("connection_type", "unknown connection type")
	}

	return nil
}

// IsClosed reports whether the agreement has been closed.
func (c *Connection) IsClosed() bool {
	return c.ClosedAt != nil
}

// IsParty reports whether the user is one of the two parties.
func (c *Connection) IsParty(userID uuid.UUID) bool {
	return userID == c.RequesterID || userID == c.TargetUserID
}

// OtherParty returns the counterpart of the given user.
func (c *Connection) OtherParty(userID uuid.UUID) uuid.UUID {
	if userID == c.RequesterID {
		return c.TargetUserID
	}
	return c.RequesterID
}

// RecordCompletion increments the completion counter and, for skill
// exchanges, adjusts the teaching balance. Closes the connection when the
// last planned session completes.
func (c *Connection) RecordCompletion(teacherID uuid.UUID, durationMinutes int, now time.Time) error {
	if c.TotalSessionsCompleted >= c.TotalSessionsPlanned {
		return apperr.Conflict("all planned sessions are already completed")
	}

	c.TotalSessionsCompleted++
	if c.ConnectionType == ConnectionTypeSkillExchange {
		if teacherID == c.RequesterID {
			c.BalanceMinutes += durationMinutes
		} else {
			c.BalanceMinutes -= durationMinutes
		}
	}
	if c.TotalSessionsCompleted == c.TotalSessionsPlanned {
		c.ClosedAt = &now
	}
	c.UpdatedAt = now
	return nil
}

// SeriesCount returns how many SessionSeries this connection owns.
func (c *Connection) SeriesCount() int {
	if c.ConnectionType == ConnectionTypeSkillExchange {
		return 2
	}
	return 1
}
