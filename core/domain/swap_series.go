package domain

import (
	"time"

	"github.com/google/uuid"

	"skillswap_server/pkg/apperr"
)

// SessionSeries is a stream of teachings of one skill by one party to the
// other inside a Connection. Skill exchanges own two with reversed roles.
type SessionSeries struct {
	ID           int64     `json:"id"`
	ConnectionID int64     `json:"connection_id"`
	TeacherID    uuid.UUID `json:"teacher_user_id"`
	LearnerID    uuid.UUID `json:"learner_user_id"`
	SkillID      string    `json:"skill_id"`

	TotalSessions          int    `json:"total_sessions"`
	CompletedSessions      int    `json:"completed_sessions"`
	DefaultDurationMinutes int    `json:"default_duration_minutes"`
	Title                  string `json:"title"`
	Description            string `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IsDeleted bool       `json:"-"`
	DeletedAt *time.Time `json:"-"`
}

func (s *SessionSeries) Validate() error {
	if s.TeacherID == s.LearnerID {
		return apperr.InvalidInput("learner_user_id", "teacher and learner must be distinct")
	}
	if s.SkillID == "" {
		return apperr.MissingField("skill_id")
	}
	if s.TotalSessions < 1 {
		return apperr.InvalidInput("total_sessions", "must be at least 1")
	}
	if s.CompletedSessions < 0 || s.CompletedSessions > s.TotalSessions {
		return apperr.Fatal("completed sessions exceed total sessions", nil)
	}
	if s.DefaultDurationMinutes < MinSessionDurationMinutes || s.DefaultDurationMinutes > MaxSessionDurationMinutes {
		return apperr.InvalidInput("duration_minutes", "must be between 15 and 480 minutes")
	}
	return nil
}

// BelongsTo checks the teacher/learner pair against the parent connection.
func (s *SessionSeries) BelongsTo(c *Connection) bool {
	if s.ConnectionID != c.ID {
		return false
	}
	return (s.TeacherID == c.RequesterID && s.LearnerID == c.TargetUserID) ||
		(s.TeacherID == c.TargetUserID && s.LearnerID == c.RequesterID)
}

// IsComplete reports whether every planned session of the series is done.
func (s *SessionSeries) IsComplete() bool {
	return s.CompletedSessions >= s.TotalSessions
}

// RecordCompletion bumps the series counter.
func (s *SessionSeries) RecordCompletion(now time.Time) error {
	if s.IsComplete() {
		return apperr.Conflict("series is already complete")
	}
	s.CompletedSessions++
	s.UpdatedAt = now
	return nil
}

// SplitSessions divides a session count between the two series of a skill
// exchange. The odd extra session goes to the first series.
func SplitSessions(total int) (first, second int) {
	first = (total + 1) / 2
	second = total / 2
	return first, second
}
