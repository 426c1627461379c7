package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"skillswap_server/pkg/apperr"
)

// ReminderChannel is the delivery medium of a reminder.
type ReminderChannel string

const (
	ReminderChannelEmail ReminderChannel = "email"
	ReminderChannelPush  ReminderChannel = "push"
	ReminderChannelSMS   ReminderChannel = "sms"
)

// ReminderStatus is the delivery state of a scheduled reminder.
type ReminderStatus string

const (
	ReminderPending     ReminderStatus = "pending"
	ReminderDispatching ReminderStatus = "dispatching"
	ReminderSent        ReminderStatus = "sent"
	ReminderFailed      ReminderStatus = "failed"
	ReminderCancelled   ReminderStatus = "cancelled"
)

// allowedOffsets is the accepted minutes-before values for reminders.
var allowedOffsets = map[int]bool{
	5: true, 10: true, 15: true, 30: true, 60: true,
	120: true, 240: true, 720: true, 1440: true, 2880: true,
}

// ReminderSettings is the per-user reminder preference.
type ReminderSettings struct {
	UserID        uuid.UUID `json:"user_id"`
	MinutesBefore []int     `json:"minutes_before"`
	EmailEnabled  bool      `json:"email_enabled"`
	PushEnabled   bool      `json:"push_enabled"`
	SMSEnabled    bool      `json:"sms_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultReminderSettings is applied for users who never saved preferences.
func DefaultReminderSettings(userID uuid.UUID, offsets []int) *ReminderSettings {
	return &ReminderSettings{
		UserID:        userID,
		MinutesBefore: offsets,
		EmailEnabled:  true,
		PushEnabled:   true,
		SMSEnabled:    false,
	}
}

// Validate normalizes the offset set: sorted ascending, deduplicated, every
// value from the allowed set.
func (r *ReminderSettings) Validate() error {
	if len(r.MinutesBefore) == 0 {
		return apperr.MissingField("minutes_before")
	}
	seen := make(map[int]bool, len(r.MinutesBefore))
	normalized := make([]int, 0, len(r.MinutesBefore))
	for _, m := range r.MinutesBefore {
		if !allowedOffsets[m] {
			return apperr.InvalidInput("minutes_before", "unsupported reminder offset")
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		normalized = append(normalized, m)
	}
	sort.Ints(normalized)
	r.MinutesBefore = normalized
	return nil
}

// Channels returns the enabled delivery channels in a fixed order.
func (r *ReminderSettings) Channels() []ReminderChannel {
	var out []ReminderChannel
	if r.EmailEnabled {
		out = append(out, ReminderChannelEmail)
	}
	if r.PushEnabled {
		out = append(out, ReminderChannelPush)
	}
	if r.SMSEnabled {
		out = append(out, ReminderChannelSMS)
	}
	return out
}

// ScheduledReminder is one pending notification for one appointment party.
// The snapshot fields are captured at scheduling time so the delivered
// message is stable under later appointment edits.
type ScheduledReminder struct {
	ID            int64           `json:"id"`
	AppointmentID int64           `json:"appointment_id"`
	UserID        uuid.UUID       `json:"user_id"`
	ReminderType  ReminderChannel `json:"reminder_type"`
	MinutesBefore int             `json:"minutes_before"`
	ScheduledFor  time.Time       `json:"scheduled_for"`
	Status        ReminderStatus  `json:"status"`

	// Snapshot
	PartnerName     string    `json:"partner_name"`
	SkillName       string    `json:"skill_name"`
	AppointmentTime time.Time `json:"appointment_time"`
	MeetingLink     string    `json:"meeting_link,omitempty"`

	ClaimedBy    *string    `json:"-"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDue reports whether the reminder should fire.
func (s *ScheduledReminder) IsDue(now time.Time) bool {
	return s.Status == ReminderPending && !s.ScheduledFor.After(now)
}

// MarkSent records a successful delivery.
func (s *ScheduledReminder) MarkSent(now time.Time) {
	s.Status = ReminderSent
	t := now
	s.SentAt = &t
	s.UpdatedAt = now
}

// MarkFailed records a delivery failure. Failed reminders are not retried
// automatically.
func (s *ScheduledReminder) MarkFailed(message string, now time.Time) {
	s.Status = ReminderFailed
	s.ErrorMessage = &message
	s.UpdatedAt = now
}

// BuildReminders expands a user's settings into the concrete reminder rows
// for one appointment. Offsets whose fire time is already past are skipped.
func BuildReminders(appt *SessionAppointment, userID uuid.UUID, settings *ReminderSettings, partnerName, skillName string, now time.Time) []*ScheduledReminder {
	link := ""
	if appt.MeetingLink != nil {
		link = *appt.MeetingLink
	}

	var out []*ScheduledReminder
	for _, minutes := range settings.MinutesBefore {
		fireAt := appt.ScheduledDate.Add(-time.Duration(minutes) * time.Minute)
		if fireAt.Before(now) {
			continue
		}
		for _, channel := range settings.Channels() {
			out = append(out, &ScheduledReminder{
				AppointmentID:   appt.ID,
				UserID:          userID,
				ReminderType:    channel,
				MinutesBefore:   minutes,
				ScheduledFor:    fireAt,
				Status:          ReminderPending,
				PartnerName:     partnerName,
				SkillName:       skillName,
				AppointmentTime: appt.ScheduledDate,
				MeetingLink:     link,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}
	}
	return out
}
