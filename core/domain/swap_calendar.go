package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// CalendarProvider identifies a supported external calendar.
type CalendarProvider string

const (
	ProviderGoogle    CalendarProvider = "google"
	ProviderMicrosoft CalendarProvider = "microsoft"
	ProviderApple     CalendarProvider = "apple"
)

// ValidProvider reports whether the string names a supported provider.
func ValidProvider(p string) bool {
	switch CalendarProvider(p) {
	case ProviderGoogle, ProviderMicrosoft, ProviderApple:
		return true
	}
	return false
}

// CalendarIntegration is one user's linked external calendar. Token fields
// hold ciphertext; encryption happens in the persistence layer.
type CalendarIntegration struct {
	ID       int64            `json:"id"`
	UserID   uuid.UUID        `json:"user_id"`
	Provider CalendarProvider `json:"provider"`

	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	CalendarID string `json:"calendar_id,omitempty"`
	Email      string `json:"email,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IsDeleted bool       `json:"-"`
	DeletedAt *time.Time `json:"-"`
}

// NeedsRefresh reports whether the access token is expired or about to be.
func (c *CalendarIntegration) NeedsRefresh(now time.Time) bool {
	if c.Provider == ProviderApple {
		return false
	}
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Add(2 * time.Minute).Before(*c.ExpiresAt)
}

// BusyInterval is a half-open [Start, End) slice of occupied time.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps checks half-open interval intersection. Touching at an exact
// boundary does not overlap.
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && b.Start.Before(end)
}

// MergeBusy unions interval sets into a sorted, non-overlapping list.
func MergeBusy(sets ...[]BusyInterval) []BusyInterval {
	var all []BusyInterval
	for _, set := range sets {
		all = append(all, set...)
	}
	if len(all) == 0 {
		return nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })

	merged := []BusyInterval{all[0]}
	for _, iv := range all[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
