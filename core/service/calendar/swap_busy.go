package calendar

import (
	"context"
	"fmt"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"
	"skillswap_server/pkg/logger"

	"github.com/google/uuid"
)

// Busy returns the merged occupied intervals of one user in [start, end):
// every linked calendar plus appointments already on the books. Provider
// failures degrade to the data that is available; scheduling must not stall
// on a flaky calendar API.
func (s *Service) Busy(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]domain.BusyInterval, error) {
	key := fmt.Sprintf("%s%d:%d", busyPrefix(userID), start.Unix(), end.Unix())

	if s.cache != nil {
		var cached []domain.BusyInterval
		if hit, err := s.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	result, err, _ := s.busyGroup.Do(key, func() (interface{}, error) {
		intervals, err := s.collectBusy(ctx, userID, start, end)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetJSON(ctx, key, intervals, s.cfg.BusyTTL); err != nil {
				logger.WithError(err).Warn("busy cache write failed")
			}
		}
		return intervals, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.BusyInterval), nil
}

func (s *Service) collectBusy(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]domain.BusyInterval, error) {
	sets := make([][]domain.BusyInterval, 0, 4)

	appointments, err := s.appointmentBusy(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	sets = append(sets, appointments)

	integrations, err := s.uow.Read().CalendarIntegrations().ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, integration := range integrations {
		intervals, err := s.providerBusy(ctx, integration, start, end)
		if err != nil {
			logger.WithError(err).
				WithField("user_id", userID).
				WithField("provider", string(integration.Provider)).
				Warn("provider busy lookup failed, continuing without it")
			continue
		}
		sets = append(sets, intervals)
	}

	return domain.MergeBusy(sets...), nil
}

// appointmentBusy blocks the times of the user's own non-terminal sessions.
func (s *Service) appointmentBusy(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]domain.BusyInterval, error) {
	appts, err := s.uow.Read().Appointments().ListByUser(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}

	var intervals []domain.BusyInterval
	for _, appt := range appts {
		if appt.IsTerminal() {
			continue
		}
		intervals = append(intervals, domain.BusyInterval{
			Start: appt.ScheduledDate,
			End:   appt.EndTime(),
		})
	}
	return intervals, nil
}

// providerBusy queries one linked calendar, refreshing the access token
// up front when it is about to expire and retrying once after a refresh
// when the provider still answers Unauthorized.
func (s *Service) providerBusy(ctx context.Context, integration *domain.CalendarIntegration, start, end time.Time) ([]domain.BusyInterval, error) {
	adapter, err := s.providers.Get(integration.Provider)
	if err != nil {
		return nil, err
	}

	token := tokenOf(integration)
	if integration.NeedsRefresh(s.clk.Now()) {
		if token, err = s.refreshToken(ctx, adapter, integration); err != nil {
			return nil, err
		}
	}

	intervals, err := adapter.Busy(ctx, token, start, end, integration.CalendarID)
	if apperr.IsCode(err, apperr.CodeUnauthorized) && integration.Provider != domain.ProviderApple {
		if token, err = s.refreshToken(ctx, adapter, integration); err != nil {
			return nil, err
		}
		intervals, err = adapter.Busy(ctx, token, start, end, integration.CalendarID)
	}
	return intervals, err
}

// refreshToken rotates the access token and persists the new credential.
func (s *Service) refreshToken(ctx context.Context, adapter out.CalendarProviderPort, integration *domain.CalendarIntegration) (*out.CalendarToken, error) {
	if integration.RefreshToken == "" {
		return nil, apperr.Unauthorized("calendar credential expired and cannot be refreshed")
	}

	fresh, err := adapter.RefreshAccessToken(ctx, integration.RefreshToken)
	if err != nil {
		return nil, err
	}
	// a nil token means the provider does not rotate credentials
	if fresh == nil {
		return tokenOf(integration), nil
	}
	// some providers omit the refresh token on rotation; keep the old one
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = integration.RefreshToken
	}

	err = s.uow.WithinTx(ctx, func(tx out.RepositoryTx) error {
		return tx.CalendarIntegrations().UpdateTokens(ctx, integration.ID, fresh.AccessToken, fresh.RefreshToken, fresh.ExpiresAt)
	})
	if err != nil {
		return nil, err
	}

	integration.AccessToken = fresh.AccessToken
	integration.RefreshToken = fresh.RefreshToken
	integration.ExpiresAt = fresh.ExpiresAt
	return fresh, nil
}

func tokenOf(integration *domain.CalendarIntegration) *out.CalendarToken {
	return &out.CalendarToken{
		AccessToken:  integration.AccessToken,
		RefreshToken: integration.RefreshToken,
		ExpiresAt:    integration.ExpiresAt,
	}
}
