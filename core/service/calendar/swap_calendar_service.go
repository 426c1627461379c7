// Package calendar manages external calendar links (Google, Microsoft,
// Apple) and answers busy-interval lookups for the scheduler.
package calendar

import (
	"context"
	"encoding/base64"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/in"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"
	"skillswap_server/pkg/clock"
	"skillswap_server/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Cache is the slice of the redis cache this service uses. Nil disables
// caching; every lookup then goes to the providers.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetDelJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// Config carries the per-provider redirect URIs and cache tuning.
type Config struct {
	RedirectURIs map[domain.CalendarProvider]string
	StateTTL     time.Duration
	BusyTTL      time.Duration
}

// Service implements in.CalendarService and the orchestrator's BusySource.
type Service struct {
	uow       out.UnitOfWork
	providers out.CalendarProviderFactory
	cache     Cache
	clk       clock.Clock
	cfg       Config

	// collapses concurrent busy lookups for the same user and window
	busyGroup singleflight.Group
}

var _ in.CalendarService = (*Service)(nil)

func NewService(uow out.UnitOfWork, providers out.CalendarProviderFactory, cache Cache, clk clock.Clock, cfg Config) *Service {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.BusyTTL <= 0 {
		cfg.BusyTTL = 2 * time.Minute
	}
	return &Service{uow: uow, providers: providers, cache: cache, clk: clk, cfg: cfg}
}

// oauthState is the single-use record behind the state parameter.
type oauthState struct {
	UserID   uuid.UUID               `json:"user_id"`
	Provider domain.CalendarProvider `json:"provider"`
	IssuedAt time.Time               `json:"issued_at"`
}

func stateKey(state string) string { return "calendar:oauth:state:" + state }

func busyPrefix(userID uuid.UUID) string { return "calendar:busy:" + userID.String() + ":" }

// =============================================================================
// Connect / disconnect
// =============================================================================

func (s *Service) ConnectCalendar(ctx context.Context, userID uuid.UUID, provider domain.CalendarProvider) (string, error) {
	if !domain.ValidProvider(string(provider)) {
		return "", apperr.InvalidInput("provider", "unsupported calendar provider")
	}

	adapter, err := s.providers.Get(provider)
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	if s.cache != nil {
		record := oauthState{UserID: userID, Provider: provider, IssuedAt: s.clk.Now()}
		if err := s.cache.SetJSON(ctx, stateKey(state), record, s.cfg.StateTTL); err != nil {
			return "", apperr.Transient("redis", err)
		}
	}

	return adapter.AuthorizationURL(state, s.cfg.RedirectURIs[provider]), nil
}

func (s *Service) CompleteOAuth(ctx context.Context, req *in.OAuthCallbackRequest) (*domain.CalendarIntegration, error) {
	if req.Code == "" {
		return nil, apperr.MissingField("code")
	}
	if s.cache != nil {
		var record oauthState
		found, err := s.cache.GetDelJSON(ctx, stateKey(req.State), &record)
		if err != nil {
			return nil, apperr.Transient("redis", err)
		}
		if !found || record.UserID != req.UserID || record.Provider != req.Provider {
			return nil, apperr.OAuthFailed(string(req.Provider), nil).
				WithDetail("reason", "state mismatch")
		}
	}

	adapter, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	token, email, err := adapter.ExchangeCode(ctx, req.Code, s.cfg.RedirectURIs[req.Provider])
	if err != nil {
		return nil, err
	}

	integration := &domain.CalendarIntegration{
		UserID:       req.UserID,
		Provider:     req.Provider,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		Email:        email,
	}
	if err := s.saveIntegration(ctx, integration); err != nil {
		return nil, err
	}

	s.invalidateBusy(ctx, req.UserID)
	logger.WithField("user_id", req.UserID).
		WithField("provider", string(req.Provider)).
		Info("calendar linked")
	return integration, nil
}

// ConnectApple stores an iCloud app-specific password as a CalDAV basic
// credential. The credential is verified with one principal lookup before
// it is saved.
func (s *Service) ConnectApple(ctx context.Context, userID uuid.UUID, appleID, appPassword string) (*domain.CalendarIntegration, error) {
	if appleID == "" {
		return nil, apperr.MissingField("apple_id")
	}
	if appPassword == "" {
		return nil, apperr.MissingField("app_password")
	}

	adapter, err := s.providers.Get(domain.ProviderApple)
	if err != nil {
		return nil, err
	}

	credential := base64.StdEncoding.EncodeToString([]byte(appleID + ":" + appPassword))
	token := &out.CalendarToken{AccessToken: credential}

	email, err := adapter.UserEmail(ctx, token)
	if err != nil {
		return nil, err
	}
	if email == "" {
		email = appleID
	}

	integration := &domain.CalendarIntegration{
		UserID:      userID,
		Provider:    domain.ProviderApple,
		AccessToken: credential,
		Email:       email,
	}
	if err := s.saveIntegration(ctx, integration); err != nil {
		return nil, err
	}

	s.invalidateBusy(ctx, userID)
	return integration, nil
}

func (s *Service) saveIntegration(ctx context.Context, integration *domain.CalendarIntegration) error {
	return s.uow.WithinTx(ctx, func(tx out.RepositoryTx) error {
		return tx.CalendarIntegrations().Upsert(ctx, integration)
	})
}

func (s *Service) DisconnectCalendar(ctx context.Context, userID uuid.UUID, provider domain.CalendarProvider) error {
	integration, err := s.uow.Read().CalendarIntegrations().Get(ctx, userID, provider)
	if err != nil {
		return err
	}
	if integration == nil {
		return apperr.NotFound("calendar integration")
	}

	// best-effort remote revocation
	if adapter, err := s.providers.Get(provider); err == nil {
		if err := adapter.Revoke(ctx, integration.AccessToken); err != nil {
			logger.WithError(err).WithField("provider", string(provider)).Warn("token revocation failed")
		}
	}

	err = s.uow.WithinTx(ctx, func(tx out.RepositoryTx) error {
		return tx.CalendarIntegrations().Delete(ctx, userID, provider)
	})
	if err != nil {
		return err
	}

	s.invalidateBusy(ctx, userID)
	return nil
}

func (s *Service) ListIntegrations(ctx context.Context, userID uuid.UUID) ([]*domain.CalendarIntegration, error) {
	return s.uow.Read().CalendarIntegrations().ListByUser(ctx, userID)
}

func (s *Service) invalidateBusy(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPrefix(ctx, busyPrefix(userID)); err != nil {
		logger.WithError(err).WithField("user_id", userID).Warn("busy cache invalidation failed")
	}
}
