package provider

import (
	"net/http"

	"skillswap_server/config"
	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"
	"skillswap_server/pkg/httputil"
)

// Factory resolves the calendar adapter for a provider. Adapters are
// constructed once and shared; they are stateless beyond their HTTP
// client.
type Factory struct {
	adapters map[domain.CalendarProvider]out.CalendarProviderPort
}

var _ out.CalendarProviderFactory = (*Factory)(nil)

func NewFactory(cfg *config.Config) *Factory {
	client := httputil.NewOptimizedClient(httputil.CalendarClientConfig())
	return NewFactoryWithClient(cfg, client)
}

func NewFactoryWithClient(cfg *config.Config, client *http.Client) *Factory {
	return &Factory{
		adapters: map[domain.CalendarProvider]out.CalendarProviderPort{
			domain.ProviderGoogle: NewGoogleAdapter(
				cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, client),
			domain.ProviderMicrosoft: NewMicrosoftAdapter(
				cfg.MicrosoftClientID, cfg.MicrosoftClientSecret, cfg.MicrosoftTenantID,
				cfg.MicrosoftRedirectURL, client),
			domain.ProviderApple: NewAppleAdapter(cfg.AppleCalDAVBaseURL, client),
		},
	}
}

func (f *Factory) Get(provider domain.CalendarProvider) (out.CalendarProviderPort, error) {
	adapter, ok := f.adapters[provider]
	if !ok {
		return nil, apperr.InvalidInput("provider", "unsupported calendar provider")
	}
	return adapter, nil
}
