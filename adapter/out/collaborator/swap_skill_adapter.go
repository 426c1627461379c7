package collaborator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"skillswap_server/core/port/out"
)

// SkillCatalogAdapter resolves skill display names. Names change rarely,
// so resolved entries are kept in-process for the adapter's lifetime.
type SkillCatalogAdapter struct {
	client *serviceClient

	mu    sync.RWMutex
	names map[string]string
}

var _ out.SkillLookupPort = (*SkillCatalogAdapter)(nil)

func NewSkillCatalogAdapter(baseURL, authToken string, httpClient *http.Client, timeout time.Duration) *SkillCatalogAdapter {
	return &SkillCatalogAdapter{
		client: newServiceClient("skill-service", baseURL, authToken, httpClient, timeout),
		names:  make(map[string]string),
	}
}

func (a *SkillCatalogAdapter) GetSkillName(ctx context.Context, skillID string) (string, error) {
	a.mu.RLock()
	name, ok := a.names[skillID]
	a.mu.RUnlock()
	if ok {
		return name, nil
	}

	var resp struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/v1/skills/"+skillID, nil, &resp); err != nil {
		return "", err
	}

	a.mu.Lock()
	a.names[skillID] = resp.Name
	a.mu.Unlock()
	return resp.Name, nil
}
