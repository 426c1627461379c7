package collaborator

import (
	"context"
	"net/http"
	"time"

	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"
)

// MeetingLinkAdapter requests join URLs from the video service. Failures
// are surfaced as transient; the background retry loop owns the backoff.
type MeetingLinkAdapter struct {
	client *serviceClient
}

var _ out.MeetingLinkPort = (*MeetingLinkAdapter)(nil)

func NewMeetingLinkAdapter(baseURL, authToken string, httpClient *http.Client, timeout time.Duration) *MeetingLinkAdapter {
	return &MeetingLinkAdapter{
		client: newServiceClient("meeting-link", baseURL, authToken, httpClient, timeout),
	}
}

func (a *MeetingLinkAdapter) GenerateMeetingLink(ctx context.Context, appointmentID int64) (string, error) {
	if a.client.baseURL == "" {
		return "", apperr.Transient("meeting-link", nil)
	}

	var resp struct {
		JoinURL string `json:"join_url"`
	}
	err := a.client.do(ctx, http.MethodPost, "/v1/meetings", map[string]interface{}{
		"external_ref": appointmentID,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.JoinURL == "" {
		return "", apperr.Transient("meeting-link", nil)
	}
	return resp.JoinURL, nil
}
