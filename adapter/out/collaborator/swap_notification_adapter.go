package collaborator

import (
	"context"
	"net/http"
	"time"

	"skillswap_server/core/port/out"
)

// NotificationAdapter hands formatted reminders to the notification
// orchestrator, which owns channel routing and delivery.
type NotificationAdapter struct {
	client *serviceClient
}

var _ out.NotificationPort = (*NotificationAdapter)(nil)

func NewNotificationAdapter(baseURL, authToken string, httpClient *http.Client, timeout time.Duration) *NotificationAdapter {
	return &NotificationAdapter{
		client: newServiceClient("notification-service", baseURL, authToken, httpClient, timeout),
	}
}

func (a *NotificationAdapter) Send(ctx context.Context, req *out.NotificationRequest) error {
	return a.client.do(ctx, http.MethodPost, "/v1/notifications", map[string]interface{}{
		"user_id": req.UserID,
		"channel": string(req.Channel),
		"title":   req.Title,
		"body":    req.Body,
		"data":    req.Data,
	}, nil)
}
