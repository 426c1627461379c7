package collaborator

import (
	"context"
	"net/http"
	"time"

	"skillswap_server/core/port/out"

	"github.com/google/uuid"
)

// ChatServiceAdapter opens the message thread of a new connection.
type ChatServiceAdapter struct {
	client *serviceClient
}

var _ out.ChatThreadPort = (*ChatServiceAdapter)(nil)

func NewChatServiceAdapter(baseURL, authToken string, httpClient *http.Client, timeout time.Duration) *ChatServiceAdapter {
	return &ChatServiceAdapter{
		client: newServiceClient("chat-service", baseURL, authToken, httpClient, timeout),
	}
}

func (a *ChatServiceAdapter) CreateThread(ctx context.Context, connectionID int64, userA, userB uuid.UUID) (string, error) {
	var resp struct {
		ThreadID string `json:"thread_id"`
	}
	err := a.client.do(ctx, http.MethodPost, "/v1/threads", map[string]interface{}{
		"reference_id": connectionID,
		"members":      []string{userA.String(), userB.String()},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ThreadID, nil
}
