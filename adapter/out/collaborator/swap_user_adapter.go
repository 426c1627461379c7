package collaborator

import (
	"context"
	"net/http"
	"time"

	"skillswap_server/core/port/out"

	"github.com/google/uuid"
)

// UserServiceAdapter resolves recipient contact info from the identity
// service.
type UserServiceAdapter struct {
	client *serviceClient
}

var _ out.UserContactPort = (*UserServiceAdapter)(nil)

func NewUserServiceAdapter(baseURL, authToken string, httpClient *http.Client, timeout time.Duration) *UserServiceAdapter {
	return &UserServiceAdapter{
		client: newServiceClient("user-service", baseURL, authToken, httpClient, timeout),
	}
}

func (a *UserServiceAdapter) GetContact(ctx context.Context, userID uuid.UUID) (*out.UserContact, error) {
	var resp struct {
		UserID      uuid.UUID `json:"user_id"`
		DisplayName string    `json:"display_name"`
		Email       string    `json:"email"`
		PhoneNumber string    `json:"phone_number"`
		PushToken   string    `json:"push_token"`
	}
	err := a.client.do(ctx, http.MethodGet, "/internal/users/"+userID.String()+"/contact", nil, &resp)
	if err != nil {
		return nil, err
	}
	return &out.UserContact{
		UserID:      resp.UserID,
		DisplayName: resp.DisplayName,
		Email:       resp.Email,
		PhoneNumber: resp.PhoneNumber,
		PushToken:   resp.PushToken,
	}, nil
}
