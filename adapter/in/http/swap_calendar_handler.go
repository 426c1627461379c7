package http

import (
	"skillswap_server/core/domain"
	"skillswap_server/core/port/in"

	"github.com/gofiber/fiber/v2"
)

// CalendarHandler manages external calendar links. Google and Microsoft go
// through OAuth; Apple submits an app-specific password instead.
type CalendarHandler struct {
	calendars in.CalendarService
}

func NewCalendarHandler(calendars in.CalendarService) *CalendarHandler {
	return &CalendarHandler{calendars: calendars}
}

func (h *CalendarHandler) Register(app fiber.Router) {
	group := app.Group("/calendar")
	group.Get("/integrations", h.ListIntegrations)
	group.Get("/busy", h.Busy)
	group.Post("/connect/:provider", h.Connect)
	group.Post("/callback/:provider", h.OAuthCallback)
	group.Post("/apple", h.ConnectApple)
	group.Delete("/:provider", h.Disconnect)
}

func providerParam(c *fiber.Ctx) (domain.CalendarProvider, bool) {
	raw := c.Params("provider")
	if !domain.ValidProvider(raw) {
		return "", false
	}
	return domain.CalendarProvider(raw), true
}

// Connect starts the OAuth flow and returns the provider authorization URL
// the client should open.
func (h *CalendarHandler) Connect(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	provider, ok := providerParam(c)
	if !ok {
		return ErrorResponse(c, 400, "unsupported calendar provider")
	}

	authURL, err := h.calendars.ConnectCalendar(c.Context(), userID, provider)
	if err != nil {
		return ServiceErrorResponse(c, err, "connect calendar")
	}
	return SuccessResponse(c, fiber.Map{"auth_url": authURL})
}

// OAuthCallback finishes the flow with the code the provider redirect
// handed to the client.
func (h *CalendarHandler) OAuthCallback(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	provider, ok := providerParam(c)
	if !ok {
		return ErrorResponse(c, 400, "unsupported calendar provider")
	}

	var body struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}
	if err := c.BodyParser(&body); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	integration, err := h.calendars.CompleteOAuth(c.Context(), &in.OAuthCallbackRequest{
		UserID:   userID,
		Provider: provider,
		Code:     body.Code,
		State:    body.State,
	})
	if err != nil {
		return ServiceErrorResponse(c, err, "complete calendar oauth")
	}
	return CreatedResponse(c, integration)
}

// ConnectApple links an iCloud calendar with an app-specific password.
func (h *CalendarHandler) ConnectApple(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	var body struct {
		AppleID     string `json:"apple_id"`
		AppPassword string `json:"app_password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	integration, err := h.calendars.ConnectApple(c.Context(), userID, body.AppleID, body.AppPassword)
	if err != nil {
		return ServiceErrorResponse(c, err, "connect apple calendar")
	}
	return CreatedResponse(c, integration)
}

func (h *CalendarHandler) Disconnect(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	provider, ok := providerParam(c)
	if !ok {
		return ErrorResponse(c, 400, "unsupported calendar provider")
	}

	if err := h.calendars.DisconnectCalendar(c.Context(), userID, provider); err != nil {
		return ServiceErrorResponse(c, err, "disconnect calendar")
	}
	return SuccessResponse(c, fiber.Map{"disconnected": provider})
}

func (h *CalendarHandler) ListIntegrations(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	integrations, err := h.calendars.ListIntegrations(c.Context(), userID)
	if err != nil {
		return ServiceErrorResponse(c, err, "list calendar integrations")
	}
	return SuccessResponse(c, fiber.Map{"integrations": integrations})
}

// Busy returns the merged occupied intervals across every linked calendar
// plus the user's scheduled appointments.
func (h *CalendarHandler) Busy(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	from, to, err := GetTimeRange(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	intervals, err := h.calendars.Busy(c.Context(), userID, from, to)
	if err != nil {
		return ServiceErrorResponse(c, err, "busy lookup")
	}
	return SuccessResponse(c, fiber.Map{
		"from": from,
		"to":   to,
		"busy": intervals,
	})
}
