package http

import (
	"skillswap_server/core/domain"
	"skillswap_server/core/port/in"

	"github.com/gofiber/fiber/v2"
)

// ReminderHandler exposes per-user reminder preferences and the scheduled
// reminder rows of an appointment.
type ReminderHandler struct {
	reminders in.ReminderService
}

func NewReminderHandler(reminders in.ReminderService) *ReminderHandler {
	return &ReminderHandler{reminders: reminders}
}

func (h *ReminderHandler) Register(app fiber.Router) {
	group := app.Group("/reminders")
	group.Get("/settings", h.GetSettings)
	group.Put("/settings", h.SetSettings)

	app.Get("/appointments/:id/reminders", h.ListByAppointment)
}

func (h *ReminderHandler) GetSettings(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	settings, err := h.reminders.GetSettings(c.Context(), userID)
	if err != nil {
		return ServiceErrorResponse(c, err, "get reminder settings")
	}
	return SuccessResponse(c, settings)
}

func (h *ReminderHandler) SetSettings(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	var settings domain.ReminderSettings
	if err := c.BodyParser(&settings); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}
	settings.UserID = userID

	saved, err := h.reminders.SetSettings(c.Context(), &settings)
	if err != nil {
		return ServiceErrorResponse(c, err, "save reminder settings")
	}
	return SuccessResponse(c, saved)
}

func (h *ReminderHandler) ListByAppointment(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	appointmentID, err := GetIDParam(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	reminders, err := h.reminders.ListByAppointment(c.Context(), appointmentID, userID)
	if err != nil {
		return ServiceErrorResponse(c, err, "list reminders")
	}
	return SuccessResponse(c, fiber.Map{"reminders": reminders})
}
