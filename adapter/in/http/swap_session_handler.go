package http

import (
	"context"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/in"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// SessionHandler exposes the session orchestration API: connection and
// appointment queries plus the appointment lifecycle commands. Hierarchy
// creation sits on the internal router because only the matching service
// calls it.
type SessionHandler struct {
	sessions in.SessionService
}

func NewSessionHandler(sessions in.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Register(app fiber.Router) {
	connections := app.Group("/connections")
	connections.Get("/", h.ListConnections)
	connections.Get("/:id", h.GetConnection)

	appointments := app.Group("/appointments")
	appointments.Get("/", h.ListAppointments)
	appointments.Post("/", h.ScheduleSession)
	appointments.Get("/:id", h.GetAppointment)
	appointments.Post("/:id/confirm", h.ConfirmSession)
	appointments.Post("/:id/start", h.StartSession)
	appointments.Post("/:id/complete", h.CompleteSession)
	appointments.Post("/:id/cancel", h.CancelSession)
	appointments.Post("/:id/reschedule", h.RequestReschedule)
	appointments.Post("/:id/reschedule/approve", h.ApproveReschedule)
	appointments.Post("/:id/reschedule/reject", h.RejectReschedule)
	appointments.Post("/:id/no-show", h.MarkNoShow)
}

// RegisterInternal mounts the service-to-service endpoints.
func (h *SessionHandler) RegisterInternal(app fiber.Router) {
	app.Post("/session-hierarchy", h.CreateHierarchy)
}

// CreateHierarchy materializes an accepted match into a connection with its
// series and scheduled appointments. Called by the matching service after
// both sides accept.
func (h *SessionHandler) CreateHierarchy(c *fiber.Ctx) error {
	var req in.CreateHierarchyRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}

	result, err := h.sessions.CreateSessionHierarchyFromMatch(c.Context(), &req)
	if err != nil {
		return ServiceErrorResponse(c, err, "create session hierarchy")
	}
	return CreatedResponse(c, result)
}

func (h *SessionHandler) ListConnections(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	connections, page, err := h.sessions.ListConnections(c.Context(), userID, GetPageRequest(c))
	if err != nil {
		return ServiceErrorResponse(c, err, "list connections")
	}
	return SuccessResponse(c, fiber.Map{
		"connections": connections,
		"pagination":  page,
	})
}

func (h *SessionHandler) GetConnection(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	connectionID, err := GetIDParam(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	detail, err := h.sessions.GetConnection(c.Context(), connectionID, userID)
	if err != nil {
		return ServiceErrorResponse(c, err, "get connection")
	}
	return SuccessResponse(c, detail)
}

func (h *SessionHandler) ListAppointments(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	from, to, err := GetTimeRange(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	appointments, err := h.sessions.ListAppointments(c.Context(), userID, from, to)
	if err != nil {
		return ServiceErrorResponse(c, err, "list appointments")
	}
	return SuccessResponse(c, fiber.Map{"appointments": appointments})
}

func (h *SessionHandler) GetAppointment(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	appointmentID, err := GetIDParam(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	appt, err := h.sessions.GetAppointment(c.Context(), appointmentID, userID)
	if err != nil {
		return ServiceErrorResponse(c, err, "get appointment")
	}
	return SuccessResponse(c, appt)
}

func (h *SessionHandler) ScheduleSession(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	var req in.ScheduleSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}
	req.RequestedBy = userID

	appt, err := h.sessions.ScheduleSession(c.Context(), &req)
	if err != nil {
		return ServiceErrorResponse(c, err, "schedule session")
	}
	return CreatedResponse(c, appt)
}

func (h *SessionHandler) ConfirmSession(c *fiber.Ctx) error {
	return h.transition(c, h.sessions.ConfirmSession, "confirm session")
}

func (h *SessionHandler) StartSession(c *fiber.Ctx) error {
	return h.transition(c, h.sessions.StartSession, "start session")
}

func (h *SessionHandler) CompleteSession(c *fiber.Ctx) error {
	return h.transition(c, h.sessions.CompleteSession, "complete session")
}

func (h *SessionHandler) CancelSession(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	appointmentID, err := GetIDParam(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return ErrorResponse(c, 400, "invalid request body")
		}
	}

	appt, err := h.sessions.CancelSession(c.Context(), &in.CancelSessionRequest{
		AppointmentID: appointmentID,
		CancelledBy:   userID,
		Reason:        body.Reason,
	})
	if err != nil {
		return ServiceErrorResponse(c, err, "cancel session")
	}
	return SuccessResponse(c, appt)
}

func (h *SessionHandler) RequestReschedule(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	appointmentID, err := GetIDParam(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var req in.RescheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}
	req.AppointmentID = appointmentID
	req.RequestedBy = userID

	appt, err := h.sessions.RequestReschedule(c.Context(), &req)
	if err != nil {
		return ServiceErrorResponse(c, err, "request reschedule")
	}
	return SuccessResponse(c, appt)
}

func (h *SessionHandler) ApproveReschedule(c *fiber.Ctx) error {
	return h.transition(c, h.sessions.ApproveReschedule, "approve reschedule")
}

func (h *SessionHandler) RejectReschedule(c *fiber.Ctx) error {
	return h.transition(c, h.sessions.RejectReschedule, "reject reschedule")
}

func (h *SessionHandler) MarkNoShow(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	appointmentID, err := GetIDParam(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	var req in.MarkNoShowRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, "invalid request body")
	}
	req.AppointmentID = appointmentID
	req.ReportedBy = userID

	appt, err := h.sessions.MarkNoShow(c.Context(), &req)
	if err != nil {
		return ServiceErrorResponse(c, err, "mark no-show")
	}
	return SuccessResponse(c, appt)
}

// transition runs one of the parameterless lifecycle commands (confirm,
// start, complete, approve/reject reschedule).
func (h *SessionHandler) transition(c *fiber.Ctx, fn func(context.Context, int64, uuid.UUID) (*domain.SessionAppointment, error), operation string) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}
	appointmentID, err := GetIDParam(c, "id")
	if err != nil {
		return AppErrorResponse(c, err)
	}

	appt, err := fn(c.Context(), appointmentID, userID)
	if err != nil {
		return ServiceErrorResponse(c, err, operation)
	}
	return SuccessResponse(c, appt)
}
