package scheduling

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Either participant
	participants := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	participants.GET("/doctors", h.ListDoctors)
	participants.GET("/doctors/:doctor_id/slots", h.ListSlots)
	participants.GET("/appointments", h.ListAppointments)
	participants.GET("/appointments/:id", h.GetAppointment)
	participants.PATCH("/appointments/:id/status", h.UpdateStatus)

	// Doctor only
	doctors := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctors.GET("/doctors/:doctor_id/availability", h.ListTemplates)
	doctors.PUT("/doctors/:doctor_id/availability", h.UpsertTemplate)
	doctors.DELETE("/doctors/:doctor_id/availability/:id", h.DeactivateTemplate)
	doctors.GET("/appointments/today", h.TodayAppointments)

	// Patient only
	patients := api.Group("", auth.RequireRole(auth.RolePatient))
	patients.POST("/appointments", h.BookAppointment)
}

// -- Request bodies --

type templateRequest struct {
	ID                  *string          `json:"id" validate:"omitempty,uuid"`
	DayOfWeek           *int             `json:"day_of_week" validate:"required,min=0,max=6"`
	StartTime           string           `json:"start_time" validate:"required,time_of_day"`
	EndTime             string           `json:"end_time" validate:"required,time_of_day"`
	SlotDurationMinutes int              `json:"slot_duration_minutes"`
	ConsultationFee     *decimal.Decimal `json:"consultation_fee"`
	IsActive            *bool            `json:"is_active"`
}

type bookRequest struct {
	DoctorID         string  `json:"doctor_id" validate:"required,uuid"`
	AppointmentDate  string  `json:"appointment_date" validate:"required,calendar_date"`
	AppointmentTime  string  `json:"appointment_time" validate:"required,time_of_day"`
	Notes            *string `json:"notes" validate:"omitempty,max=2000"`
	ConsultationType string  `json:"consultation_type" validate:"omitempty,oneof=video audio chat"`
}

type statusRequest struct {
	Status             string  `json:"status" validate:"required"`
	MeetingLink        *string `json:"meeting_link" validate:"omitempty,url"`
	Diagnosis          *string `json:"diagnosis" validate:"omitempty,max=5000"`
	Prescription       *string `json:"prescription" validate:"omitempty,max=5000"`
	CancellationReason *string `json:"cancellation_reason" validate:"omitempty,max=500"`
}

type slotsResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     Date      `json:"date"`
	Slots    []Slot    `json:"slots"`
}

// -- Helpers --

var kindStatus = map[Kind]int{
	KindValidation:             http.StatusBadRequest,
	KindInvalidRequest:         http.StatusBadRequest,
	KindAuthorization:          http.StatusForbidden,
	KindNotFound:               http.StatusNotFound,
	KindSlotUnavailable:        http.StatusConflict,
	KindConflict:               http.StatusConflict,
	KindInvalidStateTransition: http.StatusUnprocessableEntity,
	KindUnavailable:            http.StatusServiceUnavailable,
	KindDataUnavailable:        http.StatusServiceUnavailable,
}

// httpError converts a service error into the JSON error body.
func httpError(err error) error {
	var se *Error
	if !errors.As(err, &se) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	code, ok := kindStatus[se.Kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	body := map[string]interface{}{
		"error":   se.Kind,
		"message": se.Message,
	}
	if se.Field != "" {
		body["field"] = se.Field
	}
	if se.From != "" || se.To != "" {
		body["from"] = se.From
		body["to"] = se.To
	}
	return echo.NewHTTPError(code, body)
}

func badRequest(field, message string) error {
	return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
		"error":   KindValidation,
		"field":   field,
		"message": message,
	})
}

func actorID(c echo.Context) (uuid.UUID, error) {
	id := auth.UserIDFromContext(c.Request().Context())
	if id == uuid.Nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, badRequest(name, "invalid "+name)
	}
	return id, nil
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return c.Validate(req)
}

// -- Slots --

func (h *Handler) ListSlots(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	raw := c.QueryParam("date")
	if raw == "" {
		return badRequest("date", "date is required")
	}
	date, err := ParseDate(raw)
	if err != nil {
		return badRequest("date", err.Error())
	}

	slots, err := h.svc.ListSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slotsResponse{DoctorID: doctorID, Date: date, Slots: slots})
}

// -- Availability templates --

func (h *Handler) ListTemplates(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListTemplates(c.Request().Context(), actor, doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) UpsertTemplate(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	var req templateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	tpl := &AvailabilityTemplate{
		DayOfWeek:           *req.DayOfWeek,
		StartTime:           MustTimeOfDay(req.StartTime),
		EndTime:             MustTimeOfDay(req.EndTime),
		SlotDurationMinutes: req.SlotDurationMinutes,
		ConsultationFee:     DefaultConsultationFee,
		IsActive:            true,
	}
	if req.ID != nil {
		tpl.ID = uuid.MustParse(*req.ID)
	}
	if req.ConsultationFee != nil {
		tpl.ConsultationFee = *req.ConsultationFee
	}
	if req.IsActive != nil {
		tpl.IsActive = *req.IsActive
	}

	code := http.StatusOK
	if tpl.ID == uuid.Nil {
		code = http.StatusCreated
	}
	saved, err := h.svc.UpsertTemplate(c.Request().Context(), actor, doctorID, tpl)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(code, saved)
}

func (h *Handler) DeactivateTemplate(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	templateID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeactivateTemplate(c.Request().Context(), actor, doctorID, templateID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointments --

func (h *Handler) BookAppointment(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	var req bookRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	date, err := ParseDate(req.AppointmentDate)
	if err != nil {
		return badRequest("appointment_date", err.Error())
	}

	appt, err := h.svc.BookAppointment(c.Request().Context(), BookingRequest{
		PatientID:        actor,
		DoctorID:         uuid.MustParse(req.DoctorID),
		Date:             date,
		Time:             MustTimeOfDay(req.AppointmentTime),
		Notes:            req.Notes,
		ConsultationType: req.ConsultationType,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	appt, err := h.svc.UpdateStatus(c.Request().Context(), actor, id, StatusUpdate{
		Status:             Status(req.Status),
		MeetingLink:        req.MeetingLink,
		Diagnosis:          req.Diagnosis,
		Prescription:       req.Prescription,
		CancellationReason: req.CancellationReason,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// ListAppointments shows doctors their schedule and patients their history.
const maxDoctorQuery = 100

func (h *Handler) ListDoctors(c echo.Context) error {
	pg, err := pagination.FromContext(c)
	if err != nil {
		return badRequest("limit", err.Error())
	}
	f := DoctorFilter{
		Name:      c.QueryParam("name"),
		Specialty: c.QueryParam("specialty"),
		Limit:     pg.Limit,
		Offset:    pg.Offset,
	}
	if len(f.Name) > maxDoctorQuery {
		return badRequest("name", "too long")
	}
	if len(f.Specialty) > maxDoctorQuery {
		return badRequest("specialty", "too long")
	}

	items, total, err := h.svc.ListDoctors(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListAppointments(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	pg, err := pagination.FromContext(c)
	if err != nil {
		return badRequest("limit", err.Error())
	}

	f := AppointmentFilter{Limit: pg.Limit, Offset: pg.Offset}
	if auth.HasRole(c.Request().Context(), auth.RoleDoctor) {
		f.DoctorID = &actor
	} else {
		f.PatientID = &actor
	}

	if v := c.QueryParam("status"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			st, ok := ParseStatus(strings.TrimSpace(raw))
			if !ok {
				return badRequest("status", "unknown status "+raw)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	for _, p := range []struct {
		name string
		dst  **Date
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := c.QueryParam(p.name); v != "" {
			d, err := ParseDate(v)
			if err != nil {
				return badRequest(p.name, err.Error())
			}
			*p.dst = &d
		}
	}

	items, total, err := h.svc.ListAppointments(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) TodayAppointments(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.TodayAppointments(c.Request().Context(), actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date": h.svc.Today(),
		"data": items,
	})
}
