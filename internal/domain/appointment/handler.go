package appointment

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/carecoord/internal/platform/apperror"
	"github.com/ehr/carecoord/internal/platform/auth"
	"github.com/ehr/carecoord/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Patients and doctors book, edit, confirm and cancel; admin always passes.
	parties := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	parties.POST("/appointments", h.Create)
	parties.GET("/appointments", h.List)
	parties.GET("/appointments/:id", h.Get)
	parties.PATCH("/appointments/:id", h.Update)
	parties.POST("/appointments/:id/confirm", h.Confirm)
	parties.POST("/appointments/:id/cancel", h.Cancel)

	clinicians := api.Group("", auth.RequireRole(auth.RoleDoctor))
	clinicians.PATCH("/appointments/:id/notes", h.RecordNotes)
	clinicians.POST("/appointments/:id/complete", h.Complete)
}

type createRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Date      time.Time `json:"date"`
	Reason    string    `json:"reason"`
}

type updateRequest struct {
	Reason       *string    `json:"reason"`
	Date         *time.Time `json:"date"`
	UpdateReason string     `json:"update_reason"`
}

type cancelRequest struct {
	CancellationReason string `json:"cancellation_reason"`
}

type notesRequest struct {
	Outcome         *string `json:"outcome"`
	CreateDiagnosis *bool   `json:"create_diagnosis"`
}

type completeRequest struct {
	Outcome string `json:"outcome"`
}

func actorOf(c echo.Context) (auth.Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return actor, nil
}

func idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.HTTPError(ErrInvalidID)
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Create(c.Request().Context(), actor, CreateInput{
		DoctorID:    req.DoctorID,
		PatientID:   req.PatientID,
		ScheduledAt: req.Date,
		Reason:      req.Reason,
	})
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, Project(actor.Role, a))
}

func (h *Handler) List(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	views, total, err := h.svc.List(c.Request().Context(), actor, Status(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Get(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Update(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Update(c.Request().Context(), actor, id, UpdateInput{
		Reason:       req.Reason,
		ScheduledAt:  req.Date,
		UpdateReason: req.UpdateReason,
	})
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, Project(actor.Role, a))
}

func (h *Handler) Confirm(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Confirm(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, Project(actor.Role, a))
}

func (h *Handler) Cancel(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Cancel(c.Request().Context(), actor, id, req.CancellationReason)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, Project(actor.Role, a))
}

func (h *Handler) RecordNotes(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req notesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.RecordNotes(c.Request().Context(), actor, id, NotesInput{
		Outcome:         req.Outcome,
		CreateDiagnosis: req.CreateDiagnosis,
	})
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, Project(actor.Role, a))
}

func (h *Handler) Complete(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Complete(c.Request().Context(), actor, id, req.Outcome)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, Project(actor.Role, a))
}
