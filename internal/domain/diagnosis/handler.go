package diagnosis

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/carecoord/internal/platform/apperror"
	"github.com/ehr/carecoord/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/diagnoses/:id", h.Get)

	clinicians := api.Group("", auth.RequireRole(auth.RoleDoctor))
	clinicians.POST("/diagnoses", h.Create)
	clinicians.PATCH("/diagnoses/:id", h.Update)
	clinicians.POST("/diagnoses/:id/complete", h.Complete)
	clinicians.POST("/lab-results/:id/cancel", h.CancelLabResult)
	clinicians.POST("/prescriptions/:id/cancel", h.CancelPrescription)

	lab := api.Group("", auth.RequireRole(auth.RoleLabTech))
	lab.PATCH("/lab-results/:id", h.UpdateLabResult)
	lab.POST("/lab-results/:id/complete", h.CompleteLabResult)

	pharmacy := api.Group("", auth.RequireRole(auth.RolePharmacist))
	pharmacy.POST("/prescriptions/:id/dispense", h.DispensePrescription)
}

type createRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Symptoms  *string   `json:"symptoms"`
	LabTests  []string  `json:"lab_tests"`
}

type updateRequest struct {
	Symptoms         *string             `json:"symptoms"`
	Description      *string             `json:"description"`
	Outcome          *string             `json:"outcome"`
	Prescribed       *bool               `json:"prescribed"`
	RequiresLabTests *bool               `json:"requires_lab_tests"`
	LabTests         []string            `json:"lab_tests"`
	Prescriptions    []PrescriptionInput `json:"prescriptions"`
}

type labResultRequest struct {
	Result string `json:"result"`
}

type cancelRequest struct {
	CancellationReason string `json:"cancellation_reason"`
}

func actorOf(c echo.Context) (auth.Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return actor, nil
}

// request extracts the actor and the :id path parameter.
func request(c echo.Context) (auth.Actor, uuid.UUID, error) {
	actor, err := actorOf(c)
	if err != nil {
		return auth.Actor{}, uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return auth.Actor{}, uuid.Nil, apperror.HTTPError(ErrInvalidID)
	}
	return actor, id, nil
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
	d, err := h.svc.Create(c.Request().Context(), actor, CreateInput{
		PatientID: req.PatientID,
		Symptoms:  req.Symptoms,
		LabTests:  req.LabTests,
	})
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, Project(actor.Role, d))
}

func (h *Handler) Get(c echo.Context) error {
	actor, id, err := request(c)
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
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := h.svc.Update(c.Request().Context(), actor, id, UpdateInput{
		Symptoms:         req.Symptoms,
		Description:      req.Description,
		Outcome:          req.Outcome,
		Prescribed:       req.Prescribed,
		RequiresLabTests: req.RequiresLabTests,
		LabTests:         req.LabTests,
		Prescriptions:    req.Prescriptions,
	})
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, Project(actor.Role, d))
}

func (h *Handler) Complete(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Complete(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, Project(actor.Role, d))
}

func (h *Handler) UpdateLabResult(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	var req labResultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	lr, err := h.svc.UpdateLabResult(c.Request().Context(), actor, id, req.Result)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, lr)
}

func (h *Handler) CompleteLabResult(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	lr, err := h.svc.CompleteLabResult(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, lr)
}

func (h *Handler) CancelLabResult(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	lr, err := h.svc.CancelLabResult(c.Request().Context(), actor, id, req.CancellationReason)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, lr)
}

func (h *Handler) DispensePrescription(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	p, err := h.svc.DispensePrescription(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CancelPrescription(c echo.Context) error {
	actor, id, err := request(c)
	if err != nil {
		return err
	}
	p, err := h.svc.CancelPrescription(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}
