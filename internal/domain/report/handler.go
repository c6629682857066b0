package report

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/pkg/pagination"
)

// maxIndexAssignments bounds a single status index request.
const maxIndexAssignments = 200

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleViewer, auth.RoleLabTech, auth.RolePathologist))
	read.GET("/report-types", h.ListReportTypes)
	read.GET("/report-types/:id", h.GetReportType)
	read.GET("/report-types/:id/fields", h.ListFields)
	read.POST("/report-types/:id/evaluate", h.Evaluate)
	read.GET("/report-instances", h.ListInstances)
	read.GET("/report-instances/:id", h.GetInstance)
	read.GET("/report-instances/:id/summary", h.GetSummary)
	read.POST("/report-status/calculate", h.Calculate)
	read.GET("/report-status", h.StatusIndex)

	write := api.Group("", auth.RequireRole(auth.RoleLabTech, auth.RolePathologist))
	write.POST("/report-instances", h.CreateInstance)
	write.PUT("/report-instances/:id/values", h.SaveValues)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/report-types/:id/recalculate", h.Recalculate)

	// each role group claims the catch-all route; unknown paths are 404 for every role
	api.RouteNotFound("", routeNotFound)
	api.RouteNotFound("/*", routeNotFound)
}

func routeNotFound(echo.Context) error { return echo.ErrNotFound }

// httpError maps service errors onto status codes.
func httpError(err error) error {
	if ve, ok := IsValidation(err); ok {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": "invalid report values",
			"errors":  ve,
		})
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrInactiveReportType):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Report types --

func (h *Handler) ListReportTypes(c echo.Context) error {
	activeOnly := c.QueryParam("all") != "true"
	types, err := h.svc.ListReportTypes(c.Request().Context(), activeOnly)
	if err != nil {
		return httpError(err)
	}
	if types == nil {
		types = []*ReportType{}
	}
	return c.JSON(http.StatusOK, types)
}

func (h *Handler) GetReportType(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rt, err := h.svc.GetReportType(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rt)
}

func (h *Handler) ListFields(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	fields, err := h.svc.ListActiveFields(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if fields == nil {
		fields = []Field{}
	}
	return c.JSON(http.StatusOK, fields)
}

type valuesRequest struct {
	Values ValueMap `json:"values"`
}

func (h *Handler) Evaluate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req valuesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ev, err := h.svc.Evaluate(c.Request().Context(), id, req.Values)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ev)
}

func (h *Handler) Recalculate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.Recalculate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

// -- Report instances --

type createInstanceRequest struct {
	TestAssignmentID uuid.UUID `json:"testAssignmentId"`
	ReportTypeID     uuid.UUID `json:"reportTypeId"`
}

func (h *Handler) CreateInstance(c echo.Context) error {
	var req createInstanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TestAssignmentID == uuid.Nil || req.ReportTypeID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "testAssignmentId and reportTypeId are required")
	}
	inst, err := h.svc.CreateInstance(c.Request().Context(), req.TestAssignmentID, req.ReportTypeID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inst)
}

func (h *Handler) GetInstance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inst, err := h.svc.GetInstance(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *Handler) ListInstances(c echo.Context) error {
	aid, err := uuid.Parse(c.QueryParam("assignment_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "assignment_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInstancesByAssignment(c.Request().Context(), aid, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Instance{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) SaveValues(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req valuesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	res, err := h.svc.SaveReport(ctx, id, req.Values, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetSummary(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.Summary(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

// -- Status --

type calculateRequest struct {
	Fields []Field  `json:"fields"`
	Values ValueMap `json:"values"`
}

type calculateResponse struct {
	Status  Status  `json:"status"`
	Summary Summary `json:"summary"`
}

// Calculate runs the status calculator on caller-supplied definitions.
func (h *Handler) Calculate(c echo.Context) error {
	var req calculateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, calculateResponse{
		Status:  CalculateStatus(req.Fields, req.Values),
		Summary: CompletionSummary(req.Fields, req.Values),
	})
}

// StatusIndex accepts repeated or comma separated assignment_id parameters.
func (h *Handler) StatusIndex(c echo.Context) error {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, raw := range c.QueryParams()["assignment_id"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid assignment_id "+part)
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "assignment_id is required")
	}
	if len(ids) > maxIndexAssignments {
		return echo.NewHTTPError(http.StatusBadRequest, "too many assignment ids")
	}

	index, err := h.svc.StatusIndex(c.Request().Context(), ids)
	if err != nil {
		return httpError(err)
	}
	out := make(map[string][]StatusEntry, len(index))
	for id, entries := range index {
		out[id.String()] = entries
	}
	return c.JSON(http.StatusOK, out)
}
