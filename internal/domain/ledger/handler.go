package ledger

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/medsafar/supplychain/internal/platform/auth"
	"github.com/medsafar/supplychain/pkg/pagination"
)

// EventLister reads journaled events back.
type EventLister interface {
	List(ctx context.Context, from uint64, limit int) ([]Event, error)
	ForMedicine(ctx context.Context, medicineID int64) ([]Event, error)
}

type Handler struct {
	ledger     *Ledger
	events     EventLister
	thresholds Thresholds
}

// NewHandler serves l over HTTP. events may be nil when no journal is
// configured; GET /events then answers 404.
func NewHandler(l *Ledger, events EventLister, th Thresholds) *Handler {
	return &Handler{ledger: l, events: events, thresholds: th}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/owner", h.GetOwner)

	api.POST("/roles/:class", h.AddRole)
	api.GET("/roles/:class", h.ListRoles)
	api.GET("/roles/:class/:id", h.GetRole)

	api.POST("/hospitals", h.AddHospital)
	api.GET("/hospitals", h.ListHospitals)
	api.GET("/hospitals/:id", h.GetHospital)

	api.POST("/medicines", h.AddMedicine)
	api.GET("/medicines", h.ListMedicines)
	api.GET("/medicines/:id", h.GetMedicine)
	api.PUT("/medicines/:id/quantity", h.UpdateQuantity)
	api.GET("/medicines/:id/stage", h.GetStage)
	api.GET("/medicines/:id/batch-number", h.GetBatchNumber)
	api.GET("/medicines/:id/price", h.GetPrice)
	api.GET("/medicines/:id/expiry", h.CheckExpiry)
	api.GET("/medicines/:id/stage-durations", h.GetStageDurations)
	api.GET("/medicines/:id/trace", h.GetTrace)
	api.POST("/medicines/:id/return", h.InitiateReturn)
	api.POST("/medicines/:id/destroy", h.ConfirmDestruction)
	api.POST("/medicines/:id/:transition", h.Advance)

	api.POST("/requests", h.RequestMedicine)
	api.GET("/requests/pending", h.ListPending)
	api.POST("/transfers", h.TransferMedicine)

	api.GET("/alerts", h.ListAlerts)
	api.GET("/events", h.ListEvents)
}

// ErrorStatus maps a ledger error to its HTTP status.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrWrongStage),
		errors.Is(err, ErrDuplicateMedicine),
		errors.Is(err, ErrRolesNotConfigured),
		errors.Is(err, ErrNotExpired):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func fail(err error) error {
	status := ErrorStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, map[string]string{"error": "internal error"}).SetInternal(err)
	}
	return echo.NewHTTPError(status, map[string]string{"error": err.Error(), "kind": Kind(err)})
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": msg, "kind": "InvalidInput"})
}

func caller(c echo.Context) string {
	return auth.AccountFromContext(c.Request().Context())
}

func idParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest("invalid " + name)
	}
	return id, nil
}

func classParam(c echo.Context) (RoleClass, error) {
	class, err := ParseRoleClass(c.Param("class"))
	if err != nil {
		return 0, badRequest(err.Error())
	}
	return class, nil
}

// -- Registry --

func (h *Handler) GetOwner(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"owner": h.ledger.Owner()})
}

type roleRequest struct {
	Account string `json:"account"`
	Name    string `json:"name"`
	Place   string `json:"place"`
}

func (h *Handler) AddRole(c echo.Context) error {
	class, err := classParam(c)
	if err != nil {
		return err
	}
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	r, err := h.ledger.AddRole(c.Request().Context(), caller(c), class, req.Account, req.Name, req.Place)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ListRoles(c echo.Context) error {
	class, err := classParam(c)
	if err != nil {
		return err
	}
	items, err := h.ledger.ListRoles(c.Request().Context(), class)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) GetRole(c echo.Context) error {
	class, err := classParam(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	r, err := h.ledger.GetRole(c.Request().Context(), class, id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, r)
}

type hospitalRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Account  string `json:"account"`
}

func (h *Handler) AddHospital(c echo.Context) error {
	var req hospitalRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	hosp, err := h.ledger.AddHospital(c.Request().Context(), caller(c), req.Name, req.Location, req.Account)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, hosp)
}

func (h *Handler) ListHospitals(c echo.Context) error {
	items, err := h.ledger.ListHospitals(c.Request().Context())
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) GetHospital(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	hosp, err := h.ledger.GetHospital(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, hosp)
}

// -- Medicines --

func (h *Handler) AddMedicine(c echo.Context) error {
	var in MedicineInput
	if err := c.Bind(&in); err != nil {
		return badRequest("invalid request body")
	}
	m, err := h.ledger.AddMedicine(c.Request().Context(), caller(c), in)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMedicines(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.ledger.ListMedicines(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL.Path))
}

func (h *Handler) GetMedicine(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	m, err := h.ledger.GetMedicine(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, m)
}

type quantityRequest struct {
	Quantity *int64 `json:"quantity"`
}

func (h *Handler) UpdateQuantity(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req quantityRequest
	if err := c.Bind(&req); err != nil || req.Quantity == nil {
		return badRequest("quantity is required")
	}
	m, err := h.ledger.UpdateQuantity(c.Request().Context(), caller(c), id, *req.Quantity)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) GetStage(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	m, err := h.ledger.GetMedicine(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":    m.ID,
		"stage": m.Stage,
		"name":  m.Stage.String(),
		"label": m.Stage.Label(),
	})
}

func (h *Handler) GetBatchNumber(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	b, err := h.ledger.BatchNumber(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "batch_number": b})
}

func (h *Handler) GetPrice(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.ledger.Price(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "price": p})
}

func (h *Handler) CheckExpiry(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	expired, err := h.ledger.CheckExpiry(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "expired": expired})
}

func (h *Handler) GetStageDurations(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	d, err := h.ledger.TimeSpentInStages(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "durations": d})
}

func (h *Handler) GetTrace(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	tr, err := h.ledger.Trace(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, tr)
}

// -- Stage transitions --

func (h *Handler) Advance(c echo.Context) error {
	t, ok := LookupTransition(c.Param("transition"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, map[string]string{"error": "unknown transition " + c.Param("transition"), "kind": "NotFound"})
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	m, err := h.ledger.Advance(c.Request().Context(), caller(c), t, id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) InitiateReturn(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	m, err := h.ledger.InitiateReturn(c.Request().Context(), caller(c), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ConfirmDestruction(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	m, err := h.ledger.ConfirmDestruction(c.Request().Context(), caller(c), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, m)
}

// -- Fulfillment --

type demandRequest struct {
	HospitalID int64 `json:"hospital_id"`
	MedicineID int64 `json:"medicine_id"`
	Quantity   int64 `json:"quantity"`
	Urgent     bool  `json:"urgent"`
}

func (h *Handler) RequestMedicine(c echo.Context) error {
	var req demandRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	r, err := h.ledger.RequestMedicine(c.Request().Context(), caller(c), req.HospitalID, req.MedicineID, req.Quantity, req.Urgent)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, r)
}

// ListPending answers with the parallel-array form; ?format=list returns
// request objects instead.
func (h *Handler) ListPending(c echo.Context) error {
	p, err := h.ledger.PendingRequests(c.Request().Context())
	if err != nil {
		return fail(err)
	}
	if c.QueryParam("format") == "list" {
		items := make([]PendingRequest, 0, p.Len())
		for r := range p.All() {
			items = append(items, r)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": p.Len()})
	}
	return c.JSON(http.StatusOK, p.Columns())
}

type transferRequest struct {
	HospitalID int64 `json:"hospital_id"`
	MedicineID int64 `json:"medicine_id"`
	Quantity   int64 `json:"quantity"`
}

func (h *Handler) TransferMedicine(c echo.Context) error {
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	m, err := h.ledger.TransferMedicine(c.Request().Context(), caller(c), req.HospitalID, req.MedicineID, req.Quantity)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, m)
}

// -- Alerts and events --

func (h *Handler) ListAlerts(c echo.Context) error {
	th := h.thresholds
	if v := c.QueryParam("understock"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return badRequest("invalid understock")
		}
		th.Understock = n
	}
	if v := c.QueryParam("overstock"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return badRequest("invalid overstock")
		}
		th.Overstock = n
	}
	alerts, err := h.ledger.Alerts(c.Request().Context(), th)
	if err != nil {
		return fail(err)
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": alerts, "total": len(alerts)})
}

func (h *Handler) ListEvents(c echo.Context) error {
	if h.events == nil {
		return echo.NewHTTPError(http.StatusNotFound, map[string]string{"error": "event journal disabled", "kind": "NotFound"})
	}
	ctx := c.Request().Context()

	if v := c.QueryParam("medicine_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return badRequest("invalid medicine_id")
		}
		events, err := h.events.ForMedicine(ctx, id)
		if err != nil {
			return fail(err)
		}
		if events == nil {
			events = []Event{}
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"data": events, "total": len(events)})
	}

	cur, err := pagination.CursorFromContext(c)
	if err != nil {
		return badRequest(err.Error())
	}
	events, err := h.events.List(ctx, cur.From, cur.Limit)
	if err != nil {
		return fail(err)
	}
	if events == nil {
		events = []Event{}
	}
	body := map[string]interface{}{"data": events, "total": len(events)}
	if len(events) > 0 {
		if next, ok := cur.Next(len(events), events[len(events)-1].Seq); ok {
			body["next_from"] = next.From
		}
	}
	return c.JSON(http.StatusOK, body)
}
