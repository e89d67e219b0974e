package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"posapi/internal/api"
	"posapi/internal/domain"
	"posapi/internal/expense"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	dateLayout       = "2006-01-02"
)

// ExpenseHandler serves the /api/expenses resource. Every method expects the
// store access gate to have run.
type ExpenseHandler struct {
	svc      *expense.Service
	validate *validator.Validate
	now      func() time.Time
}

// NewExpenseHandler creates handlers backed by svc.
func NewExpenseHandler(svc *expense.Service) *ExpenseHandler {
	return &ExpenseHandler{
		svc:      svc,
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type createExpenseRequest struct {
	StoreID       string  `json:"storeId"`
	CategoryID    string  `json:"categoryId" validate:"omitempty,max=64"`
	Description   string  `json:"description" validate:"required,max=500"`
	Amount        float64 `json:"amount" validate:"gt=0"`
	PaymentMethod string  `json:"paymentMethod" validate:"required,oneof=cash card transfer other"`
	Date          string  `json:"date"`
	Notes         string  `json:"notes" validate:"max=2000"`
}

type updateExpenseRequest struct {
	CategoryID    *string  `json:"categoryId" validate:"omitempty,max=64"`
	Description   *string  `json:"description" validate:"omitempty,min=1,max=500"`
	Amount        *float64 `json:"amount" validate:"omitempty,gt=0"`
	PaymentMethod *string  `json:"paymentMethod" validate:"omitempty,oneof=cash card transfer other"`
	Date          *string  `json:"date"`
	Notes         *string  `json:"notes" validate:"omitempty,max=2000"`
}

type createCategoryRequest struct {
	StoreID     string `json:"storeId"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// List handles GET /. Without a resolved store it lists every store the
// principal can see.
func (h *ExpenseHandler) List(w http.ResponseWriter, r *http.Request) {
	scope, _, err := scopeFromRequest(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultListLimit, "limit")
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	if limit < 1 || limit > maxListLimit {
		api.WriteError(w, r, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrBadRequest, maxListLimit))
		return
	}
	offset, err := intParam(q.Get("offset"), 0, "offset")
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	if offset < 0 {
		api.WriteError(w, r, fmt.Errorf("%w: offset must not be negative", domain.ErrBadRequest))
		return
	}

	from, err := optionalDate(q.Get("startDate"), "startDate", false)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	to, err := optionalDate(q.Get("endDate"), "endDate", true)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	expenses, err := h.svc.List(r.Context(), scope, expense.ListQuery{
		CategoryID: strings.TrimSpace(q.Get("categoryId")),
		From:       from,
		To:         to,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"expenses": expenses,
		"limit":    limit,
		"offset":   offset,
	})
}

// Create handles POST /. The store comes from the gate; a storeId in the body
// must agree with it.
func (h *ExpenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	_, sc, err := scopeFromRequest(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	var req createExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := checkBodyStore(req.StoreID, sc); err != nil {
		api.WriteError(w, r, err)
		return
	}

	var date time.Time
	if req.Date != "" {
		date, _, err = parseDate(req.Date, "date")
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
	}

	principal, _ := api.PrincipalFromContext(r.Context())
	e, err := h.svc.Create(r.Context(), expense.NewExpense{
		StoreID:       sc.StoreID,
		CategoryID:    req.CategoryID,
		Description:   req.Description,
		Amount:        req.Amount,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Date:          date,
		Notes:         req.Notes,
		CreatedBy:     principal.ID,
	})
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, e)
}

// Update handles PATCH /{id}.
func (h *ExpenseHandler) Update(w http.ResponseWriter, r *http.Request) {
	scope, _, err := scopeFromRequest(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	var req updateExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}

	patch := domain.ExpensePatch{
		CategoryID:  req.CategoryID,
		Description: req.Description,
		Amount:      req.Amount,
		Notes:       req.Notes,
	}
	if req.PaymentMethod != nil {
		m := domain.PaymentMethod(*req.PaymentMethod)
		patch.PaymentMethod = &m
	}
	if req.Date != nil {
		d, _, err := parseDate(*req.Date, "date")
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		patch.Date = &d
	}

	e, err := h.svc.Update(r.Context(), scope, chi.URLParam(r, "id"), patch)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, e)
}

// Delete handles DELETE /{id}.
func (h *ExpenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, _, err := scopeFromRequest(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), scope, chi.URLParam(r, "id")); err != nil {
		api.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCategories handles GET /categories.
func (h *ExpenseHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	scope, _, err := scopeFromRequest(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	cats, err := h.svc.ListCategories(r.Context(), scope)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

// CreateCategory handles POST /categories.
func (h *ExpenseHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	_, sc, err := scopeFromRequest(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	var req createCategoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := checkBodyStore(req.StoreID, sc); err != nil {
		api.WriteError(w, r, err)
		return
	}

	c, err := h.svc.CreateCategory(r.Context(), expense.NewCategory{
		StoreID:     sc.StoreID,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, c)
}

// Report handles GET /reports. The period defaults to the current month.
func (h *ExpenseHandler) Report(w http.ResponseWriter, r *http.Request) {
	_, sc, err := scopeFromRequest(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	q := r.URL.Query()
	period, err := periodParams(q.Get("startDate"), q.Get("endDate"), "startDate", "endDate", expense.MonthPeriod(h.now()))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	report, err := h.svc.Report(r.Context(), sc.StoreID, period)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, report)
}

// Compare handles GET /reports/compare. The default compares the current
// month with the previous one.
func (h *ExpenseHandler) Compare(w http.ResponseWriter, r *http.Request) {
	_, sc, err := scopeFromRequest(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	q := r.URL.Query()
	now := h.now()
	current, err := periodParams(q.Get("currentStart"), q.Get("currentEnd"), "currentStart", "currentEnd", expense.MonthPeriod(now))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	previous, err := periodParams(q.Get("previousStart"), q.Get("previousEnd"), "previousStart", "previousEnd", expense.PreviousMonth(now))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	cmp, err := h.svc.Compare(r.Context(), sc.StoreID, current, previous)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, cmp)
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *ExpenseHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			api.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return false
		}
		api.WriteError(w, r, fmt.Errorf("%w: malformed JSON body", domain.ErrBadRequest))
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		api.WriteError(w, r, validationError(err))
		return false
	}
	return true
}

// scopeFromRequest turns the gate's store scope into a service scope. A
// resolved store narrows the scope to that store alone.
func scopeFromRequest(r *http.Request) (expense.Scope, api.StoreScope, error) {
	sc, ok := api.StoreScopeFromContext(r.Context())
	if !ok {
		return expense.Scope{}, sc, errors.New("store scope missing from request context")
	}
	switch {
	case sc.Resolved:
		return expense.Scope{StoreIDs: []string{sc.StoreID}}, sc, nil
	case sc.Unrestricted:
		return expense.Scope{All: true}, sc, nil
	default:
		return expense.Scope{StoreIDs: sc.Permitted}, sc, nil
	}
}

func checkBodyStore(bodyStore string, sc api.StoreScope) error {
	if !sc.Resolved {
		return errors.New("store not resolved on a store-required route")
	}
	if bodyStore = strings.TrimSpace(bodyStore); bodyStore != "" && bodyStore != sc.StoreID {
		return fmt.Errorf("%w: storeId in body does not match request store", domain.ErrBadRequest)
	}
	return nil
}

func intParam(raw string, fallback int, name string) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrBadRequest, name)
	}
	return n, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339. bare reports whether the value
// was a plain date.
func parseDate(raw, name string) (t time.Time, bare bool, err error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, true, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), false, nil
	}
	return time.Time{}, false, fmt.Errorf("%w: %s must be YYYY-MM-DD or RFC 3339", domain.ErrBadRequest, name)
}

// optionalDate parses an optional bound. An end bound given as a bare date
// is moved to the start of the following day so it covers the whole day.
func optionalDate(raw, name string, end bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, bare, err := parseDate(raw, name)
	if err != nil {
		return nil, err
	}
	if end && bare {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}

func periodParams(startRaw, endRaw, startName, endName string, fallback domain.Period) (domain.Period, error) {
	p := fallback
	start, err := optionalDate(startRaw, startName, false)
	if err != nil {
		return domain.Period{}, err
	}
	end, err := optionalDate(endRaw, endName, true)
	if err != nil {
		return domain.Period{}, err
	}
	if start != nil {
		p.Start = *start
	}
	if end != nil {
		p.End = *end
	}
	if !p.End.After(p.Start) {
		return domain.Period{}, fmt.Errorf("%w: %s must be after %s", domain.ErrBadRequest, endName, startName)
	}
	return p, nil
}
