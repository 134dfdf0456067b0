package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopstream/api/internal/domain"
	"github.com/shopstream/api/internal/platform/auth"
	"github.com/shopstream/api/internal/platform/httpx"
	"github.com/shopstream/api/internal/platform/pagination"
	"github.com/shopstream/api/internal/services"
)

const orderRequestBodyLimit = 16 * 1024

// OrderHandlers exposes the buyer-facing order lifecycle endpoints. Every
// route requires an authenticated Firebase identity and only ever surfaces
// orders owned by that identity; ownership mismatches read as not-found so
// the API does not leak order existence across accounts.
type OrderHandlers struct {
	authn   *auth.Authenticator
	service services.LifecycleService
	limiter rateLimiter
}

// OrderHandlerOption customises the buyer order handlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderRateLimit throttles the mutation endpoints per authenticated user.
func WithOrderRateLimit(limit int, window time.Duration) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs the buyer order endpoints.
func NewOrderHandlers(authn *auth.Authenticator, service services.LifecycleService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, service: service}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the buyer order endpoints on the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}

	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/eligibility", h.checkEligibility)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:return", h.requestReturn)
}

type lifecycleActionRequest struct {
	Reason         string `json:"reason"`
	Comments       string `json:"comments"`
	ExpectedStatus string `json:"expected_status"`
}

func (req lifecycleActionRequest) expected() (*domain.OrderStatus, error) {
	raw := strings.TrimSpace(req.ExpectedStatus)
	if raw == "" {
		return nil, nil
	}
	status, ok := domain.ParseOrderStatus(strings.ToLower(raw))
	if !ok {
		return nil, errors.New("expected_status must be a known order status")
	}
	return &status, nil
}

type eligibilityResponse struct {
	OrderID  string `json:"order_id"`
	Eligible bool   `json:"eligible"`
	Type     string `json:"type,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Deadline string `json:"deadline,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := services.OrderListQuery{UserID: identity.UID}

	statuses, err := parseStatusFilters(r.URL.Query()["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	query.Statuses = statuses

	if raw := strings.TrimSpace(r.URL.Query().Get("created_from")); raw != "" {
		from, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_from "+err.Error(), http.StatusBadRequest))
			return
		}
		query.DateRange.From = &from
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("created_to")); raw != "" {
		to, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_to "+err.Error(), http.StatusBadRequest))
			return
		}
		query.DateRange.To = &to
	}

	pageParams, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	query.Pagination = pageParams

	page, err := h.service.ListOrders(ctx, query)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	response := orderListResponse{
		Items:         make([]orderSummaryPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		response.Items = append(response.Items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, response)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) checkEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	order, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}

	report, err := h.service.CheckEligibility(ctx, order.ID)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildEligibilityResponse(order.ID, report))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	order, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}

	identity, _ := auth.IdentityFromContext(ctx)
	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many order actions, slow down", http.StatusTooManyRequests))
		return
	}

	var body lifecycleActionRequest
	if err := decodeBody(r, orderRequestBodyLimit, false, &body); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	expected, err := body.expected()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.service.CreateCancelRequest(ctx, services.CreateCancelRequestCommand{
		OrderID:        order.ID,
		ActorID:        identity.UID,
		Reason:         body.Reason,
		Comments:       body.Comments,
		ExpectedStatus: expected,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildRequestResponse(result))
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	order, ok := h.loadOwnedOrder(w, r)
	if !ok {
		return
	}

	identity, _ := auth.IdentityFromContext(ctx)
	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many order actions, slow down", http.StatusTooManyRequests))
		return
	}

	var body lifecycleActionRequest
	if err := decodeBody(r, orderRequestBodyLimit, false, &body); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	expected, err := body.expected()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.service.CreateReturnRequest(ctx, services.CreateReturnRequestCommand{
		OrderID:        order.ID,
		ActorID:        identity.UID,
		Reason:         body.Reason,
		Comments:       body.Comments,
		ExpectedStatus: expected,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusAccepted, buildRequestResponse(result))
}

// loadOwnedOrder resolves the path order and enforces that the caller owns
// it. A foreign order answers not-found, never forbidden.
func (h *OrderHandlers) loadOwnedOrder(w http.ResponseWriter, r *http.Request) (services.Order, bool) {
	ctx := r.Context()

	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return services.Order{}, false
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Order{}, false
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return services.Order{}, false
	}

	order, err := h.service.GetOrder(ctx, orderID)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return services.Order{}, false
	}
	if order.UserID != identity.UID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return services.Order{}, false
	}

	return order, true
}

func buildEligibilityResponse(orderID string, report services.EligibilityReport) eligibilityResponse {
	response := eligibilityResponse{
		OrderID:  orderID,
		Eligible: report.Eligible,
		Type:     string(report.Type),
		Reason:   string(report.Reason),
	}
	if report.Deadline != nil {
		response.Deadline = formatTime(*report.Deadline)
	}
	return response
}

func parsePagination(r *http.Request) (domain.Pagination, error) {
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		return domain.Pagination{}, err
	}
	return domain.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	}, nil
}
