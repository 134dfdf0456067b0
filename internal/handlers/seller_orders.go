package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopstream/api/internal/domain"
	"github.com/shopstream/api/internal/platform/auth"
	"github.com/shopstream/api/internal/platform/httpx"
	"github.com/shopstream/api/internal/services"
)

// SellerHandlers exposes the seller dashboard endpoints: order listings,
// delivery confirmation, and the return request inbox. All routes are scoped
// to the authenticated seller account; records belonging to other sellers
// read as not-found.
type SellerHandlers struct {
	authn   *auth.SellerAuthenticator
	service services.LifecycleService
	limiter rateLimiter
}

// SellerHandlerOption customises the seller handlers.
type SellerHandlerOption func(*SellerHandlers)

// WithSellerRateLimit throttles the mutation endpoints per seller account.
func WithSellerRateLimit(limit int, window time.Duration) SellerHandlerOption {
	return func(h *SellerHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewSellerHandlers constructs the seller dashboard endpoints.
func NewSellerHandlers(authn *auth.SellerAuthenticator, service services.LifecycleService, opts ...SellerHandlerOption) *SellerHandlers {
	h := &SellerHandlers{authn: authn, service: service}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the seller endpoints on the provided router.
func (h *SellerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireSellerAuth())
	}

	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}:deliver", h.markDelivered)
	r.Get("/return-requests", h.listReturnRequests)
	r.Post("/return-requests/{requestID}:resolve", h.resolveReturnRequest)
}

type markDeliveredRequest struct {
	ExpectedStatus string `json:"expected_status"`
}

type resolveRequestBody struct {
	Decision string `json:"decision"`
	Comments string `json:"comments"`
}

type requestListResponse struct {
	Items         []requestPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

func (h *SellerHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	seller, ok := auth.SellerIdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "seller authentication required", http.StatusUnauthorized))
		return
	}

	query := services.OrderListQuery{SellerID: seller.SellerID}

	statuses, err := parseStatusFilters(r.URL.Query()["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	query.Statuses = statuses

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

func (h *SellerHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	seller, ok := auth.SellerIdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "seller authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(seller.SellerID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many seller actions, slow down", http.StatusTooManyRequests))
		return
	}

	order, ok := h.loadSellerOrder(w, r, seller)
	if !ok {
		return
	}

	var body markDeliveredRequest
	if err := decodeBody(r, orderRequestBodyLimit, true, &body); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var expected *domain.OrderStatus
	if raw := strings.TrimSpace(body.ExpectedStatus); raw != "" {
		status, ok := domain.ParseOrderStatus(strings.ToLower(raw))
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a known order status", http.StatusBadRequest))
			return
		}
		expected = &status
	}

	updated, err := h.service.MarkDelivered(ctx, services.MarkDeliveredCommand{
		OrderID:        order.ID,
		ActorID:        seller.SellerID,
		ExpectedStatus: expected,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

func (h *SellerHandlers) listReturnRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	seller, ok := auth.SellerIdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "seller authentication required", http.StatusUnauthorized))
		return
	}

	query := services.RequestListQuery{
		SellerID: seller.SellerID,
		OrderID:  strings.TrimSpace(r.URL.Query().Get("order_id")),
	}

	for _, raw := range parseFilterValues(r.URL.Query()["type"]) {
		reqType, ok := domain.ParseRequestType(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown request type "+raw, http.StatusBadRequest))
			return
		}
		query.Types = append(query.Types, reqType)
	}

	for _, raw := range parseFilterValues(r.URL.Query()["status"]) {
		switch status := domain.RequestStatus(raw); status {
		case domain.RequestStatusPending, domain.RequestStatusApproved, domain.RequestStatusRejected:
			query.Statuses = append(query.Statuses, status)
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown request status "+raw, http.StatusBadRequest))
			return
		}
	}

	pageParams, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	query.Pagination = pageParams

	page, err := h.service.ListRequests(ctx, query)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	response := requestListResponse{
		Items:         make([]requestPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, request := range page.Items {
		response.Items = append(response.Items, buildRequestPayload(request))
	}

	writeJSONResponse(w, http.StatusOK, response)
}

func (h *SellerHandlers) resolveReturnRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	seller, ok := auth.SellerIdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "seller authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(seller.SellerID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many seller actions, slow down", http.StatusTooManyRequests))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	request, err := h.service.GetRequest(ctx, requestID)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	if request.SellerID != seller.SellerID {
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "no pending request matches", http.StatusNotFound))
		return
	}

	var body resolveRequestBody
	if err := decodeBody(r, orderRequestBodyLimit, false, &body); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.service.ResolveReturnRequest(ctx, services.ResolveReturnRequestCommand{
		RequestID: requestID,
		ActorID:   seller.SellerID,
		Decision:  services.ResolveDecision(strings.ToLower(strings.TrimSpace(body.Decision))),
		Comments:  body.Comments,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildRequestResponse(result))
}

// loadSellerOrder resolves the path order and checks it belongs to the
// authenticated seller.
func (h *SellerHandlers) loadSellerOrder(w http.ResponseWriter, r *http.Request, seller *auth.SellerIdentity) (services.Order, bool) {
	ctx := r.Context()

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
	if order.SellerID != seller.SellerID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return services.Order{}, false
	}

	return order, true
}
