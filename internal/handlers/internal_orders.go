package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shopstream/api/internal/domain"
	"github.com/shopstream/api/internal/platform/httpx"
	"github.com/shopstream/api/internal/services"
)

const internalRequestBodyLimit = 64 * 1024

// InternalHandlers serves trusted service-to-service endpoints: order
// ingestion from checkout and the audit trail. Authentication is enforced
// by the HMAC middleware applied to the /internal route group.
type InternalHandlers struct {
	service services.LifecycleService
}

// NewInternalHandlers constructs the internal endpoints.
func NewInternalHandlers(service services.LifecycleService) *InternalHandlers {
	return &InternalHandlers{service: service}
}

// Routes registers the internal endpoints on the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{orderID}/audit-log", h.listAuditLog)
}

type createOrderRequest struct {
	UserID        string                   `json:"user_id"`
	SellerID      string                   `json:"seller_id"`
	PaymentMethod string                   `json:"payment_method"`
	Currency      string                   `json:"currency"`
	TotalAmount   int64                    `json:"total_amount"`
	Items         []createOrderItemRequest `json:"items"`
	Metadata      map[string]string        `json:"metadata"`
}

type createOrderItemRequest struct {
	ProductRef string `json:"product_ref"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	Total      int64  `json:"total"`
}

type auditLogResponse struct {
	Items         []auditEntryPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

type auditEntryPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	ActorType string         `json:"actor_type"`
	Action    string         `json:"action"`
	TargetRef string         `json:"target_ref"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func (h *InternalHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var body createOrderRequest
	if err := decodeBody(r, internalRequestBodyLimit, false, &body); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	method, ok := domain.ParsePaymentMethod(strings.ToLower(strings.TrimSpace(body.PaymentMethod)))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_method must be a known payment method", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:        strings.TrimSpace(body.UserID),
		SellerID:      strings.TrimSpace(body.SellerID),
		PaymentMethod: method,
		Currency:      strings.TrimSpace(body.Currency),
		TotalAmount:   body.TotalAmount,
		Metadata:      body.Metadata,
	}
	for _, item := range body.Items {
		cmd.Items = append(cmd.Items, domain.OrderLineItem{
			ProductRef: strings.TrimSpace(item.ProductRef),
			SKU:        strings.TrimSpace(item.SKU),
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		})
	}

	order, err := h.service.CreateOrder(ctx, cmd)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *InternalHandlers) listAuditLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	pageParams, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.service.ListAuditLog(ctx, services.AuditLogQuery{
		TargetRef:  orderID,
		Action:     strings.TrimSpace(r.URL.Query().Get("action")),
		Pagination: pageParams,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	response := auditLogResponse{
		Items:         make([]auditEntryPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, entry := range page.Items {
		response.Items = append(response.Items, auditEntryPayload{
			ID:        entry.ID,
			Actor:     entry.Actor,
			ActorType: entry.ActorType,
			Action:    entry.Action,
			TargetRef: entry.TargetRef,
			Metadata:  cloneMap(entry.Metadata),
			Severity:  entry.Severity,
			RequestID: entry.RequestID,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, response)
}
