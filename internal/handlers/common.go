package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/shopstream/api/internal/domain"
	"github.com/shopstream/api/internal/platform/httpx"
	"github.com/shopstream/api/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = 4 * 1024
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads and unmarshals a JSON body. When optional is true an
// empty body yields the zero value.
func decodeBody(r *http.Request, limit int64, optional bool, out any) error {
	data, err := readLimitedBody(r, limit)
	if err != nil {
		if optional && errors.Is(err, errEmptyBody) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeLifecycleError maps the engine's error taxonomy onto HTTP statuses.
// Conflicts are the only responses a caller should retry.
func writeLifecycleError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var notEligible *services.NotEligibleError
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrRequestNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "no pending request matches", http.StatusNotFound))
	case errors.As(err, &notEligible):
		httpx.WriteError(ctx, w, httpx.NewError("not_eligible", err.Error(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": string(notEligible.Reason)}))
	case errors.Is(err, services.ErrDuplicateRequest):
		httpx.WriteError(ctx, w, httpx.NewError("duplicate_request", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrAlreadyInState):
		httpx.WriteError(ctx, w, httpx.NewError("already_in_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "a concurrent update prevented this operation, retry", http.StatusConflict))
	case errors.Is(err, services.ErrDataIntegrity):
		httpx.WriteError(ctx, w, httpx.NewError("data_integrity", "stored order state is inconsistent", http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func parseStatusFilters(values []string) ([]domain.OrderStatus, error) {
	raw := parseFilterValues(values)
	if len(raw) == 0 {
		return nil, nil
	}
	statuses := make([]domain.OrderStatus, 0, len(raw))
	for _, value := range raw {
		status, ok := domain.ParseOrderStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown order status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

// Shared payload shapes ------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	CreatedAt     string `json:"created_at"`
	DeliveredAt   string `json:"delivered_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	OrderNumber        string             `json:"order_number"`
	UserID             string             `json:"user_id"`
	SellerID           string             `json:"seller_id"`
	Status             string             `json:"status"`
	PaymentMethod      string             `json:"payment_method"`
	PaymentStatus      string             `json:"payment_status"`
	Currency           string             `json:"currency"`
	TotalAmount        int64              `json:"total_amount"`
	Items              []orderItemPayload `json:"items"`
	CancellationReason *string            `json:"cancellation_reason,omitempty"`
	Metadata           map[string]any     `json:"metadata,omitempty"`
	Audit              *orderAuditPayload `json:"audit,omitempty"`
	CreatedAt          string             `json:"created_at"`
	UpdatedAt          string             `json:"updated_at,omitempty"`
	DeliveredAt        string             `json:"delivered_at,omitempty"`
	CancelledAt        string             `json:"cancelled_at,omitempty"`
	ReturnedAt         string             `json:"returned_at,omitempty"`
}

type orderItemPayload struct {
	ProductRef string `json:"product_ref"`
	SKU        string `json:"sku,omitempty"`
	Name       string `json:"name,omitempty"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	Total      int64  `json:"total"`
}

type orderAuditPayload struct {
	CreatedBy *string `json:"created_by,omitempty"`
	UpdatedBy *string `json:"updated_by,omitempty"`
}

type requestPayload struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Type             string `json:"type"`
	Reason           string `json:"reason"`
	Comments         string `json:"comments,omitempty"`
	Status           string `json:"status"`
	PriorOrderStatus string `json:"prior_order_status"`
	RequestedBy      string `json:"requested_by"`
	RequestedAt      string `json:"requested_at"`
	ResolvedAt       string `json:"resolved_at,omitempty"`
	ResolvedBy       string `json:"resolved_by,omitempty"`
}

type requestResponse struct {
	Request requestPayload `json:"request"`
	Order   orderPayload   `json:"order"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus()),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:         order.TotalAmount,
		CreatedAt:     formatTime(order.CreatedAt),
		DeliveredAt:   formatTime(pointerTime(order.DeliveredAt)),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                 strings.TrimSpace(order.ID),
		OrderNumber:        strings.TrimSpace(order.OrderNumber),
		UserID:             strings.TrimSpace(order.UserID),
		SellerID:           strings.TrimSpace(order.SellerID),
		Status:             string(order.Status),
		PaymentMethod:      string(order.PaymentMethod),
		PaymentStatus:      string(order.PaymentStatus()),
		Currency:           strings.ToUpper(strings.TrimSpace(order.Currency)),
		TotalAmount:        order.TotalAmount,
		Items:              make([]orderItemPayload, 0, len(order.Items)),
		CancellationReason: cloneStringPointer(order.CancellationReason),
		Metadata:           cloneMap(order.Metadata),
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
		DeliveredAt:        formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:        formatTime(pointerTime(order.CancelledAt)),
		ReturnedAt:         formatTime(pointerTime(order.ReturnedAt)),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductRef: strings.TrimSpace(item.ProductRef),
			SKU:        strings.TrimSpace(item.SKU),
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		})
	}

	if order.Audit.CreatedBy != nil || order.Audit.UpdatedBy != nil {
		payload.Audit = &orderAuditPayload{
			CreatedBy: cloneStringPointer(order.Audit.CreatedBy),
			UpdatedBy: cloneStringPointer(order.Audit.UpdatedBy),
		}
	}

	return payload
}

func buildRequestPayload(req services.ReturnCancelRequest) requestPayload {
	payload := requestPayload{
		ID:               strings.TrimSpace(req.ID),
		OrderID:          strings.TrimSpace(req.OrderID),
		Type:             string(req.Type),
		Reason:           req.Reason,
		Comments:         req.Comments,
		Status:           string(req.Status),
		PriorOrderStatus: string(req.PriorOrderStatus),
		RequestedBy:      strings.TrimSpace(req.RequestedBy),
		RequestedAt:      formatTime(req.RequestedAt),
		ResolvedAt:       formatTime(pointerTime(req.ResolvedAt)),
	}
	if req.ResolvedBy != nil {
		payload.ResolvedBy = strings.TrimSpace(*req.ResolvedBy)
	}
	return payload
}

func buildRequestResponse(result services.RequestResult) requestResponse {
	return requestResponse{
		Request: buildRequestPayload(result.Request),
		Order:   buildOrderPayload(result.Order),
	}
}
