package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopstream/api/internal/domain"
	"github.com/shopstream/api/internal/platform/auth"
	"github.com/shopstream/api/internal/services"
)

type stubLifecycleService struct {
	createOrderFn   func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getOrderFn      func(context.Context, string) (services.Order, error)
	listOrdersFn    func(context.Context, services.OrderListQuery) (domain.CursorPage[services.Order], error)
	eligibilityFn   func(context.Context, string) (services.EligibilityReport, error)
	markDeliveredFn func(context.Context, services.MarkDeliveredCommand) (services.Order, error)
	cancelFn        func(context.Context, services.CreateCancelRequestCommand) (services.RequestResult, error)
	returnFn        func(context.Context, services.CreateReturnRequestCommand) (services.RequestResult, error)
	resolveFn       func(context.Context, services.ResolveReturnRequestCommand) (services.RequestResult, error)
	getRequestFn    func(context.Context, string) (services.ReturnCancelRequest, error)
	listRequestsFn  func(context.Context, services.RequestListQuery) (domain.CursorPage[services.ReturnCancelRequest], error)
	listAuditFn     func(context.Context, services.AuditLogQuery) (domain.CursorPage[services.AuditLogEntry], error)
}

func (s *stubLifecycleService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createOrderFn != nil {
		return s.createOrderFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubLifecycleService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getOrderFn != nil {
		return s.getOrderFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubLifecycleService) ListOrders(ctx context.Context, q services.OrderListQuery) (domain.CursorPage[services.Order], error) {
	if s.listOrdersFn != nil {
		return s.listOrdersFn(ctx, q)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubLifecycleService) CheckEligibility(ctx context.Context, orderID string) (services.EligibilityReport, error) {
	if s.eligibilityFn != nil {
		return s.eligibilityFn(ctx, orderID)
	}
	return services.EligibilityReport{}, errors.New("not implemented")
}

func (s *stubLifecycleService) MarkDelivered(ctx context.Context, cmd services.MarkDeliveredCommand) (services.Order, error) {
	if s.markDeliveredFn != nil {
		return s.markDeliveredFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubLifecycleService) CreateCancelRequest(ctx context.Context, cmd services.CreateCancelRequestCommand) (services.RequestResult, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.RequestResult{}, errors.New("not implemented")
}

func (s *stubLifecycleService) CreateReturnRequest(ctx context.Context, cmd services.CreateReturnRequestCommand) (services.RequestResult, error) {
	if s.returnFn != nil {
		return s.returnFn(ctx, cmd)
	}
	return services.RequestResult{}, errors.New("not implemented")
}

func (s *stubLifecycleService) ResolveReturnRequest(ctx context.Context, cmd services.ResolveReturnRequestCommand) (services.RequestResult, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, cmd)
	}
	return services.RequestResult{}, errors.New("not implemented")
}

func (s *stubLifecycleService) GetRequest(ctx context.Context, requestID string) (services.ReturnCancelRequest, error) {
	if s.getRequestFn != nil {
		return s.getRequestFn(ctx, requestID)
	}
	return services.ReturnCancelRequest{}, errors.New("not implemented")
}

func (s *stubLifecycleService) ListRequests(ctx context.Context, q services.RequestListQuery) (domain.CursorPage[services.ReturnCancelRequest], error) {
	if s.listRequestsFn != nil {
		return s.listRequestsFn(ctx, q)
	}
	return domain.CursorPage[services.ReturnCancelRequest]{}, nil
}

func (s *stubLifecycleService) ListAuditLog(ctx context.Context, q services.AuditLogQuery) (domain.CursorPage[services.AuditLogEntry], error) {
	if s.listAuditFn != nil {
		return s.listAuditFn(ctx, q)
	}
	return domain.CursorPage[services.AuditLogEntry]{}, nil
}

var _ services.LifecycleService = (*stubLifecycleService)(nil)

func buyerOrderFixture(now time.Time) services.Order {
	delivered := now.Add(-48 * time.Hour)
	return services.Order{
		ID:            "ord_123",
		OrderNumber:   "1001",
		UserID:        "user-1",
		SellerID:      "sel_1",
		Status:        domain.OrderStatusDelivered,
		PaymentMethod: domain.PaymentMethodCard,
		Currency:      "usd",
		TotalAmount:   2599,
		Items: []domain.OrderLineItem{
			{ProductRef: "prod_1", Quantity: 1, UnitPrice: 2599, Total: 2599},
		},
		CreatedAt:   now.Add(-96 * time.Hour),
		UpdatedAt:   delivered,
		DeliveredAt: &delivered,
	}
}

func newBuyerRouter(service services.LifecycleService, opts ...OrderHandlerOption) chi.Router {
	handler := NewOrderHandlers(nil, service, opts...)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func withBuyer(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func TestOrderHandlersListOrdersSuccess(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)

	var captured services.OrderListQuery
	service := &stubLifecycleService{
		listOrdersFn: func(ctx context.Context, q services.OrderListQuery) (domain.CursorPage[services.Order], error) {
			captured = q
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{buyerOrderFixture(now)},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	router := newBuyerRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders?status=delivered,confirmed&page_size=10&page_token=tok123&created_from=2025-04-01T00:00:00Z", nil)
	req = withBuyer(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.UserID != "user-1" {
		t.Fatalf("expected query scoped to user-1, got %s", captured.UserID)
	}
	if len(captured.Statuses) != 2 {
		t.Fatalf("expected 2 status filters, got %d", len(captured.Statuses))
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}
	if captured.DateRange.From == nil {
		t.Fatal("expected created_from filter to be parsed")
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(resp.Items))
	}
	item := resp.Items[0]
	if item.ID != "ord_123" || item.OrderNumber != "1001" {
		t.Fatalf("unexpected order summary: %+v", item)
	}
	if item.Currency != "USD" {
		t.Fatalf("expected currency uppercased, got %s", item.Currency)
	}
	if item.PaymentStatus != string(domain.PaymentStatusSuccessful) {
		t.Fatalf("expected payment status projection, got %s", item.PaymentStatus)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token, got %s", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersInvalidPageSize(t *testing.T) {
	router := newBuyerRouter(&stubLifecycleService{})

	req := withBuyer(httptest.NewRequest(http.MethodGet, "/orders?page_size=abc", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderHidesForeignOrders(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	service := &stubLifecycleService{
		getOrderFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return buyerOrderFixture(now), nil
		},
	}

	router := newBuyerRouter(service)

	req := withBuyer(httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil), "someone-else")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for foreign order, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "order_not_found" {
		t.Fatalf("expected order_not_found, got %v", body["error"])
	}
}

func TestOrderHandlersGetOrderSuccess(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	service := &stubLifecycleService{
		getOrderFn: func(ctx context.Context, orderID string) (services.Order, error) {
			if orderID != "ord_123" {
				t.Fatalf("unexpected order id %s", orderID)
			}
			return buyerOrderFixture(now), nil
		},
	}

	router := newBuyerRouter(service)

	req := withBuyer(httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusDelivered) {
		t.Fatalf("unexpected status %s", resp.Order.Status)
	}
	if resp.Order.PaymentStatus != string(domain.PaymentStatusSuccessful) {
		t.Fatalf("unexpected payment status %s", resp.Order.PaymentStatus)
	}
	if resp.Order.DeliveredAt == "" {
		t.Fatal("expected delivered_at to be set")
	}
}

func TestOrderHandlersEligibility(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(5 * 24 * time.Hour)
	service := &stubLifecycleService{
		getOrderFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return buyerOrderFixture(now), nil
		},
		eligibilityFn: func(ctx context.Context, orderID string) (services.EligibilityReport, error) {
			return services.EligibilityReport{
				Eligible: true,
				Type:     domain.RequestTypeReturn,
				Deadline: &deadline,
			}, nil
		},
	}

	router := newBuyerRouter(service)

	req := withBuyer(httptest.NewRequest(http.MethodGet, "/orders/ord_123/eligibility", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp eligibilityResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Eligible || resp.Type != string(domain.RequestTypeReturn) {
		t.Fatalf("unexpected eligibility payload: %+v", resp)
	}
	if resp.Deadline == "" {
		t.Fatal("expected deadline in payload")
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	order := buyerOrderFixture(now)
	order.Status = domain.OrderStatusConfirmed
	order.DeliveredAt = nil

	var captured services.CreateCancelRequestCommand
	service := &stubLifecycleService{
		getOrderFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return order, nil
		},
		cancelFn: func(ctx context.Context, cmd services.CreateCancelRequestCommand) (services.RequestResult, error) {
			captured = cmd
			cancelled := order
			cancelled.Status = domain.OrderStatusCancelled
			resolved := now
			return services.RequestResult{
				Request: services.ReturnCancelRequest{
					ID:          "rcr_1",
					OrderID:     order.ID,
					Type:        domain.RequestTypeCancel,
					Status:      domain.RequestStatusApproved,
					Reason:      cmd.Reason,
					RequestedBy: cmd.ActorID,
					RequestedAt: now,
					ResolvedAt:  &resolved,
				},
				Order: cancelled,
			}, nil
		},
	}

	router := newBuyerRouter(service)

	payload := `{"reason":"ordered by mistake","expected_status":"confirmed"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", bytes.NewBufferString(payload))
	req = withBuyer(req, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.OrderID != "ord_123" || captured.ActorID != "user-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.ExpectedStatus == nil || *captured.ExpectedStatus != domain.OrderStatusConfirmed {
		t.Fatalf("expected status confirmation to pass through, got %+v", captured.ExpectedStatus)
	}

	var resp requestResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Request.Status != string(domain.RequestStatusApproved) {
		t.Fatalf("expected approved request, got %s", resp.Request.Status)
	}
	if resp.Order.Status != string(domain.OrderStatusCancelled) {
		t.Fatalf("expected cancelled order, got %s", resp.Order.Status)
	}
	if resp.Order.PaymentStatus != string(domain.PaymentStatusRefunded) {
		t.Fatalf("expected refunded projection, got %s", resp.Order.PaymentStatus)
	}
}

func TestOrderHandlersCancelOrderEmptyBody(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	service := &stubLifecycleService{
		getOrderFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return buyerOrderFixture(now), nil
		},
	}

	router := newBuyerRouter(service)

	req := withBuyer(httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty body, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrderInvalidExpectedStatus(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	service := &stubLifecycleService{
		getOrderFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return buyerOrderFixture(now), nil
		},
	}

	router := newBuyerRouter(service)

	payload := `{"reason":"x","expected_status":"shipped"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", bytes.NewBufferString(payload))
	req = withBuyer(req, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersReturnRequestAccepted(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	order := buyerOrderFixture(now)

	service := &stubLifecycleService{
		getOrderFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return order, nil
		},
		returnFn: func(ctx context.Context, cmd services.CreateReturnRequestCommand) (services.RequestResult, error) {
			updated := order
			updated.Status = domain.OrderStatusReturnRequested
			return services.RequestResult{
				Request: services.ReturnCancelRequest{
					ID:               "rcr_2",
					OrderID:          order.ID,
					Type:             domain.RequestTypeReturn,
					Status:           domain.RequestStatusPending,
					PriorOrderStatus: domain.OrderStatusDelivered,
					Reason:           cmd.Reason,
					RequestedBy:      cmd.ActorID,
					RequestedAt:      now,
				},
				Order: updated,
			}, nil
		},
	}

	router := newBuyerRouter(service)

	payload := `{"reason":"damaged on arrival"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:return", bytes.NewBufferString(payload))
	req = withBuyer(req, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp requestResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Request.Status != string(domain.RequestStatusPending) {
		t.Fatalf("expected pending request, got %s", resp.Request.Status)
	}
	if resp.Order.Status != string(domain.OrderStatusReturnRequested) {
		t.Fatalf("expected return_requested order, got %s", resp.Order.Status)
	}
}

func TestOrderHandlersReturnRequestNotEligible(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	service := &stubLifecycleService{
		getOrderFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return buyerOrderFixture(now), nil
		},
		returnFn: func(ctx context.Context, cmd services.CreateReturnRequestCommand) (services.RequestResult, error) {
			return services.RequestResult{}, &services.NotEligibleError{Reason: services.ReasonReturnWindowExpired}
		},
	}

	router := newBuyerRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:return", strings.NewReader(`{"reason":"too late"}`))
	req = withBuyer(req, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "not_eligible" {
		t.Fatalf("expected not_eligible code, got %v", body["error"])
	}
	if body["reason"] != string(services.ReasonReturnWindowExpired) {
		t.Fatalf("expected reason in details, got %v", body["reason"])
	}
}

func TestOrderHandlersCancelConflict(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	service := &stubLifecycleService{
		getOrderFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return buyerOrderFixture(now), nil
		},
		cancelFn: func(ctx context.Context, cmd services.CreateCancelRequestCommand) (services.RequestResult, error) {
			return services.RequestResult{}, services.ErrConflict
		},
	}

	router := newBuyerRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", strings.NewReader(`{"reason":"x"}`))
	req = withBuyer(req, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersRateLimit(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	service := &stubLifecycleService{
		getOrderFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return buyerOrderFixture(now), nil
		},
		returnFn: func(ctx context.Context, cmd services.CreateReturnRequestCommand) (services.RequestResult, error) {
			return services.RequestResult{Order: buyerOrderFixture(now)}, nil
		},
	}

	router := newBuyerRouter(service, WithOrderRateLimit(1, time.Minute))

	fire := func() int {
		req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:return", strings.NewReader(`{"reason":"x"}`))
		req = withBuyer(req, "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := fire(); code != http.StatusAccepted {
		t.Fatalf("expected first call to pass, got %d", code)
	}
	if code := fire(); code != http.StatusTooManyRequests {
		t.Fatalf("expected second call rate limited, got %d", code)
	}
}

func TestOrderHandlersUnauthenticated(t *testing.T) {
	router := newBuyerRouter(&stubLifecycleService{})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
