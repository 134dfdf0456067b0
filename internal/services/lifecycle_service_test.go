package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/shopstream/api/internal/domain"
	"github.com/shopstream/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn func(context.Context, domain.Order) error
	findFn   func(context.Context, string) (domain.Order, error)
	listFn   func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	mutateFn func(context.Context, string, repositories.OrderMutator) (domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutator) (domain.Order, error) {
	if s.mutateFn != nil {
		return s.mutateFn(ctx, orderID, fn)
	}
	return domain.Order{}, errors.New("not implemented")
}

type stubRequestRepo struct {
	findFn        func(context.Context, string) (domain.ReturnCancelRequest, error)
	listByOrderFn func(context.Context, string) ([]domain.ReturnCancelRequest, error)
	listFn        func(context.Context, repositories.RequestListFilter) (domain.CursorPage[domain.ReturnCancelRequest], error)
	resolveFn     func(context.Context, string, repositories.RequestMutator) (domain.ReturnCancelRequest, error)
}

func (s *stubRequestRepo) FindByID(ctx context.Context, requestID string) (domain.ReturnCancelRequest, error) {
	if s.findFn != nil {
		return s.findFn(ctx, requestID)
	}
	return domain.ReturnCancelRequest{}, errors.New("not implemented")
}

func (s *stubRequestRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnCancelRequest, error) {
	if s.listByOrderFn != nil {
		return s.listByOrderFn(ctx, orderID)
	}
	return nil, nil
}

func (s *stubRequestRepo) List(ctx context.Context, filter repositories.RequestListFilter) (domain.CursorPage[domain.ReturnCancelRequest], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.ReturnCancelRequest]{}, nil
}

func (s *stubRequestRepo) Resolve(ctx context.Context, requestID string, fn repositories.RequestMutator) (domain.ReturnCancelRequest, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, requestID, fn)
	}
	return domain.ReturnCancelRequest{}, errors.New("not implemented")
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 0, nil
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type stubRepoError struct {
	notFound bool
	conflict bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return false }

var fixedNow = time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)

// mutateAgainst builds a Mutate stub that evaluates fn against the snapshot
// and applies the returned mutation the way the real transaction would.
func mutateAgainst(snap repositories.OrderSnapshot, committed *repositories.OrderMutation) func(context.Context, string, repositories.OrderMutator) (domain.Order, error) {
	return func(_ context.Context, _ string, fn repositories.OrderMutator) (domain.Order, error) {
		mutation, err := fn(snap)
		if err != nil {
			return domain.Order{}, err
		}
		if committed != nil {
			*committed = mutation
		}
		if mutation.Order != nil {
			return *mutation.Order, nil
		}
		return snap.Order, nil
	}
}

func newLifecycleForTest(t *testing.T, deps LifecycleServiceDeps) LifecycleService {
	t.Helper()
	if deps.Requests == nil {
		deps.Requests = &stubRequestRepo{}
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return fixedNow }
	}
	if deps.IDGenerator == nil {
		seq := 0
		deps.IDGenerator = func() string {
			seq++
			return fmt.Sprintf("TEST%04d", seq)
		}
	}
	svc, err := NewLifecycleService(deps)
	if err != nil {
		t.Fatalf("NewLifecycleService: %v", err)
	}
	return svc
}

func confirmedOrder() domain.Order {
	created := fixedNow.Add(-48 * time.Hour)
	return domain.Order{
		ID:            "ord_A",
		OrderNumber:   "1001",
		UserID:        "usr_1",
		SellerID:      "sel_1",
		Status:        domain.OrderStatusConfirmed,
		PaymentMethod: domain.PaymentMethodCard,
		Currency:      "USD",
		TotalAmount:   4200,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestMarkDeliveredTransitionsConfirmedOrder(t *testing.T) {
	var committed repositories.OrderMutation
	events := &captureOrderEvents{}

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: mutateAgainst(repositories.OrderSnapshot{Order: confirmedOrder()}, &committed)},
		Events: events,
	})

	order, err := svc.MarkDelivered(context.Background(), MarkDeliveredCommand{OrderID: "ord_A", ActorID: "sel_1"})
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("status = %q, want delivered", order.Status)
	}
	if order.DeliveredAt == nil || !order.DeliveredAt.Equal(fixedNow) {
		t.Fatalf("deliveredAt = %v, want %v", order.DeliveredAt, fixedNow)
	}
	if len(committed.AuditEntries) != 1 || committed.AuditEntries[0].Action != auditActionOrderDelivered {
		t.Fatalf("audit entries = %+v", committed.AuditEntries)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventStatusChanged {
		t.Fatalf("events = %+v", events.events)
	}
	if events.events[0].PreviousStatus != string(domain.OrderStatusConfirmed) {
		t.Fatalf("previous status = %q", events.events[0].PreviousStatus)
	}
}

func TestMarkDeliveredRejectsIllegalStates(t *testing.T) {
	cancelled := confirmedOrder()
	cancelled.Status = domain.OrderStatusCancelled

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: mutateAgainst(repositories.OrderSnapshot{Order: cancelled}, nil)},
	})

	_, err := svc.MarkDelivered(context.Background(), MarkDeliveredCommand{OrderID: "ord_A", ActorID: "sel_1"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestMarkDeliveredRepeatWithoutConfirmationIsAlreadyInState(t *testing.T) {
	deliveredAt := fixedNow.Add(-time.Hour)
	delivered := confirmedOrder()
	delivered.Status = domain.OrderStatusDelivered
	delivered.DeliveredAt = &deliveredAt

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: mutateAgainst(repositories.OrderSnapshot{Order: delivered}, nil)},
	})

	_, err := svc.MarkDelivered(context.Background(), MarkDeliveredCommand{OrderID: "ord_A", ActorID: "sel_1"})
	if !errors.Is(err, ErrAlreadyInState) {
		t.Fatalf("err = %v, want ErrAlreadyInState", err)
	}
}

func TestMarkDeliveredConfirmedRepeatIsIdempotent(t *testing.T) {
	deliveredAt := fixedNow.Add(-time.Hour)
	delivered := confirmedOrder()
	delivered.Status = domain.OrderStatusDelivered
	delivered.DeliveredAt = &deliveredAt
	delivered.UpdatedAt = deliveredAt

	events := &captureOrderEvents{}
	expected := domain.OrderStatusDelivered

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: mutateAgainst(repositories.OrderSnapshot{Order: delivered}, nil)},
		Events: events,
	})

	order, err := svc.MarkDelivered(context.Background(), MarkDeliveredCommand{OrderID: "ord_A", ActorID: "sel_1", ExpectedStatus: &expected})
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if !order.DeliveredAt.Equal(deliveredAt) {
		t.Fatalf("deliveredAt changed: %v", order.DeliveredAt)
	}
	if len(events.events) != 0 {
		t.Fatalf("no event expected on idempotent repeat, got %+v", events.events)
	}
}

func TestCreateCancelRequestAutoApproves(t *testing.T) {
	var committed repositories.OrderMutation
	events := &captureOrderEvents{}

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: mutateAgainst(repositories.OrderSnapshot{Order: confirmedOrder()}, &committed)},
		Events: events,
	})

	result, err := svc.CreateCancelRequest(context.Background(), CreateCancelRequestCommand{
		OrderID: "ord_A",
		ActorID: "usr_1",
		Reason:  "ordered by mistake",
	})
	if err != nil {
		t.Fatalf("CreateCancelRequest: %v", err)
	}
	if result.Order.Status != domain.OrderStatusCancelled {
		t.Fatalf("order status = %q, want cancelled", result.Order.Status)
	}
	if result.Order.CancelledAt == nil || !result.Order.CancelledAt.Equal(fixedNow) {
		t.Fatalf("cancelledAt = %v", result.Order.CancelledAt)
	}
	if result.Order.CancellationReason == nil || *result.Order.CancellationReason != "ordered by mistake" {
		t.Fatalf("cancellation reason = %v", result.Order.CancellationReason)
	}
	if result.Request.Status != domain.RequestStatusApproved {
		t.Fatalf("request status = %q, want approved", result.Request.Status)
	}
	if result.Request.ResolvedAt == nil {
		t.Fatal("approved cancel request must carry a resolution timestamp")
	}
	if committed.InsertRequest == nil || committed.InsertRequest.Type != domain.RequestTypeCancel {
		t.Fatalf("inserted request = %+v", committed.InsertRequest)
	}
	if len(events.events) != 1 || events.events[0].RequestID != result.Request.ID {
		t.Fatalf("events = %+v", events.events)
	}
}

func TestCreateCancelRequestRejectsDeliveredOrder(t *testing.T) {
	deliveredAt := fixedNow.Add(-time.Hour)
	delivered := confirmedOrder()
	delivered.Status = domain.OrderStatusDelivered
	delivered.DeliveredAt = &deliveredAt

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: mutateAgainst(repositories.OrderSnapshot{Order: delivered}, nil)},
	})

	_, err := svc.CreateCancelRequest(context.Background(), CreateCancelRequestCommand{OrderID: "ord_A", ActorID: "usr_1", Reason: "late"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestCreateCancelRequestDuplicatePending(t *testing.T) {
	snap := repositories.OrderSnapshot{
		Order:   confirmedOrder(),
		Pending: []domain.ReturnCancelRequest{{Type: domain.RequestTypeCancel, Status: domain.RequestStatusPending}},
	}

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: mutateAgainst(snap, nil)},
	})

	_, err := svc.CreateCancelRequest(context.Background(), CreateCancelRequestCommand{OrderID: "ord_A", ActorID: "usr_1", Reason: "late"})
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("err = %v, want ErrDuplicateRequest", err)
	}
}

func TestCreateCancelRequestRepeatAfterSuccessReturnsPriorResult(t *testing.T) {
	cancelledAt := fixedNow.Add(-time.Minute)
	cancelled := confirmedOrder()
	cancelled.Status = domain.OrderStatusCancelled
	cancelled.CancelledAt = &cancelledAt

	prior := domain.ReturnCancelRequest{
		ID:      "rcr_prior",
		OrderID: "ord_A",
		Type:    domain.RequestTypeCancel,
		Status:  domain.RequestStatusApproved,
	}

	expected := domain.OrderStatusCancelled

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{
			mutateFn: mutateAgainst(repositories.OrderSnapshot{Order: cancelled}, nil),
			findFn: func(_ context.Context, orderID string) (domain.Order, error) {
				return cancelled, nil
			},
		},
		Requests: &stubRequestRepo{
			listByOrderFn: func(context.Context, string) ([]domain.ReturnCancelRequest, error) {
				return []domain.ReturnCancelRequest{prior}, nil
			},
		},
	})

	result, err := svc.CreateCancelRequest(context.Background(), CreateCancelRequestCommand{
		OrderID:        "ord_A",
		ActorID:        "usr_1",
		Reason:         "ordered by mistake",
		ExpectedStatus: &expected,
	})
	if err != nil {
		t.Fatalf("CreateCancelRequest: %v", err)
	}
	if result.Request.ID != "rcr_prior" {
		t.Fatalf("request = %+v, want prior request", result.Request)
	}

	// Without the caller confirming the prior success, the repeat is a veto.
	_, err = svc.CreateCancelRequest(context.Background(), CreateCancelRequestCommand{OrderID: "ord_A", ActorID: "usr_1", Reason: "ordered by mistake"})
	var notEligible *NotEligibleError
	if !errors.As(err, &notEligible) || notEligible.Reason != ReasonAlreadyCancelled {
		t.Fatalf("err = %v, want NotEligible(already_cancelled)", err)
	}
}

func TestCreateReturnRequestWithinWindow(t *testing.T) {
	deliveredAt := fixedNow.Add(-72 * time.Hour)
	delivered := confirmedOrder()
	delivered.Status = domain.OrderStatusDelivered
	delivered.DeliveredAt = &deliveredAt

	var committed repositories.OrderMutation
	events := &captureOrderEvents{}

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: mutateAgainst(repositories.OrderSnapshot{Order: delivered}, &committed)},
		Events: events,
	})

	result, err := svc.CreateReturnRequest(context.Background(), CreateReturnRequestCommand{
		OrderID: "ord_A",
		ActorID: "usr_1",
		Reason:  "damaged on arrival",
	})
	if err != nil {
		t.Fatalf("CreateReturnRequest: %v", err)
	}
	if result.Order.Status != domain.OrderStatusReturnRequested {
		t.Fatalf("order status = %q, want return_requested", result.Order.Status)
	}
	if result.Request.Status != domain.RequestStatusPending {
		t.Fatalf("request status = %q, want pending", result.Request.Status)
	}
	if result.Request.PriorOrderStatus != domain.OrderStatusDelivered {
		t.Fatalf("prior status = %q, want delivered", result.Request.PriorOrderStatus)
	}
	if committed.InsertRequest == nil || committed.Order == nil {
		t.Fatalf("mutation = %+v, want order and request writes", committed)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventRequestCreated {
		t.Fatalf("events = %+v", events.events)
	}
}

func TestCreateReturnRequestWindowExpired(t *testing.T) {
	deliveredAt := fixedNow.Add(-8 * 24 * time.Hour)
	delivered := confirmedOrder()
	delivered.Status = domain.OrderStatusDelivered
	delivered.DeliveredAt = &deliveredAt

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: mutateAgainst(repositories.OrderSnapshot{Order: delivered}, nil)},
	})

	_, err := svc.CreateReturnRequest(context.Background(), CreateReturnRequestCommand{OrderID: "ord_A", ActorID: "usr_1", Reason: "damaged"})
	var notEligible *NotEligibleError
	if !errors.As(err, &notEligible) || notEligible.Reason != ReasonReturnWindowExpired {
		t.Fatalf("err = %v, want NotEligible(return_window_expired)", err)
	}
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err %v should unwrap to ErrNotEligible", err)
	}
}

func TestCreateReturnRequestOnConfirmedOrderIsInvalidTransition(t *testing.T) {
	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: mutateAgainst(repositories.OrderSnapshot{Order: confirmedOrder()}, nil)},
	})

	_, err := svc.CreateReturnRequest(context.Background(), CreateReturnRequestCommand{OrderID: "ord_A", ActorID: "usr_1", Reason: "damaged"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestCreateReturnRequestRepeatWithConfirmationReturnsPending(t *testing.T) {
	deliveredAt := fixedNow.Add(-72 * time.Hour)
	requested := confirmedOrder()
	requested.Status = domain.OrderStatusReturnRequested
	requested.DeliveredAt = &deliveredAt

	pending := domain.ReturnCancelRequest{
		ID:      "rcr_pending",
		OrderID: "ord_A",
		Type:    domain.RequestTypeReturn,
		Status:  domain.RequestStatusPending,
	}

	expected := domain.OrderStatusReturnRequested
	events := &captureOrderEvents{}

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: mutateAgainst(repositories.OrderSnapshot{Order: requested, Pending: []domain.ReturnCancelRequest{pending}}, nil)},
		Events: events,
	})

	result, err := svc.CreateReturnRequest(context.Background(), CreateReturnRequestCommand{
		OrderID:        "ord_A",
		ActorID:        "usr_1",
		Reason:         "damaged",
		ExpectedStatus: &expected,
	})
	if err != nil {
		t.Fatalf("CreateReturnRequest: %v", err)
	}
	if result.Request.ID != "rcr_pending" {
		t.Fatalf("request = %+v, want existing pending request", result.Request)
	}
	if len(events.events) != 0 {
		t.Fatalf("no event expected on idempotent repeat, got %+v", events.events)
	}
}

func resolveAgainst(req domain.ReturnCancelRequest, snap repositories.OrderSnapshot, committed *repositories.OrderMutation) func(context.Context, string, repositories.RequestMutator) (domain.ReturnCancelRequest, error) {
	return func(_ context.Context, _ string, fn repositories.RequestMutator) (domain.ReturnCancelRequest, error) {
		mutation, err := fn(req, snap)
		if err != nil {
			return domain.ReturnCancelRequest{}, err
		}
		if committed != nil {
			*committed = mutation
		}
		if mutation.UpdateRequest != nil {
			return *mutation.UpdateRequest, nil
		}
		return req, nil
	}
}

func returnRequestFixture() (domain.ReturnCancelRequest, domain.Order) {
	deliveredAt := fixedNow.Add(-96 * time.Hour)
	order := confirmedOrder()
	order.Status = domain.OrderStatusReturnRequested
	order.DeliveredAt = &deliveredAt

	req := domain.ReturnCancelRequest{
		ID:               "rcr_B",
		OrderID:          order.ID,
		Type:             domain.RequestTypeReturn,
		Reason:           "damaged",
		Status:           domain.RequestStatusPending,
		PriorOrderStatus: domain.OrderStatusDelivered,
		RequestedBy:      "usr_1",
		RequestedAt:      fixedNow.Add(-24 * time.Hour),
	}
	return req, order
}

func TestResolveReturnRequestApprove(t *testing.T) {
	req, order := returnRequestFixture()
	var committed repositories.OrderMutation
	events := &captureOrderEvents{}

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders:   &stubOrderRepo{},
		Requests: &stubRequestRepo{resolveFn: resolveAgainst(req, repositories.OrderSnapshot{Order: order, Pending: []domain.ReturnCancelRequest{req}}, &committed)},
		Events:   events,
	})

	result, err := svc.ResolveReturnRequest(context.Background(), ResolveReturnRequestCommand{
		RequestID: "rcr_B",
		ActorID:   "sel_1",
		Decision:  DecisionApprove,
	})
	if err != nil {
		t.Fatalf("ResolveReturnRequest: %v", err)
	}
	if result.Request.Status != domain.RequestStatusApproved {
		t.Fatalf("request status = %q, want approved", result.Request.Status)
	}
	if result.Order.Status != domain.OrderStatusReturned {
		t.Fatalf("order status = %q, want returned", result.Order.Status)
	}
	if result.Order.ReturnedAt == nil || !result.Order.ReturnedAt.Equal(fixedNow) {
		t.Fatalf("returnedAt = %v", result.Order.ReturnedAt)
	}
	if result.Order.DeliveredAt == nil {
		t.Fatal("returned order must retain deliveredAt")
	}
	if committed.UpdateRequest == nil || committed.Order == nil {
		t.Fatalf("mutation = %+v, want request and order writes", committed)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventRequestResolved {
		t.Fatalf("events = %+v", events.events)
	}
}

func TestResolveReturnRequestRejectRevertsToPriorStatus(t *testing.T) {
	req, order := returnRequestFixture()

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders:   &stubOrderRepo{},
		Requests: &stubRequestRepo{resolveFn: resolveAgainst(req, repositories.OrderSnapshot{Order: order, Pending: []domain.ReturnCancelRequest{req}}, nil)},
	})

	result, err := svc.ResolveReturnRequest(context.Background(), ResolveReturnRequestCommand{
		RequestID: "rcr_B",
		ActorID:   "sel_1",
		Decision:  DecisionReject,
	})
	if err != nil {
		t.Fatalf("ResolveReturnRequest: %v", err)
	}
	if result.Request.Status != domain.RequestStatusRejected {
		t.Fatalf("request status = %q, want rejected", result.Request.Status)
	}
	if result.Order.Status != domain.OrderStatusDelivered {
		t.Fatalf("order status = %q, want delivered", result.Order.Status)
	}
	if result.Order.ReturnedAt != nil {
		t.Fatalf("rejected return must not stamp returnedAt, got %v", result.Order.ReturnedAt)
	}
}

func TestResolveReturnRequestRequiresPendingReturn(t *testing.T) {
	req, order := returnRequestFixture()
	req.Status = domain.RequestStatusRejected

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders:   &stubOrderRepo{},
		Requests: &stubRequestRepo{resolveFn: resolveAgainst(req, repositories.OrderSnapshot{Order: order}, nil)},
	})

	_, err := svc.ResolveReturnRequest(context.Background(), ResolveReturnRequestCommand{RequestID: "rcr_B", ActorID: "sel_1", Decision: DecisionApprove})
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("err = %v, want ErrRequestNotFound", err)
	}
}

func TestCreateOrderGeneratesSequentialNumber(t *testing.T) {
	var inserted domain.Order
	events := &captureOrderEvents{}

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{insertFn: func(_ context.Context, order domain.Order) error {
			inserted = order
			return nil
		}},
		Counters: &stubCounterRepo{nextFn: func(_ context.Context, counterID string, _ int64) (int64, error) {
			if counterID != orderNumberCounter {
				return 0, fmt.Errorf("unexpected counter %q", counterID)
			}
			return 1001, nil
		}},
		Events: events,
	})

	order, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "usr_1",
		SellerID:      "sel_1",
		PaymentMethod: domain.PaymentMethodCashOnDelivery,
		Currency:      "USD",
		TotalAmount:   1500,
		Items:         []OrderLineItem{{ProductRef: "prd_1", Quantity: 1, UnitPrice: 1500, Total: 1500}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.OrderNumber != "1001" {
		t.Fatalf("order number = %q, want 1001", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("status = %q, want confirmed", order.Status)
	}
	if inserted.ID != order.ID {
		t.Fatalf("inserted = %+v", inserted)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventCreated {
		t.Fatalf("events = %+v", events.events)
	}
}

func TestMarkDeliveredMapsConflict(t *testing.T) {
	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{mutateFn: func(context.Context, string, repositories.OrderMutator) (domain.Order, error) {
			return domain.Order{}, stubRepoError{conflict: true}
		}},
	})

	_, err := svc.MarkDelivered(context.Background(), MarkDeliveredCommand{OrderID: "ord_A", ActorID: "sel_1"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestCheckEligibilitySurfacesDeliveredDateMissing(t *testing.T) {
	broken := confirmedOrder()
	broken.Status = domain.OrderStatusDelivered

	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) {
			return broken, nil
		}},
	})

	report, err := svc.CheckEligibility(context.Background(), "ord_A")
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if report.Eligible || report.Reason != ReasonDeliveredDateMissing {
		t.Fatalf("report = %+v, want delivered_date_missing", report)
	}
}

func TestCheckEligibilityNotFound(t *testing.T) {
	svc := newLifecycleForTest(t, LifecycleServiceDeps{
		Orders: &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, stubRepoError{notFound: true}
		}},
	})

	_, err := svc.CheckEligibility(context.Background(), "ord_missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}
