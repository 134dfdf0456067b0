package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shopstream/api/internal/domain"
	"github.com/shopstream/api/internal/platform/textutil"
	"github.com/shopstream/api/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventStatusChanged   = "order.status.changed"
	orderEventRequestCreated  = "order.request.created"
	orderEventRequestResolved = "order.request.resolved"

	orderIDPrefix   = "ord_"
	requestIDPrefix = "rcr_"
	auditIDPrefix   = "aud_"

	orderNumberCounter = "orders"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrRequestNotFound indicates no matching pending request exists.
	ErrRequestNotFound = errors.New("order: request not found")
	// ErrInvalidTransition indicates the requested edge is not defined from the current status.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrAlreadyInState indicates the order already holds the requested status.
	ErrAlreadyInState = errors.New("order: already in requested state")
	// ErrNotEligible indicates the eligibility evaluator vetoed the request.
	ErrNotEligible = errors.New("order: not eligible")
	// ErrDuplicateRequest indicates a pending request of the same type already exists.
	ErrDuplicateRequest = errors.New("order: duplicate request")
	// ErrConflict indicates the transaction lost against a concurrent writer; callers may retry.
	ErrConflict = errors.New("order: conflict")
	// ErrDataIntegrity indicates stored state already violated an invariant before this call.
	ErrDataIntegrity = errors.New("order: data integrity violation")

	errCancelAlreadyApplied = errors.New("order: cancellation already applied")
)

// orderStateTransitions defines every legal lifecycle edge. Anything not
// listed here is rejected with ErrInvalidTransition.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusConfirmed:       {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:       {domain.OrderStatusReturnRequested},
	domain.OrderStatusReturnRequested: {domain.OrderStatusReturned, domain.OrderStatusDelivered},
}

func canTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

// NotEligibleError carries the evaluator's veto reason so callers can render
// a precise message. It unwraps to ErrNotEligible.
type NotEligibleError struct {
	Reason IneligibilityReason
}

func (e *NotEligibleError) Error() string {
	return "order: not eligible: " + string(e.Reason)
}

func (e *NotEligibleError) Unwrap() error {
	return ErrNotEligible
}

// OrderEventPublisher publishes lifecycle events for downstream consumers.
// Publishing is fire-and-forget: a transition never fails because of it.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted lifecycle events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	RequestID      string
	RequestType    string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// LifecycleServiceDeps bundles collaborators required to construct the lifecycle service.
type LifecycleServiceDeps struct {
	Orders       repositories.OrderRepository
	Requests     repositories.RequestRepository
	AuditLogs    repositories.AuditLogRepository
	Counters     repositories.CounterRepository
	ReturnWindow time.Duration
	Clock        func() time.Time
	IDGenerator  func() string
	SanitizeText func(string) string
	Events       OrderEventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type lifecycleService struct {
	orders       repositories.OrderRepository
	requests     repositories.RequestRepository
	audits       repositories.AuditLogRepository
	counters     repositories.CounterRepository
	returnWindow time.Duration
	clock        func() time.Time
	newID        func() string
	sanitize     func(string) string
	events       OrderEventPublisher
	logger       func(context.Context, string, map[string]any)
}

// NewLifecycleService wires dependencies into a concrete LifecycleService implementation.
func NewLifecycleService(deps LifecycleServiceDeps) (LifecycleService, error) {
	if deps.Orders == nil {
		return nil, errors.New("lifecycle service: order repository is required")
	}
	if deps.Requests == nil {
		return nil, errors.New("lifecycle service: request repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("lifecycle service: counter repository is required")
	}

	window := deps.ReturnWindow
	if window <= 0 {
		window = DefaultReturnWindow
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	sanitize := deps.SanitizeText
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &lifecycleService{
		orders:       deps.Orders,
		requests:     deps.Requests,
		audits:       deps.AuditLogs,
		counters:     deps.Counters,
		returnWindow: window,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		events:   deps.Events,
		logger:   logger,
	}, nil
}

func (s *lifecycleService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	sellerID := strings.TrimSpace(cmd.SellerID)
	if sellerID == "" {
		return Order{}, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}
	method, ok := domain.ParsePaymentMethod(string(cmd.PaymentMethod))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	currency := strings.TrimSpace(cmd.Currency)
	if currency == "" {
		return Order{}, fmt.Errorf("%w: currency is required", ErrOrderInvalidInput)
	}
	if cmd.TotalAmount <= 0 {
		return Order{}, fmt.Errorf("%w: total amount must be positive", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}

	now := s.now()

	order := Order{
		ID:            orderIDPrefix + s.newID(),
		UserID:        userID,
		SellerID:      sellerID,
		Status:        domain.OrderStatusConfirmed,
		PaymentMethod: method,
		Currency:      currency,
		TotalAmount:   cmd.TotalAmount,
		Items:         cloneOrderItems(cmd.Items),
		Metadata:      cloneMetadata(cmd.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.Audit.CreatedBy = valuePtr("system")
	order.Audit.UpdatedBy = valuePtr("system")

	number, err := s.generateOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}
	order.OrderNumber = number

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}

	s.appendAudit(ctx, s.buildAuditEntry("system", actorTypeSystem, auditActionOrderCreated, order.ID, "", map[string]any{
		"order_number": order.OrderNumber,
		"status":       string(order.Status),
	}, now))

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
	})

	return order, nil
}

func (s *lifecycleService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *lifecycleService) ListOrders(ctx context.Context, q OrderListQuery) (CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     strings.TrimSpace(q.UserID),
		SellerID:   strings.TrimSpace(q.SellerID),
		Status:     q.Statuses,
		DateRange:  q.DateRange,
		Pagination: q.Pagination,
	})
	if err != nil {
		return CursorPage[Order]{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}
	return page, nil
}

// CheckEligibility is advisory: it runs outside any transaction, so its
// verdict may be invalidated by a concurrent writer. Every mutating
// operation repeats the same guard inside its own transaction.
func (s *lifecycleService) CheckEligibility(ctx context.Context, orderID string) (EligibilityReport, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return EligibilityReport{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return EligibilityReport{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}

	requests, err := s.requests.ListByOrder(ctx, orderID)
	if err != nil {
		return EligibilityReport{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}

	report := EvaluateEligibility(order, requests, s.now(), s.returnWindow)
	if !report.Eligible && report.Reason == "" {
		return EligibilityReport{}, fmt.Errorf("%w: order %s has unrecognized status %q", ErrDataIntegrity, orderID, order.Status)
	}
	if report.Reason == ReasonDeliveredDateMissing {
		s.logger(ctx, "order.integrity.delivered_at_missing", map[string]any{
			"order": orderID,
		})
	}
	return report, nil
}

func (s *lifecycleService) MarkDelivered(ctx context.Context, cmd MarkDeliveredCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()

	updated, err := s.orders.Mutate(ctx, orderID, func(snap repositories.OrderSnapshot) (repositories.OrderMutation, error) {
		order := snap.Order

		if order.Status == domain.OrderStatusDelivered {
			if confirmsCurrentStatus(cmd.ExpectedStatus, order.Status) {
				// Re-invocation after a confirmed success is a no-op.
				return repositories.OrderMutation{}, nil
			}
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s is already delivered", ErrAlreadyInState, orderID)
		}

		if err := s.applyTransition(&order, domain.OrderStatusDelivered, cmd.ActorID, now); err != nil {
			return repositories.OrderMutation{}, err
		}

		entry := s.buildAuditEntry(cmd.ActorID, actorTypeSeller, auditActionOrderDelivered, orderID, "", map[string]any{
			"previous_status": string(snap.Order.Status),
			"status":          string(order.Status),
		}, now)

		return repositories.OrderMutation{
			Order:        &order,
			AuditEntries: []domain.AuditLogEntry{entry},
		}, nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}

	if updated.Status == domain.OrderStatusDelivered && updated.UpdatedAt.Equal(now) {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        updated.ID,
			OrderNumber:    updated.OrderNumber,
			PreviousStatus: string(domain.OrderStatusConfirmed),
			CurrentStatus:  string(updated.Status),
			ActorID:        cmd.ActorID,
			OccurredAt:     now,
		})
	}

	return updated, nil
}

func (s *lifecycleService) CreateCancelRequest(ctx context.Context, cmd CreateCancelRequestCommand) (RequestResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RequestResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := s.sanitize(cmd.Reason)
	if reason == "" {
		return RequestResult{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}
	comments := s.sanitize(cmd.Comments)

	now := s.now()
	var request ReturnCancelRequest

	updated, err := s.orders.Mutate(ctx, orderID, func(snap repositories.OrderSnapshot) (repositories.OrderMutation, error) {
		order := snap.Order

		report := EvaluateEligibility(order, snap.Pending, now, s.returnWindow)
		if err := s.vetoFor(ctx, report, domain.RequestTypeCancel, order); err != nil {
			return repositories.OrderMutation{}, err
		}

		if err := s.applyTransition(&order, domain.OrderStatusCancelled, cmd.ActorID, now); err != nil {
			return repositories.OrderMutation{}, err
		}
		order.CancellationReason = &reason

		// Cancellation is self-service: the request row is written already
		// approved, in the same transaction as the status change.
		request = ReturnCancelRequest{
			ID:               requestIDPrefix + s.newID(),
			OrderID:          orderID,
			SellerID:         order.SellerID,
			Type:             domain.RequestTypeCancel,
			Reason:           reason,
			Comments:         comments,
			Status:           domain.RequestStatusApproved,
			PriorOrderStatus: snap.Order.Status,
			RequestedBy:      cmd.ActorID,
			RequestedAt:      now,
			ResolvedAt:       &now,
			ResolvedBy:       valuePtr(cmd.ActorID),
		}

		entry := s.buildAuditEntry(cmd.ActorID, actorTypeBuyer, auditActionOrderCancelled, orderID, request.ID, map[string]any{
			"previous_status": string(snap.Order.Status),
			"status":          string(order.Status),
			"reason":          reason,
		}, now)

		return repositories.OrderMutation{
			Order:         &order,
			InsertRequest: &request,
			AuditEntries:  []domain.AuditLogEntry{entry},
		}, nil
	})
	if err != nil {
		if errors.Is(err, errCancelAlreadyApplied) {
			if confirmsCurrentStatus(cmd.ExpectedStatus, domain.OrderStatusCancelled) {
				return s.priorCancelResult(ctx, orderID)
			}
			return RequestResult{}, &NotEligibleError{Reason: ReasonAlreadyCancelled}
		}
		return RequestResult{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		PreviousStatus: string(request.PriorOrderStatus),
		CurrentStatus:  string(updated.Status),
		RequestID:      request.ID,
		RequestType:    string(request.Type),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
	})

	return RequestResult{Request: request, Order: updated}, nil
}

func (s *lifecycleService) CreateReturnRequest(ctx context.Context, cmd CreateReturnRequestCommand) (RequestResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RequestResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := s.sanitize(cmd.Reason)
	if reason == "" {
		return RequestResult{}, fmt.Errorf("%w: return reason is required", ErrOrderInvalidInput)
	}
	comments := s.sanitize(cmd.Comments)

	now := s.now()
	var request ReturnCancelRequest

	updated, err := s.orders.Mutate(ctx, orderID, func(snap repositories.OrderSnapshot) (repositories.OrderMutation, error) {
		order := snap.Order

		if order.Status == domain.OrderStatusReturnRequested && confirmsCurrentStatus(cmd.ExpectedStatus, order.Status) {
			if existing := pendingOfType(snap.Pending, domain.RequestTypeReturn); existing != nil {
				request = *existing
				return repositories.OrderMutation{}, nil
			}
		}

		report := EvaluateEligibility(order, snap.Pending, now, s.returnWindow)
		if err := s.vetoFor(ctx, report, domain.RequestTypeReturn, order); err != nil {
			return repositories.OrderMutation{}, err
		}

		if err := s.applyTransition(&order, domain.OrderStatusReturnRequested, cmd.ActorID, now); err != nil {
			return repositories.OrderMutation{}, err
		}

		request = ReturnCancelRequest{
			ID:               requestIDPrefix + s.newID(),
			OrderID:          orderID,
			SellerID:         order.SellerID,
			Type:             domain.RequestTypeReturn,
			Reason:           reason,
			Comments:         comments,
			Status:           domain.RequestStatusPending,
			PriorOrderStatus: snap.Order.Status,
			RequestedBy:      cmd.ActorID,
			RequestedAt:      now,
		}

		entry := s.buildAuditEntry(cmd.ActorID, actorTypeBuyer, auditActionReturnRequested, orderID, request.ID, map[string]any{
			"previous_status": string(snap.Order.Status),
			"status":          string(order.Status),
			"reason":          reason,
		}, now)

		return repositories.OrderMutation{
			Order:         &order,
			InsertRequest: &request,
			AuditEntries:  []domain.AuditLogEntry{entry},
		}, nil
	})
	if err != nil {
		return RequestResult{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}

	if request.RequestedAt.Equal(now) {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventRequestCreated,
			OrderID:        updated.ID,
			OrderNumber:    updated.OrderNumber,
			PreviousStatus: string(request.PriorOrderStatus),
			CurrentStatus:  string(updated.Status),
			RequestID:      request.ID,
			RequestType:    string(request.Type),
			ActorID:        cmd.ActorID,
			OccurredAt:     now,
		})
	}

	return RequestResult{Request: request, Order: updated}, nil
}

func (s *lifecycleService) ResolveReturnRequest(ctx context.Context, cmd ResolveReturnRequestCommand) (RequestResult, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return RequestResult{}, fmt.Errorf("%w: request id is required", ErrOrderInvalidInput)
	}
	if cmd.Decision != DecisionApprove && cmd.Decision != DecisionReject {
		return RequestResult{}, fmt.Errorf("%w: unknown decision %q", ErrOrderInvalidInput, cmd.Decision)
	}
	comments := s.sanitize(cmd.Comments)

	now := s.now()
	var resolvedOrder Order

	resolved, err := s.requests.Resolve(ctx, requestID, func(req domain.ReturnCancelRequest, snap repositories.OrderSnapshot) (repositories.OrderMutation, error) {
		if !req.IsPending() {
			return repositories.OrderMutation{}, fmt.Errorf("%w: request %s is not pending", ErrRequestNotFound, requestID)
		}
		if req.Type != domain.RequestTypeReturn {
			return repositories.OrderMutation{}, fmt.Errorf("%w: request %s is not a return request", ErrRequestNotFound, requestID)
		}

		order := snap.Order
		if order.Status != domain.OrderStatusReturnRequested {
			return repositories.OrderMutation{}, fmt.Errorf("%w: order %s has status %q with a pending return request", ErrDataIntegrity, order.ID, order.Status)
		}

		var target domain.OrderStatus
		var action string
		switch cmd.Decision {
		case DecisionApprove:
			target = domain.OrderStatusReturned
			action = auditActionReturnApproved
			req.Status = domain.RequestStatusApproved
		case DecisionReject:
			// Rejection restores the status the order held when the
			// request was filed.
			target = req.PriorOrderStatus
			action = auditActionReturnRejected
			req.Status = domain.RequestStatusRejected
		}

		if err := s.applyTransition(&order, target, cmd.ActorID, now); err != nil {
			return repositories.OrderMutation{}, err
		}

		req.ResolvedAt = &now
		req.ResolvedBy = valuePtr(cmd.ActorID)
		if comments != "" {
			req.Comments = comments
		}
		resolvedOrder = order

		entry := s.buildAuditEntry(cmd.ActorID, actorTypeSeller, action, order.ID, req.ID, map[string]any{
			"previous_status": string(domain.OrderStatusReturnRequested),
			"status":          string(order.Status),
			"decision":        string(cmd.Decision),
		}, now)

		return repositories.OrderMutation{
			Order:         &order,
			UpdateRequest: &req,
			AuditEntries:  []domain.AuditLogEntry{entry},
		}, nil
	})
	if err != nil {
		return RequestResult{}, s.mapRepositoryError(err, ErrRequestNotFound)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventRequestResolved,
		OrderID:        resolvedOrder.ID,
		OrderNumber:    resolvedOrder.OrderNumber,
		PreviousStatus: string(domain.OrderStatusReturnRequested),
		CurrentStatus:  string(resolvedOrder.Status),
		RequestID:      resolved.ID,
		RequestType:    string(resolved.Type),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
		Metadata:       map[string]any{"decision": string(cmd.Decision)},
	})

	return RequestResult{Request: resolved, Order: resolvedOrder}, nil
}

func (s *lifecycleService) GetRequest(ctx context.Context, requestID string) (ReturnCancelRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ReturnCancelRequest{}, fmt.Errorf("%w: request id is required", ErrOrderInvalidInput)
	}
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return ReturnCancelRequest{}, s.mapRepositoryError(err, ErrRequestNotFound)
	}
	return req, nil
}

func (s *lifecycleService) ListRequests(ctx context.Context, q RequestListQuery) (CursorPage[ReturnCancelRequest], error) {
	page, err := s.requests.List(ctx, repositories.RequestListFilter{
		OrderID:    strings.TrimSpace(q.OrderID),
		SellerID:   strings.TrimSpace(q.SellerID),
		Types:      q.Types,
		Statuses:   q.Statuses,
		Pagination: q.Pagination,
	})
	if err != nil {
		return CursorPage[ReturnCancelRequest]{}, s.mapRepositoryError(err, ErrRequestNotFound)
	}
	return page, nil
}

func (s *lifecycleService) ListAuditLog(ctx context.Context, q AuditLogQuery) (CursorPage[AuditLogEntry], error) {
	if s.audits == nil {
		return CursorPage[AuditLogEntry]{}, errors.New("order: audit log repository not configured")
	}
	page, err := s.audits.List(ctx, repositories.AuditLogFilter{
		TargetRef:  strings.TrimSpace(q.TargetRef),
		Action:     strings.TrimSpace(q.Action),
		Pagination: q.Pagination,
	})
	if err != nil {
		return CursorPage[AuditLogEntry]{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}
	return page, nil
}

// vetoFor translates an eligibility report into the typed rejection for a
// specific request type, or nil when the request may proceed.
func (s *lifecycleService) vetoFor(ctx context.Context, report EligibilityReport, want RequestType, order Order) error {
	if report.Eligible {
		if report.Type == want {
			return nil
		}
		// The order is in a state where only the other request type applies.
		target := domain.OrderStatusCancelled
		if want == domain.RequestTypeReturn {
			target = domain.OrderStatusReturnRequested
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
	}

	switch report.Reason {
	case ReasonRequestAlreadyExists:
		return fmt.Errorf("%w: pending %s request exists for order %s", ErrDuplicateRequest, want, order.ID)
	case ReasonAlreadyCancelled:
		if want == domain.RequestTypeCancel {
			return errCancelAlreadyApplied
		}
		return &NotEligibleError{Reason: report.Reason}
	case ReasonDeliveredDateMissing:
		s.logger(ctx, "order.integrity.delivered_at_missing", map[string]any{
			"order": order.ID,
		})
		return &NotEligibleError{Reason: report.Reason}
	case "":
		return fmt.Errorf("%w: order %s has unrecognized status %q", ErrDataIntegrity, order.ID, order.Status)
	default:
		return &NotEligibleError{Reason: report.Reason}
	}
}

// priorCancelResult serves the idempotent re-invocation path: the caller
// confirmed a prior successful cancellation, so return what it produced.
func (s *lifecycleService) priorCancelResult(ctx context.Context, orderID string) (RequestResult, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return RequestResult{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}
	requests, err := s.requests.ListByOrder(ctx, orderID)
	if err != nil {
		return RequestResult{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}
	for _, req := range requests {
		if req.Type == domain.RequestTypeCancel && req.Status == domain.RequestStatusApproved {
			return RequestResult{Request: req, Order: order}, nil
		}
	}
	return RequestResult{Order: order}, nil
}

// applyTransition mutates the order in place along a defined edge, stamping
// the derived timestamps. Timestamps are set exactly once: a reverted
// delivered order keeps its original DeliveredAt.
func (s *lifecycleService) applyTransition(order *Order, target domain.OrderStatus, actor string, now time.Time) error {
	if order.Status == target {
		return fmt.Errorf("%w: order %s is already %s", ErrAlreadyInState, order.ID, target)
	}
	if !canTransition(order.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
	}

	order.Status = target
	order.UpdatedAt = now
	if actor := strings.TrimSpace(actor); actor != "" {
		order.Audit.UpdatedBy = valuePtr(actor)
	}

	switch target {
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	case domain.OrderStatusReturned:
		if order.ReturnedAt == nil {
			order.ReturnedAt = &now
		}
	}

	return nil
}

const (
	actorTypeBuyer  = "buyer"
	actorTypeSeller = "seller"
	actorTypeSystem = "system"

	auditActionOrderCreated    = "order.created"
	auditActionOrderDelivered  = "order.delivered"
	auditActionOrderCancelled  = "order.cancelled"
	auditActionReturnRequested = "order.return.requested"
	auditActionReturnApproved  = "order.return.approved"
	auditActionReturnRejected  = "order.return.rejected"
)

func (s *lifecycleService) buildAuditEntry(actor, actorType, action, targetRef, requestID string, metadata map[string]any, now time.Time) domain.AuditLogEntry {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "system"
		actorType = actorTypeSystem
	}
	return domain.AuditLogEntry{
		ID:        auditIDPrefix + s.newID(),
		Actor:     actor,
		ActorType: actorType,
		Action:    action,
		TargetRef: targetRef,
		Metadata:  metadata,
		Severity:  "info",
		RequestID: requestID,
		CreatedAt: now,
	}
}

// appendAudit records an out-of-transaction audit entry. Failures are
// logged, never surfaced: audit writes must not block the operation.
func (s *lifecycleService) appendAudit(ctx context.Context, entry domain.AuditLogEntry) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		s.logger(ctx, "order.audit.append.failed", map[string]any{
			"action": entry.Action,
			"target": entry.TargetRef,
			"error":  err.Error(),
		})
	}
}

func (s *lifecycleService) generateOrderNumber(ctx context.Context) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", s.mapRepositoryError(err, ErrOrderNotFound)
	}
	return strconv.FormatInt(seq, 10), nil
}

func (s *lifecycleService) mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *lifecycleService) now() time.Time {
	return s.clock()
}

func (s *lifecycleService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func confirmsCurrentStatus(expected *OrderStatus, current domain.OrderStatus) bool {
	return expected != nil && *expected == current
}

func pendingOfType(requests []ReturnCancelRequest, t RequestType) *ReturnCancelRequest {
	for i := range requests {
		if requests[i].Type == t && requests[i].IsPending() {
			return &requests[i]
		}
	}
	return nil
}

func cloneOrderItems(items []OrderLineItem) []OrderLineItem {
	if items == nil {
		return nil
	}
	cloned := make([]OrderLineItem, len(items))
	copy(cloned, items)
	return cloned
}

func cloneMetadata(src map[string]string) map[string]any {
	normalized := textutil.NormalizeStringMap(src)
	if len(normalized) == 0 {
		return nil
	}
	result := make(map[string]any, len(normalized))
	for k, v := range normalized {
		result[k] = v
	}
	return result
}

func valuePtr[T any](v T) *T {
	return &v
}
