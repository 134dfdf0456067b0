package services

import (
	"context"
	"time"

	"github.com/shopstream/api/internal/domain"
)

// Aliases keep handler and service signatures in domain vocabulary without
// importing the domain package everywhere.
type (
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	OrderLineItem       = domain.OrderLineItem
	PaymentMethod       = domain.PaymentMethod
	PaymentStatusLabel  = domain.PaymentStatusLabel
	ReturnCancelRequest = domain.ReturnCancelRequest
	RequestType         = domain.RequestType
	RequestStatus       = domain.RequestStatus
	AuditLogEntry       = domain.AuditLogEntry
	Pagination          = domain.Pagination
)

// CursorPage re-exports the generic page type for service consumers.
type CursorPage[T any] = domain.CursorPage[T]

// CreateOrderCommand seeds a confirmed order from the checkout pipeline.
// Orders enter this system already paid; there is no draft state.
type CreateOrderCommand struct {
	UserID        string
	SellerID      string
	PaymentMethod PaymentMethod
	Currency      string
	TotalAmount   int64
	Items         []OrderLineItem
	Metadata      map[string]string
}

// MarkDeliveredCommand transitions a confirmed order to delivered.
// ExpectedStatus, when set, makes the call a compare-and-set: the
// transition is applied only if the order is still in that status.
type MarkDeliveredCommand struct {
	OrderID        string
	ActorID        string
	ExpectedStatus *OrderStatus
}

// CreateCancelRequestCommand files a cancellation for a confirmed order.
// Cancellations are auto-approved: the order moves to cancelled in the
// same transaction that records the request.
type CreateCancelRequestCommand struct {
	OrderID        string
	ActorID        string
	Reason         string
	Comments       string
	ExpectedStatus *OrderStatus
}

// CreateReturnRequestCommand files a return for a delivered order.
// The order moves to return_requested pending a seller decision.
type CreateReturnRequestCommand struct {
	OrderID        string
	ActorID        string
	Reason         string
	Comments       string
	ExpectedStatus *OrderStatus
}

// ResolveDecision is the seller's verdict on a pending return request.
type ResolveDecision string

const (
	DecisionApprove ResolveDecision = "approve"
	DecisionReject  ResolveDecision = "reject"
)

// ResolveReturnRequestCommand settles a pending return request. Approval
// moves the order to returned; rejection restores the status the order
// held when the request was filed.
type ResolveReturnRequestCommand struct {
	RequestID string
	ActorID   string
	Decision  ResolveDecision
	Comments  string
}

// RequestResult pairs a written request with the order state it produced.
type RequestResult struct {
	Request ReturnCancelRequest
	Order   Order
}

// OrderListQuery narrows buyer- or seller-facing order listings.
type OrderListQuery struct {
	UserID     string
	SellerID   string
	Statuses   []OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// RequestListQuery narrows the seller request inbox.
type RequestListQuery struct {
	SellerID   string
	OrderID    string
	Types      []RequestType
	Statuses   []RequestStatus
	Pagination Pagination
}

// AuditLogQuery filters the audit trail for an order.
type AuditLogQuery struct {
	TargetRef  string
	Action     string
	Pagination Pagination
}

// LifecycleService owns order state transitions, eligibility evaluation,
// and the return/cancel request ledger.
type LifecycleService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, q OrderListQuery) (CursorPage[Order], error)

	CheckEligibility(ctx context.Context, orderID string) (EligibilityReport, error)

	MarkDelivered(ctx context.Context, cmd MarkDeliveredCommand) (Order, error)
	CreateCancelRequest(ctx context.Context, cmd CreateCancelRequestCommand) (RequestResult, error)
	CreateReturnRequest(ctx context.Context, cmd CreateReturnRequestCommand) (RequestResult, error)
	ResolveReturnRequest(ctx context.Context, cmd ResolveReturnRequestCommand) (RequestResult, error)

	GetRequest(ctx context.Context, requestID string) (ReturnCancelRequest, error)
	ListRequests(ctx context.Context, q RequestListQuery) (CursorPage[ReturnCancelRequest], error)

	ListAuditLog(ctx context.Context, q AuditLogQuery) (CursorPage[AuditLogEntry], error)
}
