package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusConfirmed indicates the order was placed and handed over by checkout.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusDelivered indicates the order has been delivered to the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturnRequested indicates a return request is awaiting seller resolution.
	OrderStatusReturnRequested OrderStatus = "return_requested"
	// OrderStatusReturned indicates an approved return completed the order. Terminal.
	OrderStatusReturned OrderStatus = "returned"
)

// IsTerminal reports whether no further lifecycle transition is defined from s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

// ParseOrderStatus validates a raw status string against the known lifecycle states.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	switch OrderStatus(raw) {
	case OrderStatusConfirmed, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusReturnRequested, OrderStatusReturned:
		return OrderStatus(raw), true
	}
	return "", false
}

// PaymentMethod enumerates how an order was paid for.
type PaymentMethod string

const (
	// PaymentMethodCard covers card and other online capture methods.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodCashOnDelivery is settled at the door on delivery.
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	// PaymentMethodOther covers methods without a projection rule of their own.
	PaymentMethodOther PaymentMethod = "other"
)

// ParsePaymentMethod validates a raw payment method string.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch PaymentMethod(raw) {
	case PaymentMethodCard, PaymentMethodCashOnDelivery, PaymentMethodOther:
		return PaymentMethod(raw), true
	}
	return "", false
}

// Order captures the order aggregate owned by the lifecycle engine. Status and
// the derived timestamps are mutated exclusively through lifecycle transitions.
type Order struct {
	ID                 string
	OrderNumber        string
	UserID             string
	SellerID           string
	Status             OrderStatus
	PaymentMethod      PaymentMethod
	Currency           string
	TotalAmount        int64
	Items              []OrderLineItem
	CancellationReason *string
	Metadata           map[string]any
	Audit              OrderAudit
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	ReturnedAt         *time.Time
}

// OrderLineItem mirrors catalog items at the time of checkout hand-off.
type OrderLineItem struct {
	ProductRef string
	SKU        string
	Name       string
	Quantity   int
	UnitPrice  int64
	Total      int64
}

// OrderAudit records the actors responsible for creating/updating the order.
type OrderAudit struct {
	CreatedBy *string
	UpdatedBy *string
}

// RequestType distinguishes return requests from cancel requests.
type RequestType string

const (
	// RequestTypeReturn asks to send a delivered order back.
	RequestTypeReturn RequestType = "return"
	// RequestTypeCancel asks to cancel a not-yet-delivered order.
	RequestTypeCancel RequestType = "cancel"
)

// ParseRequestType validates a raw request type string.
func ParseRequestType(raw string) (RequestType, bool) {
	switch RequestType(raw) {
	case RequestTypeReturn, RequestTypeCancel:
		return RequestType(raw), true
	}
	return "", false
}

// RequestStatus enumerates the decision states of a return/cancel request.
type RequestStatus string

const (
	// RequestStatusPending awaits a seller decision.
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusApproved was granted; the order moved to its terminal state.
	RequestStatusApproved RequestStatus = "approved"
	// RequestStatusRejected was declined; the order reverted to its prior status.
	RequestStatusRejected RequestStatus = "rejected"
)

// ReturnCancelRequest is the ledger record driving return/cancel transitions.
// At most one pending request may exist per (OrderID, Type); the order row
// stays authoritative for state, the request is advisory and audit.
type ReturnCancelRequest struct {
	ID               string
	OrderID          string
	SellerID         string
	Type             RequestType
	Reason           string
	Comments         string
	Status           RequestStatus
	PriorOrderStatus OrderStatus
	RequestedBy      string
	RequestedAt      time.Time
	ResolvedAt       *time.Time
	ResolvedBy       *string
}

// IsPending reports whether the request still awaits a decision.
func (r ReturnCancelRequest) IsPending() bool {
	return r.Status == RequestStatusPending
}

// AuditLogEntry captures an immutable audit trail record for a transition.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Severity  string
	RequestID string
	CreatedAt time.Time
}

// Health status values reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthReport aggregates dependency checks for readiness probes.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// SystemHealthCheck reports the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}
