package repositories

import (
	"context"
	"time"

	domain "github.com/shopstream/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Requests() RequestRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderSnapshot is the transactionally consistent view handed to a mutator:
// the order row plus every pending request for it, read in the same
// transaction that will commit the mutation.
type OrderSnapshot struct {
	Order   domain.Order
	Pending []domain.ReturnCancelRequest
}

// OrderMutation lists the writes to commit atomically with the snapshot read.
// Nil fields are skipped. AuditEntries are appended in the same transaction so
// the audit trail can never disagree with the order row.
type OrderMutation struct {
	Order         *domain.Order
	InsertRequest *domain.ReturnCancelRequest
	UpdateRequest *domain.ReturnCancelRequest
	AuditEntries  []domain.AuditLogEntry
}

// OrderMutator evaluates transition guards against the snapshot and returns
// the writes to apply. Returning an error aborts the transaction with no
// partial effect.
type OrderMutator func(snap OrderSnapshot) (OrderMutation, error)

// RequestMutator is an OrderMutator keyed by request: it additionally receives
// the request row the transaction was addressed to.
type RequestMutator func(req domain.ReturnCancelRequest, snap OrderSnapshot) (OrderMutation, error)

// OrderRepository persists order rows and provides the transactional
// read-evaluate-write envelope every lifecycle transition runs in.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// Mutate reads the order and its pending requests inside one transaction,
	// invokes fn on the snapshot, and commits the returned mutation atomically.
	// A concurrent conflicting writer surfaces as a RepositoryError with
	// IsConflict; the caller must not assume partial effect.
	Mutate(ctx context.Context, orderID string, fn OrderMutator) (domain.Order, error)
}

// RequestRepository owns the return/cancel request ledger rows.
type RequestRepository interface {
	FindByID(ctx context.Context, requestID string) (domain.ReturnCancelRequest, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnCancelRequest, error)
	List(ctx context.Context, filter RequestListFilter) (domain.CursorPage[domain.ReturnCancelRequest], error)
	// Resolve reads the request, its order, and the order's pending requests
	// inside one transaction and commits the mutation returned by fn.
	Resolve(ctx context.Context, requestID string, fn RequestMutator) (domain.ReturnCancelRequest, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	SellerID   string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type RequestListFilter struct {
	OrderID    string
	SellerID   string
	Types      []domain.RequestType
	Statuses   []domain.RequestStatus
	Pagination domain.Pagination
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
