package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/shopstream/api/internal/platform/firestore"
	"github.com/shopstream/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry accessors.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	requests *RequestRepository
	audits   *AuditLogRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

// NewRegistry wires every repository against one shared provider. The health
// repository is supplied by the caller since its probe set spans more than
// Firestore.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	requests, err := NewRequestRepository(provider)
	if err != nil {
		return nil, err
	}
	audits, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		orders:   orders,
		requests: requests,
		audits:   audits,
		counters: counters,
		health:   health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository {
	return r.orders
}

func (r *Registry) Requests() repositories.RequestRepository {
	return r.requests
}

func (r *Registry) AuditLogs() repositories.AuditLogRepository {
	return r.audits
}

func (r *Registry) Counters() repositories.CounterRepository {
	return r.counters
}

func (r *Registry) Health() repositories.HealthRepository {
	return r.health
}
