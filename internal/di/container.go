package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopstream/api/internal/platform/config"
	"github.com/shopstream/api/internal/platform/textutil"
	"github.com/shopstream/api/internal/repositories"
	"github.com/shopstream/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Lifecycle services.LifecycleService
	Health    services.HealthService
}

// ContainerDeps carries collaborators that are constructed outside the
// repository registry, such as the event publisher and build metadata.
type ContainerDeps struct {
	Events services.OrderEventPublisher
	Build  services.BuildInfo
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore-backed
// registries, while tests can supply in-memory ones.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps ContainerDeps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, deps ContainerDeps) (Services, error) {
	var svc Services

	counters := reg.Counters()
	if counters != nil && cfg.Orders.OrderNumberStart > 0 {
		initial := cfg.Orders.OrderNumberStart
		if err := counters.Configure(ctx, "orders", repositories.CounterConfig{InitialValue: &initial}); err != nil {
			return Services{}, fmt.Errorf("configure order number counter: %w", err)
		}
	}

	lifecycleSvc, err := services.NewLifecycleService(services.LifecycleServiceDeps{
		Orders:       reg.Orders(),
		Requests:     reg.Requests(),
		AuditLogs:    reg.AuditLogs(),
		Counters:     counters,
		ReturnWindow: cfg.Orders.ReturnWindow,
		Clock:        time.Now,
		SanitizeText: textutil.CleanFreeText,
		Events:       deps.Events,
		Logger:       deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build lifecycle service: %w", err)
	}
	svc.Lifecycle = lifecycleSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		healthSvc, err := services.NewHealthService(services.HealthServiceDeps{
			Health: healthRepo,
			Build:  deps.Build,
			Clock:  time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build health service: %w", err)
		}
		svc.Health = healthSvc
	}

	return svc, nil
}
