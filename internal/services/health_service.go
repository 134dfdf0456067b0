package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopstream/api/internal/domain"
	"github.com/shopstream/api/internal/repositories"
)

// BuildInfo carries the build metadata stamped into health responses.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthService aggregates dependency probes and build metadata for the
// health endpoints.
type HealthService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// HealthServiceDeps enumerates the dependencies required by the health service.
type HealthServiceDeps struct {
	Health repositories.HealthRepository
	Build  BuildInfo
	Clock  func() time.Time
}

type healthService struct {
	health repositories.HealthRepository
	build  BuildInfo
	clock  func() time.Time
}

// NewHealthService constructs the health service.
func NewHealthService(deps HealthServiceDeps) (HealthService, error) {
	if deps.Health == nil {
		return nil, errors.New("health service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &healthService{
		health: deps.Health,
		build:  deps.Build,
		clock:  clock,
	}, nil
}

func (s *healthService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, err
	}

	report.Version = s.build.Version
	report.CommitSHA = s.build.CommitSHA
	report.Environment = s.build.Environment
	if !s.build.StartedAt.IsZero() {
		report.Uptime = s.clock().Sub(s.build.StartedAt)
	}

	return report, nil
}
