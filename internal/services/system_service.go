package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ambercart/api/internal/repositories"
)

// ErrSystemUnavailable indicates health data could not be collected.
var ErrSystemUnavailable = errors.New("system: unavailable")

// SystemServiceDeps wires the dependencies required by the system service.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
}

type systemService struct {
	health repositories.HealthRepository
}

// NewSystemService constructs a SystemService validating required dependencies.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	return &systemService{health: deps.Health}, nil
}

// Health collects dependency probe results for the readiness endpoint.
func (s *systemService) Health(ctx context.Context) (SystemHealthReport, error) {
	if s == nil || s.health == nil {
		return SystemHealthReport{}, ErrSystemUnavailable
	}
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, fmt.Errorf("%w: %v", ErrSystemUnavailable, err)
	}
	return report, nil
}
