package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/fourj/orderservice/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyProbe describes one downstream dependency checked during readiness.
type DependencyProbe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// DependencyHealthOption customises the dependency-backed health repository.
type DependencyHealthOption func(*dependencyHealthRepository)

// WithProbeTimeout overrides the default timeout applied when a probe omits its own.
func WithProbeTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithHealthClock injects a custom clock primarily for tests.
func WithHealthClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	probes         []DependencyProbe
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository constructs a HealthRepository that evaluates the provided probes.
func NewDependencyHealthRepository(probes []DependencyProbe, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: at least one dependency probe is required")
	}
	repo := &dependencyHealthRepository{
		probes:         make([]DependencyProbe, len(probes)),
		defaultTimeout: defaultProbeTimeout,
		now:            time.Now,
	}
	copy(repo.probes, probes)
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	results := make(map[string]domain.SystemHealthCheck, len(r.probes))
	for _, probe := range r.probes {
		if strings.TrimSpace(probe.Name) == "" {
			return domain.SystemHealthReport{}, errors.New("health repository: dependency probe missing name")
		}
		if probe.Check == nil {
			return domain.SystemHealthReport{}, fmt.Errorf("health repository: dependency %s missing check function", probe.Name)
		}
		results[probe.Name] = r.run(ctx, probe)
	}

	status := domain.HealthStatusOK
	for _, result := range results {
		if result.Status == domain.HealthStatusError {
			status = domain.HealthStatusError
			break
		}
		if result.Status != domain.HealthStatusOK {
			status = domain.HealthStatusDegraded
		}
	}

	return domain.SystemHealthReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: r.now(),
	}, nil
}

func (r *dependencyHealthRepository) run(ctx context.Context, probe DependencyProbe) domain.SystemHealthCheck {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := probe.Check(probeCtx)
	end := r.now()

	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		check.Status = domain.HealthStatusError
		check.Detail = "cancelled"
		check.Error = err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		check.Status = domain.HealthStatusError
		check.Detail = "timeout"
		check.Error = err.Error()
	default:
		check.Status = domain.HealthStatusDegraded
		check.Detail = err.Error()
		check.Error = err.Error()
	}
	return check
}
