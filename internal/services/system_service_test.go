package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/fourj/orderservice/internal/domain"
)

type stubHealthRepo struct {
	collectFn func(context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepo) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.SystemHealthReport{}, nil
}

func TestHealthReportDerivesStatusAndUptime(t *testing.T) {
	repo := &stubHealthRepo{collectFn: func(context.Context) (domain.SystemHealthReport, error) {
		return domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"storage":   {Status: domain.HealthStatusDegraded},
			},
		}, nil
	}}

	started := fixedClock().Add(-90 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            fixedClock,
		Build:            BuildInfo{Version: "1.4.0", Environment: "prod", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService returned error: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport returned error: %v", err)
	}

	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("status = %q, want degraded", report.Status)
	}
	if report.Version != "1.4.0" || report.Environment != "prod" {
		t.Fatalf("build metadata missing: %+v", report)
	}
	if report.Uptime != 90*time.Minute {
		t.Fatalf("uptime = %s, want 90m", report.Uptime)
	}
	if !report.GeneratedAt.Equal(fixedClock()) {
		t.Fatalf("generatedAt = %s", report.GeneratedAt)
	}
}
