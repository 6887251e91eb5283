package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/threadline/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestNewSystemServiceRequiresHealthRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error when health repository is missing")
	}
}

func TestSystemServiceHealthFillsDefaults(t *testing.T) {
	now := time.Date(2026, 6, 5, 9, 30, 0, 0, time.UTC)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generated at %s, got %s", now, report.GeneratedAt)
	}
	if report.Checks == nil {
		t.Fatal("expected non-nil checks map")
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status for empty checks, got %s", report.Status)
	}
}

func TestSystemServiceHealthDerivesStatus(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   domain.HealthStatus
	}{
		{
			name: "all ok",
			checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
			},
			want: domain.HealthStatusOK,
		},
		{
			name: "degraded dependency",
			checks: map[string]domain.SystemHealthCheck{
				"firestore":     {Status: domain.HealthStatusOK},
				"secretManager": {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusDegraded,
		},
		{
			name: "error wins over degraded",
			checks: map[string]domain.SystemHealthCheck{
				"firestore":     {Status: domain.HealthStatusError},
				"secretManager": {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubHealthRepository{report: domain.SystemHealthReport{Checks: tc.checks}}
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.Health(context.Background())
			if err != nil {
				t.Fatalf("Health: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected status %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServiceHealthPropagatesError(t *testing.T) {
	repoErr := errors.New("collect failed")
	repo := &stubHealthRepository{err: repoErr}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.Health(context.Background()); !errors.Is(err, repoErr) {
		t.Fatalf("expected collect error, got %v", err)
	}
}

func TestSystemServiceBuildDefaultsStartedAt(t *testing.T) {
	now := time.Date(2026, 6, 5, 9, 30, 0, 0, time.UTC)
	repo := &stubHealthRepository{}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.4.2", CommitSHA: "abc1234", Environment: "prod"},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	build := svc.Build()
	if build.Version != "1.4.2" || build.CommitSHA != "abc1234" {
		t.Fatalf("unexpected build info %#v", build)
	}
	if !build.StartedAt.Equal(now) {
		t.Fatalf("expected started at defaulted to clock, got %s", build.StartedAt)
	}
}
