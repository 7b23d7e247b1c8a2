package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/storefront/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

type fixedBacklog int

func (b fixedBacklog) Pending() int { return int(b) }

func healthChecks(statuses ...string) map[string]domain.SystemHealthCheck {
	out := make(map[string]domain.SystemHealthCheck, len(statuses))
	for i, status := range statuses {
		out[string(rune('a'+i))] = domain.SystemHealthCheck{Status: status}
	}
	return out
}

func TestSystemServiceHealthReportStatus(t *testing.T) {
	tests := []struct {
		name        string
		report      domain.SystemHealthReport
		backlog     RetryBacklog
		wantStatus  string
		wantBacklog string
	}{
		{
			name:       "all ok",
			report:     domain.SystemHealthReport{Checks: healthChecks(domain.HealthStatusOK, domain.HealthStatusOK)},
			wantStatus: domain.HealthStatusOK,
		},
		{
			name:       "degraded check",
			report:     domain.SystemHealthReport{Checks: healthChecks(domain.HealthStatusOK, domain.HealthStatusDegraded)},
			wantStatus: domain.HealthStatusDegraded,
		},
		{
			name:       "error beats degraded",
			report:     domain.SystemHealthReport{Checks: healthChecks(domain.HealthStatusDegraded, domain.HealthStatusError)},
			wantStatus: domain.HealthStatusError,
		},
		{
			name:       "repository status kept",
			report:     domain.SystemHealthReport{Status: domain.HealthStatusOK, Checks: healthChecks(domain.HealthStatusDegraded)},
			wantStatus: domain.HealthStatusOK,
		},
		{
			name:        "backlog within limit",
			report:      domain.SystemHealthReport{Checks: healthChecks(domain.HealthStatusOK)},
			backlog:     fixedBacklog(3),
			wantStatus:  domain.HealthStatusOK,
			wantBacklog: domain.HealthStatusOK,
		},
		{
			name:        "backlog over limit",
			report:      domain.SystemHealthReport{Checks: healthChecks(domain.HealthStatusOK)},
			backlog:     fixedBacklog(11),
			wantStatus:  domain.HealthStatusDegraded,
			wantBacklog: domain.HealthStatusDegraded,
		},
		{
			name:        "backlog does not hide an error",
			report:      domain.SystemHealthReport{Status: domain.HealthStatusError, Checks: healthChecks(domain.HealthStatusError)},
			backlog:     fixedBacklog(500),
			wantStatus:  domain.HealthStatusError,
			wantBacklog: domain.HealthStatusDegraded,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: tc.report},
				Backlog:          tc.backlog,
				BacklogLimit:     10,
			})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, report.Status)
			}
			check, ok := report.Checks[webhookRetriesCheck]
			if tc.wantBacklog == "" {
				if ok {
					t.Fatalf("unexpected backlog check %+v", check)
				}
				return
			}
			if !ok || check.Status != tc.wantBacklog {
				t.Fatalf("expected backlog check %s, got %+v", tc.wantBacklog, check)
			}
		})
	}
}

func TestSystemServiceFillsBuildInfo(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Version: "from-checks"}},
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.2.3", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	want := SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Version:     "from-checks",
		CommitSHA:   "abc123",
		Environment: "prod",
		Uptime:      5 * time.Minute,
		GeneratedAt: now,
	}
	if report.Status != want.Status || report.Version != want.Version || report.CommitSHA != want.CommitSHA ||
		report.Environment != want.Environment || report.Uptime != want.Uptime || !report.GeneratedAt.Equal(want.GeneratedAt) {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestSystemServiceErrors(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error without a health repository")
	}

	collectErr := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: collectErr}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, collectErr) {
		t.Fatalf("expected wrapped collect error, got %v", err)
	}
}
