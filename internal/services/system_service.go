package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// BuildInfo is the release metadata shown on /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// RetryBacklog reports webhook deliveries waiting for their next attempt.
type RetryBacklog interface {
	Pending() int
}

const (
	defaultBacklogLimit = 100
	webhookRetriesCheck = "webhookRetries"
)

// SystemServiceDeps wires the health service. When Backlog is set, more than BacklogLimit
// pending webhook retries degrade readiness.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Backlog          RetryBacklog
	BacklogLimit     int
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	checks       repositories.HealthRepository
	backlog      RetryBacklog
	backlogLimit int
	now          func() time.Time
	build        BuildInfo
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		checks:       deps.HealthRepository,
		backlog:      deps.Backlog,
		backlogLimit: deps.BacklogLimit,
		now:          func() time.Time { return clock().UTC() },
		build:        deps.Build,
	}
	if svc.backlogLimit <= 0 {
		svc.backlogLimit = defaultBacklogLimit
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// HealthReport runs the dependency checks and fills in build metadata they leave blank.
// The overall status is the worst of the checks unless the repository already set one.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.checks.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, fmt.Errorf("system service: collect health: %w", err)
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	fillBlank(&report.Version, s.build.Version)
	fillBlank(&report.CommitSHA, s.build.CommitSHA)
	fillBlank(&report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = make(map[string]domain.SystemHealthCheck)
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = domain.HealthStatusOK
		for _, check := range report.Checks {
			report.Status = worseStatus(report.Status, check.Status)
		}
	}

	if s.backlog != nil {
		check := s.backlogCheck(now)
		report.Checks[webhookRetriesCheck] = check
		report.Status = worseStatus(report.Status, check.Status)
	}
	return report, nil
}

func (s *systemService) backlogCheck(now time.Time) domain.SystemHealthCheck {
	pending := s.backlog.Pending()
	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    fmt.Sprintf("%d pending", pending),
		CheckedAt: now,
	}
	if pending > s.backlogLimit {
		check.Status = domain.HealthStatusDegraded
		check.Error = fmt.Sprintf("retry backlog above %d", s.backlogLimit)
	}
	return check
}

func fillBlank(dst *string, value string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = value
	}
}

// worseStatus orders ok < degraded < error. Unknown non-empty statuses count as degraded.
func worseStatus(current, next string) string {
	rank := func(status string) int {
		switch status {
		case domain.HealthStatusOK, "":
			return 0
		case domain.HealthStatusError:
			return 2
		}
		return 1
	}
	if rank(next) > rank(current) {
		if rank(next) == 1 {
			return domain.HealthStatusDegraded
		}
		return next
	}
	return current
}
