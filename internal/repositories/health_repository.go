package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/storefront/api/internal/domain"
)

// DependencyCheck is one readiness check. A failing Critical check turns the report to error;
// other failures only degrade it.
type DependencyCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

// DependencyHealthOption customises NewDependencyHealthRepository.
type DependencyHealthOption func(*checkSet)

// WithDependencyTimeout applies to checks that leave Timeout zero. Defaults to 1.5s.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(p *checkSet) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithDependencyClock replaces time.Now.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(p *checkSet) {
		if clock != nil {
			p.now = clock
		}
	}
}

// checkSet runs every check concurrently on each Collect.
type checkSet struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*checkSet)(nil)

func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	names := make(map[string]bool, len(checks))
	for _, c := range checks {
		name := strings.TrimSpace(c.Name)
		switch {
		case name == "" || c.Check == nil:
			return nil, errors.New("health repository: every check needs a name and a function")
		case names[name]:
			return nil, fmt.Errorf("health repository: duplicate check %s", name)
		}
		names[name] = true
	}

	p := &checkSet{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: 1500 * time.Millisecond,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func (p *checkSet) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	outcomes := make([]domain.SystemHealthCheck, len(p.checks))
	var wg sync.WaitGroup
	wg.Add(len(p.checks))
	for i := range p.checks {
		go func(i int) {
			defer wg.Done()
			outcomes[i] = p.run(ctx, p.checks[i])
		}(i)
	}
	wg.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(outcomes)),
		GeneratedAt: p.now().UTC(),
	}
	for i, outcome := range outcomes {
		report.Checks[p.checks[i].Name] = outcome
		if outcome.Status == domain.HealthStatusOK {
			continue
		}
		if p.checks[i].Critical {
			report.Status = domain.HealthStatusError
		} else if report.Status == domain.HealthStatusOK {
			report.Status = domain.HealthStatusDegraded
		}
	}
	return report, nil
}

func (p *checkSet) run(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	limit := check.Timeout
	if limit <= 0 {
		limit = p.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	started := p.now()
	err := check.Check(ctx)
	if err == nil {
		err = ctx.Err()
	}
	finished := p.now()

	out := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err != nil {
		out.Status = domain.HealthStatusError
		out.Error = err.Error()
		out.Detail = "unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			out.Detail = "timeout"
		}
	}
	return out
}
