package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/oceanbutterfly/shop-api/internal/domain"
	"github.com/oceanbutterfly/shop-api/internal/repositories"
)

// BuildInfo is the release metadata reported by /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	probes  repositories.HealthRepository
	clock   func() time.Time
	build   BuildInfo
	started time.Time
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	svc := &systemService{probes: deps.HealthRepository, clock: deps.Clock, build: deps.Build}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	svc.started = deps.Build.StartedAt
	if svc.started.IsZero() {
		svc.started = svc.utcNow()
	}
	return svc, nil
}

func (s *systemService) utcNow() time.Time { return s.clock().UTC() }

// HealthReport collects the probes and fills whatever the repository left blank: build
// metadata, uptime, timestamp and the overall status.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.utcNow()
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	for _, f := range []struct {
		dst *string
		val string
	}{
		{&report.Version, s.build.Version},
		{&report.CommitSHA, s.build.CommitSHA},
		{&report.Environment, s.build.Environment},
	} {
		if strings.TrimSpace(*f.dst) == "" {
			*f.dst = f.val
		}
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.started)
	}
	if report.Checks == nil {
		report.Checks = make(map[string]domain.SystemHealthCheck)
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = foldStatus(report.Checks)
	}
	return report, nil
}

func foldStatus(checks map[string]domain.SystemHealthCheck) string {
	folded := domain.HealthStatusOK
	for _, c := range checks {
		if c.Status == domain.HealthStatusError {
			return domain.HealthStatusError
		}
		if c.Status != "" && c.Status != domain.HealthStatusOK {
			folded = domain.HealthStatusDegraded
		}
	}
	return folded
}
