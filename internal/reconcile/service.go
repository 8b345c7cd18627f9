package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/syncd-io/syncd/internal/metrics"
)

const defaultPollInterval = 10 * time.Second

// Schedule is one (repository, branch) reconciliation registration.
// The supervisor auto-disables it after MaxConsecutiveErrors failed
// runs with no intervening success.
type Schedule struct {
	Repository        string        `json:"repository"`
	Branch            string        `json:"branch"`
	Interval          time.Duration `json:"interval"`
	Enabled           bool          `json:"enabled"`
	LastRun           time.Time     `json:"last_run"`
	LastReport        *Report       `json:"last_report,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
}

// Service is the self-healing supervisor: one background loop polling
// every 10 seconds, executing due schedules. The schedule map is
// guarded by a mutex on add/remove/toggle; the loop snapshots the key
// set under the lock and runs executions outside it.
type Service struct {
	PollInterval         time.Duration
	MaxConsecutiveErrors int
	AutoFix              bool
	Metrics              *metrics.Metrics

	mu        sync.Mutex
	schedules map[string]*Schedule
	managers  map[string]*Manager
	running   bool
}

func NewService(pollInterval time.Duration, maxConsecutiveErrors int, m *metrics.Metrics) *Service {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if maxConsecutiveErrors <= 0 {
		maxConsecutiveErrors = 3
	}
	return &Service{
		PollInterval:         pollInterval,
		MaxConsecutiveErrors: maxConsecutiveErrors,
		AutoFix:              true,
		Metrics:              m,
		schedules:            make(map[string]*Schedule),
		managers:             make(map[string]*Manager),
	}
}

func scheduleKey(repository, branch string) string {
	return repository + ":" + branch
}

// Register adds (or replaces) a schedule for one repository/branch.
func (s *Service) Register(repository, branch string, manager *Manager, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scheduleKey(repository, branch)
	s.schedules[key] = &Schedule{
		Repository: repository,
		Branch:     branch,
		Interval:   interval,
		Enabled:    true,
	}
	s.managers[key] = manager
	if s.Metrics != nil {
		s.Metrics.ScheduleEnabled.WithLabelValues(repository, branch).Set(1)
	}
}

// Run starts the supervisor loop and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithName("self-healing")
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log.Info("self-healing supervisor starting", "pollInterval", s.PollInterval.String())
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick executes every due schedule once.
func (s *Service) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []string
	for key, sched := range s.schedules {
		if !sched.Enabled {
			continue
		}
		if sched.LastRun.IsZero() || now.Sub(sched.LastRun) >= sched.Interval {
			due = append(due, key)
		}
	}
	s.mu.Unlock()

	for _, key := range due {
		s.execute(ctx, key)
	}
}

// execute runs one schedule and applies the error-backoff bookkeeping:
// a run with errors increments the consecutive counter, a clean run
// zeroes it, and hitting the maximum disables the schedule.
func (s *Service) execute(ctx context.Context, key string) {
	log := logr.FromContextOrDiscard(ctx).WithName("self-healing")

	s.mu.Lock()
	sched, ok := s.schedules[key]
	manager := s.managers[key]
	s.mu.Unlock()
	if !ok || manager == nil {
		return
	}

	report := manager.Reconcile(ctx, sched.Repository, sched.Branch, nil, false, s.AutoFix)

	s.mu.Lock()
	defer s.mu.Unlock()
	sched.LastRun = time.Now()
	sched.LastReport = report

	if s.Metrics != nil {
		for _, item := range report.DriftDetected {
			s.Metrics.DriftTotal.WithLabelValues(string(item.Type)).Inc()
		}
	}

	if len(report.Errors) > 0 {
		sched.ConsecutiveErrors++
		if s.Metrics != nil {
			s.Metrics.ReconcileTotal.WithLabelValues("error").Inc()
		}
		log.Info("reconciliation run had errors",
			"repo", sched.Repository,
			"branch", sched.Branch,
			"errors", len(report.Errors),
			"consecutive", sched.ConsecutiveErrors,
		)
	} else {
		sched.ConsecutiveErrors = 0
		if s.Metrics != nil {
			s.Metrics.ReconcileTotal.WithLabelValues("success").Inc()
		}
	}

	if sched.ConsecutiveErrors >= s.MaxConsecutiveErrors {
		sched.Enabled = false
		if s.Metrics != nil {
			s.Metrics.ScheduleEnabled.WithLabelValues(sched.Repository, sched.Branch).Set(0)
		}
		log.Info("schedule auto-disabled after consecutive failures",
			"repo", sched.Repository,
			"branch", sched.Branch,
			"failures", sched.ConsecutiveErrors,
		)
	}
}

// ReconcileNow runs one schedule immediately, outside its interval.
func (s *Service) ReconcileNow(ctx context.Context, repository, branch string) (*Report, error) {
	key := scheduleKey(repository, branch)
	s.mu.Lock()
	_, ok := s.managers[key]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no schedule registered for %s:%s", repository, branch)
	}
	s.execute(ctx, key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedules[key].LastReport, nil
}

// DetectDrift runs a dry-run reconciliation without touching the
// schedule's bookkeeping.
func (s *Service) DetectDrift(ctx context.Context, repository, branch string, files []string) (*Report, error) {
	s.mu.Lock()
	manager, ok := s.managers[scheduleKey(repository, branch)]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no schedule registered for %s:%s", repository, branch)
	}
	return manager.Reconcile(ctx, repository, branch, files, true, false), nil
}

// Manager returns the registered manager for direct key validation.
func (s *Service) Manager(repository, branch string) (*Manager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.managers[scheduleKey(repository, branch)]
	return m, ok
}

// SetEnabled toggles one schedule, resetting its error counter on
// re-enable.
func (s *Service) SetEnabled(repository, branch string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleKey(repository, branch)]
	if !ok {
		return false
	}
	sched.Enabled = enabled
	if enabled {
		sched.ConsecutiveErrors = 0
	}
	if s.Metrics != nil {
		v := 0.0
		if enabled {
			v = 1.0
		}
		s.Metrics.ScheduleEnabled.WithLabelValues(repository, branch).Set(v)
	}
	return true
}

// Status snapshots the supervisor and every schedule.
func (s *Service) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules := make(map[string]interface{}, len(s.schedules))
	for key, sched := range s.schedules {
		entry := map[string]interface{}{
			"enabled":            sched.Enabled,
			"interval_seconds":   sched.Interval.Seconds(),
			"consecutive_errors": sched.ConsecutiveErrors,
		}
		if !sched.LastRun.IsZero() {
			entry["last_run"] = sched.LastRun.UTC().Format(time.RFC3339)
		}
		if sched.LastReport != nil {
			entry["last_drift_count"] = len(sched.LastReport.DriftDetected)
			entry["last_fixed_count"] = len(sched.LastReport.FixesApplied)
		}
		schedules[key] = entry
	}
	return map[string]interface{}{
		"running":   s.running,
		"schedules": schedules,
	}
}
