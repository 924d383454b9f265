package hook

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs periodic maintenance jobs — the snapshot-store garbage
// collection sweep and approval-request pruning described in SPEC_FULL.md —
// on a cron.Cron. Jobs are injected as plain funcs so this package never
// imports internal/snapshot or internal/tool (§4.8's registry stays the
// leaf-most dependency it already is for hook execution).
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler builds a Scheduler using the standard 5-field cron
// expression format, matching the teacher's internal/cron parser.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cron: cron.New(), logger: logger.With("component", "hook.scheduler")}
}

// AddJob schedules fn on spec (a 5-field cron expression, e.g. "0 * * * *"
// for hourly). The job's own errors are logged, never propagated, since a
// missed maintenance sweep must not affect the interactive session.
func (s *Scheduler) AddJob(name, spec string, fn func() error) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := fn(); err != nil {
			s.logger.Warn("hook: scheduled job failed", "job", name, "error", err)
		}
	})
	return err
}

// Start runs the scheduler's jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
