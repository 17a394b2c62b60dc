package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowdesk/backend/pkg/constants"
)

// cronParser accepts the standard five-field cron syntax
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// maintenanceJob is a named job with a cron cadence. A job never overlaps
// with itself; a tick that finds it still running is skipped.
type maintenanceJob struct {
	name     string
	schedule cron.Schedule

	mu      sync.Mutex
	nextRun time.Time
	running bool

	run func(ctx context.Context) error
}

// due reports whether the job should fire, and claims the run when it should
func (j *maintenanceJob) due(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running || now.Before(j.nextRun) {
		return false
	}
	j.running = true
	j.nextRun = j.schedule.Next(now)
	return true
}

func (j *maintenanceJob) done() {
	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// SchedulerService runs the periodic maintenance jobs: session purging,
// outbox cleanup, and the instance health sweep.
type SchedulerService struct {
	jobs []*maintenanceJob

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	stopped  bool // Prevents double-close of stopChan
}

// NewSchedulerService creates the scheduler with the standard job set
func NewSchedulerService(authSvc *AuthService, outbox *OutboxService, provisioning *ProvisioningService) (*SchedulerService, error) {
	s := &SchedulerService{
		stopChan: make(chan struct{}),
	}

	if err := s.registerJob("session-purge", "0 * * * *", func(ctx context.Context) error {
		count, err := authSvc.PurgeExpiredSessions(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			log.Printf("🧹 Purged %d expired sessions", count)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.registerJob("outbox-cleanup", "30 3 * * *", func(ctx context.Context) error {
		count, err := outbox.CleanupProcessed(ctx, 7*24*time.Hour)
		if err != nil {
			return err
		}
		if count > 0 {
			log.Printf("🧹 Cleaned up %d processed outbox events", count)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.registerJob("instance-health-sweep", "*/5 * * * *", func(ctx context.Context) error {
		return provisioning.SweepInstances(ctx)
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// registerJob parses the cron expression and adds the job to the set
func (s *SchedulerService) registerJob(name, cronExpr string, run func(ctx context.Context) error) error {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression for job %s: %w", name, err)
	}

	s.jobs = append(s.jobs, &maintenanceJob{
		name:     name,
		schedule: schedule,
		nextRun:  schedule.Next(time.Now()),
		run:      run,
	})
	return nil
}

// Start begins the scheduler background loop
func (s *SchedulerService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	log.Println("⏰ Scheduler service starting...")

	ticker := time.NewTicker(time.Duration(constants.ScheduleCheckIntervalSecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runDueJobs(time.Now())
		case <-s.stopChan:
			log.Println("⏰ Scheduler service stopping...")
			s.wg.Wait() // Wait for running jobs to complete
			log.Println("⏰ Scheduler service stopped")
			return
		}
	}
}

// Stop gracefully stops the scheduler
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	s.mu.Unlock()

	close(s.stopChan)
}

// runDueJobs fires every job whose next run time has passed
func (s *SchedulerService) runDueJobs(now time.Time) {
	for _, job := range s.jobs {
		if !job.due(now) {
			continue
		}

		s.wg.Add(1)
		go func(j *maintenanceJob) {
			defer s.wg.Done()
			s.executeJob(j)
		}(job)
	}
}

// executeJob runs a single job with panic recovery and a runtime cap
func (s *SchedulerService) executeJob(j *maintenanceJob) {
	defer j.done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("🔥 Panic in maintenance job %s: %v", j.name, r)
		}
	}()

	timeout := time.Duration(constants.ScheduleMaxRuntimeMins) * time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	if err := j.run(ctx); err != nil {
		log.Printf("❌ Maintenance job %s failed after %v: %v", j.name, time.Since(start), err)
		return
	}
	log.Printf("✅ Maintenance job %s completed in %v", j.name, time.Since(start))
}
