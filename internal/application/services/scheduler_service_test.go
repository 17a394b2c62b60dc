package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, cronExpr string, run func(ctx context.Context) error) (*SchedulerService, *maintenanceJob) {
	t.Helper()

	s := &SchedulerService{stopChan: make(chan struct{})}
	require.NoError(t, s.registerJob("test-job", cronExpr, run))

	job := s.jobs[0]
	return s, job
}

func TestRegisterJobRejectsBadCron(t *testing.T) {
	s := &SchedulerService{stopChan: make(chan struct{})}
	err := s.registerJob("broken", "not a cron expr", func(ctx context.Context) error { return nil })
	assert.ErrorContains(t, err, "invalid cron expression")
}

func TestJobFiresWhenDue(t *testing.T) {
	var runs int32
	s, job := newTestScheduler(t, "*/5 * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	// Force the job to be due now
	job.mu.Lock()
	job.nextRun = time.Now().Add(-time.Second)
	job.mu.Unlock()

	s.runDueJobs(time.Now())
	s.wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))

	// Next run must now be in the future
	job.mu.Lock()
	next := job.nextRun
	job.mu.Unlock()
	assert.True(t, next.After(time.Now()))
}

func TestJobNotFiredBeforeDue(t *testing.T) {
	var runs int32
	s, job := newTestScheduler(t, "*/5 * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	job.mu.Lock()
	job.nextRun = time.Now().Add(time.Hour)
	job.mu.Unlock()

	s.runDueJobs(time.Now())
	s.wg.Wait()

	assert.EqualValues(t, 0, atomic.LoadInt32(&runs))
}

func TestOverlappingRunSkipped(t *testing.T) {
	var runs int32
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)

	s, job := newTestScheduler(t, "*/5 * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		started.Done()
		<-release
		return nil
	})

	job.mu.Lock()
	job.nextRun = time.Now().Add(-time.Second)
	job.mu.Unlock()

	s.runDueJobs(time.Now())
	started.Wait()

	// Second tick while the first run is still in flight
	job.mu.Lock()
	job.nextRun = time.Now().Add(-time.Second)
	job.mu.Unlock()
	s.runDueJobs(time.Now())

	close(release)
	s.wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))
}

func TestPanicInJobIsRecovered(t *testing.T) {
	s, job := newTestScheduler(t, "*/5 * * * *", func(ctx context.Context) error {
		panic("boom")
	})

	job.mu.Lock()
	job.nextRun = time.Now().Add(-time.Second)
	job.mu.Unlock()

	// Must not crash the test process, and the job must be runnable again
	s.runDueJobs(time.Now())
	s.wg.Wait()

	job.mu.Lock()
	running := job.running
	job.mu.Unlock()
	assert.False(t, running)
}
