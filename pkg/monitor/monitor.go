package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avelaz/genbridge/pkg/broadcast"
	"github.com/avelaz/genbridge/pkg/engine"
	"github.com/avelaz/genbridge/pkg/logging"
	"github.com/avelaz/genbridge/pkg/metrics"
	"github.com/avelaz/genbridge/pkg/models"
	"github.com/avelaz/genbridge/pkg/registry"
)

// Awaiter is the slice of the engine client the monitor needs
type Awaiter interface {
	Await(ctx context.Context, jobID string, src engine.EventSource, timeout time.Duration) (*models.Outcome, error)
}

// SourceFactory opens an event source for one job. The websocket and
// polling transports both satisfy this; the choice is configuration.
type SourceFactory func(ctx context.Context, jobID string) (engine.EventSource, error)

// Monitor runs one goroutine per submitted job, driving it from pending
// to exactly one terminal state. Whatever happens inside — engine
// failure, transport loss, panic — the task record always ends terminal
// and observers receive exactly one terminal update for it.
type Monitor struct {
	client    Awaiter
	registry  *registry.Registry
	bus       *broadcast.Broadcaster
	metrics   *metrics.Metrics
	newSource SourceFactory
	log       *logging.Logger
	wg        sync.WaitGroup
}

func New(client Awaiter, reg *registry.Registry, bus *broadcast.Broadcaster, m *metrics.Metrics, newSource SourceFactory, log *logging.Logger) *Monitor {
	return &Monitor{
		client:    client,
		registry:  reg,
		bus:       bus,
		metrics:   m,
		newSource: newSource,
		log:       log,
	}
}

// Watch starts monitoring jobID in the background. The task must already
// be registered as pending.
func (m *Monitor) Watch(ctx context.Context, jobID string, timeout time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, jobID, timeout)
	}()
}

// Wait blocks until all watched jobs have finished
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, jobID string, timeout time.Duration) {
	log := m.log.WithField("job_id", jobID)
	start := time.Now()
	if m.metrics != nil {
		m.metrics.TaskStarted()
	}

	finished := false
	finish := func(outcome *models.Outcome) {
		if finished {
			return
		}
		finished = true
		m.settle(jobID, outcome, start, log)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("monitor panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			finish(&models.Outcome{
				JobID:  jobID,
				Status: models.StatusFailed,
				Reason: fmt.Sprintf("internal monitor failure: %v", r),
			})
		}
	}()

	src, err := m.newSource(ctx, jobID)
	if err != nil {
		log.Error("failed to open event source", map[string]interface{}{"error": err.Error()})
		finish(&models.Outcome{
			JobID:  jobID,
			Status: models.StatusFailed,
			Reason: fmt.Sprintf("event source unavailable: %v", err),
		})
		return
	}
	defer src.Close()

	watched := &activitySource{
		inner: src,
		jobID: jobID,
		out:   make(chan models.ExecutionEvent),
		done:  make(chan struct{}),
		onFirst: func() {
			m.markRunning(jobID, log)
		},
	}
	go watched.pump()
	defer watched.Close()

	outcome, err := m.client.Await(ctx, jobID, watched, timeout)
	if err != nil {
		log.Error("await aborted", map[string]interface{}{"error": err.Error()})
		finish(&models.Outcome{
			JobID:  jobID,
			Status: models.StatusFailed,
			Reason: fmt.Sprintf("monitoring aborted: %v", err),
		})
		return
	}
	finish(outcome)
}

// markRunning records the first sign of engine activity. A terminal
// transition can race ahead of this on cached graphs; the registry
// rejects the stale pending-to-running write in that case.
func (m *Monitor) markRunning(jobID string, log *logging.Logger) {
	task, err := m.registry.SetStatus(jobID, models.StatusRunning)
	if err != nil {
		log.Debug("running transition skipped", map[string]interface{}{"error": err.Error()})
		return
	}
	m.bus.Publish(models.TaskUpdate{
		Type:   "task_update",
		JobID:  jobID,
		Status: task.Status,
	})
}

// settle writes the terminal state and emits the single terminal update
func (m *Monitor) settle(jobID string, outcome *models.Outcome, start time.Time, log *logging.Logger) {
	now := time.Now()
	task, err := m.registry.Update(jobID, func(t *models.Task) {
		t.Status = outcome.Status
		t.CompletedAt = &now
		t.Result = outcome
		if outcome.Status != models.StatusSucceeded {
			t.Error = outcome.Reason
		}
	})
	if err != nil {
		// Already terminal or unknown; either way this goroutine lost
		// the race and must not broadcast a second terminal update.
		log.Warn("terminal write rejected", map[string]interface{}{"error": err.Error()})
		if m.metrics != nil {
			m.metrics.TaskFinished("unknown", outcome.Status, time.Since(start))
		}
		return
	}

	log.Info("task settled", map[string]interface{}{
		"status":  string(task.Status),
		"elapsed": time.Since(start).String(),
	})
	if m.metrics != nil {
		m.metrics.TaskFinished(task.Kind, task.Status, time.Since(start))
	}
	m.bus.Publish(models.TaskUpdate{
		Type:   "task_update",
		JobID:  jobID,
		Status: task.Status,
		Result: task.Result,
		Error:  task.Error,
	})
}

// activitySource relays events unchanged while flagging the first event
// that belongs to the watched job.
type activitySource struct {
	inner     engine.EventSource
	jobID     string
	out       chan models.ExecutionEvent
	done      chan struct{}
	once      sync.Once
	closeOnce sync.Once
	onFirst   func()
}

func (s *activitySource) pump() {
	defer close(s.out)
	for ev := range s.inner.Events() {
		if ev.JobID == s.jobID {
			s.once.Do(s.onFirst)
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *activitySource) Events() <-chan models.ExecutionEvent {
	return s.out
}

func (s *activitySource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.inner.Close()
}
