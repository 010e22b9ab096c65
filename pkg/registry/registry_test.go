package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/avelaz/genbridge/pkg/models"
)

func newTask(id string) *models.Task {
	return &models.Task{
		JobID:     id,
		Kind:      "video",
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}
}

func TestRegistryAddGet(t *testing.T) {
	r := New()
	r.Add(newTask("job-1"))

	task, err := r.Get("job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.JobID != "job-1" || task.Status != models.StatusPending {
		t.Errorf("unexpected task: %+v", task)
	}

	if _, err := r.Get("nope"); !errors.Is(err, models.ErrTaskNotFound) {
		t.Errorf("missing task error = %v, want ErrTaskNotFound", err)
	}
}

func TestRegistryCloneIsolation(t *testing.T) {
	r := New()
	r.Add(newTask("job-1"))

	first, _ := r.Get("job-1")
	first.Status = models.StatusFailed
	first.Error = "mutated by caller"

	second, _ := r.Get("job-1")
	if second.Status != models.StatusPending || second.Error != "" {
		t.Errorf("caller mutation leaked into registry: %+v", second)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := New()
	r.Add(newTask("job-1"))

	task, err := r.SetStatus("job-1", models.StatusRunning)
	if err != nil {
		t.Fatalf("running transition failed: %v", err)
	}
	if task.StartedAt == nil {
		t.Error("running transition did not stamp StartedAt")
	}

	task, err = r.SetStatus("job-1", models.StatusSucceeded)
	if err != nil {
		t.Fatalf("terminal transition failed: %v", err)
	}
	if task.CompletedAt == nil {
		t.Error("terminal transition did not stamp CompletedAt")
	}

	// Terminal state is final: every further status write is rejected
	for _, next := range []models.Status{
		models.StatusRunning, models.StatusFailed, models.StatusTimedOut,
	} {
		if _, err := r.SetStatus("job-1", next); err == nil {
			t.Errorf("transition succeeded->%s was allowed", next)
		}
	}

	task, _ = r.Get("job-1")
	if task.Status != models.StatusSucceeded {
		t.Errorf("status = %s after rejected writes, want succeeded", task.Status)
	}
}

func TestRegistryPendingStraightToTerminal(t *testing.T) {
	// Cached graphs can finish without ever reporting activity
	r := New()
	r.Add(newTask("job-1"))
	if _, err := r.SetStatus("job-1", models.StatusSucceeded); err != nil {
		t.Fatalf("pending->succeeded rejected: %v", err)
	}
}

func TestRegistryUpdateRejectionLeavesStateUntouched(t *testing.T) {
	r := New()
	r.Add(newTask("job-1"))
	r.SetStatus("job-1", models.StatusSucceeded)

	_, err := r.Update("job-1", func(task *models.Task) {
		task.Status = models.StatusFailed
		task.Error = "should not stick"
	})
	if err == nil {
		t.Fatal("expected the update to be rejected")
	}

	task, _ := r.Get("job-1")
	if task.Error != "" {
		t.Errorf("rejected update modified the stored task: %+v", task)
	}
}

func TestRegistryListOrder(t *testing.T) {
	r := New()
	for i, id := range []string{"old", "mid", "new"} {
		task := newTask(id)
		task.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		r.Add(task)
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("got %d tasks, want 3", len(list))
	}
	if list[0].JobID != "new" || list[2].JobID != "old" {
		t.Errorf("list not newest-first: %s, %s, %s", list[0].JobID, list[1].JobID, list[2].JobID)
	}
}

func TestRegistryPrune(t *testing.T) {
	r := New()

	old := newTask("old-done")
	oldDone := time.Now().Add(-48 * time.Hour)
	old.Status = models.StatusSucceeded
	old.CompletedAt = &oldDone
	r.Add(old)

	fresh := newTask("fresh-done")
	freshDone := time.Now()
	fresh.Status = models.StatusFailed
	fresh.CompletedAt = &freshDone
	r.Add(fresh)

	running := newTask("still-running")
	running.Status = models.StatusRunning
	running.CreatedAt = time.Now().Add(-72 * time.Hour)
	r.Add(running)

	if removed := r.Prune(24 * time.Hour); removed != 1 {
		t.Errorf("pruned %d tasks, want 1", removed)
	}
	if _, err := r.Get("old-done"); !errors.Is(err, models.ErrTaskNotFound) {
		t.Error("old terminal task survived the prune")
	}
	if _, err := r.Get("still-running"); err != nil {
		t.Error("non-terminal task was pruned")
	}
	if _, err := r.Get("fresh-done"); err != nil {
		t.Error("recent terminal task was pruned")
	}
}
