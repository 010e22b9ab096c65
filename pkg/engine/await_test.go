package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avelaz/genbridge/pkg/logging"
	"github.com/avelaz/genbridge/pkg/models"
	"github.com/avelaz/genbridge/pkg/retry"
)

type fakeSource struct {
	events chan models.ExecutionEvent
}

func newFakeSource(events ...models.ExecutionEvent) *fakeSource {
	ch := make(chan models.ExecutionEvent, len(events)+16)
	for _, ev := range events {
		ch <- ev
	}
	return &fakeSource{events: ch}
}

func (f *fakeSource) Events() <-chan models.ExecutionEvent { return f.events }
func (f *fakeSource) Close() error                         { return nil }

func strptr(s string) *string { return &s }

// testClient points a Client at a history endpoint that serves fixture
// records, with retry backoff shortened to keep tests fast.
func testClient(t *testing.T, records map[string]string) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/history/")
		w.Header().Set("Content-Type", "application/json")
		raw, ok := records[jobID]
		if !ok {
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(`{"` + jobID + `": ` + raw + `}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewClient(server.URL, logging.NewLogger(logging.ERROR, false))
	client.historyRetry = retry.Config{
		MaxRetries:     2,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		Multiplier:     2.0,
	}
	return client, server
}

func TestAwaitSuccess(t *testing.T) {
	client, _ := testClient(t, map[string]string{"job-1": successHistory})

	src := newFakeSource(
		models.ExecutionEvent{Type: models.EventExecutionStart, JobID: "job-1"},
		models.ExecutionEvent{Type: models.EventProgress, JobID: "job-1", Value: 1, Max: 4, Node: strptr("seg0_sampler")},
		models.ExecutionEvent{Type: models.EventProgress, JobID: "job-1", Value: 1, Max: 4, Node: strptr("seg0_sampler")}, // duplicate
		models.ExecutionEvent{Type: models.EventExecutionSuccess, JobID: "job-1"},
	)

	outcome, err := client.Await(context.Background(), "job-1", src, time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if outcome.Status != models.StatusSucceeded {
		t.Fatalf("status = %s (%s), want succeeded", outcome.Status, outcome.Reason)
	}
	if outcome.Artifacts == nil || len(outcome.Artifacts.Videos) != 1 {
		t.Errorf("expected one video artifact, got %+v", outcome.Artifacts)
	}
}

func TestAwaitExecutionError(t *testing.T) {
	client, _ := testClient(t, nil)

	src := newFakeSource(
		models.ExecutionEvent{Type: models.EventExecutionStart, JobID: "job-1"},
		models.ExecutionEvent{
			Type: models.EventExecutionError, JobID: "job-1",
			Node: strptr("seg0_sampler"), NodeKind: "KSampler",
			ExceptionType: "OutOfMemoryError", ExceptionMessage: "CUDA out of memory",
		},
		// A later success for the same job must never override the failure
		models.ExecutionEvent{Type: models.EventExecutionSuccess, JobID: "job-1"},
	)

	outcome, err := client.Await(context.Background(), "job-1", src, time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if outcome.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", outcome.Status)
	}
	if !strings.Contains(outcome.Reason, "CUDA out of memory") {
		t.Errorf("reason %q does not carry the engine message", outcome.Reason)
	}
	if !strings.Contains(outcome.Reason, "seg0_sampler") {
		t.Errorf("reason %q does not name the failing node", outcome.Reason)
	}
}

func TestAwaitInterrupted(t *testing.T) {
	client, _ := testClient(t, nil)

	src := newFakeSource(
		models.ExecutionEvent{Type: models.EventExecutionInterrupted, JobID: "job-1", Node: strptr("seg1_sampler")},
	)

	outcome, err := client.Await(context.Background(), "job-1", src, time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if outcome.Status != models.StatusInterrupted {
		t.Errorf("status = %s, want interrupted", outcome.Status)
	}
}

func TestAwaitIgnoresOtherJobs(t *testing.T) {
	client, _ := testClient(t, map[string]string{"job-1": successHistory})

	src := newFakeSource(
		// Terminal events for a different job share the stream and must
		// not terminate this wait.
		models.ExecutionEvent{Type: models.EventExecutionError, JobID: "job-other", ExceptionMessage: "boom"},
		models.ExecutionEvent{Type: models.EventExecutionSuccess, JobID: "job-other"},
		models.ExecutionEvent{Type: models.EventStatus, QueueRemaining: 2}, // no job id at all
		models.ExecutionEvent{Type: models.EventExecutionSuccess, JobID: "job-1"},
	)

	outcome, err := client.Await(context.Background(), "job-1", src, time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if outcome.Status != models.StatusSucceeded {
		t.Errorf("status = %s (%s), want succeeded", outcome.Status, outcome.Reason)
	}
}

func TestAwaitLegacyCompletion(t *testing.T) {
	client, _ := testClient(t, map[string]string{"job-1": successHistory})

	// Old engines signal completion as "executing" with a null node
	src := newFakeSource(
		models.ExecutionEvent{Type: models.EventExecuting, JobID: "job-1", Node: strptr("video_out")},
		models.ExecutionEvent{Type: models.EventExecuting, JobID: "job-1", Node: nil},
	)

	outcome, err := client.Await(context.Background(), "job-1", src, time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if outcome.Status != models.StatusSucceeded {
		t.Errorf("status = %s (%s), want succeeded", outcome.Status, outcome.Reason)
	}
}

func TestAwaitTimeout(t *testing.T) {
	client, _ := testClient(t, nil)

	src := newFakeSource(
		models.ExecutionEvent{Type: models.EventExecutionStart, JobID: "job-1"},
	)

	start := time.Now()
	outcome, err := client.Await(context.Background(), "job-1", src, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if outcome.Status != models.StatusTimedOut {
		t.Errorf("status = %s, want timed_out", outcome.Status)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v, deadline not enforced locally", elapsed)
	}
}

func TestAwaitStreamClosed(t *testing.T) {
	client, _ := testClient(t, nil)

	src := newFakeSource()
	close(src.events)

	outcome, err := client.Await(context.Background(), "job-1", src, time.Second)
	if err == nil {
		t.Fatal("expected a transport error for a closed stream")
	}
	if outcome != nil {
		t.Errorf("outcome = %+v, want nil on transport failure", outcome)
	}
}

func TestAwaitMissingHistory(t *testing.T) {
	// The engine reports success but never materializes a history record
	client, _ := testClient(t, nil)

	src := newFakeSource(
		models.ExecutionEvent{Type: models.EventExecutionSuccess, JobID: "job-1"},
	)

	outcome, err := client.Await(context.Background(), "job-1", src, time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if outcome.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", outcome.Status)
	}
	if !strings.Contains(outcome.Reason, "missing outputs") {
		t.Errorf("reason = %q, want missing outputs", outcome.Reason)
	}
}

func TestAwaitContextCancelled(t *testing.T) {
	client, _ := testClient(t, nil)
	src := newFakeSource()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Await(ctx, "job-1", src, time.Second); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}

func TestAwaitTimeoutFor(t *testing.T) {
	if got := AwaitTimeoutFor(5); got != DefaultAwaitTimeout {
		t.Errorf("short video timeout = %v, want the floor %v", got, DefaultAwaitTimeout)
	}
	if got := AwaitTimeoutFor(60); got != 30*time.Minute {
		t.Errorf("60s video timeout = %v, want 30m", got)
	}
}

func TestAwaitSuccessHistoryRace(t *testing.T) {
	// First two history fetches come back empty; the third has the record.
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls < 3 {
			w.Write([]byte(`{}`))
			return
		}
		resp := map[string]json.RawMessage{"job-1": json.RawMessage(successHistory)}
		json.NewEncoder(w).Encode(resp)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, logging.NewLogger(logging.ERROR, false))
	client.historyRetry = retry.Config{
		MaxRetries:     4,
		InitialBackoff: 2 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2.0,
	}

	src := newFakeSource(models.ExecutionEvent{Type: models.EventExecutionSuccess, JobID: "job-1"})
	outcome, err := client.Await(context.Background(), "job-1", src, time.Second)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if outcome.Status != models.StatusSucceeded {
		t.Errorf("status = %s (%s), want succeeded after retries", outcome.Status, outcome.Reason)
	}
	if calls < 3 {
		t.Errorf("history fetched %d times, want at least 3", calls)
	}
}
