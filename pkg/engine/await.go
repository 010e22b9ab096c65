package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/avelaz/genbridge/pkg/models"
	"github.com/avelaz/genbridge/pkg/retry"
)

// DefaultAwaitTimeout bounds a job wait when the caller supplies none
const DefaultAwaitTimeout = 10 * time.Minute

// AwaitTimeoutFor scales the await deadline with the requested duration:
// longer videos render longer. Never below the default.
func AwaitTimeoutFor(durationSeconds int) time.Duration {
	scaled := time.Duration(durationSeconds) * 30 * time.Second
	if scaled < DefaultAwaitTimeout {
		return DefaultAwaitTimeout
	}
	return scaled
}

// Await drives one job to a terminal outcome by consuming src. Decisions
// are keyed by job id: events for other jobs on the same stream pass
// through without blocking progress, and duplicated non-terminal events
// are harmless. The first terminal event wins; anything after it is never
// read for this job. The timeout is a hard local deadline independent of
// any engine-reported state.
//
// The returned error is non-nil only for transport-level failures (stream
// closed, context cancelled); every protocol-level ending, timeout
// included, is reported as an Outcome.
func (c *Client) Await(ctx context.Context, jobID string, src EventSource, timeout time.Duration) (*models.Outcome, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	log := c.log.WithField("job_id", jobID)
	lastActivity := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await cancelled: %w", ctx.Err())

		case <-deadline.C:
			log.Warn("job timed out", map[string]interface{}{
				"timeout":       timeout.String(),
				"last_activity": time.Since(lastActivity).String(),
			})
			return &models.Outcome{
				JobID:  jobID,
				Status: models.StatusTimedOut,
				Reason: fmt.Sprintf("no terminal event within %s", timeout),
			}, nil

		case ev, ok := <-src.Events():
			if !ok {
				return nil, fmt.Errorf("event stream ended before job %s reached a terminal state", jobID)
			}
			if ev.JobID != "" && ev.JobID != jobID {
				continue
			}

			switch {
			case ev.Type == models.EventExecutionError && ev.JobID == jobID:
				execErr := &models.ExecutionError{
					JobID:         jobID,
					Node:          derefNode(ev.Node),
					NodeKind:      ev.NodeKind,
					ExceptionType: ev.ExceptionType,
					Message:       ev.ExceptionMessage,
				}
				log.Error("job failed", map[string]interface{}{"reason": execErr.Error()})
				return &models.Outcome{
					JobID:  jobID,
					Status: models.StatusFailed,
					Reason: execErr.Error(),
				}, nil

			case ev.Type == models.EventExecutionInterrupted && ev.JobID == jobID:
				log.Warn("job interrupted", map[string]interface{}{"node": derefNode(ev.Node)})
				return &models.Outcome{
					JobID:  jobID,
					Status: models.StatusInterrupted,
					Reason: (&models.InterruptedError{JobID: jobID, Node: derefNode(ev.Node)}).Error(),
				}, nil

			case (ev.Type == models.EventExecutionSuccess || ev.LegacyCompletion()) && ev.JobID == jobID:
				log.Info("job succeeded")
				return c.successOutcome(ctx, jobID)

			default:
				// Non-terminal: start, progress, cached, executed, status.
				// These only feed liveness; correctness never depends on them.
				lastActivity = time.Now()
				if ev.Type == models.EventProgress && ev.Max > 0 {
					log.Debug("progress", map[string]interface{}{
						"value": ev.Value, "max": ev.Max, "node": derefNode(ev.Node),
					})
				}
			}
		}
	}
}

func derefNode(n *string) string {
	if n == nil {
		return ""
	}
	return *n
}

// successOutcome resolves a success signal into artifacts via history.
// An event can outrun the engine's history write, so a missing record is
// retried briefly before it counts as a failure.
func (c *Client) successOutcome(ctx context.Context, jobID string) (*models.Outcome, error) {
	var rec *HistoryRecord
	err := retry.Do(ctx, c.historyRetry, func() error {
		records, err := c.History(ctx, jobID)
		if err != nil {
			return err
		}
		found, ok := records[jobID]
		if !ok {
			return fmt.Errorf("job %s not yet present in history", jobID)
		}
		rec = found
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("await cancelled: %w", ctx.Err())
		}
		return &models.Outcome{
			JobID:  jobID,
			Status: models.StatusFailed,
			Reason: fmt.Sprintf("missing outputs: %v", err),
		}, nil
	}

	return &models.Outcome{
		JobID:     jobID,
		Status:    models.StatusSucceeded,
		Artifacts: ExtractArtifacts(rec),
		Raw:       rec.Raw,
	}, nil
}
