package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/avelaz/genbridge/pkg/models"
)

// HistoryRecord is one job's entry in the engine history: the ordered
// lifecycle messages plus the outputs each node produced.
type HistoryRecord struct {
	Status  HistoryStatus                     `json:"status"`
	Outputs map[string]map[string]interface{} `json:"outputs"`

	// Raw carries the undecoded record for callers that need to hand the
	// engine's exact payload back to clients.
	Raw map[string]interface{} `json:"-"`
}

func (r *HistoryRecord) UnmarshalJSON(data []byte) error {
	type alias HistoryRecord
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = HistoryRecord(a)
	// Tolerate a raw payload that does not decode as a map; the typed
	// fields above are what classification depends on.
	_ = json.Unmarshal(data, &r.Raw)
	return nil
}

// HistoryStatus mirrors the engine's status block
type HistoryStatus struct {
	StatusStr string           `json:"status_str"`
	Completed bool             `json:"completed"`
	Messages  []HistoryMessage `json:"messages"`
}

// HistoryMessage is one [event_type, event_data] pair from status.messages
type HistoryMessage struct {
	Type models.EventType
	Data map[string]interface{}
}

func (m *HistoryMessage) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("history message is not a pair: %w", err)
	}
	if len(pair) < 2 {
		return fmt.Errorf("history message has %d elements, want 2", len(pair))
	}
	var kind string
	if err := json.Unmarshal(pair[0], &kind); err != nil {
		return fmt.Errorf("history message type: %w", err)
	}
	m.Type = models.EventType(kind)
	if err := json.Unmarshal(pair[1], &m.Data); err != nil {
		return fmt.Errorf("history message data: %w", err)
	}
	return nil
}

func (m *HistoryMessage) stringField(key string) string {
	s, _ := m.Data[key].(string)
	return s
}

// ClassifyHistory derives the terminal status and failure reason recorded in
// a history entry. A record that cannot be interpreted classifies as Failed:
// treating unparseable records as success would hide real failures behind a
// green status.
func ClassifyHistory(rec *HistoryRecord) (models.Status, string) {
	if rec == nil {
		return models.StatusFailed, "history record missing"
	}

	var (
		started     bool
		succeeded   bool
		interrupted bool
		failures    []string
	)
	for i := range rec.Status.Messages {
		msg := &rec.Status.Messages[i]
		switch msg.Type {
		case models.EventExecutionStart:
			started = true
		case models.EventExecutionSuccess:
			succeeded = true
		case models.EventExecutionInterrupted:
			interrupted = true
		case models.EventExecutionError:
			reason := msg.stringField("exception_message")
			if reason == "" {
				reason = msg.stringField("node_type") + " node failed"
			}
			failures = append(failures, reason)
		}
	}

	if len(failures) > 0 {
		return models.StatusFailed, strings.Join(failures, "; ")
	}
	if interrupted {
		return models.StatusInterrupted, "execution interrupted"
	}
	if started && !succeeded && !hasUsableOutputs(rec) {
		return models.StatusFailed, "execution did not complete and produced no outputs"
	}
	if len(rec.Outputs) == 0 {
		return models.StatusFailed, "no outputs recorded"
	}
	if !hasUsableOutputs(rec) {
		return models.StatusFailed, "execution finished without usable outputs"
	}
	return models.StatusSucceeded, ""
}

var mediaOutputKeys = []string{"images", "gifs", "videos", "audio"}

func hasUsableOutputs(rec *HistoryRecord) bool {
	for _, nodeOutput := range rec.Outputs {
		for _, key := range mediaOutputKeys {
			if list, ok := nodeOutput[key].([]interface{}); ok && len(list) > 0 {
				return true
			}
		}
	}
	return false
}

// Timestamps extracts the start and completion times recorded in the
// history messages, when present. The engine reports milliseconds.
func Timestamps(rec *HistoryRecord) (startedAt, completedAt *time.Time) {
	for i := range rec.Status.Messages {
		msg := &rec.Status.Messages[i]
		ms, ok := msg.Data["timestamp"].(float64)
		if !ok {
			continue
		}
		ts := time.UnixMilli(int64(ms))
		switch msg.Type {
		case models.EventExecutionStart:
			startedAt = &ts
		case models.EventExecutionSuccess:
			completedAt = &ts
		}
	}
	return startedAt, completedAt
}
