package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avelaz/genbridge/pkg/logging"
	"github.com/avelaz/genbridge/pkg/models"
)

// EventSource delivers engine lifecycle events in emission order. One
// source may carry events for many jobs; consumers filter by job id.
// The channel closes when the source ends, whether by Close or by a
// transport failure.
type EventSource interface {
	Events() <-chan models.ExecutionEvent
	Close() error
}

// SubscribeEvents opens the engine's push event channel for this client id
func (c *Client) SubscribeEvents(ctx context.Context) (EventSource, error) {
	endpoint := fmt.Sprintf("%s/ws?clientId=%s", c.wsURL, c.clientID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}

	s := &wsSource{
		conn:   conn,
		events: make(chan models.ExecutionEvent, 64),
		done:   make(chan struct{}),
		log:    c.log,
	}
	go s.readLoop()
	return s, nil
}

type wsSource struct {
	conn   *websocket.Conn
	events chan models.ExecutionEvent
	done   chan struct{}
	log    *logging.Logger
}

func (s *wsSource) Events() <-chan models.ExecutionEvent { return s.events }

func (s *wsSource) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.conn.Close()
}

func (s *wsSource) readLoop() {
	defer close(s.events)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("event stream read failed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		// Binary frames carry preview images; lifecycle events are text
		if msgType != websocket.TextMessage {
			continue
		}
		ev, ok := decodeEvent(data)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

type eventEnvelope struct {
	Type models.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

func decodeEvent(raw []byte) (models.ExecutionEvent, bool) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		return models.ExecutionEvent{}, false
	}

	ev := models.ExecutionEvent{Type: env.Type}
	if env.Type == models.EventStatus {
		var body struct {
			Status struct {
				ExecInfo struct {
					QueueRemaining int `json:"queue_remaining"`
				} `json:"exec_info"`
			} `json:"status"`
		}
		if err := json.Unmarshal(env.Data, &body); err == nil {
			ev.QueueRemaining = body.Status.ExecInfo.QueueRemaining
		}
		return ev, true
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return models.ExecutionEvent{}, false
		}
		ev.Type = env.Type
	}
	return ev, true
}

// NewPollSource builds an EventSource that translates periodic history
// queries into the same event vocabulary the push channel uses, so the
// await state machine runs unchanged in polling mode.
func (c *Client) NewPollSource(ctx context.Context, jobID string, interval time.Duration) EventSource {
	if interval <= 0 {
		interval = time.Second
	}
	s := &pollSource{
		client:   c,
		jobID:    jobID,
		interval: interval,
		events:   make(chan models.ExecutionEvent, 16),
		done:     make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

type pollSource struct {
	client   *Client
	jobID    string
	interval time.Duration
	events   chan models.ExecutionEvent
	done     chan struct{}
	emitted  int // history messages already translated
}

func (s *pollSource) Events() <-chan models.ExecutionEvent { return s.events }

func (s *pollSource) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

func (s *pollSource) run(ctx context.Context) {
	defer close(s.events)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}

		records, err := s.client.History(ctx, s.jobID)
		if err != nil {
			// Transient read failures are retried on the next tick; the
			// awaiting side enforces the overall deadline.
			s.client.log.Debug("history poll failed", map[string]interface{}{
				"job_id": s.jobID, "error": err.Error(),
			})
			continue
		}
		rec, ok := records[s.jobID]
		if !ok {
			continue
		}

		msgs := rec.Status.Messages
		sawSuccess := false
		for ; s.emitted < len(msgs); s.emitted++ {
			ev := messageToEvent(s.jobID, &msgs[s.emitted])
			if ev.Type == models.EventExecutionSuccess {
				sawSuccess = true
			}
			if !s.send(ctx, ev) {
				return
			}
		}

		// Older engines record outputs without a success message; a record
		// with usable outputs is complete either way.
		if !sawSuccess && len(msgs) == 0 && hasUsableOutputs(rec) {
			if !s.send(ctx, models.ExecutionEvent{
				Type:  models.EventExecutionSuccess,
				JobID: s.jobID,
			}) {
				return
			}
		}
	}
}

func (s *pollSource) send(ctx context.Context, ev models.ExecutionEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

func messageToEvent(jobID string, msg *HistoryMessage) models.ExecutionEvent {
	ev := models.ExecutionEvent{Type: msg.Type, JobID: jobID}
	if data, err := json.Marshal(msg.Data); err == nil {
		_ = json.Unmarshal(data, &ev)
		ev.Type = msg.Type
	}
	if ev.JobID == "" {
		ev.JobID = jobID
	}
	return ev
}
