package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avelaz/genbridge/pkg/graph"
	"github.com/avelaz/genbridge/pkg/logging"
	"github.com/avelaz/genbridge/pkg/models"
	"github.com/avelaz/genbridge/pkg/retry"
)

// Client manages communication with the rendering engine. One Client owns
// one logical identity (client id) toward the engine; the underlying HTTP
// connection pool is shared across concurrently awaited jobs.
type Client struct {
	baseURL    string
	wsURL      string
	clientID   string
	httpClient *http.Client
	log        *logging.Logger

	// historyRetry bounds the history lookup that resolves a success
	// event into artifacts; the event can outrun the history write.
	historyRetry retry.Config
}

// NewClient creates an engine client for the given base URL
// (e.g. http://127.0.0.1:8188)
func NewClient(engineURL string, log *logging.Logger) *Client {
	engineURL = strings.TrimRight(engineURL, "/")
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}
	return &Client{
		baseURL:  engineURL,
		wsURL:    websocketURL(engineURL),
		clientID: uuid.NewString(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.WithField("component", "engine"),
		historyRetry: retry.Config{
			MaxRetries:     5,
			InitialBackoff: 300 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2.0,
		},
	}
}

func websocketURL(engineURL string) string {
	switch {
	case strings.HasPrefix(engineURL, "https://"):
		return "wss://" + strings.TrimPrefix(engineURL, "https://")
	case strings.HasPrefix(engineURL, "http://"):
		return "ws://" + strings.TrimPrefix(engineURL, "http://")
	default:
		return "ws://" + engineURL
	}
}

// ClientID returns the identity used for submissions and the event stream
func (c *Client) ClientID() string { return c.clientID }

// Submit queues a graph for execution and returns the engine-assigned job id.
// Engine-side validation failures are surfaced as a SubmissionError with the
// per-node detail preserved verbatim.
func (c *Client) Submit(ctx context.Context, g *graph.Graph) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"prompt":    g,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal graph: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit graph: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		PromptID   string                 `json:"prompt_id"`
		Error      interface{}            `json:"error"`
		NodeErrors map[string]interface{} `json:"node_errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode submission response: %w", err)
	}

	if result.PromptID == "" {
		return "", &models.SubmissionError{
			Message:    stringify(result.Error, fmt.Sprintf("engine returned no job id (status %d)", resp.StatusCode)),
			NodeErrors: result.NodeErrors,
		}
	}

	c.log.Info("graph submitted", map[string]interface{}{"job_id": result.PromptID, "nodes": g.Len()})
	return result.PromptID, nil
}

func stringify(v interface{}, fallback string) string {
	if v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(data)
}

// History fetches execution records. With a job id it returns at most that
// one record; with an empty id the engine's full history.
func (c *Client) History(ctx context.Context, jobID string) (map[string]*HistoryRecord, error) {
	path := "/history"
	if jobID != "" {
		path += "/" + url.PathEscape(jobID)
	}

	var records map[string]*HistoryRecord
	if err := c.getJSON(ctx, path, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// QueueState is the engine's live queue snapshot. The engine encodes queue
// items as positional arrays; index 1 carries the job id.
type QueueState struct {
	Running [][]interface{} `json:"queue_running"`
	Pending [][]interface{} `json:"queue_pending"`
}

// Contains reports the queue section ("running" or "pending") holding the
// job, if any.
func (q *QueueState) Contains(jobID string) (string, bool) {
	for _, item := range q.Running {
		if queueItemID(item) == jobID {
			return "running", true
		}
	}
	for _, item := range q.Pending {
		if queueItemID(item) == jobID {
			return "pending", true
		}
	}
	return "", false
}

func queueItemID(item []interface{}) string {
	if len(item) < 2 {
		return ""
	}
	id, _ := item[1].(string)
	return id
}

// Queue fetches the live queue snapshot
func (c *Client) Queue(ctx context.Context) (*QueueState, error) {
	var state QueueState
	if err := c.getJSON(ctx, "/queue", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Interrupt asks the engine to interrupt a specific job, or all jobs when
// the id is empty. Best-effort: a terminal Interrupted outcome still arrives
// via the event path.
func (c *Client) Interrupt(ctx context.Context, jobID string) error {
	body := map[string]string{}
	if jobID != "" {
		body["prompt_id"] = jobID
	}
	return c.postJSON(ctx, "/interrupt", body)
}

// ClearQueue drops all pending jobs from the engine queue
func (c *Client) ClearQueue(ctx context.Context) error {
	return c.postJSON(ctx, "/queue", map[string]bool{"clear": true})
}

// View retrieves the raw bytes of a named output artifact
func (c *Client) View(ctx context.Context, filename, subfolder, folderType string) ([]byte, error) {
	if folderType == "" {
		folderType = "output"
	}
	params := url.Values{}
	params.Set("filename", filename)
	params.Set("subfolder", subfolder)
	params.Set("type", folderType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("artifact fetch failed with status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// Upload stages an input file on the engine. The engine stores arbitrary
// payloads (audio included) through its image upload endpoint and reports
// the name it stored the file under.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, overwrite bool) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}
	if overwrite {
		if err := form.WriteField("overwrite", "true"); err != nil {
			return "", fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if result.Name == "" {
		result.Name = filename
	}
	return result.Name, nil
}

// SystemStats fetches the engine's system report
func (c *Client) SystemStats(ctx context.Context) (map[string]interface{}, error) {
	var stats map[string]interface{}
	if err := c.getJSON(ctx, "/system_stats", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}
	return nil
}
