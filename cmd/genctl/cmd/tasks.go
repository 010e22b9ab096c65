package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var followTaskStatus bool

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage tracked tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tracked tasks",
	RunE:  runTasksList,
}

var tasksStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Get task status",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksStatus,
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Interrupt a pending or running task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksCancel,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksStatusCmd)
	tasksCmd.AddCommand(tasksCancelCmd)

	tasksStatusCmd.Flags().BoolVar(&followTaskStatus, "follow", false, "poll every 2 seconds until the task is terminal")
}

type taskResponse struct {
	JobID       string                 `json:"job_id"`
	Kind        string                 `json:"kind"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Status      string                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Result      *outcomeResponse       `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

type outcomeResponse struct {
	Status    string         `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Artifacts *artifactIndex `json:"artifacts,omitempty"`
}

type artifactIndex struct {
	Images []artifactRef `json:"images"`
	Videos []artifactRef `json:"videos"`
}

type artifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type"`
}

func terminalStatus(status string) bool {
	switch status {
	case "succeeded", "failed", "interrupted", "timed_out":
		return true
	}
	return false
}

func runTasksList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/api/tasks")
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if IsJSONOutput() {
		fmt.Println(string(body))
		return nil
	}

	var tasks []taskResponse
	if err := json.Unmarshal(body, &tasks); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Task ID", "Kind", "Status", "Created", "Elapsed", "Error")
	for _, t := range tasks {
		table.Append(t.JobID, t.Kind, t.Status,
			t.CreatedAt.Format(time.RFC3339), elapsed(&t), truncate(t.Error, 40))
	}
	table.Render()
	fmt.Printf("\nTotal: %d tasks\n", len(tasks))
	return nil
}

func runTasksStatus(cmd *cobra.Command, args []string) error {
	if followTaskStatus {
		return followTask(args[0], 2*time.Second)
	}

	task, err := fetchTask(args[0])
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		output, err := json.MarshalIndent(task, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	}
	printTask(task)
	return nil
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/api/tasks/"+args[0]+"/cancel", "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	fmt.Printf("Interrupt requested for task %s\n", args[0])
	return nil
}

func fetchTask(taskID string) (*taskResponse, error) {
	resp, err := apiGet("/api/tasks/" + taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var task taskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &task, nil
}

// followTask polls the task until it reaches a terminal state
func followTask(taskID string, interval time.Duration) error {
	fmt.Printf("Following task %s (press Ctrl+C to stop)...\n", taskID)
	lastStatus := ""
	for {
		task, err := fetchTask(taskID)
		if err != nil {
			return err
		}
		if task.Status != lastStatus {
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), task.Status)
			lastStatus = task.Status
		}
		if terminalStatus(task.Status) {
			fmt.Println()
			printTask(task)
			return nil
		}
		time.Sleep(interval)
	}
}

func printTask(task *taskResponse) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Task ID", task.JobID)
	table.Append("Kind", task.Kind)
	table.Append("Status", task.Status)
	table.Append("Created At", task.CreatedAt.Format(time.RFC3339))
	if task.StartedAt != nil {
		table.Append("Started At", task.StartedAt.Format(time.RFC3339))
	}
	if task.CompletedAt != nil {
		table.Append("Completed At", task.CompletedAt.Format(time.RFC3339))
	}
	if e := elapsed(task); e != "" {
		table.Append("Elapsed", e)
	}
	if task.Error != "" {
		table.Append("Error", task.Error)
	}
	if task.Result != nil && task.Result.Artifacts != nil {
		for _, a := range task.Result.Artifacts.Videos {
			table.Append("Video", artifactURL(a))
		}
		for _, a := range task.Result.Artifacts.Images {
			table.Append("Image", artifactURL(a))
		}
	}
	table.Render()
}

func artifactURL(a artifactRef) string {
	url := fmt.Sprintf("%s/api/artifacts/view?filename=%s&type=%s", GetServerURL(), a.Filename, a.Type)
	if a.Subfolder != "" {
		url += "&subfolder=" + a.Subfolder
	}
	return url
}

func elapsed(task *taskResponse) string {
	if task.StartedAt == nil {
		return ""
	}
	end := time.Now()
	if task.CompletedAt != nil {
		end = *task.CompletedAt
	}
	return end.Sub(*task.StartedAt).Round(time.Second).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
