package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the engine's job queue",
	RunE:  runQueue,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all pending jobs from the engine queue",
	RunE:  runQueueClear,
}

func init() {
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/api/queue")
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

	var state struct {
		Running int `json:"running"`
		Pending int `json:"pending"`
	}
	if err := json.Unmarshal(body, &state); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	fmt.Printf("Running: %d\nPending: %d\n", state.Running, state.Pending)
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/api/queue/clear", "application/json", nil)
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

	fmt.Println("Engine queue cleared")
	return nil
}
