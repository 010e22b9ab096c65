package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchTaskID string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live task updates from the server",
	Long: `Watch connects to the server's websocket endpoint and prints every
task status change as it happens.

Example:
  genctl watch
  genctl watch --task 3f9c2a...`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchTaskID, "task", "", "only show updates for this task id")
}

type taskUpdate struct {
	Type   string           `json:"type"`
	TaskID string           `json:"task_id"`
	Status string           `json:"status"`
	Result *outcomeResponse `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	wsURL, err := websocketURL(GetServerURL())
	if err != nil {
		return err
	}

	var header http.Header
	if apiToken != "" {
		header = http.Header{"Authorization": {"Bearer " + apiToken}}
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	fmt.Printf("Connected to %s (press Ctrl+C to stop)\n", wsURL)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		var update taskUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			continue
		}
		if watchTaskID != "" && update.TaskID != watchTaskID {
			continue
		}

		if IsJSONOutput() {
			fmt.Println(string(data))
			continue
		}

		line := fmt.Sprintf("[%s] %s  %s", time.Now().Format("15:04:05"), update.TaskID, update.Status)
		if update.Error != "" {
			line += "  " + update.Error
		}
		fmt.Println(line)

		if update.Result != nil && update.Result.Artifacts != nil {
			for _, a := range update.Result.Artifacts.Videos {
				fmt.Println("  video:", artifactURL(a))
			}
			for _, a := range update.Result.Artifacts.Images {
				fmt.Println("  image:", artifactURL(a))
			}
		}
	}
}

func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
