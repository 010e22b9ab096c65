package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var systemCmd = &cobra.Command{
	Use:   "system",
	Short: "Show server and engine status",
	RunE:  runSystem,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective client configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(systemCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func runSystem(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/api/system")
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

	// YAML reads better than nested JSON for a human glance
	var info map[string]interface{}
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	return encoder.Encode(info)
}

type clientConfig struct {
	ServerURL    string `yaml:"server_url" json:"server_url"`
	OutputFormat string `yaml:"output" json:"output"`
	ConfigFile   string `yaml:"config_file,omitempty" json:"config_file,omitempty"`
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := clientConfig{
		ServerURL:    GetServerURL(),
		OutputFormat: outputFormat,
		ConfigFile:   viper.ConfigFileUsed(),
	}

	if IsJSONOutput() {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	}
	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	return encoder.Encode(cfg)
}
