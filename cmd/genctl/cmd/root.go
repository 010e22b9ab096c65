package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverURL    string
	apiToken     string
	outputFormat string
	cfgFile      string
)

var rootCmd = &cobra.Command{
	Use:   "genctl",
	Short: "CLI for the genbridge generation service",
	Long:  `genctl submits image and video generation requests to a genbridge server and tracks them to completion.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.genbridge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "genbridge server URL (default from config or http://localhost:8188)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "API token (default from config or GENBRIDGE_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".genbridge"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.BindEnv("server_url", "GENBRIDGE_SERVER")
	viper.BindEnv("api_token", "GENBRIDGE_TOKEN")

	viper.ReadInConfig()

	if serverURL == "" && viper.GetString("server_url") != "" {
		serverURL = viper.GetString("server_url")
	}
	if serverURL == "" {
		serverURL = "http://localhost:8188"
	}
	if apiToken == "" {
		apiToken = viper.GetString("api_token")
	}
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// apiGet issues a GET against the server with the API token attached
func apiGet(path string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, GetServerURL()+path, nil)
	if err != nil {
		return nil, err
	}
	authorize(req)
	return http.DefaultClient.Do(req)
}

// apiPost issues a POST against the server with the API token attached
func apiPost(path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, GetServerURL()+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	authorize(req)
	return http.DefaultClient.Do(req)
}

func authorize(req *http.Request) {
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
}
