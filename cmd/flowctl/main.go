package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flowctl drives the relay API from the command line: health probes, flow
// execution, and progress polling.

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "Attachflow relay CLI",
	Long:  "Executes flows and inspects progress against a running relay API",
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check relay API liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGet("/health")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute a saved flow",
	Long:  "Submits one flow run and prints the terminal result",
	RunE: func(cmd *cobra.Command, args []string) error {
		flowID := viper.GetString("flow_id")
		if flowID == "" {
			return fmt.Errorf("flow_id not configured")
		}

		reqBody, _ := json.Marshal(map[string]string{"flow_id": flowID})
		body, err := apiPost("/flows/execute", reqBody)
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show the latest progress event for a request",
	RunE: func(cmd *cobra.Command, args []string) error {
		requestID := viper.GetString("request_id")
		if requestID == "" {
			return fmt.Errorf("request_id not configured")
		}

		body, err := apiGet("/progress/" + requestID)
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

func apiGet(path string) ([]byte, error) {
	return apiDo(http.MethodGet, path, nil)
}

func apiPost(path string, body []byte) ([]byte, error) {
	return apiDo(http.MethodPost, path, body)
}

func apiDo(method, path string, body []byte) ([]byte, error) {
	url := viper.GetString("api.url") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := viper.GetString("token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: viper.GetDuration("timeout")}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: %s (%s)", method, path, resp.Status, bytes.TrimSpace(data))
	}
	return data, nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Flags
	rootCmd.PersistentFlags().String("api.url", "http://localhost:8080", "Relay API base URL")
	rootCmd.PersistentFlags().String("token", "", "Session token (JWT)")
	rootCmd.PersistentFlags().Duration("timeout", 2*time.Minute, "Request timeout")
	executeCmd.Flags().String("flow_id", "", "Flow ID to execute")
	progressCmd.Flags().String("request_id", "", "Request ID to poll")

	// Bind flags to viper
	viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api.url"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("flow_id", executeCmd.Flags().Lookup("flow_id"))
	viper.BindPFlag("request_id", progressCmd.Flags().Lookup("request_id"))

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(progressCmd)
}

func initConfig() {
	viper.SetConfigName("flowctl")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
