// cmd/root.go
/*
Copyright © 2025 TrainTrack <dev@traintrack.ai>
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/traintrack-ai/traintrack-cli/internal/logging"
)

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var (
	cfgFile      string
	apiURL       string
	streamURL    string
	outputFormat string
	logLevel     string
	logFormat    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "traintrack",
	Short: "TrainTrack streams live ML job progress to any number of observers",
	Long: `TrainTrack runs ML jobs (training runs, hyperparameter searches) and
broadcasts their progress over WebSockets, so dashboards and terminals can
follow along in real time without polling.`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.traintrack/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "REST API base URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&streamURL, "stream", "", "stream base URL (default from config or ws://localhost:8765)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", getEnvOrDefault("TRAINTRACK_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", getEnvOrDefault("TRAINTRACK_LOG_FORMAT", "text"), "log format: text or json")
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
		viper.AddConfigPath(filepath.Join(home, ".traintrack"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TRAINTRACK")
	viper.AutomaticEnv()
	viper.BindEnv("api_url", "TRAINTRACK_API_URL")
	viper.BindEnv("stream_url", "TRAINTRACK_STREAM_URL")

	if err := viper.ReadInConfig(); err == nil {
		if apiURL == "" && viper.GetString("api_url") != "" {
			apiURL = viper.GetString("api_url")
		}
		if streamURL == "" && viper.GetString("stream_url") != "" {
			streamURL = viper.GetString("stream_url")
		}
	}

	// Environment variables still apply without a config file.
	if apiURL == "" && viper.GetString("api_url") != "" {
		apiURL = viper.GetString("api_url")
	}
	if streamURL == "" && viper.GetString("stream_url") != "" {
		streamURL = viper.GetString("stream_url")
	}

	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	if streamURL == "" {
		streamURL = "ws://localhost:8765"
	}
}

// GetAPIURL returns the configured REST base URL with trailing slashes removed
func GetAPIURL() string {
	return strings.TrimRight(apiURL, "/")
}

// GetStreamURL returns the configured stream base URL with trailing slashes removed
func GetStreamURL() string {
	return strings.TrimRight(streamURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// newLogger builds the process logger from the global flags.
func newLogger() *logrus.Logger {
	return logging.New(logLevel, logFormat)
}
