// cmd/dashboard.go
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/report"
	"github.com/traintrack-ai/traintrack-cli/internal/tui/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Full-screen live view of all jobs on the server",
	Long: `Open a full-screen dashboard showing every job the server is
tracking, the stream observer count, and the most recent reports.
The view refreshes by polling the REST API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard()
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

func fetchDashboardData() (dashboard.Data, error) {
	data := dashboard.Data{
		Version: Version,
		APIURL:  GetAPIURL(),
	}

	var health struct {
		Status     string `json:"status"`
		Uptime     string `json:"uptime"`
		Observers  int    `json:"observers"`
		StreamAddr string `json:"stream_addr"`
	}
	if err := apiGet("/health", &health); err != nil {
		return data, err
	}
	data.Connected = health.Status == "ok"
	data.Uptime = health.Uptime
	data.Observers = health.Observers
	data.StreamAddr = health.StreamAddr

	var jobsResp struct {
		Jobs []job.Snapshot `json:"jobs"`
	}
	if err := apiGet("/api/jobs", &jobsResp); err != nil {
		return data, err
	}
	data.Jobs = jobsResp.Jobs

	// The archive may be disabled server-side; the dashboard still works
	var reportsResp struct {
		Reports []report.Report `json:"reports"`
	}
	if err := apiGet("/api/reports?limit=5", &reportsResp); err == nil {
		data.Reports = reportsResp.Reports
	}

	data.LastUpdate = time.Now()
	return data, nil
}

func runDashboard() error {
	data, err := fetchDashboardData()
	if err != nil {
		return err
	}
	return dashboard.Run(data, fetchDashboardData)
}
