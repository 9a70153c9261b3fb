// cmd/jobs.go
package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/traintrack-ai/traintrack-cli/internal/api"
	"github.com/traintrack-ai/traintrack-cli/internal/history"
	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

var (
	terminateStatus string
	terminateError  string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage jobs on the server",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs the server is tracking",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsList()
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the current state of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(args[0])
	},
}

var jobsHistoryCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Show the retained metric history of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsHistory(args[0])
	},
}

var jobsTerminateCmd = &cobra.Command{
	Use:   "terminate <job-id>",
	Short: "Force a job into a terminal state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsTerminate(args[0])
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsHistoryCmd)
	jobsCmd.AddCommand(jobsTerminateCmd)

	jobsTerminateCmd.Flags().StringVar(&terminateStatus, "status", "failed", "terminal status to set (completed or failed)")
	jobsTerminateCmd.Flags().StringVar(&terminateError, "error", "", "error detail to record on the job")
}

func runJobsList() error {
	var resp struct {
		Jobs  []job.Snapshot `json:"jobs"`
		Count int            `json:"count"`
	}
	if err := apiGet("/api/jobs", &resp); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(resp)
	}

	if resp.Count == 0 {
		fmt.Println("No jobs found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Kind", "Status", "Progress", "Metrics", "Updated")
	for _, snap := range resp.Jobs {
		table.Append(
			shortID(snap.ID),
			snap.Name,
			string(snap.Kind),
			statusColor(snap.Status),
			formatProgress(snap.Progress),
			formatMetrics(snap.Metrics),
			snap.UpdatedAt.Local().Format("15:04:05"),
		)
	}
	table.Render()
	fmt.Printf("\n%d job(s)\n", resp.Count)
	return nil
}

func runJobsStatus(jobID string) error {
	var snap job.Snapshot
	if err := apiGet("/api/jobs/"+jobID, &snap); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(snap)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", snap.ID)
	table.Append("Name", snap.Name)
	table.Append("Kind", string(snap.Kind))
	table.Append("Status", statusColor(snap.Status))
	table.Append("Progress", formatProgress(snap.Progress))
	if snap.TotalEpochs > 0 {
		table.Append("Epoch", fmt.Sprintf("%d / %d", snap.CurrentEpoch, snap.TotalEpochs))
	}
	if snap.Kind == job.KindHyperparamSearch && snap.TotalTrials > 0 {
		table.Append("Trial", fmt.Sprintf("%d / %d", snap.CurrentTrial, snap.TotalTrials))
		if snap.BestTrial > 0 {
			table.Append("Best Trial", fmt.Sprintf("#%d", snap.BestTrial))
			table.Append("Best Metrics", formatMetrics(snap.BestMetrics))
		}
	}

	keys := make([]string, 0, len(snap.Metrics))
	for k := range snap.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		table.Append(k, fmt.Sprintf("%.6g", snap.Metrics[k]))
	}

	if snap.Error != "" {
		table.Append("Error", snap.Error)
	}
	for k, v := range snap.Result {
		table.Append("result."+k, fmt.Sprintf("%v", v))
	}
	table.Append("Created At", snap.CreatedAt.Local().Format(time.RFC3339))
	table.Append("Updated At", snap.UpdatedAt.Local().Format(time.RFC3339))
	table.Render()
	return nil
}

func runJobsHistory(jobID string) error {
	var resp struct {
		JobID   string          `json:"job_id"`
		Entries []history.Entry `json:"entries"`
		Count   int             `json:"count"`
	}
	if err := apiGet("/api/jobs/"+jobID+"/history", &resp); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(resp)
	}

	if resp.Count == 0 {
		fmt.Println("No history retained for this job yet.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Seq", "Time", "Metrics")
	for _, e := range resp.Entries {
		table.Append(
			fmt.Sprintf("%d", e.Seq),
			e.Timestamp.Local().Format("15:04:05.000"),
			formatMetrics(e.Metrics),
		)
	}
	table.Render()
	fmt.Printf("\n%d sample(s) retained\n", resp.Count)
	return nil
}

func runJobsTerminate(jobID string) error {
	req := api.TerminateRequest{
		Status: terminateStatus,
		Error:  terminateError,
	}
	var snap job.Snapshot
	if err := apiPost("/api/jobs/"+jobID+"/terminate", req, &snap); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(snap)
	}
	fmt.Printf("Job %s is now %s\n", shortID(snap.ID), statusColor(snap.Status))
	return nil
}
