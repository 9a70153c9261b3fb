// cmd/reports.go
package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/traintrack-ai/traintrack-cli/internal/report"
)

var reportsLimit int

var reportsCmd = &cobra.Command{
	Use:   "reports [job-id]",
	Short: "Browse archived reports of finished jobs",
	Long: `Browse the terminal reports of finished jobs.

Reports outlive the live job store: once a job is evicted its final
snapshot and metric history remain available here. Without arguments the
most recent reports are listed; with a job id the full report is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return runReportGet(args[0])
		}
		return runReportList()
	},
}

func init() {
	rootCmd.AddCommand(reportsCmd)

	reportsCmd.Flags().IntVar(&reportsLimit, "limit", 20, "maximum number of reports to list")
}

func runReportList() error {
	var resp struct {
		Reports []report.Report `json:"reports"`
		Count   int             `json:"count"`
	}
	if err := apiGet(fmt.Sprintf("/api/reports?limit=%d", reportsLimit), &resp); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(resp)
	}

	if resp.Count == 0 {
		fmt.Println("No reports archived yet.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Name", "Kind", "Status", "Finished", "Error")
	for _, r := range resp.Reports {
		errDetail := r.Error
		if errDetail == "" {
			errDetail = "-"
		}
		table.Append(
			shortID(r.JobID),
			r.Name,
			string(r.Kind),
			statusColor(r.Status),
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			errDetail,
		)
	}
	table.Render()
	fmt.Printf("\n%d report(s)\n", resp.Count)
	return nil
}

func runReportGet(jobID string) error {
	var rep report.Report
	if err := apiGet("/api/reports/"+jobID, &rep); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(rep)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", rep.JobID)
	table.Append("Name", rep.Name)
	table.Append("Kind", string(rep.Kind))
	table.Append("Status", statusColor(rep.Status))
	table.Append("Created At", rep.CreatedAt.Local().Format(time.RFC3339))
	table.Append("Finished At", rep.FinishedAt.Local().Format(time.RFC3339))
	if rep.Error != "" {
		table.Append("Error", rep.Error)
	}

	snap := rep.Snapshot
	keys := make([]string, 0, len(snap.Metrics))
	for k := range snap.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		table.Append(k, fmt.Sprintf("%.6g", snap.Metrics[k]))
	}
	for k, v := range snap.Result {
		table.Append("result."+k, fmt.Sprintf("%v", v))
	}
	if snap.BestTrial > 0 {
		table.Append("Best Trial", fmt.Sprintf("#%d", snap.BestTrial))
		table.Append("Best Metrics", formatMetrics(snap.BestMetrics))
	}
	table.Append("History Samples", fmt.Sprintf("%d", len(rep.History)))
	table.Render()
	return nil
}
