// cmd/run.go
package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/traintrack-ai/traintrack-cli/internal/api"
	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/runner"
)

var (
	runWatch    bool
	runExternal bool
)

var runCmd = &cobra.Command{
	Use:   "run <manifest.yaml>",
	Short: "Submit a job manifest to the server",
	Long: `Submit a YAML job manifest to a running TrainTrack server.

The server creates the job and starts a synthetic driver for it; progress
streams live over WebSocket. With --external no driver is started and the
job waits for events posted to /api/jobs/{id}/events.

Example manifest:

  name: resnet50-baseline
  kind: training
  epochs: 20
  epoch_duration: 2s
  sample_resources: true`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubmit(args[0])
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "stream progress after submitting")
	runCmd.Flags().BoolVar(&runExternal, "external", false, "create the job without a driver; events come from outside")
}

func runSubmit(path string) error {
	spec, err := runner.LoadSpec(path)
	if err != nil {
		return err
	}

	req := api.CreateJobRequest{Spec: *spec, External: runExternal}
	var snap job.Snapshot
	if err := apiPost("/api/jobs", req, &snap); err != nil {
		return err
	}

	if IsJSONOutput() {
		if err := printJSON(snap); err != nil {
			return err
		}
	} else {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")
		table.Append("Job ID", snap.ID)
		table.Append("Name", snap.Name)
		table.Append("Kind", string(snap.Kind))
		table.Append("Status", statusColor(snap.Status))
		if spec.Kind == job.KindHyperparamSearch {
			table.Append("Trials", fmt.Sprintf("%d x %d epochs", spec.Trials, spec.EpochsPerTrial))
			table.Append("Optimizing", spec.OptimizeMetric)
		} else {
			table.Append("Epochs", fmt.Sprintf("%d", spec.Epochs))
		}
		table.Append("Stream", fmt.Sprintf("%s/ws/jobs/%s", GetStreamURL(), snap.ID))
		table.Render()

		if !runWatch {
			fmt.Printf("\nFollow progress with: traintrack watch %s\n", snap.ID)
		}
	}

	if runWatch {
		return watchJob(snap.ID)
	}
	return nil
}
