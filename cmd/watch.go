// cmd/watch.go
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/traintrack-ai/traintrack-cli/internal/client"
	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/logging"
	"github.com/traintrack-ai/traintrack-cli/internal/stream"
	"github.com/traintrack-ai/traintrack-cli/internal/ui"
)

var watchReconnect bool

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Stream live progress of a job",
	Long: `Subscribe to a job's WebSocket progress stream and render it live.

The full job state arrives first, then every gated change until the job
reaches a terminal state. With --output json the raw frames are printed
one per line instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchJob(args[0])
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchReconnect, "reconnect", false, "reconnect and resume if the stream drops")
}

func watchJob(jobID string) error {
	// Ctrl+C cancels the context; the observer then requests an orderly close
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		cancel()
	}()

	obs := client.New(client.Config{
		BaseURL:   GetStreamURL(),
		Reconnect: watchReconnect,
		Log:       logging.Component(newLogger(), "observer"),
	})

	var handlers client.Handlers
	var spin *ui.Spinner
	if IsJSONOutput() {
		enc := json.NewEncoder(os.Stdout)
		handlers = client.Handlers{
			InitialState: func(snap job.Snapshot) { enc.Encode(snap) },
			Update:       func(u stream.Update) { enc.Encode(u) },
		}
	} else {
		renderer := ui.NewWatchRenderer()
		spin = ui.NewSpinner()
		spin.Start("Connecting to job stream")
		spin.UpdateDetail(GetStreamURL() + "/ws/jobs/" + jobID)
		var current job.Snapshot
		render := func() {
			if current.Terminal() {
				renderer.Finish(current)
			} else {
				renderer.Render(current)
			}
		}
		handlers = client.Handlers{
			InitialState: func(snap job.Snapshot) {
				spin.Stop("")
				current = snap
				render()
			},
			Update: func(u stream.Update) {
				foldUpdate(&current, u)
				render()
			},
		}
	}

	err := obs.Watch(ctx, jobID, handlers)
	if spin != nil {
		spin.Stop("")
	}
	switch {
	case errors.Is(err, client.ErrStreamRejected):
		return fmt.Errorf("job %s is not known to the server", jobID)
	case errors.Is(err, context.Canceled):
		// Ctrl+C is a clean exit, not a failure.
		return nil
	}
	return err
}

// foldUpdate merges a progress frame onto the tracked snapshot. Updates carry
// no name; that survives from the initial state.
func foldUpdate(snap *job.Snapshot, u stream.Update) {
	snap.ID = u.ID
	snap.Kind = u.Kind
	snap.Status = u.Status
	snap.Progress = u.Progress
	snap.Metrics = u.Metrics
	snap.CurrentEpoch = u.CurrentEpoch
	snap.TotalEpochs = u.TotalEpochs
	snap.CurrentTrial = u.CurrentTrial
	snap.TotalTrials = u.TotalTrials
	snap.BestTrial = u.BestTrial
	snap.BestParams = u.BestParams
	snap.BestMetrics = u.BestMetrics
	snap.Error = u.Error
	snap.Result = u.Result
	snap.UpdatedAt = u.UpdatedAt
}
