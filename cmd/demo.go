// cmd/demo.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/traintrack-ai/traintrack-cli/internal/api"
	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/logging"
	"github.com/traintrack-ai/traintrack-cli/internal/metrics"
	"github.com/traintrack-ai/traintrack-cli/internal/report"
	"github.com/traintrack-ai/traintrack-cli/internal/runner"
	"github.com/traintrack-ai/traintrack-cli/internal/store"
	"github.com/traintrack-ai/traintrack-cli/internal/stream"
	"github.com/traintrack-ai/traintrack-cli/internal/ui"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a local server seeded with synthetic jobs",
	Long: `Start a full TrainTrack server and spawn synthetic jobs against it:
a training run with resource sampling and a hyperparameter search. Point
'traintrack watch' or 'traintrack dashboard' at it from another shell.

Reports are archived to a throwaway database under the system temp dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo()
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func demoSpecs() []*runner.Spec {
	train := &runner.Spec{
		Name:            "resnet50-demo",
		Kind:            job.KindTraining,
		Epochs:          15,
		EpochDuration:   runner.Duration(1500 * time.Millisecond),
		SampleResources: true,
		Seed:            42,
	}
	search := &runner.Spec{
		Name:           "lr-sweep-demo",
		Kind:           job.KindHyperparamSearch,
		Trials:         4,
		EpochsPerTrial: 5,
		EpochDuration:  runner.Duration(900 * time.Millisecond),
		OptimizeMetric: "map50",
		ParamSpace: map[string][]any{
			"lr":         {0.1, 0.01, 0.001},
			"batch_size": {16, 32, 64},
		},
		Seed: 7,
	}
	for _, s := range []*runner.Spec{train, search} {
		s.ApplyDefaults()
	}
	return []*runner.Spec{train, search}
}

func runDemo() error {
	log := newLogger()
	met := metrics.NewSet()
	sl := ui.NewStatusLine()

	st := store.New(store.DefaultConfig(), logging.Component(log, "store"), met)
	defer st.Close()

	streamCfg := stream.DefaultConfig()
	streamSrv := stream.NewServer(streamCfg, st, logging.Component(log, "stream"), met)
	st.SetBroadcaster(streamSrv.Registry())

	var reports *report.Store
	if rep, err := report.Open(filepath.Join(os.TempDir(), "traintrack-demo-reports.db")); err != nil {
		sl.Warning(fmt.Sprintf("Report archive unavailable: %v", err))
	} else {
		reports = rep
		defer reports.Close()
		st.SetArchiver(reports)
	}

	run := runner.New(st, logging.Component(log, "runner"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\n   - Shutting down demo...")
		cancel()
	}()

	handler := api.NewHandler(ctx, st, run, logging.Component(log, "api"))
	handler.SetStreamer(streamSrv)
	handler.SetMetrics(met)
	if reports != nil {
		handler.SetReports(reports)
	}
	apiCfg := api.DefaultConfig()
	apiSrv := api.NewServer(apiCfg, handler, logging.Component(log, "api"))

	if err := streamSrv.Start(); err != nil {
		return fmt.Errorf("failed to start stream server: %w", err)
	}

	fmt.Println("--- 🚀 TrainTrack demo ---")
	fmt.Printf("   - REST API: %s\n", ui.HyperlinkSelf(fmt.Sprintf("http://localhost:%d/api/jobs", apiCfg.Port)))
	fmt.Printf("   - Stream:   ws://%s/ws/jobs/{job-id}\n", streamSrv.Addr())
	fmt.Println()

	specs := demoSpecs()
	for i, spec := range specs {
		snap, err := st.CreateJob(spec.Kind, spec.Name, spec.JobMetadata())
		if err != nil {
			return err
		}
		if err := run.Start(ctx, snap.ID, spec); err != nil {
			return err
		}
		sl.Step(i+1, len(specs), fmt.Sprintf("%s  →  traintrack watch %s", spec.Name, snap.ID))
	}

	fmt.Println()
	sl.Info("Try 'traintrack dashboard' or 'traintrack jobs list' from another shell")
	sl.Info("Press Ctrl+C to stop")

	err := apiSrv.Start(ctx)

	run.StopAll()
	run.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if stopErr := streamSrv.Stop(stopCtx); stopErr != nil {
		log.WithError(stopErr).Warn("Stream server shutdown was not clean")
	}
	return err
}
