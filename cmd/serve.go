// cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/traintrack-ai/traintrack-cli/internal/api"
	"github.com/traintrack-ai/traintrack-cli/internal/logging"
	"github.com/traintrack-ai/traintrack-cli/internal/metrics"
	"github.com/traintrack-ai/traintrack-cli/internal/report"
	"github.com/traintrack-ai/traintrack-cli/internal/runner"
	"github.com/traintrack-ai/traintrack-cli/internal/store"
	"github.com/traintrack-ai/traintrack-cli/internal/stream"
	"github.com/traintrack-ai/traintrack-cli/internal/ui"
)

var (
	serveStreamPort int
	serveAPIPort    int
	serveHeartbeat  int
	serveLiveness   int
	serveMaxConns   int
	serveQueueSize  int
	serveReportDB   string
	serveNoArchive  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TrainTrack job server",
	Long: `Run the TrainTrack job server: the REST control API, the WebSocket
progress stream, and the synthetic job drivers, in one process.

Jobs are created through the REST API (or 'traintrack run') and every
state change is fanned out live to WebSocket observers. Finished jobs
are archived to a local SQLite report store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&serveStreamPort, "stream-port", 0, "WebSocket stream port (default 8765 or TRAINTRACK_STREAM_PORT)")
	serveCmd.Flags().IntVar(&serveAPIPort, "api-port", 0, "REST API port (default 8080 or TRAINTRACK_API_PORT)")
	serveCmd.Flags().IntVar(&serveHeartbeat, "heartbeat", 0, "heartbeat interval in seconds (default 30)")
	serveCmd.Flags().IntVar(&serveLiveness, "liveness", 0, "liveness timeout in seconds (default 60)")
	serveCmd.Flags().IntVar(&serveMaxConns, "max-connections", 0, "maximum concurrent observers (default 256)")
	serveCmd.Flags().IntVar(&serveQueueSize, "queue-size", 0, "per-connection outbound queue depth (default 32)")
	serveCmd.Flags().StringVar(&serveReportDB, "report-db", "", "path to the SQLite report archive (default ~/.traintrack/reports.db)")
	serveCmd.Flags().BoolVar(&serveNoArchive, "no-archive", false, "disable the terminal report archive")
}

func runServe() error {
	log := newLogger()
	met := metrics.NewSet()

	st := store.New(store.DefaultConfig(), logging.Component(log, "store"), met)
	defer st.Close()

	streamCfg := stream.DefaultConfig()
	if serveStreamPort != 0 {
		streamCfg.Port = serveStreamPort
	}
	if serveHeartbeat != 0 {
		streamCfg.HeartbeatInterval = time.Duration(serveHeartbeat) * time.Second
	}
	if serveLiveness != 0 {
		streamCfg.LivenessTimeout = time.Duration(serveLiveness) * time.Second
	}
	if serveMaxConns != 0 {
		streamCfg.MaxConnections = serveMaxConns
	}
	if serveQueueSize != 0 {
		streamCfg.QueueSize = serveQueueSize
	}
	if err := streamCfg.Validate(); err != nil {
		return fmt.Errorf("invalid stream configuration: %w", err)
	}

	streamSrv := stream.NewServer(streamCfg, st, logging.Component(log, "stream"), met)
	st.SetBroadcaster(streamSrv.Registry())

	var reports *report.Store
	if !serveNoArchive {
		dbPath := serveReportDB
		if dbPath == "" {
			dbPath = report.DefaultPath()
		}
		var err error
		reports, err = report.Open(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open report archive: %w", err)
		}
		defer reports.Close()
		st.SetArchiver(reports)
	}

	run := runner.New(st, logging.Component(log, "runner"))

	// Shutdown on SIGINT/SIGTERM. The API server blocks on this context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		fmt.Printf("\n   - Received signal %v, initiating graceful shutdown...\n", sig)
		cancel()
	}()

	handler := api.NewHandler(ctx, st, run, logging.Component(log, "api"))
	handler.SetStreamer(streamSrv)
	handler.SetMetrics(met)
	if reports != nil {
		handler.SetReports(reports)
	}

	apiCfg := api.DefaultConfig()
	if serveAPIPort != 0 {
		apiCfg.Port = serveAPIPort
	}
	apiSrv := api.NewServer(apiCfg, handler, logging.Component(log, "api"))

	if err := streamSrv.Start(); err != nil {
		return fmt.Errorf("failed to start stream server: %w", err)
	}

	displayHost := apiCfg.Host
	if displayHost == "" {
		displayHost = "localhost"
	}

	fmt.Println("--- 🚀 Starting TrainTrack server ---")
	fmt.Printf("   - REST API:  %s\n", ui.HyperlinkSelf(fmt.Sprintf("http://%s:%d/api/jobs", displayHost, apiCfg.Port)))
	fmt.Printf("   - Stream:    ws://%s/ws/jobs/{job-id}\n", streamSrv.Addr())
	fmt.Printf("   - Heartbeat: every %s, reap after %s idle\n", streamCfg.HeartbeatInterval, streamCfg.LivenessTimeout)
	if reports != nil {
		fmt.Printf("   - Reports:   %s\n", reports.Path())
	} else {
		fmt.Println("   - Reports:   disabled")
	}
	fmt.Println("   - ✅ Server started. Press Ctrl+C to stop.")

	err := apiSrv.Start(ctx)

	// Drain drivers before tearing the stream down so observers see the
	// terminal frames.
	run.StopAll()
	run.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if stopErr := streamSrv.Stop(stopCtx); stopErr != nil {
		log.WithError(stopErr).Warn("Stream server shutdown was not clean")
	}

	fmt.Println("   - ✅ Shutdown complete")
	return err
}
