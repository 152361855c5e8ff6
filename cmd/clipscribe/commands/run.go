// Package commands implements CLI command handlers for clipscribe.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/clipscribe/clipscribe/internal/config"
	"github.com/clipscribe/clipscribe/internal/observability"
	"github.com/clipscribe/clipscribe/internal/sessionstore"
	"github.com/clipscribe/clipscribe/pkg/fetch"
	"github.com/clipscribe/clipscribe/pkg/orchestrate"
	"github.com/clipscribe/clipscribe/pkg/track"
	"github.com/clipscribe/clipscribe/pkg/transport"
	"github.com/clipscribe/clipscribe/pkg/upload"
	"github.com/clipscribe/clipscribe/pkg/version"
)

type pipelineExecutor func(
	ctx context.Context,
	cfg *config.Config,
	url string,
	progress upload.ProgressFunc,
	logger *slog.Logger,
) (*orchestrate.Outcome, error)

type configLoader func(path string) (*config.Config, error)

// RunCommand holds configuration and dependencies for the run command.
type RunCommand struct {
	configPath  string
	quality     string
	keepFiles   bool
	noColor     bool
	silent      bool
	metricsAddr string
	resultsDir  string

	exec       pipelineExecutor
	loadConfig configLoader
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return newRunCommandWithDeps(runPipeline, config.LoadConfig)
}

func newRunCommandWithDeps(exec pipelineExecutor, loadConfig configLoader) *cobra.Command {
	rc := &RunCommand{exec: exec, loadConfig: loadConfig}

	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Transcribe a media URL end to end",
		Long:  "Download the media at <url>, upload it to the transcription service in resumable chunks, and wait for the transcript.",
		Args:  cobra.ExactArgs(1),
		RunE:  rc.run,
	}

	cmd.Flags().StringVarP(&rc.configPath, "config", "c", "", "Config file path (default: .clipscribe.yaml in CWD or $HOME)")
	cmd.Flags().StringVar(&rc.quality, "quality", "", "Audio quality preset: best, good, fast")
	cmd.Flags().BoolVar(&rc.keepFiles, "keep-files", false, "Keep downloaded media after a successful run")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&rc.silent, "silent", false, "Disable progress output")
	cmd.Flags().StringVar(&rc.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&rc.resultsDir, "results-dir", "", "Store the transcript under this directory")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := rc.loadConfig(rc.configPath)
	if err != nil {
		return err
	}

	rc.applyOverrides(cmd, cfg)

	silent := rc.isSilent(cmd)
	progressWriter := cmd.ErrOrStderr()
	logger := commandLogger(cmd, silent)

	rc.progressf(silent, progressWriter, "starting run url=%s", args[0])

	outcome, err := rc.exec(cmd.Context(), cfg, args[0], rc.progressReporter(silent, progressWriter), logger)
	if err != nil {
		return err
	}

	rc.printSummary(cmd.OutOrStdout(), outcome)

	return nil
}

// applyOverrides folds changed flags into the loaded config. Flags win over
// file and environment.
func (rc *RunCommand) applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("quality") {
		cfg.Download.Quality = rc.quality
	}

	if cmd.Flags().Changed("keep-files") {
		cfg.Download.KeepFiles = rc.keepFiles
	}

	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = rc.metricsAddr
	}

	if cmd.Flags().Changed("results-dir") {
		cfg.Results.Dir = rc.resultsDir
	}
}

func (rc *RunCommand) progressReporter(silent bool, writer io.Writer) upload.ProgressFunc {
	if silent {
		return nil
	}

	return func(acked, total int, ackedBytes int64) {
		rc.progressf(silent, writer, "uploaded %d/%d chunks (%s)", acked, total, humanize.Bytes(uint64(ackedBytes)))
	}
}

func (rc *RunCommand) printSummary(writer io.Writer, outcome *orchestrate.Outcome) {
	green := color.New(color.FgGreen)
	if rc.noColor {
		green.DisableColor()
	}

	_, _ = green.Fprintln(writer, "transcription complete")
	_, _ = fmt.Fprintf(writer, "  job id:     %s\n", outcome.JobID)
	_, _ = fmt.Fprintf(writer, "  media size: %s\n", humanize.Bytes(uint64(outcome.File.Size)))

	if outcome.Reference != "" {
		_, _ = fmt.Fprintf(writer, "  reference:  %s\n", outcome.Reference)
	}

	if outcome.ResultPath != "" {
		_, _ = fmt.Fprintf(writer, "  transcript: %s\n", outcome.ResultPath)
	}
}

func (rc *RunCommand) isSilent(cmd *cobra.Command) bool {
	if rc.silent {
		return true
	}

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return false
	}

	return quiet
}

func (rc *RunCommand) progressf(silent bool, writer io.Writer, format string, args ...any) {
	if silent {
		return
	}

	_, _ = fmt.Fprintf(writer, "progress: "+format+"\n", args...)
}

// runPipeline is the production executor: it assembles the transport client,
// fetcher, session store, and optional metrics endpoint, then runs the
// pipeline.
func runPipeline(
	ctx context.Context,
	cfg *config.Config,
	url string,
	progress upload.ProgressFunc,
	logger *slog.Logger,
) (*orchestrate.Outcome, error) {
	client, err := transport.New(cfg.Server.URL,
		transport.WithAPIKey(cfg.Server.APIKey),
		transport.WithTimeout(cfg.Server.Timeout),
		transport.WithUserAgent("clipscribe/"+version.Version),
		transport.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	opts := orchestrate.Options{
		ChunkSize: cfg.ChunkSizeBytes(),
		Upload: upload.Options{
			MaxRetries:     cfg.Upload.MaxRetries,
			Concurrency:    cfg.Upload.Concurrency,
			RetryBaseDelay: cfg.Upload.RetryBaseDelay,
			RetryMaxDelay:  cfg.Upload.RetryMaxDelay,
			Store:          sessionstore.New(cfg.Session.Dir),
			OnProgress:     progress,
			Logger:         logger,
		},
		Poll: track.Options{
			Interval: cfg.Poll.Interval,
			MaxWait:  cfg.Poll.MaxWait,
			Logger:   logger,
		},
		ResultsDir: cfg.Results.Dir,
		KeepFiles:  cfg.Download.KeepFiles,
		Logger:     logger,
	}

	if cfg.Metrics.Addr != "" {
		metrics, metricsErr := startMetricsServer(cfg.Metrics.Addr, logger)
		if metricsErr != nil {
			return nil, metricsErr
		}

		opts.Metrics = metrics
		opts.Upload.Metrics = metrics
		opts.Poll.Metrics = metrics
	}

	fetcher := fetch.NewYTDLP(fetch.YTDLPOptions{
		Binary:      cfg.Download.YTDLPPath,
		Dir:         cfg.Download.Dir,
		Quality:     cfg.Download.Quality,
		MaxFileSize: cfg.MaxFileSizeBytes(),
		Logger:      logger,
	})

	return orchestrate.New(fetcher, client, opts).Run(ctx, url)
}

// startMetricsServer exposes the Prometheus scrape endpoint for the lifetime
// of the process. Serve errors are logged, not fatal: metrics are best effort.
func startMetricsServer(addr string, logger *slog.Logger) (*observability.TransferMetrics, error) {
	meter, handler, err := observability.Setup()
	if err != nil {
		return nil, err
	}

	metrics, err := observability.NewTransferMetrics(meter)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		serveErr := server.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("metrics endpoint stopped", "addr", addr, "error", serveErr)
		}
	}()

	return metrics, nil
}

// commandLogger builds the slog logger for a command invocation: debug level
// with --verbose, discarded entirely with --quiet or --silent.
func commandLogger(cmd *cobra.Command, silent bool) *slog.Logger {
	if silent {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	level := slog.LevelInfo

	verbose, err := cmd.Flags().GetBool("verbose")
	if err == nil && verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
