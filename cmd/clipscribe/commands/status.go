package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/clipscribe/clipscribe/internal/config"
	"github.com/clipscribe/clipscribe/pkg/transport"
	"github.com/clipscribe/clipscribe/pkg/version"
)

type pinger func(ctx context.Context, cfg *config.Config) error

// StatusCommand holds configuration and dependencies for the status command.
type StatusCommand struct {
	configPath string
	noColor    bool

	ping       pinger
	loadConfig configLoader
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return newStatusCommandWithDeps(pingService, config.LoadConfig)
}

func newStatusCommandWithDeps(ping pinger, loadConfig configLoader) *cobra.Command {
	sc := &StatusCommand{ping: ping, loadConfig: loadConfig}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check service reachability",
		Long:  "Probe the configured transcription service and report whether it is reachable.",
		Args:  cobra.NoArgs,
		RunE:  sc.run,
	}

	cmd.Flags().StringVarP(&sc.configPath, "config", "c", "", "Config file path (default: .clipscribe.yaml in CWD or $HOME)")
	cmd.Flags().BoolVar(&sc.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func (sc *StatusCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := sc.loadConfig(sc.configPath)
	if err != nil {
		return err
	}

	writer := cmd.OutOrStdout()

	started := time.Now()
	pingErr := sc.ping(cmd.Context(), cfg)
	latency := time.Since(started).Round(time.Millisecond)

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	if sc.noColor {
		green.DisableColor()
		red.DisableColor()
	}

	_, _ = fmt.Fprintf(writer, "server:  %s\n", cfg.Server.URL)

	if pingErr != nil {
		_, _ = red.Fprintln(writer, "status:  unreachable")

		return fmt.Errorf("service unreachable: %w", pingErr)
	}

	_, _ = green.Fprintln(writer, "status:  reachable")
	_, _ = fmt.Fprintf(writer, "latency: %s\n", latency)

	return nil
}

func pingService(ctx context.Context, cfg *config.Config) error {
	client, err := transport.New(cfg.Server.URL,
		transport.WithAPIKey(cfg.Server.APIKey),
		transport.WithTimeout(cfg.Server.Timeout),
		transport.WithUserAgent("clipscribe/"+version.Version),
	)
	if err != nil {
		return err
	}

	return client.Ping(ctx)
}
