package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clipscribe/clipscribe/internal/config"
)

// ErrConfigExists is returned when config init would overwrite a file.
var ErrConfigExists = errors.New("config file already exists")

// maskedTailLength is how many api key characters stay visible.
const maskedTailLength = 4

// ConfigCommand holds configuration and dependencies for the config command.
type ConfigCommand struct {
	configPath string

	loadConfig configLoader
}

// NewConfigCommand creates the config command with its subcommands.
func NewConfigCommand() *cobra.Command {
	return newConfigCommandWithDeps(config.LoadConfig)
}

func newConfigCommandWithDeps(loadConfig configLoader) *cobra.Command {
	cc := &ConfigCommand{loadConfig: loadConfig}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  cc.show,
	}
	showCmd.Flags().StringVarP(&cc.configPath, "config", "c", "", "Config file path (default: .clipscribe.yaml in CWD or $HOME)")

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  cc.initFile,
	}

	cmd.AddCommand(showCmd)
	cmd.AddCommand(initCmd)

	return cmd
}

func (cc *ConfigCommand) show(cmd *cobra.Command, _ []string) error {
	cfg, err := cc.loadConfig(cc.configPath)
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"Setting", "Value"})

	tw.AppendRows([]table.Row{
		{"server.url", cfg.Server.URL},
		{"server.api_key", maskSecret(cfg.Server.APIKey)},
		{"server.timeout", cfg.Server.Timeout},
	})
	tw.AppendSeparator()
	tw.AppendRows([]table.Row{
		{"download.dir", cfg.Download.Dir},
		{"download.quality", cfg.Download.Quality},
		{"download.keep_files", cfg.Download.KeepFiles},
		{"download.max_file_size", cfg.Download.MaxFileSize},
		{"download.ytdlp_path", cfg.Download.YTDLPPath},
	})
	tw.AppendSeparator()
	tw.AppendRows([]table.Row{
		{"upload.chunk_size", cfg.Upload.ChunkSize},
		{"upload.max_retries", cfg.Upload.MaxRetries},
		{"upload.concurrency", cfg.Upload.Concurrency},
		{"upload.retry_base_delay", cfg.Upload.RetryBaseDelay},
		{"upload.retry_max_delay", cfg.Upload.RetryMaxDelay},
	})
	tw.AppendSeparator()
	tw.AppendRows([]table.Row{
		{"poll.interval", cfg.Poll.Interval},
		{"poll.max_wait", cfg.Poll.MaxWait},
		{"session.dir", cfg.Session.Dir},
		{"results.dir", cfg.Results.Dir},
		{"metrics.addr", cfg.Metrics.Addr},
	})

	tw.Render()

	return nil
}

func (cc *ConfigCommand) initFile(cmd *cobra.Command, args []string) error {
	path := ".clipscribe.yaml"
	if len(args) > 0 {
		path = args[0]
	}

	_, statErr := os.Stat(path)
	if statErr == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	payload, err := defaultConfigYAML()
	if err != nil {
		return err
	}

	err = os.WriteFile(path, payload, 0o600)
	if err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)

	return nil
}

// defaultConfigYAML renders the default settings as a starter file. The
// server section comes first since its url is the one required value.
func defaultConfigYAML() ([]byte, error) {
	defaults := map[string]any{
		"server": map[string]any{
			"url":     "https://transcribe.example.com",
			"api_key": "",
			"timeout": config.DefaultServerTimeout.String(),
		},
		"download": map[string]any{
			"dir":           config.DefaultDownloadDir,
			"quality":       config.DefaultDownloadQuality,
			"keep_files":    config.DefaultKeepFiles,
			"max_file_size": config.DefaultMaxFileSize,
			"ytdlp_path":    config.DefaultYTDLPPath,
		},
		"upload": map[string]any{
			"chunk_size":       config.DefaultChunkSize,
			"max_retries":      config.DefaultMaxRetries,
			"concurrency":      config.DefaultConcurrency,
			"retry_base_delay": config.DefaultRetryBaseDelay.String(),
			"retry_max_delay":  config.DefaultRetryMaxDelay.String(),
		},
		"poll": map[string]any{
			"interval": config.DefaultPollInterval.String(),
			"max_wait": config.DefaultPollMaxWait.String(),
		},
	}

	payload, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("render default config: %w", err)
	}

	return payload, nil
}

// maskSecret hides all but the last few characters of a secret.
func maskSecret(secret string) string {
	if secret == "" {
		return "(unset)"
	}

	if len(secret) <= maskedTailLength {
		return strings.Repeat("*", len(secret))
	}

	return strings.Repeat("*", len(secret)-maskedTailLength) + secret[len(secret)-maskedTailLength:]
}
