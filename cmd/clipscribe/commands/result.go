package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/clipscribe/clipscribe/internal/config"
	"github.com/clipscribe/clipscribe/internal/sessionstore"
)

// ResultCommand holds configuration and dependencies for the result command.
type ResultCommand struct {
	configPath string

	loadConfig configLoader
}

// NewResultCommand creates the result command with its subcommands.
func NewResultCommand() *cobra.Command {
	return newResultCommandWithDeps(config.LoadConfig)
}

func newResultCommandWithDeps(loadConfig configLoader) *cobra.Command {
	rc := &ResultCommand{loadConfig: loadConfig}

	cmd := &cobra.Command{
		Use:   "result",
		Short: "List or print stored transcripts",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored transcripts",
		Args:  cobra.NoArgs,
		RunE:  rc.list,
	}
	listCmd.Flags().StringVarP(&rc.configPath, "config", "c", "", "Config file path (default: .clipscribe.yaml in CWD or $HOME)")

	showCmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Print a stored transcript to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  rc.show,
	}
	showCmd.Flags().StringVarP(&rc.configPath, "config", "c", "", "Config file path (default: .clipscribe.yaml in CWD or $HOME)")

	cmd.AddCommand(listCmd)
	cmd.AddCommand(showCmd)

	return cmd
}

func (rc *ResultCommand) list(cmd *cobra.Command, _ []string) error {
	cfg, err := rc.loadConfig(rc.configPath)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(cfg.Results.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(cmd.OutOrStdout(), "no transcripts stored")

			return nil
		}

		return fmt.Errorf("read results dir: %w", err)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"Job ID", "Size", "Stored"})

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	sort.Strings(names)

	rows := 0

	for _, name := range names {
		jobID, ok := sessionstore.JobIDFromResultName(name)
		if !ok {
			continue
		}

		info, statErr := os.Stat(filepath.Join(cfg.Results.Dir, name))
		if statErr != nil {
			continue
		}

		tw.AppendRow(table.Row{jobID, humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime())})
		rows++
	}

	if rows == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no transcripts stored")

		return nil
	}

	tw.Render()

	return nil
}

func (rc *ResultCommand) show(cmd *cobra.Command, args []string) error {
	cfg, err := rc.loadConfig(rc.configPath)
	if err != nil {
		return err
	}

	payload, err := sessionstore.LoadResult(sessionstore.ResultPath(cfg.Results.Dir, args[0]))
	if err != nil {
		return fmt.Errorf("load transcript for job %s: %w", args[0], err)
	}

	_, err = cmd.OutOrStdout().Write(payload)

	return err
}
