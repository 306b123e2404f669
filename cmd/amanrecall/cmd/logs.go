package cmd

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/logging"
	"github.com/Aman-CERP/amanrecall/internal/output"
)

func newLogsCmd() *cobra.Command {
	var (
		follow   bool
		lines    int
		level    string
		filter   string
		searchID string
		file     string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View amanrecall logs",
		Long: `Print the structured log written by the other commands and by serve.

Lines can be narrowed by level, by a regular expression over the raw
line, or to the rounds of a single recursive search.`,
		Example: `  amanrecall logs
  amanrecall logs -f --level warn
  amanrecall logs --search 3f2a9c1e
  amanrecall logs --filter "source_failed|evaluator"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := file
			if path == "" {
				path = logFile
			}
			if path == "" {
				path = logging.DefaultLogPath()
			}

			cfg := logging.ViewerConfig{
				Level:    level,
				SearchID: searchID,
				NoColor:  !output.ShouldColor(cmd.OutOrStdout()),
			}
			if filter != "" {
				re, err := regexp.Compile(filter)
				if err != nil {
					return rerrors.ValidationError(fmt.Sprintf("invalid --filter %q", filter), err)
				}
				cfg.Pattern = re
			}

			viewer := logging.NewViewer(cfg, cmd.OutOrStdout())
			entries, err := viewer.Tail(path, lines)
			if err != nil {
				return rerrors.New(rerrors.ErrCodeFileNotFound, "cannot read log file "+path, err).
					WithSuggestion("run a command first, or pass --file")
			}
			viewer.Print(entries)

			if !follow {
				return nil
			}
			ch := make(chan logging.LogEntry, 64)
			errCh := make(chan error, 1)
			go func() {
				errCh <- viewer.Follow(cmd.Context(), path, ch)
				close(ch)
			}()
			for entry := range ch {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), viewer.FormatEntry(entry))
			}
			return <-errCh
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level to show (debug, info, warn, error)")
	cmd.Flags().StringVar(&filter, "filter", "", "Regular expression the raw line must match")
	cmd.Flags().StringVar(&searchID, "search", "", "Only lines of the search whose id starts with this")
	cmd.Flags().StringVar(&file, "file", "", "Log file to read (default: --log-file)")

	return cmd
}
