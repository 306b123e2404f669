package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/config"
	"github.com/Aman-CERP/amanrecall/internal/ingest"
	"github.com/Aman-CERP/amanrecall/internal/output"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

type ingestOptions struct {
	strict    bool
	batchSize int
	delay     time.Duration
	noLock    bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Load history records from a JSONL file",
		Long: `Load history records from a JSONL file (or stdin when no file or "-"
is given). Each line is one record:

  {"source":"turn","owner_id":"alice","conversation_id":"c1","content":"..."}

source is one of turn, fact, entry, summary. turn and summary records need a
conversation_id. Records without an id get one derived from their content,
so re-ingesting the same file updates records instead of duplicating them.

Malformed lines are skipped and counted unless --strict is set.`,
		Example: `  amanrecall ingest history.jsonl
  export-history | amanrecall ingest -
  amanrecall ingest history.jsonl --strict --batch-size 64`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Abort on the first malformed line")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Records embedded and stored per batch (default: embedder batch size)")
	cmd.Flags().DurationVar(&opts.delay, "batch-delay", 0, "Pause between batches to spare a local model")
	cmd.Flags().BoolVar(&opts.noLock, "no-lock", false, "Skip the cross-process ingest lock")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string, opts ingestOptions) error {
	in, closeIn, err := openInput(cmd, args)
	if err != nil {
		return err
	}
	defer closeIn()

	ctx := cmd.Context()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	rc := ingest.RunnerConfig{
		BatchSize:       opts.batchSize,
		Strict:          opts.strict,
		InterBatchDelay: opts.delay,
	}
	if !opts.noLock {
		rc.LockDir = config.DefaultDataDir()
	}

	out := output.New(cmd.OutOrStdout())
	res, err := eng.Ingest(ctx, in, rc)
	if errors.Is(err, ingest.ErrLocked) {
		out.Warning("Another ingest is already running")
		out.Statusf("💡", "Lock directory: %s", rc.LockDir)
		return err
	}
	if err != nil {
		return err
	}

	out.Successf("Ingested %d records in %d batches (%s)", res.Records, res.Batches, res.Duration.Round(time.Millisecond))
	for _, src := range store.AllSources {
		if n := res.BySource[src]; n > 0 {
			out.KeyValue(string(src), n)
		}
	}
	if res.Skipped > 0 {
		out.Warningf("%d malformed lines skipped (see log for details)", res.Skipped)
	}
	return nil
}

// openInput returns the file named by args, or stdin.
func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	return f, func() { _ = f.Close() }, nil
}
