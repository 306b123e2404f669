package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/output"
	"github.com/Aman-CERP/amanrecall/internal/search"
)

// searchOptions holds CLI flags shared by search and ask.
type searchOptions struct {
	owner         string
	conversation  string
	scope         string
	maxDepth      int
	maxChunks     int
	minSimilarity float64
	format        string // "text", "json"
}

func (o *searchOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.owner, "owner", "u", "", "Owner (user) id whose history is searched (required)")
	cmd.Flags().StringVarP(&o.conversation, "conversation", "c", "", "Conversation id (required with --scope conversation)")
	cmd.Flags().StringVarP(&o.scope, "scope", "s", "", "Search scope: conversation, user, all")
	cmd.Flags().IntVarP(&o.maxDepth, "max-depth", "d", 0, "Maximum retrieval rounds")
	cmd.Flags().IntVarP(&o.maxChunks, "max-chunks", "n", 0, "Maximum chunks in the final context")
	cmd.Flags().Float64Var(&o.minSimilarity, "min-similarity", 0, "Similarity floor for inclusion")
	cmd.Flags().StringVarP(&o.format, "format", "f", "text", "Output format: text, json")
}

// apply overrides defaults with the flags that were set explicitly.
func (o *searchOptions) apply(cmd *cobra.Command, defaults search.Config) (search.Config, error) {
	sc := defaults
	flags := cmd.Flags()
	if flags.Changed("scope") {
		scope, err := search.ParseScope(o.scope)
		if err != nil {
			return sc, err
		}
		sc.Scope = scope
	}
	if flags.Changed("max-depth") {
		sc.MaxDepth = o.maxDepth
	}
	if flags.Changed("max-chunks") {
		sc.MaxChunks = o.maxChunks
	}
	if flags.Changed("min-similarity") {
		sc.MinSimilarity = o.minSimilarity
	}
	return sc, nil
}

func validateFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("unknown format %q (supported: text, json)", format)
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Recursively search a user's history",
		Long: `Search a user's history recursively.

Each round embeds the queries, searches every source in parallel, and asks
the reasoning model whether the collected context answers the query. When
it does not, the model's follow-up queries drive the next round.

Examples:
  amanrecall search "what pizza did I order last week" --owner alice
  amanrecall search "the trip plan" --owner alice --scope conversation --conversation c-42
  amanrecall search "my sister's birthday" --owner alice --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runSearch(cmd, strings.Join(args, " "), opts)
			return reportJSONError(cmd.OutOrStdout(), opts.format, err)
		},
	}

	opts.register(cmd)

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	if err := requireOwner(opts.owner); err != nil {
		return err
	}
	if err := validateFormat(opts.format); err != nil {
		return err
	}

	ctx := cmd.Context()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	sc, err := opts.apply(cmd, eng.Defaults())
	if err != nil {
		return err
	}

	slog.Info("cli_search_started", slog.String("owner_id", opts.owner), slog.String("scope", string(sc.Scope)))
	res, err := eng.SearchRecursively(ctx, query, opts.owner, opts.conversation, &sc)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	formatSearchText(output.New(cmd.OutOrStdout()), res)
	return nil
}

// formatSearchText prints a result summary followed by the ranked chunks.
func formatSearchText(out *output.Writer, res *search.Result) {
	out.Header(fmt.Sprintf("Memory for %q", res.Query))
	out.KeyValue("search id", res.SearchID)
	out.KeyValue("rounds", res.Iterations)
	out.KeyValue("termination", res.Termination)
	out.KeyValue("sufficient", res.Sufficient)
	out.KeyValue("tokens", res.TotalTokens)
	if res.Reasoning != "" {
		out.KeyValue("reasoning", res.Reasoning)
	}
	for i, qs := range res.SearchQueries {
		out.Dim(fmt.Sprintf("  round %d: %s", i+1, strings.Join(qs, " | ")))
	}
	out.Newline()

	if len(res.Context) == 0 {
		out.Warning("No relevant history found")
		return
	}
	for i, c := range res.Context {
		tag := out.Accent(fmt.Sprintf("[%s %.2f]", c.Source, c.Similarity))
		out.Statusf(fmt.Sprintf("%2d.", i+1), "%s %s", tag, snippet(c.Content, 160))
	}
}

// snippet collapses whitespace and truncates to n runes.
func snippet(content string, n int) string {
	s := strings.Join(strings.Fields(content), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportJSONError also writes err to w as a JSON object when JSON output
// was requested. The human-readable form still goes to stderr.
func reportJSONError(w io.Writer, format string, err error) error {
	if err == nil || format != "json" {
		return err
	}
	if data, ferr := rerrors.FormatJSON(err); ferr == nil {
		_, _ = fmt.Fprintln(w, string(data))
	}
	return err
}
