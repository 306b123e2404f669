package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/output"
	"github.com/Aman-CERP/amanrecall/pkg/recall"
)

func newAskCmd() *cobra.Command {
	var (
		opts  searchOptions
		force bool
	)

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Answer a message, consulting history when it refers to the past",
		Long: `Answer a message the way an assistant would.

When the message refers to the past ("last week", "remember when",
"a few days ago") a recursive search gathers the relevant history first
and the answer is grounded on it. Use --force to search regardless.

Examples:
  amanrecall ask "what did I say about the trip last time?" --owner alice
  amanrecall ask "summarize my week" --owner alice --force`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runAsk(cmd, strings.Join(args, " "), opts, force)
			return reportJSONError(cmd.OutOrStdout(), opts.format, err)
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "Search history even if the message does not refer to the past")

	return cmd
}

func runAsk(cmd *cobra.Command, message string, opts searchOptions, force bool) error {
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

	answer, err := recall.NewAssistant(eng).Answer(ctx, recall.AskRequest{
		Message:        message,
		OwnerID:        opts.owner,
		ConversationID: opts.conversation,
		Force:          force,
		Search:         &sc,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return writeJSON(cmd.OutOrStdout(), answer)
	}

	out := output.New(cmd.OutOrStdout())
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), answer.Text)
	out.Newline()
	switch {
	case answer.Search != nil:
		out.Dim(fmt.Sprintf("grounded on %d chunks after %d rounds (%s)",
			len(answer.Search.Context), answer.Search.Iterations, answer.Search.Termination))
	default:
		out.Dim("no history consulted")
	}
	return nil
}
