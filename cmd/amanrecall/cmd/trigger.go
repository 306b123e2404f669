package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/output"
	"github.com/Aman-CERP/amanrecall/internal/search"
)

func newTriggerCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "trigger <message>",
		Short: "Check whether a message would start a history search",
		Long: `Check a message against the historical, time and recall phrase patterns.

No model or store is needed.`,
		Example: `  amanrecall trigger "what did we talk about last time?"
  amanrecall trigger "hello there" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := search.Trigger(strings.Join(args, " "))
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), m)
			}

			out := output.New(cmd.OutOrStdout())
			if !m.Triggered {
				out.Status("·", "not triggered")
				return nil
			}
			out.Success(fmt.Sprintf("triggered (%s): %q", m.Kind, m.Phrase))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
