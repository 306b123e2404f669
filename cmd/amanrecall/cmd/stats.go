package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/output"
	"github.com/Aman-CERP/amanrecall/internal/store"
)

// statsOutput is the JSON shape of the stats command.
type statsOutput struct {
	OwnerID string         `json:"owner_id"`
	Records map[string]int `json:"records"`
	Total   int            `json:"total"`
	Backend string         `json:"backend"`
}

func newStatsCmd() *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show how many records a user has per source",
		Example: `  amanrecall stats --owner alice
  amanrecall stats --owner alice --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOwner(owner); err != nil {
				return err
			}

			ctx := cmd.Context()
			eng, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			counts, err := eng.Stats(ctx, owner)
			if err != nil {
				return err
			}

			so := statsOutput{OwnerID: owner, Records: make(map[string]int, len(store.AllSources)), Backend: eng.Config().Store.Backend}
			for _, src := range store.AllSources {
				so.Records[string(src)] = counts[src]
				so.Total += counts[src]
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), so)
			}

			out := output.New(cmd.OutOrStdout())
			out.Header("Records for " + owner)
			for _, src := range store.AllSources {
				out.KeyValue(string(src), so.Records[string(src)])
			}
			out.KeyValue("total", so.Total)
			out.Dim("  backend: " + so.Backend)
			return nil
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "u", "", "Owner (user) id (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
