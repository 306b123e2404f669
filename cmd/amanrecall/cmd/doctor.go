package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/config"
	"github.com/Aman-CERP/amanrecall/internal/output"
	"github.com/Aman-CERP/amanrecall/internal/preflight"
)

// errChecksFailed makes doctor exit non-zero after printing its report.
var errChecksFailed = errors.New("system check failed")

// doctorReport is the JSON shape of the doctor command.
type doctorReport struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd() *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the configured providers and store are usable",
		Long: `Run the preflight checks: free disk space and write access in the data
directory, a store query, a probe embedding, a probe completion from the
reasoning model, and (for Ollama) that the configured models are pulled.

Exits non-zero when a required check fails.`,
		Example: `  amanrecall doctor
  amanrecall doctor --verbose
  amanrecall doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, jsonOutput, verbose)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for every check")

	return cmd
}

func runDoctor(cmd *cobra.Command, jsonOutput, verbose bool) error {
	ctx := cmd.Context()

	var results []preflight.CheckResult
	eng, err := openEngine(ctx)
	if err != nil {
		// Still report the filesystem checks when the engine cannot start.
		results = preflight.New(preflight.Dependencies{}).RunAll(ctx, config.DefaultDataDir())
		results = append(results, preflight.CheckResult{
			Name:     "engine",
			Status:   preflight.StatusFail,
			Message:  "cannot build engine from configuration",
			Details:  strings.TrimSpace(err.Error()),
			Required: true,
		})
	} else {
		defer func() { _ = eng.Close() }()
		results = eng.Check(ctx, config.DefaultDataDir())
	}

	checker := preflight.New(preflight.Dependencies{})
	report := doctorReport{Status: checker.SummaryStatus(results), Checks: results}

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printDoctorReport(output.New(cmd.OutOrStdout()), report, verbose || eng == nil)
	}

	if checker.HasCriticalFailures(results) {
		return errChecksFailed
	}
	return nil
}

func printDoctorReport(out *output.Writer, report doctorReport, verbose bool) {
	out.Header("amanrecall system check")
	out.Newline()
	for _, r := range report.Checks {
		line := fmt.Sprintf("%s: %s", r.Name, r.Message)
		switch r.Status {
		case preflight.StatusPass:
			out.Success(line)
		case preflight.StatusWarn:
			out.Warning(line)
		default:
			if r.Required {
				out.Error(line)
			} else {
				out.Warning(line)
			}
		}
		if r.Details != "" && (verbose || r.Status != preflight.StatusPass) {
			out.Status("", r.Details)
		}
	}
	out.Newline()
	out.Statusf("📋", "Status: %s", strings.ToUpper(report.Status))
}
