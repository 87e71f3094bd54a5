package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/quantfold/pkg/admission"
	"github.com/quantfold/quantfold/pkg/jobstore"
	"github.com/quantfold/quantfold/pkg/supervisor"
)

var (
	submitJobType string
	submitParams  string
	submitJSON    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a single job",
	Long: `Submit one job through the admission policy chain.

Params are inline JSON or @file:

  quantfold submit --type RUN_BACKTEST --params '{"strategy":"meanrev","timeframe":"1h","season":"2026Q3","dataset":"equities-us"}'
  quantfold submit --type COMPILE_FEATURES --params @features.json

A rejected submission prints every policy result and exits non-zero;
no row is written.`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVarP(&submitJobType, "type", "t", "", "Job type (required)")
	submitCmd.Flags().StringVarP(&submitParams, "params", "p", "", "Job params as JSON or @file")
	submitCmd.Flags().BoolVar(&submitJSON, "json", false, "Output as JSON")
	_ = submitCmd.MarkFlagRequired("type")
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	params, err := parseParams(submitParams)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid params", err)
	}

	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	sup := rt.supervisor(nil)
	job, bundle, err := sup.Submit(ctx, jobstore.JobSpec{
		JobType: jobstore.JobType(strings.ToUpper(strings.TrimSpace(submitJobType))),
		Params:  params,
	})
	if err != nil {
		var admErr *supervisor.AdmissionError
		if errors.As(err, &admErr) {
			printAdmissionBundle(bundle, submitJSON)
			return exitError(foundry.ExitInvalidArgument, "Submission rejected", err)
		}
		logger().Error("submit failed", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Submit failed", err)
	}

	if submitJSON {
		return printJSON(map[string]any{
			"job_id":    job.JobID,
			"state":     job.State,
			"admission": bundle,
		})
	}
	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\nstate=%s\n", job.JobID, job.State)
	return nil
}

func printAdmissionBundle(bundle *admission.Bundle, jsonOutput bool) {
	if bundle == nil {
		return
	}
	if jsonOutput {
		_ = printJSON(bundle)
		return
	}
	for _, res := range bundle.Results {
		status := "pass"
		if !res.Passed {
			status = "FAIL"
		}
		line := fmt.Sprintf("%s\t%s", res.Policy, status)
		if res.Message != "" {
			line += "\t" + res.Message
		}
		_, _ = fmt.Fprintln(os.Stderr, line)
	}
}
