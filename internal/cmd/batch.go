package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/quantfold/pkg/batch"
	"github.com/quantfold/quantfold/pkg/jobstore"
	"github.com/quantfold/quantfold/pkg/supervisor"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Manage job batches",
	Long: `Submit and manage batches of jobs expanded from a template.

A template is a YAML or JSON file describing a job type and a parameter
grid. Each axis is a single value, an enumerated list, or a numeric
range; the batch is the cartesian product. The batch id is derived from
the expanded content, so resubmitting the same grid yields the same id
regardless of axis ordering.`,
}

var (
	batchTemplatePath string
	batchSeason       string
	batchTags         []string
	batchNotes        string
	batchJSON         bool
)

var batchSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Expand a template and submit every job",
	RunE:  runBatchSubmit,
}

var batchEstimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Show how many jobs a template expands to, without submitting",
	RunE:  runBatchEstimate,
}

var batchStatusCmd = &cobra.Command{
	Use:   "status <batch_id>",
	Short: "Show a batch and its member jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchStatus,
}

var batchFreezeCmd = &cobra.Command{
	Use:   "freeze <batch_id>",
	Short: "Freeze a batch (one-way; refuses later identity changes)",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchFreeze,
}

var batchRetryCmd = &cobra.Command{
	Use:   "retry <batch_id>",
	Short: "Resubmit the failed members of a batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchRetry,
}

var batchTagCmd = &cobra.Command{
	Use:   "tag <batch_id> <tag>...",
	Short: "Append tags to a batch (allowed on frozen batches)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runBatchTag,
}

var batchNotesCmd = &cobra.Command{
	Use:   "notes <batch_id> <text>",
	Short: "Set the notes on a batch (allowed on frozen batches)",
	Args:  cobra.ExactArgs(2),
	RunE:  runBatchNotes,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchSubmitCmd)
	batchCmd.AddCommand(batchEstimateCmd)
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchFreezeCmd)
	batchCmd.AddCommand(batchRetryCmd)
	batchCmd.AddCommand(batchTagCmd)
	batchCmd.AddCommand(batchNotesCmd)

	batchSubmitCmd.Flags().StringVarP(&batchTemplatePath, "template", "f", "", "Path to batch template (required)")
	batchSubmitCmd.Flags().StringVar(&batchSeason, "season", "", "Override the template season")
	batchSubmitCmd.Flags().StringSliceVar(&batchTags, "tag", nil, "Tag to attach (repeatable)")
	batchSubmitCmd.Flags().StringVar(&batchNotes, "notes", "", "Notes to attach")
	batchSubmitCmd.Flags().BoolVar(&batchJSON, "json", false, "Output as JSON")
	_ = batchSubmitCmd.MarkFlagRequired("template")

	batchEstimateCmd.Flags().StringVarP(&batchTemplatePath, "template", "f", "", "Path to batch template (required)")
	batchEstimateCmd.Flags().BoolVar(&batchJSON, "json", false, "Output as JSON")
	_ = batchEstimateCmd.MarkFlagRequired("template")

	batchStatusCmd.Flags().BoolVar(&batchJSON, "json", false, "Output as JSON")
	batchRetryCmd.Flags().BoolVar(&batchJSON, "json", false, "Output as JSON")
}

func runBatchSubmit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	tpl, err := batch.LoadTemplate(batchTemplatePath)
	if err != nil {
		logger().Error("failed to load template",
			zap.String("path", batchTemplatePath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid template", err)
	}
	if batchSeason != "" {
		tpl.Season = batchSeason
	}

	specs, err := batch.ExpandTemplate(tpl)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Template expansion failed", err)
	}

	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	tags := append([]string(nil), tpl.Tags...)
	tags = append(tags, batchTags...)

	sup := rt.supervisor(nil)
	result, err := sup.SubmitBatch(ctx, specs, tpl.Season, tags, batchNotes)
	if err != nil {
		var admErr *supervisor.AdmissionError
		if errors.As(err, &admErr) {
			printAdmissionBundle(admErr.Bundle, batchJSON)
			return exitError(foundry.ExitInvalidArgument, "Batch rejected", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Batch submit failed", err)
	}

	if batchJSON {
		return printJSON(result)
	}
	_, _ = fmt.Fprintf(os.Stdout, "batch_id=%s\njobs=%d\n", result.BatchID, len(result.JobIDs))
	return nil
}

func runBatchEstimate(cmd *cobra.Command, _ []string) error {
	tpl, err := batch.LoadTemplate(batchTemplatePath)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid template", err)
	}

	total, err := batch.EstimateTotal(tpl)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Template estimate failed", err)
	}

	if batchJSON {
		return printJSON(map[string]any{
			"job_type": tpl.JobType,
			"total":    total,
		})
	}
	_, _ = fmt.Fprintf(os.Stdout, "total=%d\n", total)
	return nil
}

func runBatchStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	batchID := strings.TrimSpace(args[0])

	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	b, err := rt.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	jobs, err := rt.store.List(ctx, jobstore.Filter{BatchID: batchID})
	if err != nil {
		return err
	}

	if batchJSON {
		return printJSON(map[string]any{"batch": b, "jobs": jobs})
	}

	_, _ = fmt.Fprintf(os.Stdout, "batch_id=%s\n", b.BatchID)
	if b.Season != "" {
		_, _ = fmt.Fprintf(os.Stdout, "season=%s\n", b.Season)
	}
	_, _ = fmt.Fprintf(os.Stdout, "frozen=%t\n", b.Frozen)
	if len(b.Tags) > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "tags=%s\n", strings.Join(b.Tags, ","))
	}
	if b.Notes != "" {
		_, _ = fmt.Fprintf(os.Stdout, "notes=%s\n", b.Notes)
	}

	counts := map[jobstore.JobState]int{}
	for _, j := range jobs {
		counts[j.State]++
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "STATE\tCOUNT")
	for _, state := range []jobstore.JobState{
		jobstore.JobStateQueued, jobstore.JobStateRunning, jobstore.JobStateSucceeded,
		jobstore.JobStateFailed, jobstore.JobStateAborted, jobstore.JobStateKilled,
		jobstore.JobStateOrphaned,
	} {
		if counts[state] > 0 {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", state, counts[state])
		}
	}
	return nil
}

func runBatchFreeze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	batchID := strings.TrimSpace(args[0])
	if err := rt.store.FreezeBatch(ctx, batchID); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "frozen=%s\n", shortBatchID(batchID))
	return nil
}

func runBatchRetry(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	batchID := strings.TrimSpace(args[0])
	jobIDs, err := rt.store.RetryBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, jobstore.ErrBatchFrozen) {
			return exitError(foundry.ExitInvalidArgument, "Batch is frozen", err)
		}
		return err
	}

	if batchJSON {
		return printJSON(map[string]any{"batch_id": batchID, "resubmitted": jobIDs})
	}
	_, _ = fmt.Fprintf(os.Stdout, "resubmitted=%d\n", len(jobIDs))
	return nil
}

func runBatchTag(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	batchID := strings.TrimSpace(args[0])
	if err := rt.store.AppendBatchTags(ctx, batchID, args[1:]...); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "tagged=%s\n", shortBatchID(batchID))
	return nil
}

func runBatchNotes(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	batchID := strings.TrimSpace(args[0])
	if err := rt.store.UpdateBatchNotes(ctx, batchID, args[1]); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "updated=%s\n", shortBatchID(batchID))
	return nil
}
