package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/quantfold/quantfold/pkg/jobstore"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control jobs",
	Long: `Inspect and control job records.

This command group is designed to be agent-friendly:

- stable job ids (unique prefixes accepted everywhere)
- predictable on-disk audit log locations
- optional JSON output for machine parsing`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsAbortCmd = &cobra.Command{
	Use:   "abort <job_id>",
	Short: "Request cooperative abort of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsAbort,
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <job_id>",
	Short: "Request pause; the job holds at its next checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsPause,
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job_id>",
	Short: "Clear a pause request",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsResume,
}

var jobsKillCmd = &cobra.Command{
	Use:   "kill <job_id>",
	Short: "Forcibly stop a running job's process",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsKill,
}

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Show the audit log for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLogs,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old terminal job rows and their audit logs",
	RunE:  runJobsGC,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsAbortCmd)
	jobsCmd.AddCommand(jobsPauseCmd)
	jobsCmd.AddCommand(jobsResumeCmd)
	jobsCmd.AddCommand(jobsKillCmd)
	jobsCmd.AddCommand(jobsLogsCmd)
	jobsCmd.AddCommand(jobsGCCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().StringSlice("state", nil, "Filter by state (repeatable)")
	jobsListCmd.Flags().String("type", "", "Filter by exact job type")
	jobsListCmd.Flags().String("type-glob", "", "Filter by job type glob (e.g. 'RUN_*')")
	jobsListCmd.Flags().String("batch", "", "Filter by batch id")
	jobsListCmd.Flags().Int("limit", 0, "Limit results (0 = all)")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsGCCmd.Flags().String("max-age", "168h", "Delete terminal jobs older than this duration")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show how many jobs would be deleted")
	jobsGCCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	filter := jobstore.Filter{}
	states, _ := cmd.Flags().GetStringSlice("state")
	for _, s := range states {
		state := jobstore.JobState(strings.ToUpper(strings.TrimSpace(s)))
		if !state.Valid() {
			return exitError(foundry.ExitInvalidArgument, "Unknown state", fmt.Errorf("unknown state: %s", s))
		}
		filter.States = append(filter.States, state)
	}
	jobType, _ := cmd.Flags().GetString("type")
	filter.JobType = jobstore.JobType(strings.ToUpper(strings.TrimSpace(jobType)))
	filter.TypeGlob, _ = cmd.Flags().GetString("type-glob")
	filter.BatchID, _ = cmd.Flags().GetString("batch")
	filter.Limit, _ = cmd.Flags().GetInt("limit")

	jobs, err := rt.store.List(ctx, filter)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	if jsonOutput {
		return printJSON(jobs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tTYPE\tSTATE\tPROGRESS\tBATCH\tCREATED\tENDED")
	for _, j := range jobs {
		progress := "-"
		if j.State == jobstore.JobStateRunning && j.Progress > 0 {
			progress = fmt.Sprintf("%.0f%%", j.Progress*100)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortJobID(j.JobID),
			j.JobType,
			j.State,
			progress,
			shortBatchID(j.BatchID),
			j.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(j.EndedAt),
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	jobID, err := resolveJobID(ctx, rt.store, args[0])
	if err != nil {
		return err
	}
	job, err := rt.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(job)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", job.JobID)
	_, _ = fmt.Fprintf(os.Stdout, "job_type=%s\n", job.JobType)
	_, _ = fmt.Fprintf(os.Stdout, "state=%s\n", job.State)
	if job.BatchID != "" {
		_, _ = fmt.Fprintf(os.Stdout, "batch_id=%s\n", job.BatchID)
	}
	if job.AbortRequested {
		_, _ = fmt.Fprintln(os.Stdout, "abort_requested=true")
	}
	if job.PauseRequested {
		_, _ = fmt.Fprintln(os.Stdout, "pause_requested=true")
	}
	if job.WorkerID != "" {
		_, _ = fmt.Fprintf(os.Stdout, "worker_id=%s\n", job.WorkerID)
	}
	if job.PID > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "pid=%d\n", job.PID)
	}
	if job.Phase != "" {
		_, _ = fmt.Fprintf(os.Stdout, "phase=%s\n", job.Phase)
	}
	if job.Progress > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "progress=%.2f\n", job.Progress)
	}
	if job.ResultRef != "" {
		_, _ = fmt.Fprintf(os.Stdout, "result_ref=%s\n", job.ResultRef)
	}
	if job.Error != "" {
		_, _ = fmt.Fprintf(os.Stdout, "error=%s\n", job.Error)
	}
	if job.HeartbeatAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "heartbeat_at=%s\n", job.HeartbeatAt.UTC().Format(time.RFC3339))
	}
	if job.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", job.StartedAt.UTC().Format(time.RFC3339))
	}
	if job.EndedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "ended_at=%s\n", job.EndedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func runJobsAbort(cmd *cobra.Command, args []string) error {
	return withResolvedJob(cmd, args[0], func(rt *runtime, jobID string) error {
		if err := rt.store.RequestAbort(cmd.Context(), jobID); err != nil {
			return err
		}
		_ = rt.audit.Append(jobID, "abort_requested", "")
		_, _ = fmt.Fprintf(os.Stdout, "abort_requested=%s\n", shortJobID(jobID))
		return nil
	})
}

func runJobsPause(cmd *cobra.Command, args []string) error {
	return withResolvedJob(cmd, args[0], func(rt *runtime, jobID string) error {
		if err := rt.store.RequestPause(cmd.Context(), jobID); err != nil {
			return err
		}
		_ = rt.audit.Append(jobID, "pause_requested", "")
		_, _ = fmt.Fprintf(os.Stdout, "pause_requested=%s\n", shortJobID(jobID))
		return nil
	})
}

func runJobsResume(cmd *cobra.Command, args []string) error {
	return withResolvedJob(cmd, args[0], func(rt *runtime, jobID string) error {
		if err := rt.store.RequestResume(cmd.Context(), jobID); err != nil {
			return err
		}
		_ = rt.audit.Append(jobID, "resumed", "")
		_, _ = fmt.Fprintf(os.Stdout, "resumed=%s\n", shortJobID(jobID))
		return nil
	})
}

func runJobsKill(cmd *cobra.Command, args []string) error {
	return withResolvedJob(cmd, args[0], func(rt *runtime, jobID string) error {
		sup := rt.supervisor(nil)
		if err := sup.Kill(cmd.Context(), jobID); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "killed=%s\n", shortJobID(jobID))
		return nil
	})
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	return withResolvedJob(cmd, args[0], func(rt *runtime, jobID string) error {
		content, err := rt.audit.Read(jobID)
		if err != nil {
			if os.IsNotExist(err) {
				_, _ = fmt.Fprintln(os.Stdout, "No audit log for job")
				return nil
			}
			return err
		}
		_, _ = fmt.Fprint(os.Stdout, content)
		return nil
	})
}

type jobsGCResult struct {
	Deleted      int    `json:"deleted"`
	WouldDelete  int    `json:"would_delete"`
	DryRun       bool   `json:"dry_run"`
	MaxAgeString string `json:"max_age"`
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	maxAgeStr = strings.TrimSpace(maxAgeStr)
	if maxAgeStr == "" {
		maxAgeStr = "168h"
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return fmt.Errorf("invalid --max-age: %w", err)
	}
	if maxAge <= 0 {
		return fmt.Errorf("--max-age must be > 0")
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	pruned, err := rt.store.PruneTerminal(ctx, maxAge, dryRun)
	if err != nil {
		return err
	}
	if !dryRun {
		for _, jobID := range pruned {
			if err := rt.audit.Remove(jobID); err != nil {
				return fmt.Errorf("remove audit log: %w", err)
			}
		}
	}

	if jsonOutput {
		res := jobsGCResult{DryRun: dryRun, MaxAgeString: maxAgeStr}
		if dryRun {
			res.WouldDelete = len(pruned)
		} else {
			res.Deleted = len(pruned)
		}
		return printJSON(res)
	}

	if dryRun {
		_, _ = fmt.Fprintf(os.Stdout, "would_delete=%d\n", len(pruned))
		return nil
	}
	_, _ = fmt.Fprintf(os.Stdout, "deleted=%d\n", len(pruned))
	return nil
}

// withResolvedJob opens the runtime, resolves a job id prefix, and runs fn.
func withResolvedJob(cmd *cobra.Command, rawID string, fn func(rt *runtime, jobID string) error) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	jobID, err := resolveJobID(ctx, rt.store, rawID)
	if err != nil {
		return err
	}
	return fn(rt, jobID)
}
