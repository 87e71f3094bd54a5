package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/quantfold/quantfold/pkg/jobstore"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Manage registered datasets",
	Long: `Manage the dataset registry.

A dataset must be registered with a content fingerprint before jobs
referencing it are admissible. Jobs pointing at an unregistered or
unfingerprinted dataset are rejected at submission.`,
}

var datasetsRegisterCmd = &cobra.Command{
	Use:   "register <name> <fingerprint>",
	Short: "Register a dataset with its content fingerprint",
	Args:  cobra.ExactArgs(2),
	RunE:  runDatasetsRegister,
}

var datasetsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a registered dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetsShow,
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
	datasetsCmd.AddCommand(datasetsRegisterCmd)
	datasetsCmd.AddCommand(datasetsShowCmd)
	datasetsShowCmd.Flags().Bool("json", false, "Output as JSON")
}

func runDatasetsRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	name := strings.TrimSpace(args[0])
	fingerprint := strings.TrimSpace(args[1])
	if name == "" || fingerprint == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid dataset",
			fmt.Errorf("name and fingerprint are required"))
	}

	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	if err := rt.store.RegisterDataset(ctx, name, fingerprint); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "registered=%s\n", name)
	return nil
}

func runDatasetsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := openRuntime(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Store unavailable", err)
	}
	defer rt.Close()

	ds, err := rt.store.GetDataset(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		if errors.Is(err, jobstore.ErrDatasetNotFound) {
			return exitError(foundry.ExitFileNotFound, "Dataset not found", err)
		}
		return err
	}

	if jsonOutput {
		return printJSON(ds)
	}
	_, _ = fmt.Fprintf(os.Stdout, "name=%s\nfingerprint=%s\nregistered_at=%s\n",
		ds.Name, ds.Fingerprint, ds.RegisteredAt.UTC().Format(time.RFC3339))
	return nil
}
