package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/timmy/timecapsule/internal/domain"
	"github.com/timmy/timecapsule/internal/service"
	"github.com/timmy/timecapsule/internal/storage"
	"gorm.io/gorm"
)

var (
	runsLimit   string
	deleteForce bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect generation runs",
	Long: `Inspect and remove generation runs.

Examples:
  capsule runs list
  capsule runs list --limit 24
  capsule runs show 0b1d7c8e-6f6a-4a57-9a43-2f0f3f7f1c11
  capsule runs retry 0b1d7c8e-6f6a-4a57-9a43-2f0f3f7f1c11
  capsule runs delete 0b1d7c8e-6f6a-4a57-9a43-2f0f3f7f1c11 --force`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsRetryCmd = &cobra.Command{
	Use:   "retry <run-id>",
	Short: "Generate again from a run's stored portrait as a new run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsRetry,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run, its outputs and its stored images",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	runsListCmd.Flags().StringVarP(&runsLimit, "limit", "n", "", "max results (default 6, at most 24)")
	runsDeleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsRetryCmd)
	runsCmd.AddCommand(runsDeleteCmd)
}

// readOnlyService builds a GenerationService that can read but not submit.
func readOnlyService() (*service.GenerationService, storage.ObjectStorage, error) {
	objectStorage, err := openStorage()
	if err != nil {
		return nil, nil, err
	}
	return service.NewGenerationService(ledger, objectStorage, nil, nil), objectStorage, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	svc, _, err := readOnlyService()
	if err != nil {
		return err
	}

	summaries, count, err := svc.ListRuns(context.Background(), service.ClampListLimit(runsLimit))
	if err != nil {
		return err
	}

	printSummaries(cmd.OutOrStdout(), summaries, count)
	return nil
}

func printSummaries(w io.Writer, summaries []service.RunSummary, count int64) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No generation runs found.")
		return
	}

	fmt.Fprintf(w, "Runs (%d of %d):\n\n", len(summaries), count)
	for _, s := range summaries {
		fmt.Fprintf(w, "- %s [%s] %d/%d  %s\n",
			s.ID, s.Status, s.CompletedImages, domain.DecadeCount,
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if verbose {
			for _, o := range s.Outputs {
				url := "-"
				if o.PublicURL != nil {
					url = *o.PublicURL
				}
				fmt.Fprintf(w, "    %s %-9s %s\n", o.Decade, o.Status, url)
			}
		}
	}
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	svc, _, err := readOnlyService()
	if err != nil {
		return err
	}

	view, err := svc.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func runRunsRetry(cmd *cobra.Command, args []string) error {
	svc, stopPipeline, err := startPipeline()
	if err != nil {
		return err
	}
	defer stopPipeline()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID, err := svc.Resubmit(ctx, args[0])
	if err != nil {
		return err
	}
	return followRun(ctx, svc, runID, cmd.OutOrStdout())
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	_, objectStorage, err := readOnlyService()
	if err != nil {
		return err
	}

	run, err := ledger.GetRun(ctx, args[0])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("run not found: %s", args[0])
	} else if err != nil {
		return fmt.Errorf("get run: %w", err)
	}

	if !deleteForce {
		fmt.Fprintf(out, "About to delete run %s [%s] created %s\n", run.ID, run.Status, run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprint(out, "\nContinue? [y/N]: ")

		response, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := ledger.DeleteRun(ctx, run.ID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}

	removed := removeRunObjects(ctx, objectStorage, run)
	fmt.Fprintf(out, "Deleted run %s (%d stored images removed).\n", run.ID, removed)
	return nil
}

// removeRunObjects deletes the input and every generated image of run.
// Missing objects are not an error; it returns how many were removed.
func removeRunObjects(ctx context.Context, objectStorage storage.ObjectStorage, run *domain.GenerationRun) int {
	paths := []string{run.InputImagePath}
	for _, o := range run.Outputs {
		if o.ImagePath != nil {
			paths = append(paths, *o.ImagePath)
		}
	}

	removed := 0
	for _, p := range paths {
		exists, err := objectStorage.Exists(ctx, p)
		if err != nil || !exists {
			continue
		}
		if err := objectStorage.Delete(ctx, p); err != nil {
			appLogger.WithError(err).Warnf("Failed to delete stored image: path=%s", p)
			continue
		}
		removed++
	}
	return removed
}
