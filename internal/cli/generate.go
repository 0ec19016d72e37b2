package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"github.com/timmy/timecapsule/internal/domain"
	"github.com/timmy/timecapsule/internal/service"
)

const pollInterval = 500 * time.Millisecond

var generateCmd = &cobra.Command{
	Use:   "generate <image>",
	Short: "Run a local portrait through every decade",
	Long: `Submit a local image exactly as the API would and wait for the run to
finish, printing each progress message as it changes.

Examples:
  capsule generate ./me.jpg
  capsule generate ./me.png -v`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	svc, stopPipeline, err := startPipeline()
	if err != nil {
		return err
	}
	defer stopPipeline()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID, err := svc.Submit(ctx, &service.SubmitInput{
		Filename:    filepath.Base(args[0]),
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
	})
	if err != nil {
		return err
	}

	return followRun(ctx, svc, runID, cmd.OutOrStdout())
}

// startPipeline wires a single-worker generation pipeline against the
// configured ledger, storage and model. The returned func drains it.
func startPipeline() (*service.GenerationService, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	objectStorage, err := openStorage()
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	generator, err := service.NewGeminiGenerator(&service.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		BaseURL: cfg.Gemini.BaseURL,
		Timeout: cfg.Gemini.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}

	dispatcher := service.NewDispatcher(
		service.NewOrchestrator(ledger, objectStorage, generator),
		service.DispatcherConfig{Workers: 1, QueueSize: 1},
	)
	dispatcher.Start()

	svc := service.NewGenerationService(ledger, objectStorage, dispatcher, &service.GenerationConfig{
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
	})
	stop := func() {
		if err := dispatcher.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
			appLogger.WithError(err).Warn("Generation did not stop cleanly")
		}
	}
	return svc, stop, nil
}

// followRun prints progress until runID is terminal.
func followRun(ctx context.Context, svc runGetter, runID string, out io.Writer) error {
	fmt.Fprintf(out, "Run %s submitted.\n", runID)

	view, err := waitForRun(ctx, svc, runID, pollInterval, out)
	if err != nil {
		return err
	}
	printRunResult(out, view)
	if view.Status == domain.RunStatusFailed {
		return fmt.Errorf("generation failed")
	}
	return nil
}

// runGetter is the slice of GenerationService that polling needs.
type runGetter interface {
	GetRun(ctx context.Context, id string) (*service.RunView, error)
}

// waitForRun polls a run until it is terminal, writing each new progress
// message to w.
func waitForRun(ctx context.Context, runs runGetter, runID string, interval time.Duration, w io.Writer) (*service.RunView, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastMessage := ""
	for {
		view, err := runs.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if view.LastProgressMessage != "" && view.LastProgressMessage != lastMessage {
			lastMessage = view.LastProgressMessage
			fmt.Fprintf(w, "[%d/%d] %s\n", view.CompletedImages, domain.DecadeCount, lastMessage)
		}
		if view.Status.IsTerminal() {
			return view, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printRunResult(w io.Writer, view *service.RunView) {
	fmt.Fprintf(w, "\nRun %s %s.\n", view.ID, view.Status)
	if view.ErrorMessage != nil {
		fmt.Fprintf(w, "  %s\n", *view.ErrorMessage)
	}
	for _, o := range view.Outputs {
		switch {
		case o.PublicURL != nil:
			fmt.Fprintf(w, "  %s  %s\n", o.Decade, *o.PublicURL)
		default:
			fmt.Fprintf(w, "  %s  %s\n", o.Decade, o.Status)
		}
	}
}
