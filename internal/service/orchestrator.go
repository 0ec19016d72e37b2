package service

import (
	"bytes"
	"context"
	"fmt"

	"github.com/timmy/timecapsule/internal/domain"
	"github.com/timmy/timecapsule/internal/logger"
	"github.com/timmy/timecapsule/internal/storage"
)

// RunLedger is the persistence the generation pipeline needs.
// repository.GenerationRepository implements it.
type RunLedger interface {
	CreateRunWithOutputs(ctx context.Context, run *domain.GenerationRun, outputs []domain.GenerationOutput) error
	GetRun(ctx context.Context, id string) (*domain.GenerationRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]domain.GenerationRun, error)
	CountRuns(ctx context.Context) (int64, error)
	UpdateRun(ctx context.Context, id string, updates map[string]interface{}) error
	SetRunThumbnail(ctx context.Context, id, path string) (bool, error)
	UpdateOutput(ctx context.Context, runID string, decade domain.Decade, updates map[string]interface{}) error
}

// GenerationJob carries everything the orchestrator needs for one run.
type GenerationJob struct {
	RunID     string
	BaseImage []byte
	MimeType  string
}

// Orchestrator drives a run through every decade in order, one model call
// at a time, recording progress in the ledger after each step.
type Orchestrator struct {
	ledger    RunLedger
	storage   storage.ObjectStorage
	generator PortraitGenerator
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(ledger RunLedger, objectStorage storage.ObjectStorage, generator PortraitGenerator) *Orchestrator {
	return &Orchestrator{
		ledger:    ledger,
		storage:   objectStorage,
		generator: generator,
	}
}

// Run executes the job to a terminal state. The first decade failure stops
// the run and leaves later decades pending. The returned error is already
// recorded in the ledger and logged; callers only need it for bookkeeping.
func (o *Orchestrator) Run(ctx context.Context, job GenerationJob) (err error) {
	ctx = logger.SetRunID(ctx, job.RunID)
	ctx = logger.SetComponent(ctx, "orchestrator")

	defer func() {
		if r := recover(); r != nil {
			err = o.failBackground(ctx, job.RunID, fmt.Errorf("panic: %v", r))
		}
	}()

	decades := domain.Decades()
	for i, decade := range decades {
		dctx := logger.SetDecade(ctx, string(decade))

		if err := o.ledger.UpdateRun(dctx, job.RunID, map[string]interface{}{
			"status":                domain.RunStatusProcessing,
			"last_progress_message": domain.ProgressMessage(i),
		}); err != nil {
			return o.failBackground(dctx, job.RunID, err)
		}

		path, err := o.generateDecade(dctx, job, decade)
		if err != nil {
			return o.failDecade(dctx, job.RunID, decade, err)
		}

		if err := o.ledger.UpdateOutput(dctx, job.RunID, decade, map[string]interface{}{
			"status":        domain.OutputStatusCompleted,
			"image_path":    path,
			"error_message": nil,
		}); err != nil {
			return o.failBackground(dctx, job.RunID, err)
		}

		// The first decade provides the thumbnail. It is written before the
		// run row so the final status update is the last write of a run.
		if i == 0 {
			if _, err := o.ledger.SetRunThumbnail(dctx, job.RunID, path); err != nil {
				return o.failBackground(dctx, job.RunID, err)
			}
		}

		status, message := domain.RunStatusProcessing, domain.ProgressMessage(i+1)
		if i == len(decades)-1 {
			status, message = domain.RunStatusCompleted, domain.FinalProgressMessage()
		}
		if err := o.ledger.UpdateRun(dctx, job.RunID, map[string]interface{}{
			"status":                status,
			"completed_images":      i + 1,
			"last_progress_message": message,
		}); err != nil {
			return o.failBackground(dctx, job.RunID, err)
		}
	}

	logger.With(logger.Fields{logger.FieldCount: len(decades)}).Info(ctx, "Generation run completed")
	return nil
}

// generateDecade calls the model and stores the result, returning its path.
func (o *Orchestrator) generateDecade(ctx context.Context, job GenerationJob, decade domain.Decade) (string, error) {
	img, err := o.generator.Generate(ctx, GenerateRequest{
		BaseImage: job.BaseImage,
		MimeType:  job.MimeType,
		Decade:    decade,
	})
	if err != nil {
		return "", err
	}
	if len(img.Data) == 0 {
		return "", ErrNoImageInResponse
	}

	contentType := img.MimeType
	if contentType == "" {
		contentType = "image/png"
	}

	path := domain.OutputImagePath(job.RunID, decade)
	if err := o.storage.Upload(ctx, path, bytes.NewReader(img.Data), int64(len(img.Data)), contentType); err != nil {
		return "", err
	}

	logger.With(logger.Fields{}).WithSize(len(img.Data)).Info(ctx, "Decade portrait stored: path=%s", path)
	return path, nil
}

// failDecade records a decade failure on the output and the run.
func (o *Orchestrator) failDecade(ctx context.Context, runID string, decade domain.Decade, cause error) error {
	errorID := NewErrorID("generation", string(decade))
	logger.FromContext(ctx).WithErrorID(errorID).WithError(cause).Error("Decade generation failed")

	// The run context may already be cancelled by a shutdown deadline.
	writeCtx := context.WithoutCancel(ctx)

	if err := o.ledger.UpdateOutput(writeCtx, runID, decade, map[string]interface{}{
		"status":        domain.OutputStatusFailed,
		"error_message": fmt.Sprintf("Generation failed. errorId=%s", errorID),
	}); err != nil {
		logger.FromContext(ctx).WithErrorID(errorID).WithError(err).Error("Failed to record output failure")
	}

	if err := o.ledger.UpdateRun(writeCtx, runID, map[string]interface{}{
		"status":                domain.RunStatusFailed,
		"error_message":         fmt.Sprintf("Generation failed for %s. errorId=%s", decade, errorID),
		"last_progress_message": domain.StoppedProgressMessage(decade),
	}); err != nil {
		logger.FromContext(ctx).WithErrorID(errorID).WithError(err).Error("Failed to record run failure")
	}

	return &Error{
		Kind:    KindDependency,
		Message: fmt.Sprintf("Generation failed for %s.", decade),
		ErrorID: errorID,
		Err:     cause,
	}
}

// Abandon records a queued job that will never start, such as one still
// waiting when the dispatcher shuts down.
func (o *Orchestrator) Abandon(ctx context.Context, job GenerationJob, cause error) {
	ctx = logger.SetRunID(ctx, job.RunID)
	_ = o.failBackground(ctx, job.RunID, cause)
}

// failBackground records a failure outside the model and storage calls.
func (o *Orchestrator) failBackground(ctx context.Context, runID string, cause error) error {
	errorID := NewErrorID("generation", "async")
	logger.FromContext(ctx).WithErrorID(errorID).WithError(cause).Error("Unexpected background failure")

	if err := o.ledger.UpdateRun(context.WithoutCancel(ctx), runID, map[string]interface{}{
		"status":        domain.RunStatusFailed,
		"error_message": fmt.Sprintf("Unexpected background failure. errorId=%s", errorID),
	}); err != nil {
		logger.FromContext(ctx).WithErrorID(errorID).WithError(err).Error("Failed to record run failure")
	}

	return &Error{
		Kind:    KindUnexpected,
		Message: "Unexpected background failure.",
		ErrorID: errorID,
		Err:     cause,
	}
}
