package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/timmy/timecapsule/internal/domain"
	"github.com/timmy/timecapsule/internal/logger"
	"github.com/timmy/timecapsule/internal/storage"
	"gorm.io/gorm"
)

const (
	scopeGenerations = "api/generations"
	scopeGeneration  = "api/generation"
	scopeRetry       = "generation/retry"
)

// Client-facing messages.
const (
	MsgNoPortrait       = "No portrait file was provided."
	MsgNotAnImage       = "Only image files are supported."
	MsgEmptyPortrait    = "The portrait file is empty."
	MsgPortraitTooLarge = "The portrait file is too large."
	MsgUploadFailed     = "Failed to upload to storage."
	MsgCreateRunFailed  = "Failed to create generation run."
	MsgScheduleFailed   = "Failed to schedule the generation."
	MsgRunNotFound      = "Generation run not found."
	MsgLoadRunFailed    = "Failed to load the generation run."
	MsgListRunsFailed   = "Failed to load past generations."
	MsgInputUnavailable = "The stored portrait could not be read."
)

// JobQueue accepts generation jobs for background execution.
type JobQueue interface {
	Enqueue(job GenerationJob) error
}

// SubmitInput is an uploaded portrait. A nil *SubmitInput means no file
// was sent.
type SubmitInput struct {
	Filename    string
	ContentType string
	Data        []byte
}

// GenerationService implements the submit, status and listing use cases.
type GenerationService struct {
	ledger         RunLedger
	storage        storage.ObjectStorage
	queue          JobQueue
	maxUploadBytes int64
}

// GenerationConfig holds configuration for the generation service.
type GenerationConfig struct {
	MaxUploadBytes int64 // 0 disables the size check
}

// NewGenerationService creates a new GenerationService.
func NewGenerationService(ledger RunLedger, objectStorage storage.ObjectStorage, queue JobQueue, cfg *GenerationConfig) *GenerationService {
	s := &GenerationService{
		ledger:  ledger,
		storage: objectStorage,
		queue:   queue,
	}
	if cfg != nil {
		s.maxUploadBytes = cfg.MaxUploadBytes
	}
	return s
}

// Submit stores the portrait, records a pending run with one pending output
// per decade, and schedules generation. It returns once the job is queued.
// Parameters:
//   - ctx: request context; generation itself does not inherit it.
//   - in: uploaded portrait, or nil if none was provided.
//
// Returns:
//   - string: the new run ID.
//   - error: *Error describing the failure.
func (s *GenerationService) Submit(ctx context.Context, in *SubmitInput) (string, error) {
	errorID := NewErrorID(scopeGenerations, "POST")
	log := logger.FromContext(ctx)

	if verr := s.validate(in); verr != "" {
		log.WithFields(logger.Fields{"reason": verr}).Warn("Invalid generation request")
		return "", &Error{Kind: KindValidation, Message: verr, ErrorID: errorID}
	}

	runID := uuid.New().String()
	ctx = logger.SetRunID(ctx, runID)
	log = logger.FromContext(ctx)

	inputPath := domain.InputImagePath(runID, inputFilename(in.Filename, runID))
	s.logDimensions(ctx, in)

	if err := s.storage.Upload(ctx, inputPath, bytes.NewReader(in.Data), int64(len(in.Data)), in.ContentType); err != nil {
		log.WithErrorID(errorID).WithError(err).Errorf("Failed to upload source portrait: path=%s", inputPath)
		return "", &Error{Kind: KindDependency, Message: MsgUploadFailed, ErrorID: errorID, Err: err}
	}

	run := &domain.GenerationRun{
		ID:                  runID,
		Status:              domain.RunStatusPending,
		CompletedImages:     0,
		LastProgressMessage: domain.StringPtr(domain.ProgressMessage(0)),
		InputImagePath:      inputPath,
		InputContentType:    in.ContentType,
	}
	outputs := make([]domain.GenerationOutput, 0, domain.DecadeCount)
	for _, decade := range domain.Decades() {
		outputs = append(outputs, domain.GenerationOutput{
			ID:     uuid.New().String(),
			RunID:  runID,
			Decade: decade,
			Status: domain.OutputStatusPending,
		})
	}

	if err := s.ledger.CreateRunWithOutputs(ctx, run, outputs); err != nil {
		log.WithErrorID(errorID).WithError(err).Error("Failed to create generation run")
		if delErr := s.storage.Delete(context.WithoutCancel(ctx), inputPath); delErr != nil {
			log.WithError(delErr).Warnf("Failed to remove orphaned input: path=%s", inputPath)
		}
		return "", &Error{Kind: KindDependency, Message: MsgCreateRunFailed, ErrorID: errorID, Err: err}
	}

	job := GenerationJob{RunID: runID, BaseImage: in.Data, MimeType: in.ContentType}
	if err := s.queue.Enqueue(job); err != nil {
		log.WithErrorID(errorID).WithError(err).Error("Failed to schedule generation")
		if upErr := s.ledger.UpdateRun(context.WithoutCancel(ctx), runID, map[string]interface{}{
			"status":        domain.RunStatusFailed,
			"error_message": fmt.Sprintf("%s errorId=%s", MsgScheduleFailed, errorID),
		}); upErr != nil {
			log.WithErrorID(errorID).WithError(upErr).Error("Failed to record scheduling failure")
		}
		return "", &Error{Kind: KindDependency, Message: MsgScheduleFailed, ErrorID: errorID, Err: err}
	}

	logger.With(logger.Fields{"content_type": in.ContentType}).
		WithSize(len(in.Data)).
		Info(ctx, "Generation run queued")

	return runID, nil
}

func (s *GenerationService) validate(in *SubmitInput) string {
	switch {
	case in == nil:
		return MsgNoPortrait
	case !strings.HasPrefix(in.ContentType, "image/"):
		return MsgNotAnImage
	case len(in.Data) == 0:
		return MsgEmptyPortrait
	case s.maxUploadBytes > 0 && int64(len(in.Data)) > s.maxUploadBytes:
		return MsgPortraitTooLarge
	}
	return ""
}

// logDimensions records the decoded size of the upload. Formats the
// decoders don't know are logged, not rejected.
func (s *GenerationService) logDimensions(ctx context.Context, in *SubmitInput) {
	width, height, format, err := getImageDimensions(in.Data)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("Could not decode portrait: content_type=%s", in.ContentType)
		return
	}
	logger.CtxDebug(ctx, "Portrait decoded: format=%s width=%d height=%d", format, width, height)
}

// inputFilename reduces an upload name to a safe base name.
func inputFilename(filename, runID string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return fmt.Sprintf("portrait-%s.png", runID)
	}
	return name
}

// GetRun returns the client view of a run.
// Returns:
//   - *RunView: projected run with outputs in decade order.
//   - error: *Error of kind not_found if the run doesn't exist.
func (s *GenerationService) GetRun(ctx context.Context, id string) (*RunView, error) {
	errorID := NewErrorID(scopeGeneration, "GET")
	ctx = logger.SetRunID(ctx, id)

	run, err := s.ledger.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.FromContext(ctx).WithErrorID(errorID).Warn("Generation run not found")
			return nil, &Error{Kind: KindNotFound, Message: MsgRunNotFound, ErrorID: errorID, Err: err}
		}
		logger.FromContext(ctx).WithErrorID(errorID).WithError(err).Error("Failed to load generation run")
		return nil, &Error{Kind: KindDependency, Message: MsgLoadRunFailed, ErrorID: errorID, Err: err}
	}

	view := ProjectRun(run, s.storage.GetURL)
	logger.CtxDebug(ctx, "Generation status fetched: status=%s completed=%d", view.Status, view.CompletedImages)
	return &view, nil
}

// ListRuns returns the newest runs first, plus the total number of runs.
// Parameters:
//   - limit: already clamped by ClampListLimit.
func (s *GenerationService) ListRuns(ctx context.Context, limit int) ([]RunSummary, int64, error) {
	errorID := NewErrorID(scopeGenerations, "GET")

	runs, err := s.ledger.ListRecentRuns(ctx, limit)
	if err != nil {
		logger.FromContext(ctx).WithErrorID(errorID).WithError(err).Error("Failed to list generation runs")
		return nil, 0, &Error{Kind: KindDependency, Message: MsgListRunsFailed, ErrorID: errorID, Err: err}
	}
	count, err := s.ledger.CountRuns(ctx)
	if err != nil {
		logger.FromContext(ctx).WithErrorID(errorID).WithError(err).Error("Failed to count generation runs")
		return nil, 0, &Error{Kind: KindDependency, Message: MsgListRunsFailed, ErrorID: errorID, Err: err}
	}

	summaries := make([]RunSummary, 0, len(runs))
	for i := range runs {
		summaries = append(summaries, ProjectSummary(&runs[i], s.storage.GetURL))
	}

	logger.With(logger.Fields{logger.FieldCount: len(summaries)}).Debug(ctx, "Generation runs listed")
	return summaries, count, nil
}

// Resubmit starts a new run from the stored input of an existing run. The
// existing run is left as it is.
// Parameters:
//   - runID: the run whose input portrait is reused.
//
// Returns:
//   - string: the new run ID.
//   - error: *Error of kind not_found if the run doesn't exist, dependency if
//     its input can't be read, or any error Submit returns.
func (s *GenerationService) Resubmit(ctx context.Context, runID string) (string, error) {
	ctx = logger.SetRunID(ctx, runID)
	log := logger.FromContext(ctx)

	run, err := s.ledger.GetRun(ctx, runID)
	if err != nil {
		errorID := NewErrorID(scopeRetry, "GET")
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", &Error{Kind: KindNotFound, Message: MsgRunNotFound, ErrorID: errorID, Err: err}
		}
		log.WithErrorID(errorID).WithError(err).Error("Failed to load generation run")
		return "", &Error{Kind: KindDependency, Message: MsgLoadRunFailed, ErrorID: errorID, Err: err}
	}

	data, err := s.readInput(ctx, run.InputImagePath)
	if err != nil {
		derr := DependencyError(scopeRetry, "INPUT", MsgInputUnavailable, err)
		log.WithErrorID(derr.ErrorID).WithError(err).Errorf("Failed to read stored input: path=%s", run.InputImagePath)
		return "", derr
	}

	contentType := run.InputContentType
	if contentType == "" {
		contentType = detectMimeType(data)
	}

	newRunID, err := s.Submit(ctx, &SubmitInput{
		Filename:    path.Base(run.InputImagePath),
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		return "", err
	}

	log.WithField("new_run_id", newRunID).Info("Generation run resubmitted")
	return newRunID, nil
}

func (s *GenerationService) readInput(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.storage.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
