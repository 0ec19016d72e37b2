package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/timecapsule/internal/domain"
)

const errorIDSuffix = `[0-9A-F]{8}`

func TestOrchestrator_AllDecadesSucceed(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	store := newTestStorage()
	gen := &fakeGenerator{}
	runID := uuid.New().String()
	seedRun(t, ledger, runID)

	err := NewOrchestrator(ledger, store, gen).Run(ctx, GenerationJob{RunID: runID, BaseImage: []byte("x"), MimeType: "image/png"})
	require.NoError(t, err)

	assert.Equal(t, domain.Decades(), gen.Calls())

	run, err := ledger.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.CompletedImages)
	assert.Nil(t, run.ErrorMessage)
	require.NotNil(t, run.LastProgressMessage)
	assert.Equal(t, "So how do you look?", *run.LastProgressMessage)
	require.NotNil(t, run.ThumbImagePath)
	assert.Equal(t, domain.OutputImagePath(runID, domain.Decade1970s), *run.ThumbImagePath)

	for _, d := range domain.Decades() {
		o := outputByDecade(t, run, d)
		assert.Equal(t, domain.OutputStatusCompleted, o.Status, d)
		require.NotNil(t, o.ImagePath)
		assert.Equal(t, domain.OutputImagePath(runID, d), *o.ImagePath)
		assert.Nil(t, o.ErrorMessage)

		ok, err := store.Exists(ctx, *o.ImagePath)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "image/png", store.ContentType(*o.ImagePath))
	}
}

func TestOrchestrator_StopsAtFailingDecade(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	store := newTestStorage()
	gen := &fakeGenerator{fail: map[domain.Decade]error{domain.Decade1980s: errors.New("model overloaded")}}
	runID := uuid.New().String()
	seedRun(t, ledger, runID)

	err := NewOrchestrator(ledger, store, gen).Run(ctx, GenerationJob{RunID: runID, BaseImage: []byte("x"), MimeType: "image/jpeg"})
	require.Error(t, err)

	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Regexp(t, regexp.MustCompile(`^GENERATION-1980S-`+errorIDSuffix+`$`), svcErr.ErrorID)

	assert.Equal(t, []domain.Decade{domain.Decade1970s, domain.Decade1980s}, gen.Calls())

	run, err := ledger.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.CompletedImages)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "Generation failed for 1980s. errorId="+svcErr.ErrorID, *run.ErrorMessage)
	require.NotNil(t, run.LastProgressMessage)
	assert.Equal(t, "Generation stopped at 1980s.", *run.LastProgressMessage)
	require.NotNil(t, run.ThumbImagePath)
	assert.Equal(t, domain.OutputImagePath(runID, domain.Decade1970s), *run.ThumbImagePath)

	assert.Equal(t, domain.OutputStatusCompleted, outputByDecade(t, run, domain.Decade1970s).Status)

	failed := outputByDecade(t, run, domain.Decade1980s)
	assert.Equal(t, domain.OutputStatusFailed, failed.Status)
	assert.Nil(t, failed.ImagePath)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "Generation failed. errorId="+svcErr.ErrorID, *failed.ErrorMessage)

	later := outputByDecade(t, run, domain.Decade1990s)
	assert.Equal(t, domain.OutputStatusPending, later.Status)
	assert.Nil(t, later.ImagePath)
	assert.Nil(t, later.ErrorMessage)
}

func TestOrchestrator_UploadFailureIsDecadeFailure(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	store := newTestStorage()
	store.FailUploads("outputs/", errors.New("bucket unavailable"))
	runID := uuid.New().String()
	seedRun(t, ledger, runID)

	err := NewOrchestrator(ledger, store, &fakeGenerator{}).Run(ctx, GenerationJob{RunID: runID})
	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Regexp(t, `^GENERATION-1970S-`+errorIDSuffix+`$`, svcErr.ErrorID)

	run, err := ledger.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, 0, run.CompletedImages)
	assert.Nil(t, run.ThumbImagePath)
	assert.Equal(t, domain.OutputStatusFailed, outputByDecade(t, run, domain.Decade1970s).Status)
	assert.Equal(t, domain.OutputStatusPending, outputByDecade(t, run, domain.Decade1980s).Status)
}

func TestOrchestrator_PanicIsBackgroundFailure(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	runID := uuid.New().String()
	seedRun(t, ledger, runID)

	err := NewOrchestrator(ledger, newTestStorage(), &fakeGenerator{panicOn: domain.Decade1990s}).
		Run(ctx, GenerationJob{RunID: runID})
	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, KindUnexpected, svcErr.Kind)
	assert.Regexp(t, `^GENERATION-ASYNC-`+errorIDSuffix+`$`, svcErr.ErrorID)

	run, err := ledger.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, 2, run.CompletedImages)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "Unexpected background failure. errorId="+svcErr.ErrorID, *run.ErrorMessage)
}

// outputWriteFailingLedger rejects every output update.
type outputWriteFailingLedger struct {
	RunLedger
}

func (l outputWriteFailingLedger) UpdateOutput(ctx context.Context, runID string, decade domain.Decade, updates map[string]interface{}) error {
	return errors.New("disk full")
}

func TestOrchestrator_LedgerFailureIsBackgroundFailure(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	runID := uuid.New().String()
	seedRun(t, ledger, runID)

	gen := &fakeGenerator{}
	err := NewOrchestrator(outputWriteFailingLedger{ledger}, newTestStorage(), gen).Run(ctx, GenerationJob{RunID: runID})
	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Regexp(t, `^GENERATION-ASYNC-`, svcErr.ErrorID)
	assert.Len(t, gen.Calls(), 1)

	run, err := ledger.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "Unexpected background failure. errorId=GENERATION-ASYNC-")
}

func TestOrchestrator_CancelledContextStillRecordsFailure(t *testing.T) {
	ledger := newTestLedger(t)
	runID := uuid.New().String()
	seedRun(t, ledger, runID)

	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{block: make(chan struct{})}
	done := make(chan error, 1)
	go func() {
		done <- NewOrchestrator(ledger, newTestStorage(), gen).Run(ctx, GenerationJob{RunID: runID})
	}()

	require.Eventually(t, func() bool { return len(gen.Calls()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.Error(t, <-done)

	run, err := ledger.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "Generation failed for 1970s. errorId=GENERATION-1970S-")
}

// snapshotLedger records the run row after every write the orchestrator makes.
type snapshotLedger struct {
	RunLedger
	t              *testing.T
	snapshots      []domain.GenerationRun
	thumbnailCalls int
}

func (l *snapshotLedger) snap(ctx context.Context, runID string) {
	run, err := l.RunLedger.GetRun(ctx, runID)
	require.NoError(l.t, err)
	l.snapshots = append(l.snapshots, *run)
}

func (l *snapshotLedger) UpdateRun(ctx context.Context, id string, updates map[string]interface{}) error {
	err := l.RunLedger.UpdateRun(ctx, id, updates)
	l.snap(ctx, id)
	return err
}

func (l *snapshotLedger) SetRunThumbnail(ctx context.Context, id, path string) (bool, error) {
	l.thumbnailCalls++
	ok, err := l.RunLedger.SetRunThumbnail(ctx, id, path)
	l.snap(ctx, id)
	return ok, err
}

func (l *snapshotLedger) UpdateOutput(ctx context.Context, runID string, decade domain.Decade, updates map[string]interface{}) error {
	err := l.RunLedger.UpdateOutput(ctx, runID, decade, updates)
	l.snap(ctx, runID)
	return err
}

func statusRank(s domain.RunStatus) int {
	switch s {
	case domain.RunStatusPending:
		return 0
	case domain.RunStatusProcessing:
		return 1
	default:
		return 2
	}
}

func TestOrchestrator_ProgressIsMonotonic(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
		want domain.RunStatus
	}{
		{"all decades succeed", &fakeGenerator{}, domain.RunStatusCompleted},
		{"last decade fails", &fakeGenerator{fail: map[domain.Decade]error{domain.Decade1990s: errors.New("refused")}}, domain.RunStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &snapshotLedger{RunLedger: newTestLedger(t), t: t}
			runID := uuid.New().String()
			seedRun(t, ledger.RunLedger, runID)

			_ = NewOrchestrator(ledger, newTestStorage(), tt.gen).Run(context.Background(), GenerationJob{RunID: runID})
			require.NotEmpty(t, ledger.snapshots)
			assert.Equal(t, 1, ledger.thumbnailCalls)

			var thumb *string
			prev := ledger.snapshots[0]
			for i, snap := range ledger.snapshots {
				assert.GreaterOrEqual(t, snap.CompletedImages, prev.CompletedImages, "step %d", i)
				assert.GreaterOrEqual(t, statusRank(snap.Status), statusRank(prev.Status), "step %d", i)
				if statusRank(prev.Status) == 2 {
					t.Fatalf("write after terminal status %s at step %d", prev.Status, i)
				}
				if thumb != nil {
					require.NotNil(t, snap.ThumbImagePath, "step %d", i)
					assert.Equal(t, *thumb, *snap.ThumbImagePath, "step %d", i)
				}
				thumb = snap.ThumbImagePath
				prev = snap
			}
			assert.Equal(t, tt.want, prev.Status)
		})
	}
}

// thumbnailFailingLedger rejects the thumbnail write.
type thumbnailFailingLedger struct {
	RunLedger
}

func (l thumbnailFailingLedger) SetRunThumbnail(ctx context.Context, id, path string) (bool, error) {
	return false, errors.New("lock timeout")
}

func TestOrchestrator_ThumbnailFailureNeverFollowsCompletion(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	runID := uuid.New().String()
	seedRun(t, ledger, runID)

	gen := &fakeGenerator{}
	err := NewOrchestrator(thumbnailFailingLedger{ledger}, newTestStorage(), gen).Run(ctx, GenerationJob{RunID: runID})
	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Regexp(t, `^GENERATION-ASYNC-`+errorIDSuffix+`$`, svcErr.ErrorID)
	assert.Len(t, gen.Calls(), 1)

	run, err := ledger.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, 0, run.CompletedImages)
	assert.Nil(t, run.ThumbImagePath)
}

func TestOrchestrator_AbandonMarksRunFailed(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	runID := uuid.New().String()
	seedRun(t, ledger, runID)

	gen := &fakeGenerator{}
	NewOrchestrator(ledger, newTestStorage(), gen).Abandon(ctx, GenerationJob{RunID: runID}, ErrShutdownTimeout)
	assert.Empty(t, gen.Calls())

	run, err := ledger.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Regexp(t, `^Unexpected background failure\. errorId=GENERATION-ASYNC-`+errorIDSuffix+`$`, *run.ErrorMessage)
	for _, d := range domain.Decades() {
		assert.Equal(t, domain.OutputStatusPending, outputByDecade(t, run, d).Status)
	}
}
