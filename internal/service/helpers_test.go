package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/timmy/timecapsule/internal/config"
	"github.com/timmy/timecapsule/internal/domain"
	"github.com/timmy/timecapsule/internal/repository"
	"github.com/timmy/timecapsule/internal/storage"
)

const testPublicURL = "https://assets.example.test"

// fakeGenerator returns a deterministic image per decade unless told to
// fail, panic or block.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   []domain.Decade
	fail    map[domain.Decade]error
	panicOn domain.Decade
	block   chan struct{}
}

func (f *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (*GeneratedImage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Decade)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panicOn != "" && req.Decade == f.panicOn {
		panic("generator exploded")
	}
	if err := f.fail[req.Decade]; err != nil {
		return nil, err
	}
	return &GeneratedImage{Data: []byte("png-" + string(req.Decade)), MimeType: "image/png"}, nil
}

func (f *fakeGenerator) Calls() []domain.Decade {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Decade(nil), f.calls...)
}

func newTestLedger(t *testing.T) *repository.GenerationRepository {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "capsule.db"),
		AutoMigrate: true,
		LogLevel:    "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewGenerationRepository(db)
}

func newTestStorage() *storage.MemoryStorage {
	return storage.NewMemoryStorage(domain.DefaultStorageBucket, testPublicURL)
}

// seedRun inserts a pending run the way Submit does.
func seedRun(t *testing.T, ledger RunLedger, runID string) {
	t.Helper()
	run := &domain.GenerationRun{
		ID:                  runID,
		Status:              domain.RunStatusPending,
		LastProgressMessage: domain.StringPtr(domain.ProgressMessage(0)),
		InputImagePath:      domain.InputImagePath(runID, "face.png"),
		InputContentType:    "image/png",
	}
	var outputs []domain.GenerationOutput
	for _, d := range domain.Decades() {
		outputs = append(outputs, domain.GenerationOutput{
			ID:     runID + "-" + d.Slug(),
			RunID:  runID,
			Decade: d,
			Status: domain.OutputStatusPending,
		})
	}
	require.NoError(t, ledger.CreateRunWithOutputs(context.Background(), run, outputs))
}

func outputByDecade(t *testing.T, run *domain.GenerationRun, d domain.Decade) domain.GenerationOutput {
	t.Helper()
	for _, o := range run.Outputs {
		if o.Decade == d {
			return o
		}
	}
	t.Fatalf("no output for decade %s", d)
	return domain.GenerationOutput{}
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
