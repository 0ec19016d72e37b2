package service

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/timmy/timecapsule/internal/domain"
)

const (
	DefaultListLimit = 6
	MaxListLimit     = 24
)

// URLFunc maps a storage path to its public URL.
type URLFunc func(path string) string

// OutputView is the client view of one decade output.
type OutputView struct {
	ID           string              `json:"id"`
	Decade       domain.Decade       `json:"decade"`
	Status       domain.OutputStatus `json:"status"`
	ErrorMessage *string             `json:"error_message"`
	CreatedAt    time.Time           `json:"created_at"`
	ImagePath    *string             `json:"image_path"`
	PublicURL    *string             `json:"public_url"`
}

// RunView is the client view of a run, as polled by the status endpoint.
type RunView struct {
	ID                  string           `json:"id"`
	CreatedAt           time.Time        `json:"created_at"`
	Status              domain.RunStatus `json:"status"`
	CompletedImages     int              `json:"completed_images"`
	ErrorMessage        *string          `json:"error_message"`
	LastProgressMessage string           `json:"last_progress_message"`
	ThumbImageURL       *string          `json:"thumb_image_url"`
	Outputs             []OutputView     `json:"outputs"`
}

// SummaryOutput is the condensed output shape used in listings.
type SummaryOutput struct {
	Decade    domain.Decade       `json:"decade"`
	Status    domain.OutputStatus `json:"status"`
	PublicURL *string             `json:"public_url"`
}

// RunSummary is one entry in the recent-runs listing.
type RunSummary struct {
	ID              string           `json:"id"`
	CreatedAt       time.Time        `json:"created_at"`
	Status          domain.RunStatus `json:"status"`
	CompletedImages int              `json:"completed_images"`
	ThumbImageURL   *string          `json:"thumb_image_url"`
	CoverImageURL   *string          `json:"cover_image_url"`
	Outputs         []SummaryOutput  `json:"outputs"`
}

// ProjectRun builds the client view of a run. It does no I/O.
func ProjectRun(run *domain.GenerationRun, urlFn URLFunc) RunView {
	outputs := sortedOutputs(run.Outputs)

	views := make([]OutputView, 0, len(outputs))
	for _, o := range outputs {
		views = append(views, OutputView{
			ID:           o.ID,
			Decade:       o.Decade,
			Status:       o.Status,
			ErrorMessage: o.ErrorMessage,
			CreatedAt:    o.CreatedAt,
			ImagePath:    o.ImagePath,
			PublicURL:    publicURL(o.ImagePath, urlFn),
		})
	}

	progress := domain.ProgressMessage(run.CompletedImages)
	if run.LastProgressMessage != nil {
		progress = *run.LastProgressMessage
	}

	return RunView{
		ID:                  run.ID,
		CreatedAt:           run.CreatedAt,
		Status:              run.Status,
		CompletedImages:     run.CompletedImages,
		ErrorMessage:        run.ErrorMessage,
		LastProgressMessage: progress,
		ThumbImageURL:       publicURL(run.ThumbImagePath, urlFn),
		Outputs:             views,
	}
}

// ProjectSummary builds the listing view of a run. The cover image is the
// first output with a public URL in decade order, else the thumbnail.
func ProjectSummary(run *domain.GenerationRun, urlFn URLFunc) RunSummary {
	thumb := publicURL(run.ThumbImagePath, urlFn)

	var cover *string
	outputs := make([]SummaryOutput, 0, len(run.Outputs))
	for _, o := range sortedOutputs(run.Outputs) {
		url := publicURL(o.ImagePath, urlFn)
		if cover == nil && url != nil {
			cover = url
		}
		outputs = append(outputs, SummaryOutput{
			Decade:    o.Decade,
			Status:    o.Status,
			PublicURL: url,
		})
	}
	if cover == nil {
		cover = thumb
	}

	return RunSummary{
		ID:              run.ID,
		CreatedAt:       run.CreatedAt,
		Status:          run.Status,
		CompletedImages: run.CompletedImages,
		ThumbImageURL:   thumb,
		CoverImageURL:   cover,
		Outputs:         outputs,
	}
}

// ClampListLimit parses a requested listing size. Missing or non-numeric
// input yields DefaultListLimit; the result is always within [1, MaxListLimit].
func ClampListLimit(raw string) int {
	limit, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultListLimit
	}
	if limit < 1 {
		return 1
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func publicURL(path *string, urlFn URLFunc) *string {
	if path == nil || *path == "" {
		return nil
	}
	url := urlFn(*path)
	return &url
}

// sortedOutputs returns a copy ordered by the declared decade order.
func sortedOutputs(outputs []domain.GenerationOutput) []domain.GenerationOutput {
	sorted := make([]domain.GenerationOutput, len(outputs))
	copy(sorted, outputs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return domain.DecadeIndex(sorted[i].Decade) < domain.DecadeIndex(sorted[j].Decade)
	})
	return sorted
}
