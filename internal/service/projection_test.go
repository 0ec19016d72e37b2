package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/timecapsule/internal/domain"
)

func urlFor(path string) string { return "https://cdn/time-capsule/" + path }

func TestProjectRun(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := &domain.GenerationRun{
		ID:              "run-1",
		Status:          domain.RunStatusProcessing,
		CompletedImages: 1,
		ThumbImagePath:  domain.StringPtr("outputs/run-1/1970s.png"),
		CreatedAt:       created,
		Outputs: []domain.GenerationOutput{
			{ID: "o3", Decade: domain.Decade1990s, Status: domain.OutputStatusPending},
			{ID: "o1", Decade: domain.Decade1970s, Status: domain.OutputStatusCompleted, ImagePath: domain.StringPtr("outputs/run-1/1970s.png")},
			{ID: "o2", Decade: domain.Decade1980s, Status: domain.OutputStatusPending},
		},
	}

	view := ProjectRun(run, urlFor)

	assert.Equal(t, "run-1", view.ID)
	assert.Equal(t, created, view.CreatedAt)
	assert.Equal(t, "Generating two out of three…", view.LastProgressMessage)
	require.NotNil(t, view.ThumbImageURL)
	assert.Equal(t, "https://cdn/time-capsule/outputs/run-1/1970s.png", *view.ThumbImageURL)

	require.Len(t, view.Outputs, 3)
	assert.Equal(t, []string{"o1", "o2", "o3"}, []string{view.Outputs[0].ID, view.Outputs[1].ID, view.Outputs[2].ID})
	require.NotNil(t, view.Outputs[0].PublicURL)
	assert.Nil(t, view.Outputs[1].PublicURL)
	assert.Nil(t, view.Outputs[2].ImagePath)

	// the input slice is left untouched
	assert.Equal(t, "o3", run.Outputs[0].ID)
}

func TestProjectRun_Idempotent(t *testing.T) {
	run := &domain.GenerationRun{
		ID:                  "run-2",
		Status:              domain.RunStatusFailed,
		CompletedImages:     2,
		ErrorMessage:        domain.StringPtr("Generation failed for 1990s. errorId=X"),
		LastProgressMessage: domain.StringPtr("Generation stopped at 1990s."),
		ThumbImagePath:      domain.StringPtr("outputs/run-2/1970s.png"),
		Outputs: []domain.GenerationOutput{
			{ID: "c", Decade: domain.Decade1990s, Status: domain.OutputStatusFailed, ErrorMessage: domain.StringPtr("Generation failed. errorId=X")},
			{ID: "b", Decade: domain.Decade1980s, Status: domain.OutputStatusCompleted, ImagePath: domain.StringPtr("outputs/run-2/1980s.png")},
			{ID: "a", Decade: domain.Decade1970s, Status: domain.OutputStatusCompleted, ImagePath: domain.StringPtr("outputs/run-2/1970s.png")},
		},
	}

	first := ProjectRun(run, urlFor)
	second := ProjectRun(run, urlFor)
	assert.Equal(t, first, second)
	assert.Equal(t, ProjectSummary(run, urlFor), ProjectSummary(run, urlFor))
}

func TestProjectRun_ProgressMessage(t *testing.T) {
	cases := []struct {
		name      string
		stored    *string
		completed int
		want      string
	}{
		{"stored wins", domain.StringPtr("Generation stopped at 1980s."), 1, "Generation stopped at 1980s."},
		{"derived from zero", nil, 0, "Generating one out of three postcards…"},
		{"derived when done", nil, 3, "So how do you look?"},
		{"clamped high", nil, 9, "So how do you look?"},
		{"clamped low", nil, -2, "Generating one out of three postcards…"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			view := ProjectRun(&domain.GenerationRun{LastProgressMessage: tc.stored, CompletedImages: tc.completed}, urlFor)
			assert.Equal(t, tc.want, view.LastProgressMessage)
		})
	}
}

func TestProjectSummary_Cover(t *testing.T) {
	thumb := "outputs/r/1970s.png"

	withOutputs := ProjectSummary(&domain.GenerationRun{
		ThumbImagePath: &thumb,
		Outputs: []domain.GenerationOutput{
			{Decade: domain.Decade1980s, ImagePath: domain.StringPtr("outputs/r/1980s.png")},
			{Decade: domain.Decade1970s},
		},
	}, urlFor)
	require.NotNil(t, withOutputs.CoverImageURL)
	assert.Equal(t, "https://cdn/time-capsule/outputs/r/1980s.png", *withOutputs.CoverImageURL)
	assert.Equal(t, domain.Decade1970s, withOutputs.Outputs[0].Decade)

	thumbOnly := ProjectSummary(&domain.GenerationRun{ThumbImagePath: &thumb}, urlFor)
	require.NotNil(t, thumbOnly.CoverImageURL)
	assert.Equal(t, "https://cdn/time-capsule/"+thumb, *thumbOnly.CoverImageURL)
	assert.NotNil(t, thumbOnly.Outputs)

	nothing := ProjectSummary(&domain.GenerationRun{}, urlFor)
	assert.Nil(t, nothing.CoverImageURL)
	assert.Nil(t, nothing.ThumbImageURL)
}

func TestClampListLimit(t *testing.T) {
	cases := map[string]int{
		"":    6,
		"abc": 6,
		"2.5": 6,
		"0":   1,
		"-4":  1,
		"1":   1,
		"12":  12,
		" 7 ": 7,
		"24":  24,
		"100": 24,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ClampListLimit(raw), "limit %q", raw)
	}
}
