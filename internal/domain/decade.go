package domain

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Decade is a target style label such as "1970s".
type Decade string

const (
	Decade1970s Decade = "1970s"
	Decade1980s Decade = "1980s"
	Decade1990s Decade = "1990s"
)

// DefaultStorageBucket is the bucket holding inputs and generated outputs.
const DefaultStorageBucket = "time-capsule"

// decades is the processing and display order. Do not reorder.
var decades = [...]Decade{Decade1970s, Decade1980s, Decade1990s}

// progressMessages is indexed by step; the final entry is shown once every
// decade is done.
var progressMessages = [...]string{
	"Generating one out of three postcards…",
	"Generating two out of three…",
	"Generating three out of three…",
	"So how do you look?",
}

// Decades returns the decades in processing order.
// Parameters: none.
// Returns:
//   - []Decade: a fresh copy of the ordered decade list.
func Decades() []Decade {
	out := make([]Decade, len(decades))
	copy(out, decades[:])
	return out
}

// DecadeCount is the number of decades generated per run.
const DecadeCount = len(decades)

// DecadeIndex returns the position of d in processing order, or -1.
func DecadeIndex(d Decade) int {
	for i, candidate := range decades {
		if candidate == d {
			return i
		}
	}
	return -1
}

// ProgressMessage returns the canned progress message for a step, clamped to
// the bounds of the message table.
// Parameters:
//   - step: zero-based step index; DecadeCount means "all done".
//
// Returns:
//   - string: progress message for display.
func ProgressMessage(step int) string {
	if step < 0 {
		step = 0
	}
	if step >= len(progressMessages) {
		step = len(progressMessages) - 1
	}
	return progressMessages[step]
}

// FinalProgressMessage is shown once all decades completed.
func FinalProgressMessage() string {
	return progressMessages[len(progressMessages)-1]
}

// StoppedProgressMessage is shown when a run stops at a failing decade.
func StoppedProgressMessage(d Decade) string {
	return fmt.Sprintf("Generation stopped at %s.", d)
}

var whitespace = regexp.MustCompile(`\s+`)

// Slug returns the decade label lower-cased with whitespace replaced by hyphens.
func (d Decade) Slug() string {
	return strings.ToLower(whitespace.ReplaceAllString(string(d), "-"))
}

// InputImagePath returns the storage key for an uploaded portrait.
// Only the base name of filename is used.
func InputImagePath(runID, filename string) string {
	return fmt.Sprintf("inputs/%s/%s", runID, path.Base(strings.ReplaceAll(filename, "\\", "/")))
}

// OutputImagePath returns the storage key for a generated decade portrait.
func OutputImagePath(runID string, d Decade) string {
	return fmt.Sprintf("outputs/%s/%s.png", runID, d.Slug())
}
