package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecadesOrder(t *testing.T) {
	assert.Equal(t, []Decade{Decade1970s, Decade1980s, Decade1990s}, Decades())
	assert.Equal(t, 3, DecadeCount)

	// Callers must not be able to reorder the shared table.
	d := Decades()
	d[0] = Decade1990s
	assert.Equal(t, Decade1970s, Decades()[0])
}

func TestDecadeIndex(t *testing.T) {
	assert.Equal(t, 0, DecadeIndex(Decade1970s))
	assert.Equal(t, 2, DecadeIndex(Decade1990s))
	assert.Equal(t, -1, DecadeIndex(Decade("1960s")))
}

func TestProgressMessage(t *testing.T) {
	tests := []struct {
		name string
		step int
		want string
	}{
		{"first step", 0, "Generating one out of three postcards…"},
		{"second step", 1, "Generating two out of three…"},
		{"third step", 2, "Generating three out of three…"},
		{"done", 3, "So how do you look?"},
		{"clamped high", 7, "So how do you look?"},
		{"clamped low", -2, "Generating one out of three postcards…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProgressMessage(tt.step))
		})
	}

	assert.Equal(t, "So how do you look?", FinalProgressMessage())
	assert.Equal(t, "Generation stopped at 1980s.", StoppedProgressMessage(Decade1980s))
}

func TestStoragePaths(t *testing.T) {
	assert.Equal(t, "inputs/run-1/me.jpg", InputImagePath("run-1", "me.jpg"))
	assert.Equal(t, "inputs/run-1/me.jpg", InputImagePath("run-1", "../../etc/me.jpg"))
	assert.Equal(t, "inputs/run-1/me.jpg", InputImagePath("run-1", `C:\photos\me.jpg`))
	assert.Equal(t, "outputs/run-1/1970s.png", OutputImagePath("run-1", Decade1970s))
	assert.Equal(t, "late-1990s", Decade("Late  1990s").Slug())
}

func TestRunStatusIsTerminal(t *testing.T) {
	assert.False(t, RunStatusPending.IsTerminal())
	assert.False(t, RunStatusProcessing.IsTerminal())
	assert.True(t, RunStatusCompleted.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
}
