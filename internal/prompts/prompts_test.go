package prompts

import (
	"strings"
	"testing"
)

func TestDecadePortrait(t *testing.T) {
	got := DecadePortrait("1980s")
	if !strings.HasPrefix(got, "Reimagine the person in this photo in the style of the 1980s.") {
		t.Fatalf("unexpected prompt: %q", got)
	}
	if !strings.Contains(got, "photorealistic") {
		t.Errorf("prompt should ask for a photorealistic image: %q", got)
	}
}
