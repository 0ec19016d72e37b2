package prompts

import "fmt"

// ============================================================================
// Decade Portrait Prompts
// ============================================================================

// decadePortraitTemplate asks the image model to restyle the subject while
// keeping them recognisable. %s is the decade label, e.g. "1970s".
const decadePortraitTemplate = `Reimagine the person in this photo in the style of the %s. This includes clothing, hairstyle, photo quality, and the overall aesthetic of that decade. The output must be a photorealistic image showing the person clearly.`

// DecadePortrait returns the generation prompt for one decade.
func DecadePortrait(decade string) string {
	return fmt.Sprintf(decadePortraitTemplate, decade)
}
