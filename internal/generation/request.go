package generation

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

var lower = cases.Lower(language.English)

// styleHints nudge every vendor toward output that fits the slot it fills.
var styleHints = map[domain.GeneratedContentType]string{
	domain.ImagePortrait:   "Character portrait, head and shoulders, detailed painterly fantasy art.",
	domain.ImageToken:      "Top-down game token, single centered subject, clean silhouette, plain background.",
	domain.ImageBackground: "Wide environment illustration for a battle map backdrop, no characters, no text.",
	domain.AudioAmbient:    "Seamless looping ambient soundscape.",
	domain.AudioEffect:     "Short isolated sound effect.",
	domain.VideoBackground: "Slow cinematic camera motion, loopable, no characters, no text.",
}

var defaultAspectRatios = map[domain.GeneratedContentType]string{
	domain.ImagePortrait:   "2:3",
	domain.ImageToken:      "1:1",
	domain.ImageBackground: "16:9",
	domain.VideoBackground: "16:9",
}

var defaultDurations = map[domain.GeneratedContentType]float64{
	domain.AudioAmbient: 20,
	domain.AudioEffect:  3,
}

var mimeTypes = map[domain.Category]string{
	domain.CategoryImage: "image/png",
	domain.CategoryAudio: "audio/mpeg",
	domain.CategoryVideo: "video/mp4",
}

var extensions = map[domain.Category]string{
	domain.CategoryImage: ".png",
	domain.CategoryAudio: ".mp3",
	domain.CategoryVideo: ".mp4",
}

const descriptionInstructions = "Write a short, evocative description of a tabletop role-playing game element. " +
	"Two to four sentences, present tense, no headings, no lists."

// BuildPrompt assembles the base prompt of a work item. An explicit prompt
// wins; otherwise the sentence is composed from the descriptive fields.
func BuildPrompt(in domain.GenerationInput) string {
	if p := strings.TrimSpace(in.Prompt); p != "" {
		return p
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = "fantasy"
	}
	kind := strings.TrimSpace(in.Type)
	if kind == "" {
		kind = "character"
	}
	var b strings.Builder
	b.WriteString("A ")
	b.WriteString(lower.String(category))
	b.WriteString(" ")
	b.WriteString(lower.String(kind))
	b.WriteString(" named ")
	b.WriteString(strings.TrimSpace(in.Name))
	if d := strings.TrimSpace(in.Description); d != "" {
		b.WriteString(". ")
		b.WriteString(d)
	}
	if env := strings.TrimSpace(in.Environment); env != "" {
		b.WriteString(" in ")
		b.WriteString(env)
	}
	return b.String()
}

// WithStyle appends the content type's style hint.
func WithStyle(prompt string, ct domain.GeneratedContentType) string {
	hint, ok := styleHints[ct]
	if !ok {
		return prompt
	}
	return strings.TrimRight(prompt, ". ") + ". " + hint
}

// AspectRatio returns the requested ratio or the content type default.
func AspectRatio(in domain.GenerationInput, ct domain.GeneratedContentType) string {
	if r := strings.TrimSpace(in.AspectRatio); r != "" {
		return r
	}
	if r, ok := defaultAspectRatios[ct]; ok {
		return r
	}
	return "1:1"
}

// Duration returns the requested audio length or the content type default.
func Duration(in domain.GenerationInput, ct domain.GeneratedContentType) float64 {
	if in.DurationSeconds > 0 {
		return in.DurationSeconds
	}
	return defaultDurations[ct]
}

// FileName derives a stable file name from the item name.
func FileName(in domain.GenerationInput, ct domain.GeneratedContentType) string {
	base := slug(in.Name)
	if base == "" {
		base = "generated"
	}
	return base + "_" + lower.String(ct.Subtype()) + extensions[ct.Category()]
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range lower.String(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
