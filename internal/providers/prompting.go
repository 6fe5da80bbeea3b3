package providers

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
)

// GenericNegativePrompt is appended to every image negative prompt.
const GenericNegativePrompt = "blurry, low quality, distorted anatomy, extra limbs, watermark, signature, text, frame, border"

// NegativePrompt joins a caller negative prompt with the generic suffix.
func NegativePrompt(custom string) string {
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return GenericNegativePrompt
	}
	return custom + ", " + GenericNegativePrompt
}

var enhancementStyles = map[domain.GeneratedContentType]string{
	domain.ImagePortrait:   "a character portrait, head and shoulders, facing the viewer, neutral background",
	domain.ImageToken:      "a top-down tabletop token, the subject centered and fully visible, plain background",
	domain.ImageBackground: "a wide battle map or scene background seen from above, no characters, no grid",
	domain.AudioAmbient:    "a seamless ambient soundscape without speech or music lyrics",
	domain.AudioEffect:     "a short distinct sound effect",
	domain.VideoBackground: "a slow looping animated scene suitable as a map background",
	domain.TextDescription: "a vivid but concise description for a game master",
}

// EnhancementInstructions is the system prompt used by prompt enhancers.
func EnhancementInstructions(target domain.GeneratedContentType, extra string) string {
	sb := &strings.Builder{}
	sb.WriteString("You rewrite prompts for a fantasy virtual tabletop content generator. ")
	if style, ok := enhancementStyles[target]; ok {
		fmt.Fprintf(sb, "The output will be used to generate %s. ", style)
	}
	sb.WriteString("Keep every concrete detail of the original, add visual or sonic specifics, and answer with the improved prompt only, no preamble, no quotes, no markdown.")
	if extra = strings.TrimSpace(extra); extra != "" {
		sb.WriteString(" Additional guidance: ")
		sb.WriteString(extra)
	}
	return sb.String()
}

// CleanModelText strips code fences and wrapping quotes from model output.
func CleanModelText(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```text")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return strings.Trim(text, "\"")
}

// Coalesce returns the first non-blank value.
func Coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// ComponentLogger returns l scoped to a provider, or a no-op logger when l is nil.
func ComponentLogger(l *infra.Logger, provider string) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.With().Str("provider", provider).Logger()
}
