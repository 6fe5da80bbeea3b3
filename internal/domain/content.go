package domain

import (
	"fmt"
	"strings"
)

// Category groups content types by media kind. It doubles as the provider kind.
type Category string

const (
	CategoryImage  Category = "Image"
	CategoryAudio  Category = "Audio"
	CategoryVideo  Category = "Video"
	CategoryPrompt Category = "Prompt"
	CategoryText   Category = "Text"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{CategoryImage, CategoryAudio, CategoryVideo, CategoryPrompt, CategoryText}
}

// ParseCategory matches a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCategory, s)
}

// GeneratedContentType is the closed set of artifacts the pipeline can produce.
type GeneratedContentType string

const (
	ImagePortrait     GeneratedContentType = "ImagePortrait"
	ImageToken        GeneratedContentType = "ImageToken"
	ImageBackground   GeneratedContentType = "ImageBackground"
	AudioAmbient      GeneratedContentType = "AudioAmbient"
	AudioEffect       GeneratedContentType = "AudioEffect"
	VideoBackground   GeneratedContentType = "VideoBackground"
	PromptEnhancement GeneratedContentType = "PromptEnhancement"
	TextDescription   GeneratedContentType = "TextDescription"
)

type contentShape struct {
	category Category
	subtype  string
}

var contentShapes = map[GeneratedContentType]contentShape{
	ImagePortrait:     {CategoryImage, "Portrait"},
	ImageToken:        {CategoryImage, "Token"},
	ImageBackground:   {CategoryImage, "Background"},
	AudioAmbient:      {CategoryAudio, "Ambient"},
	AudioEffect:       {CategoryAudio, "Effect"},
	VideoBackground:   {CategoryVideo, "Background"},
	PromptEnhancement: {CategoryPrompt, "Enhancement"},
	TextDescription:   {CategoryText, "Description"},
}

// ParseContentType accepts either the enum name ("ImagePortrait") or the
// category:subtype form ("Image:Portrait").
func ParseContentType(s string) (GeneratedContentType, error) {
	s = strings.TrimSpace(s)
	for ct, shape := range contentShapes {
		if strings.EqualFold(string(ct), s) || strings.EqualFold(string(shape.category)+":"+shape.subtype, s) {
			return ct, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidContentType, s)
}

// Valid reports whether ct is a member of the closed set.
func (ct GeneratedContentType) Valid() bool {
	_, ok := contentShapes[ct]
	return ok
}

// Category returns the media kind of the content type.
func (ct GeneratedContentType) Category() Category {
	return contentShapes[ct].category
}

// Subtype returns the variant within the category.
func (ct GeneratedContentType) Subtype() string {
	return contentShapes[ct].subtype
}

// IsBinary reports whether the generated payload is a file to be uploaded.
func (ct GeneratedContentType) IsBinary() bool {
	switch ct.Category() {
	case CategoryImage, CategoryAudio, CategoryVideo:
		return true
	}
	return false
}

// CanonicalContentType is used when a provider of a kind is requested without a name.
func CanonicalContentType(c Category) GeneratedContentType {
	switch c {
	case CategoryImage:
		return ImagePortrait
	case CategoryAudio:
		return AudioAmbient
	case CategoryVideo:
		return VideoBackground
	case CategoryPrompt:
		return PromptEnhancement
	case CategoryText:
		return TextDescription
	}
	return ""
}

// UnmarshalText validates the value while decoding JSON or form input.
func (ct *GeneratedContentType) UnmarshalText(text []byte) error {
	parsed, err := ParseContentType(string(text))
	if err != nil {
		return err
	}
	*ct = parsed
	return nil
}
