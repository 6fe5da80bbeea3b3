package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

var (
	ErrNoDefault     = errors.New("no default provider configured")
	ErrNotRegistered = errors.New("provider not registered")
	ErrNotConfigured = errors.New("provider not configured")
	ErrModelRequired = errors.New("model is required")
	ErrDuplicateName = errors.New("duplicate provider name")
	ErrNoCapability  = errors.New("provider implements no generation capability")
	ErrUnknownKind   = errors.New("unknown provider kind")
)

// lookupError keeps the user-facing message exact while still matching a sentinel.
type lookupError struct {
	kind error
	msg  string
}

func (e *lookupError) Error() string { return e.msg }
func (e *lookupError) Unwrap() error { return e.kind }

// Factory maps content types and provider names to registered providers.
// The tables are built once; routing reads a fresh configuration snapshot on
// every call.
type Factory struct {
	settings config.Source
	images   map[string]ImageGenerator
	audio    map[string]AudioGenerator
	video    map[string]VideoGenerator
	prompts  map[string]PromptEnhancer
	texts    map[string]TextGenerator
}

// NewFactory registers every provider under each kind it implements.
func NewFactory(settings config.Source, registered ...Provider) (*Factory, error) {
	f := &Factory{
		settings: settings,
		images:   map[string]ImageGenerator{},
		audio:    map[string]AudioGenerator{},
		video:    map[string]VideoGenerator{},
		prompts:  map[string]PromptEnhancer{},
		texts:    map[string]TextGenerator{},
	}
	for _, p := range registered {
		if p == nil {
			continue
		}
		matched := false
		if g, ok := p.(ImageGenerator); ok {
			if err := register(f.images, domain.CategoryImage, g); err != nil {
				return nil, err
			}
			matched = true
		}
		if g, ok := p.(AudioGenerator); ok {
			if err := register(f.audio, domain.CategoryAudio, g); err != nil {
				return nil, err
			}
			matched = true
		}
		if g, ok := p.(VideoGenerator); ok {
			if err := register(f.video, domain.CategoryVideo, g); err != nil {
				return nil, err
			}
			matched = true
		}
		if g, ok := p.(PromptEnhancer); ok {
			if err := register(f.prompts, domain.CategoryPrompt, g); err != nil {
				return nil, err
			}
			matched = true
		}
		if g, ok := p.(TextGenerator); ok {
			if err := register(f.texts, domain.CategoryText, g); err != nil {
				return nil, err
			}
			matched = true
		}
		if !matched {
			return nil, fmt.Errorf("%w: %s", ErrNoCapability, p.Name())
		}
	}
	return f, nil
}

func register[T Provider](table map[string]T, kind domain.Category, p T) error {
	key := strings.ToLower(p.Name())
	if _, exists := table[key]; exists {
		return fmt.Errorf("%w: %s provider '%s'", ErrDuplicateName, kind, p.Name())
	}
	table[key] = p
	return nil
}

// ResolveProviderAndModel returns the provider name and model configured for
// a content type: the subtype entry first, then the category's _default entry.
func (f *Factory) ResolveProviderAndModel(ct domain.GeneratedContentType) (string, string, error) {
	if !ct.Valid() {
		return "", "", fmt.Errorf("%w: %q", domain.ErrInvalidContentType, ct)
	}
	snap := f.settings.Snapshot()
	category := string(ct.Category())
	if sel, ok := snap.Selection(category, ct.Subtype()); ok {
		return sel.Provider, sel.Model, nil
	}
	if sel, ok := snap.Selection(category, config.DefaultSubtype); ok {
		return sel.Provider, sel.Model, nil
	}
	return "", "", &lookupError{
		kind: ErrNoDefault,
		msg:  fmt.Sprintf("No default configured for %s:%s", category, ct.Subtype()),
	}
}

// ImageProvider returns the named image provider, or the one configured for
// the canonical image content type when name is empty.
func (f *Factory) ImageProvider(name string) (ImageGenerator, error) {
	return lookup(f, f.images, domain.CategoryImage, name)
}

// AudioProvider is ImageProvider for audio.
func (f *Factory) AudioProvider(name string) (AudioGenerator, error) {
	return lookup(f, f.audio, domain.CategoryAudio, name)
}

// VideoProvider is ImageProvider for video.
func (f *Factory) VideoProvider(name string) (VideoGenerator, error) {
	return lookup(f, f.video, domain.CategoryVideo, name)
}

// PromptEnhancer is ImageProvider for prompt enhancement.
func (f *Factory) PromptEnhancer(name string) (PromptEnhancer, error) {
	return lookup(f, f.prompts, domain.CategoryPrompt, name)
}

// TextProvider is ImageProvider for text.
func (f *Factory) TextProvider(name string) (TextGenerator, error) {
	return lookup(f, f.texts, domain.CategoryText, name)
}

func lookup[T Provider](f *Factory, table map[string]T, kind domain.Category, name string) (T, error) {
	var zero T
	name = strings.TrimSpace(name)
	if name == "" {
		resolved, _, err := f.ResolveProviderAndModel(domain.CanonicalContentType(kind))
		if err != nil {
			return zero, err
		}
		name = resolved
	}
	p, ok := table[strings.ToLower(name)]
	if !ok {
		return zero, &lookupError{
			kind: ErrNotRegistered,
			msg:  fmt.Sprintf("%s provider '%s' is not registered.", kind, name),
		}
	}
	return p, nil
}

// Available lists the registered provider names of a kind, sorted.
func (f *Factory) Available(kind domain.Category) ([]string, error) {
	var names []string
	switch kind {
	case domain.CategoryImage:
		names = namesOf(f.images)
	case domain.CategoryAudio:
		names = namesOf(f.audio)
	case domain.CategoryVideo:
		names = namesOf(f.video)
	case domain.CategoryPrompt:
		names = namesOf(f.prompts)
	case domain.CategoryText:
		names = namesOf(f.texts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return names, nil
}

func namesOf[T Provider](table map[string]T) []string {
	names := make([]string, 0, len(table))
	for _, p := range table {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}
