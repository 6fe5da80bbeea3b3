package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestWorkSpecValidate(t *testing.T) {
	valid := WorkSpec{ContentType: ImageToken, EntityID: uuid.New(), Input: GenerationInput{Name: "Grak"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid work spec, got %v", err)
	}

	cases := []struct {
		name string
		edit func(*WorkSpec)
		want string
	}{
		{"unknown content type", func(w *WorkSpec) { w.ContentType = "Hologram" }, `content type "Hologram" is not supported`},
		{"nil entity", func(w *WorkSpec) { w.EntityID = uuid.Nil }, "entityId is required"},
		{"blank name and prompt", func(w *WorkSpec) { w.Input = GenerationInput{Name: "  ", Prompt: "\t"} }, "prompt or name is required"},
		{"bad aspect ratio", func(w *WorkSpec) { w.Input.AspectRatio = "5:1" }, "input.aspectRatio must be one of"},
		{"duration out of range", func(w *WorkSpec) { w.Input.DurationSeconds = -1 }, "input.durationSeconds is out of range"},
	}
	for _, tc := range cases {
		w := valid
		tc.edit(&w)
		err := w.Validate()
		if !errors.Is(err, ErrInvalidWorkItem) {
			t.Fatalf("%s: expected ErrInvalidWorkItem, got %v", tc.name, err)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestPromptAloneIsEnough(t *testing.T) {
	w := WorkSpec{ContentType: AudioEffect, EntityID: uuid.New(), Input: GenerationInput{Prompt: "door creak"}}
	if err := w.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
