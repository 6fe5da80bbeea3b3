package domain

import "strings"

// Error is a structured failure entry carried by Result.
type Error struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// Result is the uniform outcome of a provider operation: a value or one or
// more errors, never both.
type Result[T any] struct {
	Value  T
	Errors []Error
}

// Success wraps a value.
func Success[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Failure builds a failed result with a single message.
func Failure[T any](message, source string) Result[T] {
	return Result[T]{Errors: []Error{{Message: message, Source: source}}}
}

// IsSuccessful reports whether the result carries no errors.
func (r Result[T]) IsSuccessful() bool {
	return len(r.Errors) == 0
}

// Message joins the error messages; empty on success.
func (r Result[T]) Message() string {
	if len(r.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, "; ")
}
