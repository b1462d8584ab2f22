// Package template defines the core's contract with the (out-of-scope)
// external template engine: given a template name and metadata, render
// text. Template catalog loading itself lives outside this module
// (template rendering is out of scope here); the core only needs a side-effect-free
// Renderer and a minimal fallback for when rendering fails.
package template

import (
	"fmt"
	"time"
)

// Renderer renders a named template against metadata. Implementations
// must be side-effect-free.
type Renderer interface {
	Render(name string, data map[string]any) (string, error)
}

// NullRenderer always fails, forcing callers onto the hand-written
// fallback. Used when no external template engine is wired in.
type NullRenderer struct{}

func (NullRenderer) Render(name string, data map[string]any) (string, error) {
	return "", fmt.Errorf("template: no renderer configured for %q", name)
}

// FallbackRotationHeader is the hand-written minimal header used when
// the template engine is unavailable or fails during rotation.
func FallbackRotationHeader(project, logType string, rotatedAt time.Time) string {
	return fmt.Sprintf("# %s %s log\n\nRotated at %s UTC.\n\n", project, logType, rotatedAt.UTC().Format("2006-01-02 15:04:05"))
}

// RenderOrFallback renders name via r, falling back to fallback() on
// any error.
func RenderOrFallback(r Renderer, name string, data map[string]any, fallback func() string) string {
	if r == nil {
		return fallback()
	}
	out, err := r.Render(name, data)
	if err != nil {
		return fallback()
	}
	return out
}
