// Package synthesis turns prompts into images.
package synthesis

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/twimagine/internal/config"
	"github.com/kiranshivaraju/twimagine/internal/coordinator"
)

// ErrNotImplemented is returned by the default provider. It is terminal: the
// request fails and the author gets an apology.
var ErrNotImplemented = errors.New("image synthesis is not implemented")

// NewProvider constructs the synthesizer selected by config.
// Called once at worker startup.
func NewProvider(cfg config.SynthesisConfig) (coordinator.Synthesizer, error) {
	switch cfg.Provider {
	case "unimplemented":
		return Unimplemented{}, nil
	case "placeholder":
		return NewPlaceholder(512), nil
	default:
		return nil, fmt.Errorf("unknown synthesis provider %q: must be one of unimplemented, placeholder", cfg.Provider)
	}
}
