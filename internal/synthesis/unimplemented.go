package synthesis

import (
	"context"

	"github.com/kiranshivaraju/twimagine/internal/coordinator"
)

// Unimplemented fails every prompt with ErrNotImplemented.
type Unimplemented struct{}

func (Unimplemented) Generate(ctx context.Context, prompt string) (*coordinator.Image, error) {
	return nil, ErrNotImplemented
}
