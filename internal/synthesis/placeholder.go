package synthesis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/kiranshivaraju/twimagine/internal/coordinator"
)

// Placeholder renders a square PNG whose gradient is derived from the prompt.
// It exercises the upload and reply path in development.
type Placeholder struct {
	size int
}

// NewPlaceholder creates a Placeholder drawing size x size images, 512 when size is not positive.
func NewPlaceholder(size int) *Placeholder {
	if size <= 0 {
		size = 512
	}
	return &Placeholder{size: size}
}

func (p *Placeholder) Generate(ctx context.Context, prompt string) (*coordinator.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(prompt))
	from := color.RGBA{R: sum[0], G: sum[1], B: sum[2], A: 0xff}
	to := color.RGBA{R: sum[3], G: sum[4], B: sum[5], A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	for y := 0; y < p.size; y++ {
		c := lerp(from, to, y, p.size-1)
		for x := 0; x < p.size; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding placeholder: %w", err)
	}
	return &coordinator.Image{Data: buf.Bytes(), ContentType: "image/png"}, nil
}

func lerp(a, b color.RGBA, i, n int) color.RGBA {
	if n <= 0 {
		return a
	}
	mix := func(x, y uint8) uint8 {
		return uint8((int(x)*(n-i) + int(y)*i) / n)
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 0xff}
}
