package gpu

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// MaxTextureSize bounds sprite textures; larger images are downscaled.
const MaxTextureSize = 2048

// LoadTexture decodes a sprite from disk into tightly packed RGBA.
func LoadTexture(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open texture %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode texture %s: %w", path, err)
	}
	return ToRGBA(img), nil
}

// ToRGBA converts img to an *image.RGBA whose origin is (0,0), downscaling
// anything larger than MaxTextureSize.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && w <= MaxTextureSize && h <= MaxTextureSize && rgba.Stride == w*4 {
		return rgba
	}

	scale := 1.0
	if m := max(w, h); m > MaxTextureSize {
		scale = float64(MaxTextureSize) / float64(m)
	}
	dw := max(1, int(float64(w)*scale))
	dh := max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	if dw == w && dh == h {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}
	return dst
}

// DefaultSprite renders the soft round sprite used when an emitter has no texture.
func DefaultSprite(size int) *image.RGBA {
	if size < 2 {
		size = 2
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	c := float64(size-1) * 0.5
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := (float64(x) - c) / c
			dy := (float64(y) - c) / c
			d := math.Sqrt(dx*dx + dy*dy)
			a := 1 - smoothstep(0.5, 1.0, d)
			img.SetRGBA(x, y, color.RGBA{255, 255, 255, uint8(math.Round(a * 255))})
		}
	}
	return img
}

func smoothstep(e0, e1, x float64) float64 {
	t := math.Max(0, math.Min(1, (x-e0)/(e1-e0)))
	return t * t * (3 - 2*t)
}
