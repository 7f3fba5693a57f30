// Package imagecheck screens page photos before any extraction spend.
// Bad scans fail here with actionable messages instead of producing
// garbage entries downstream.
package imagecheck

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	"github.com/bbrks/go-blurhash"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/tithebookapp/tithebook-server/internal/errors"
)

const (
	// MinBytes rejects thumbnails and truncated uploads.
	MinBytes = 10 * 1024
	// MaxBytes rejects originals that would blow provider payload limits.
	MaxBytes = 15 * 1024 * 1024

	// Handwritten rows become unreadable below this resolution.
	MinWidth  = 800
	MinHeight = 600

	// blurHashSize is the target size for BlurHash computation.
	// BlurHash doesn't need high resolution - a small thumbnail produces
	// nearly identical results.
	blurHashSize = 64
)

// Info describes a page image that passed screening.
type Info struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
	BlurHash string `json:"blur_hash,omitempty"`
}

// Check validates a page image and returns its dimensions and format.
// All failures are validation errors naming what the operator should fix.
func Check(data []byte) (*Info, error) {
	if len(data) < MinBytes {
		return nil, errors.Validationf("image is %d bytes, below the %d byte minimum; rescan at higher quality", len(data), MinBytes)
	}
	if len(data) > MaxBytes {
		return nil, errors.Validationf("image is %d bytes, above the %d byte limit; export at lower resolution", len(data), MaxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Validation("unrecognized image format; use JPEG, PNG, WebP, or BMP")
	}

	if cfg.Width < MinWidth || cfg.Height < MinHeight {
		return nil, errors.Validationf("image is %dx%d, below the %dx%d minimum for readable handwriting", cfg.Width, cfg.Height, MinWidth, MinHeight)
	}

	return &Info{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// CheckWithPreview screens the image and additionally computes a BlurHash
// placeholder for the review UI. Preview failure is not a screening
// failure; the hash is simply left empty.
func CheckWithPreview(data []byte) (*Info, error) {
	info, err := Check(data)
	if err != nil {
		return nil, err
	}

	if hash, err := computeBlurHash(data); err == nil {
		info.BlurHash = hash
	}

	return info, nil
}

func computeBlurHash(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	// 4 horizontal, 3 vertical components - compact but recognizable
	hash, err := blurhash.Encode(4, 3, resizeForBlurHash(img))
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}

	return hash, nil
}

// resizeForBlurHash creates a small thumbnail suitable for BlurHash
// computation using nearest-neighbor scaling.
func resizeForBlurHash(img image.Image) image.Image {
	bounds := img.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()

	if srcWidth <= blurHashSize && srcHeight <= blurHashSize {
		return img
	}

	var dstWidth, dstHeight int
	if srcWidth > srcHeight {
		dstWidth = blurHashSize
		dstHeight = max((srcHeight*blurHashSize)/srcWidth, 1)
	} else {
		dstHeight = blurHashSize
		dstWidth = max((srcWidth*blurHashSize)/srcHeight, 1)
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))

	xRatio := float64(srcWidth) / float64(dstWidth)
	yRatio := float64(srcHeight) / float64(dstHeight)

	for y := 0; y < dstHeight; y++ {
		for x := 0; x < dstWidth; x++ {
			srcX := int(float64(x) * xRatio)
			srcY := int(float64(y) * yRatio)
			dst.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	return dst
}
