// Package chunker slices tall screenshots into overlapping windows.
//
// Information Hiding:
// - Image decoding (PNG, JPEG, GIF, WebP) and PNG re-encoding
// - Window geometry: fixed overlap so a model reading chunk k+1 can reconcile
//   lines cut off at the bottom of chunk k
// - Short images pass through untouched

package chunker

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/webp"

	"github.com/richinex/handoff/asset"
)

const (
	// OverlapPX is the vertical overlap between adjacent windows.
	OverlapPX = 400

	// MinChunkHeight is the floor of the window height at any pixel ratio.
	MinChunkHeight = 1200

	// chunkBudgetPX is divided by the device pixel ratio to get the window height.
	chunkBudgetPX = 4000

	// minTrailingPX is the uncovered remainder below which slicing stops.
	minTrailingPX = 50

	outputMIMEType = "image/png"
)

var (
	// ErrDecode is returned for corrupt, unsupported or zero-sized images.
	ErrDecode = errors.New("image decode failed")

	// ErrTooManyChunks is returned when a configured chunk cap would be exceeded.
	ErrTooManyChunks = errors.New("chunk limit exceeded")
)

// Window is a vertical slice [Top, Top+Height) of the source image.
type Window struct {
	Top    int
	Height int
}

// Bottom returns the exclusive lower edge of the window.
func (w Window) Bottom() int {
	return w.Top + w.Height
}

// Chunk is one unit of model input derived from an asset.
type Chunk struct {
	AssetID  string
	Index    int
	Data     []byte
	MIMEType string
	Window   Window
}

// Encoded returns the chunk payload as standard base64.
func (c Chunk) Encoded() string {
	return base64.StdEncoding.EncodeToString(c.Data)
}

// MaxChunkHeight returns max(1200, floor(4000 / dpr)).
// Non-positive ratios are treated as 1.
func MaxChunkHeight(devicePixelRatio float64) int {
	if devicePixelRatio <= 0 || math.IsNaN(devicePixelRatio) {
		devicePixelRatio = 1
	}
	h := int(math.Floor(chunkBudgetPX / devicePixelRatio))
	if h < MinChunkHeight {
		return MinChunkHeight
	}
	return h
}

// Windows computes the slicing plan for an image of the given height.
// Heights up to maxHeight produce a single window covering the image.
func Windows(height, maxHeight int) []Window {
	if height <= 0 {
		return nil
	}
	if height <= maxHeight {
		return []Window{{Top: 0, Height: height}}
	}

	var windows []Window
	y := 0
	for y < height {
		h := min(maxHeight, height-y)
		windows = append(windows, Window{Top: y, Height: h})
		if y+h >= height {
			break
		}
		y += h - OverlapPX
		if height-y < minTrailingPX {
			break
		}
	}
	return windows
}

// Chunker converts assets into chunk sequences.
type Chunker struct {
	// DevicePixelRatio scales the window height; zero means 1.
	DevicePixelRatio float64

	// MaxChunks caps the chunks produced for one asset; zero means unbounded.
	MaxChunks int
}

// New creates a chunker.
func New(devicePixelRatio float64, maxChunks int) *Chunker {
	return &Chunker{DevicePixelRatio: devicePixelRatio, MaxChunks: maxChunks}
}

// MaxHeight returns the window height used by this chunker.
func (c *Chunker) MaxHeight() int {
	return MaxChunkHeight(c.DevicePixelRatio)
}

// Chunk slices one asset. The result is regenerated on every call.
func (c *Chunker) Chunk(a asset.Asset) ([]Chunk, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(a.Raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, a.Name, err)
	}
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, fmt.Errorf("%w: %s: empty image %dx%d", ErrDecode, a.Name, cfg.Width, cfg.Height)
	}

	maxHeight := c.MaxHeight()
	if cfg.Height <= maxHeight {
		return []Chunk{{
			AssetID:  a.ID,
			Index:    0,
			Data:     a.Raw,
			MIMEType: mimeTypeFor(format),
			Window:   Window{Top: 0, Height: cfg.Height},
		}}, nil
	}

	windows := Windows(cfg.Height, maxHeight)
	if c.MaxChunks > 0 && len(windows) > c.MaxChunks {
		return nil, fmt.Errorf("%w: %s needs %d chunks, cap is %d", ErrTooManyChunks, a.Name, len(windows), c.MaxChunks)
	}

	img, _, err := image.Decode(bytes.NewReader(a.Raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, a.Name, err)
	}

	bounds := img.Bounds()
	chunks := make([]Chunk, 0, len(windows))
	for i, w := range windows {
		rect := image.Rect(bounds.Min.X, bounds.Min.Y+w.Top, bounds.Max.X, bounds.Min.Y+w.Bottom())
		data, err := encodeWindow(img, rect)
		if err != nil {
			return nil, fmt.Errorf("failed to encode chunk %d of %s: %w", i, a.Name, err)
		}
		chunks = append(chunks, Chunk{
			AssetID:  a.ID,
			Index:    i,
			Data:     data,
			MIMEType: outputMIMEType,
			Window:   w,
		})
	}
	return chunks, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func encodeWindow(img image.Image, rect image.Rectangle) ([]byte, error) {
	var window image.Image
	if si, ok := img.(subImager); ok {
		window = si.SubImage(rect)
	} else {
		dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
		window = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, window); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mimeTypeFor(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return outputMIMEType
	}
}
