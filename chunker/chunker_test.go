package chunker

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/richinex/handoff/asset"
)

// stripedPNG encodes a width x height image whose row y has red channel y%256.
func stripedPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(y % 256), G: 10, B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestMaxChunkHeight(t *testing.T) {
	cases := []struct {
		dpr  float64
		want int
	}{
		{1, 4000},
		{2, 2000},
		{3, 1333},
		{4, 1200},
		{0, 4000},
		{-1, 4000},
	}
	for _, c := range cases {
		if got := MaxChunkHeight(c.dpr); got != c.want {
			t.Errorf("MaxChunkHeight(%v) = %d, want %d", c.dpr, got, c.want)
		}
	}
}

func TestWindowsSingleForShortImages(t *testing.T) {
	for _, h := range []int{1, 50, 1199, 4000} {
		ws := Windows(h, 4000)
		if len(ws) != 1 || ws[0].Top != 0 || ws[0].Height != h {
			t.Errorf("height %d: expected one full window, got %+v", h, ws)
		}
	}
}

func TestWindowsZeroHeight(t *testing.T) {
	if ws := Windows(0, 4000); ws != nil {
		t.Errorf("expected no windows, got %+v", ws)
	}
}

func TestWindowsCoverWithExactOverlap(t *testing.T) {
	for _, maxHeight := range []int{1200, 2000, 4000} {
		for h := maxHeight + 1; h <= maxHeight*6; h += 37 {
			ws := Windows(h, maxHeight)
			if len(ws) < 2 {
				t.Fatalf("height %d/%d: expected several windows, got %d", h, maxHeight, len(ws))
			}
			if ws[0].Top != 0 {
				t.Errorf("height %d/%d: first window starts at %d", h, maxHeight, ws[0].Top)
			}
			last := ws[len(ws)-1]
			if last.Bottom() != h {
				t.Errorf("height %d/%d: last window ends at %d", h, maxHeight, last.Bottom())
			}
			for i := 1; i < len(ws); i++ {
				prev, cur := ws[i-1], ws[i]
				if prev.Height != maxHeight {
					t.Errorf("height %d/%d: non-final window %d has height %d", h, maxHeight, i-1, prev.Height)
				}
				if overlap := prev.Bottom() - cur.Top; overlap != OverlapPX {
					t.Errorf("height %d/%d: windows %d/%d overlap %d", h, maxHeight, i-1, i, overlap)
				}
			}
		}
	}
}

func TestWindowsKnownLayout(t *testing.T) {
	ws := Windows(5000, 4000)
	want := []Window{{Top: 0, Height: 4000}, {Top: 3600, Height: 1400}}
	if len(ws) != len(want) {
		t.Fatalf("expected %d windows, got %+v", len(want), ws)
	}
	for i := range want {
		if ws[i] != want[i] {
			t.Errorf("window %d: expected %+v, got %+v", i, want[i], ws[i])
		}
	}
}

func TestChunkShortImagePassesThrough(t *testing.T) {
	raw := stripedPNG(t, 8, 300)
	a := asset.New("short.png", raw)

	chunks, err := New(1, 0).Chunk(a)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !bytes.Equal(chunks[0].Data, raw) {
		t.Error("single chunk must be identical to the source")
	}
	if chunks[0].MIMEType != "image/png" {
		t.Errorf("expected image/png, got %s", chunks[0].MIMEType)
	}
	if chunks[0].AssetID != a.ID {
		t.Errorf("expected asset id %s, got %s", a.ID, chunks[0].AssetID)
	}
}

func TestChunkTallImageSlices(t *testing.T) {
	raw := stripedPNG(t, 4, 2600)
	a := asset.New("tall.png", raw)

	// dpr 4 gives 1200px windows: [0,1200) [800,2000) [1600,2600)
	chunks, err := New(4, 0).Chunk(a)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		img, err := png.Decode(bytes.NewReader(c.Data))
		if err != nil {
			t.Fatalf("chunk %d is not a PNG: %v", i, err)
		}
		b := img.Bounds()
		if b.Dy() != c.Window.Height || b.Dx() != 4 {
			t.Errorf("chunk %d: expected 4x%d, got %dx%d", i, c.Window.Height, b.Dx(), b.Dy())
		}
		r, _, _, _ := img.At(b.Min.X, b.Min.Y).RGBA()
		if want := uint32(c.Window.Top % 256); r>>8 != want {
			t.Errorf("chunk %d: top row red %d, want %d", i, r>>8, want)
		}
	}
	if chunks[2].Window.Bottom() != 2600 {
		t.Errorf("last chunk must reach the bottom edge, ends at %d", chunks[2].Window.Bottom())
	}
}

func TestChunkCorruptImage(t *testing.T) {
	a := asset.New("broken.png", []byte("not an image"))
	_, err := New(1, 0).Chunk(a)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestChunkEmptyPayload(t *testing.T) {
	a := asset.New("empty.png", nil)
	if _, err := New(1, 0).Chunk(a); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestChunkCap(t *testing.T) {
	a := asset.New("tall.png", stripedPNG(t, 2, 2600))

	if _, err := New(4, 2).Chunk(a); !errors.Is(err, ErrTooManyChunks) {
		t.Errorf("expected ErrTooManyChunks, got %v", err)
	}
	if chunks, err := New(4, 3).Chunk(a); err != nil || len(chunks) != 3 {
		t.Errorf("cap equal to the chunk count should pass, got %d chunks, err %v", len(chunks), err)
	}
}

func TestChunkEncoded(t *testing.T) {
	c := Chunk{Data: []byte("abc")}
	if c.Encoded() != "YWJj" {
		t.Errorf("expected 'YWJj', got %q", c.Encoded())
	}
}
