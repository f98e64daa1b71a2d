// Package imaging provides the decoded-image buffer type and the pixel
// operations the pipeline is built on. Buffers are immutable: every
// operation returns a new buffer and never writes through a received one.
package imaging

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/webp" // register webp decoding for image.Decode
)

// Buffer is a decoded raster in RGBA order. Treat as read-only once
// returned; all transforms allocate a new Buffer.
type Buffer struct {
	width  int
	height int
	pix    []uint8 // 4 bytes per pixel, row-major
}

// New returns a buffer of the given size filled with the given color.
func New(width, height int, fill color.RGBA) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}
	b := &Buffer{width: width, height: height, pix: make([]uint8, width*height*4)}
	for i := 0; i < len(b.pix); i += 4 {
		b.pix[i] = fill.R
		b.pix[i+1] = fill.G
		b.pix[i+2] = fill.B
		b.pix[i+3] = fill.A
	}
	return b, nil
}

// FromRaw wraps pre-built RGBA bytes. The slice must hold width*height*4
// bytes and ownership passes to the buffer.
func FromRaw(width, height int, pix []uint8) *Buffer {
	return &Buffer{width: width, height: height, pix: pix}
}

// FromImage converts any image.Image into a Buffer.
func FromImage(img image.Image) *Buffer {
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return &Buffer{width: bounds.Dx(), height: bounds.Dy(), pix: rgba.Pix}
}

// Width returns the pixel width.
func (b *Buffer) Width() int { return b.width }

// Height returns the pixel height.
func (b *Buffer) Height() int { return b.height }

// PixelAt returns the RGBA components at (x, y). Out-of-bounds coordinates
// return zeroes.
func (b *Buffer) PixelAt(x, y int) (r, g, bl, a uint8) {
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return 0, 0, 0, 0
	}
	i := (y*b.width + x) * 4
	return b.pix[i], b.pix[i+1], b.pix[i+2], b.pix[i+3]
}

// Pix returns a copy of the raw RGBA bytes.
func (b *Buffer) Pix() []uint8 {
	out := make([]uint8, len(b.pix))
	copy(out, b.pix)
	return out
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{width: b.width, height: b.height, pix: b.Pix()}
}

// Image converts the buffer back into an image.RGBA copy.
func (b *Buffer) Image() *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	copy(rgba.Pix, b.pix)
	return rgba
}

// Equal reports whether two buffers have identical dimensions and bytes.
func Equal(a, b *Buffer) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.width == b.width && a.height == b.height && bytes.Equal(a.pix, b.pix)
}

// Decode sniffs and decodes JPEG, PNG, or WebP bytes into a Buffer.
func Decode(data []byte) (*Buffer, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	buf := FromImage(img)
	if buf.width == 0 || buf.height == 0 {
		return nil, fmt.Errorf("decoded %s image has no dimensions", format)
	}
	return buf, nil
}

// Encode serializes a buffer. Supported formats: "png", "jpeg", "webp".
func Encode(b *Buffer, format string) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("cannot encode nil buffer")
	}
	var out bytes.Buffer
	switch format {
	case "png":
		if err := png.Encode(&out, b.Image()); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
	case "jpeg", "jpg":
		if err := jpeg.Encode(&out, b.Image(), &jpeg.Options{Quality: 92}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	case "webp":
		if err := webp.Encode(&out, b.Image(), &webp.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("failed to encode webp: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported encode format: %s", format)
	}
	return out.Bytes(), nil
}

// ContentHash returns a cheap hash of the buffer's dimensions and leading
// pixel bytes. Suitable only for short-window cache keying, not identity.
func ContentHash(b *Buffer) uint64 {
	h := fnv.New64a()
	var dims [8]byte
	dims[0] = byte(b.width)
	dims[1] = byte(b.width >> 8)
	dims[2] = byte(b.width >> 16)
	dims[3] = byte(b.width >> 24)
	dims[4] = byte(b.height)
	dims[5] = byte(b.height >> 8)
	dims[6] = byte(b.height >> 16)
	dims[7] = byte(b.height >> 24)
	h.Write(dims[:])
	n := len(b.pix)
	if n > 4096 {
		n = 4096
	}
	h.Write(b.pix[:n])
	return h.Sum64()
}
