package imaging

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// ExtractRegion copies the pixels inside box (clamped to the buffer) into a
// new buffer. Returns nil if the clamped box is empty.
func ExtractRegion(b *Buffer, box Box) *Buffer {
	if b == nil {
		return nil
	}
	box = box.Clamp(b.width, b.height)
	if box.Empty() {
		return nil
	}
	out := &Buffer{width: box.Width, height: box.Height, pix: make([]uint8, box.Width*box.Height*4)}
	for y := 0; y < box.Height; y++ {
		srcOff := ((box.Y+y)*b.width + box.X) * 4
		dstOff := y * box.Width * 4
		copy(out.pix[dstOff:dstOff+box.Width*4], b.pix[srcOff:srcOff+box.Width*4])
	}
	return out
}

// Resize scales the buffer to the given dimensions using Catmull-Rom
// interpolation.
func Resize(b *Buffer, width, height int) (*Buffer, error) {
	if b == nil {
		return nil, fmt.Errorf("cannot resize nil buffer")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid resize target %dx%d", width, height)
	}
	if width == b.width && height == b.height {
		return b.Clone(), nil
	}
	src := b.Image()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return &Buffer{width: width, height: height, pix: dst.Pix}, nil
}

// Grayscale returns a buffer with every pixel replaced by its Rec. 601 luma.
func Grayscale(b *Buffer) *Buffer {
	out := &Buffer{width: b.width, height: b.height, pix: make([]uint8, len(b.pix))}
	for i := 0; i < len(b.pix); i += 4 {
		y := luma(b.pix[i], b.pix[i+1], b.pix[i+2])
		out.pix[i] = y
		out.pix[i+1] = y
		out.pix[i+2] = y
		out.pix[i+3] = b.pix[i+3]
	}
	return out
}

// luma computes the Rec. 601 weighted luminance of one pixel.
func luma(r, g, b uint8) uint8 {
	return uint8((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
}

// CompositeWithAlpha pastes overlay onto base at the given position,
// using mask's red channel as per-pixel alpha. Overlay and mask must have
// identical dimensions. Pixels falling outside base are dropped.
func CompositeWithAlpha(base, overlay, mask *Buffer, at image.Point) (*Buffer, error) {
	if base == nil || overlay == nil || mask == nil {
		return nil, fmt.Errorf("composite requires base, overlay and mask")
	}
	if overlay.width != mask.width || overlay.height != mask.height {
		return nil, fmt.Errorf("overlay %dx%d and mask %dx%d dimensions differ",
			overlay.width, overlay.height, mask.width, mask.height)
	}

	out := base.Clone()
	for oy := 0; oy < overlay.height; oy++ {
		by := at.Y + oy
		if by < 0 || by >= base.height {
			continue
		}
		for ox := 0; ox < overlay.width; ox++ {
			bx := at.X + ox
			if bx < 0 || bx >= base.width {
				continue
			}
			a := int(mask.pix[(oy*mask.width+ox)*4])
			if a == 0 {
				continue
			}
			oi := (oy*overlay.width + ox) * 4
			bi := (by*base.width + bx) * 4
			if a == 255 {
				copy(out.pix[bi:bi+4], overlay.pix[oi:oi+4])
				continue
			}
			for c := 0; c < 4; c++ {
				ov := int(overlay.pix[oi+c])
				bv := int(out.pix[bi+c])
				out.pix[bi+c] = uint8((a*ov + (255-a)*bv + 127) / 255)
			}
		}
	}
	return out, nil
}

// MeanBrightness returns the average luma over the whole buffer, 0-255.
func MeanBrightness(b *Buffer) float64 {
	if b == nil || len(b.pix) == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(b.pix); i += 4 {
		sum += float64(luma(b.pix[i], b.pix[i+1], b.pix[i+2]))
	}
	return sum / float64(len(b.pix)/4)
}
