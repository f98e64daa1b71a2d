// Package compositor extracts a face region from a source image and pastes
// it back, feather-blended, onto generated images of the same logical frame.
// Identity preservation is a property of this pixel copying, not of
// generator compliance: the generator never gets to decide what the face
// looks like in the final output.
package compositor

import (
	"image"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/DridhaTeamHQ/Tria-pilot-sub001/internal/imaging"
)

// Config controls region expansion and mask feathering.
type Config struct {
	// ExpandFactor scales the face box to include forehead/jaw/neck margin.
	ExpandFactor float64

	// FeatherRadiusPx is the mask feather radius in pixels.
	FeatherRadiusPx int
}

// DefaultConfig returns the production expansion and feathering values.
func DefaultConfig() Config {
	return Config{ExpandFactor: 1.4, FeatherRadiusPx: 12}
}

// FaceRegion holds the pixels and mask extracted from one source image.
// Owned by the pipeline run that created it; never shared across runs.
type FaceRegion struct {
	// Source is the pixel content of ExpandedBox cropped from the input.
	Source *imaging.Buffer

	// Box is the face bounding box the extraction started from.
	Box imaging.Box

	// ExpandedBox is Box scaled by ExpandFactor and clamped to the input.
	ExpandedBox imaging.Box

	// Mask is the feathered elliptical alpha mask, same size as Source.
	Mask *imaging.Buffer

	// SourceWidth and SourceHeight are the input image dimensions, kept to
	// compute the normalized paste position on differently sized targets.
	SourceWidth  int
	SourceHeight int
}

// CompositeResult is the outcome of pasting a FaceRegion onto a target.
type CompositeResult struct {
	Success bool
	Output  *imaging.Buffer
	Err     string
}

// Compositor performs extraction and re-compositing.
type Compositor struct {
	cfg Config
}

// New creates a Compositor.
func New(cfg Config) *Compositor {
	if cfg.ExpandFactor <= 0 {
		cfg.ExpandFactor = 1.4
	}
	if cfg.FeatherRadiusPx <= 0 {
		cfg.FeatherRadiusPx = 12
	}
	return &Compositor{cfg: cfg}
}

// Extract crops the face region from buf. When box is nil a crude
// upper-center heuristic is used; a precise box should come from an
// external landmark detector. Returns nil when the source has no
// extractable dimensions — a recoverable condition the caller must check,
// not an error.
func (c *Compositor) Extract(buf *imaging.Buffer, box *imaging.Box) *FaceRegion {
	if buf == nil || buf.Width() == 0 || buf.Height() == 0 {
		return nil
	}

	var faceBox imaging.Box
	if box != nil && !box.Empty() {
		faceBox = box.Clamp(buf.Width(), buf.Height())
	} else {
		// Fallback: faces in try-on photos sit in the upper half, centered.
		faceBox = imaging.Box{
			X:      buf.Width() / 4,
			Y:      buf.Height() / 20,
			Width:  buf.Width() / 2,
			Height: buf.Height() / 2,
		}
	}
	if faceBox.Empty() {
		return nil
	}

	expanded := faceBox.Expand(c.cfg.ExpandFactor).Clamp(buf.Width(), buf.Height())
	if expanded.Empty() {
		return nil
	}

	source := imaging.ExtractRegion(buf, expanded)
	if source == nil {
		return nil
	}

	mask := featheredEllipseMask(expanded.Width, expanded.Height, c.cfg.FeatherRadiusPx)

	log.Debug().
		Int("box_w", faceBox.Width).
		Int("box_h", faceBox.Height).
		Int("expanded_w", expanded.Width).
		Int("expanded_h", expanded.Height).
		Int("feather_px", c.cfg.FeatherRadiusPx).
		Msg("Face region extracted")

	return &FaceRegion{
		Source:       source,
		Box:          faceBox,
		ExpandedBox:  expanded,
		Mask:         mask,
		SourceWidth:  buf.Width(),
		SourceHeight: buf.Height(),
	}
}

// Composite pastes region onto target at the same normalized position,
// feather-blending the edges against the surrounding scene. On failure the
// original target is returned untouched with Success=false; callers must
// treat that as fatal and never fall back to the unverified target.
//
// The operation is idempotent: the feather band blends face pixels against
// scene pixels sampled just outside the mask support, which compositing
// never modifies, so re-applying the same region yields identical bytes.
func (c *Compositor) Composite(target *imaging.Buffer, region *FaceRegion) CompositeResult {
	if target == nil || target.Width() == 0 || target.Height() == 0 {
		return CompositeResult{Success: false, Output: target, Err: "composite target has no dimensions"}
	}
	if region == nil || region.Source == nil || region.Mask == nil {
		return CompositeResult{Success: false, Output: target, Err: "face region is incomplete"}
	}

	// Map the expanded box through normalized coordinates onto the target.
	sw := float64(region.SourceWidth)
	sh := float64(region.SourceHeight)
	tw := float64(target.Width())
	th := float64(target.Height())

	patchW := int(math.Round(float64(region.ExpandedBox.Width) / sw * tw))
	patchH := int(math.Round(float64(region.ExpandedBox.Height) / sh * th))
	atX := int(math.Round(float64(region.ExpandedBox.X) / sw * tw))
	atY := int(math.Round(float64(region.ExpandedBox.Y) / sh * th))

	if patchW <= 0 || patchH <= 0 {
		return CompositeResult{Success: false, Output: target, Err: "face region maps to an empty area on target"}
	}

	facePixels := region.Source
	mask := region.Mask
	if patchW != facePixels.Width() || patchH != facePixels.Height() {
		var err error
		facePixels, err = imaging.Resize(facePixels, patchW, patchH)
		if err != nil {
			return CompositeResult{Success: false, Output: target, Err: "failed to scale face region: " + err.Error()}
		}
		mask, err = imaging.Resize(mask, patchW, patchH)
		if err != nil {
			return CompositeResult{Success: false, Output: target, Err: "failed to scale face mask: " + err.Error()}
		}
	}

	overlay, support := resolveFeather(target, facePixels, mask, atX, atY)

	out, err := imaging.CompositeWithAlpha(target, overlay, support, image.Pt(atX, atY))
	if err != nil {
		return CompositeResult{Success: false, Output: target, Err: "composite failed: " + err.Error()}
	}

	log.Debug().
		Int("patch_w", patchW).
		Int("patch_h", patchH).
		Int("at_x", atX).
		Int("at_y", atY).
		Msg("Face pixels composited onto target")

	return CompositeResult{Success: true, Output: out}
}

// resolveFeather pre-blends the face patch's feather band against scene
// pixels sampled on a ring just outside the mask support, and returns the
// resolved patch together with a binary support mask. Core pixels (full
// alpha) pass through byte-identical.
func resolveFeather(target, face, mask *imaging.Buffer, atX, atY int) (overlay, support *imaging.Buffer) {
	w := face.Width()
	h := face.Height()
	overlayPix := make([]uint8, w*h*4)
	supportPix := make([]uint8, w*h*4)

	cx := float64(w) / 2
	cy := float64(h) / 2
	rx := float64(w) / 2
	ry := float64(h) / 2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a, _, _, _ := maskAlpha(mask, x, y)
			i := (y*w + x) * 4
			if a == 0 {
				continue
			}
			fr, fg, fb, fa := face.PixelAt(x, y)
			supportPix[i] = 255
			supportPix[i+1] = 255
			supportPix[i+2] = 255
			supportPix[i+3] = 255
			if a == 255 {
				overlayPix[i] = fr
				overlayPix[i+1] = fg
				overlayPix[i+2] = fb
				overlayPix[i+3] = fa
				continue
			}

			br, bg, bb, ba, ok := ringSample(target, mask, atX, atY, x, y, cx, cy, rx, ry, w, h)
			if !ok {
				// No untouched scene pixel reachable (box against the image
				// edge): keep the face pixel so the result stays a pure
				// function of the region.
				overlayPix[i] = fr
				overlayPix[i+1] = fg
				overlayPix[i+2] = fb
				overlayPix[i+3] = fa
				continue
			}
			ai := int(a)
			overlayPix[i] = uint8((ai*int(fr) + (255-ai)*int(br) + 127) / 255)
			overlayPix[i+1] = uint8((ai*int(fg) + (255-ai)*int(bg) + 127) / 255)
			overlayPix[i+2] = uint8((ai*int(fb) + (255-ai)*int(bb) + 127) / 255)
			overlayPix[i+3] = uint8((ai*int(fa) + (255-ai)*int(ba) + 127) / 255)
		}
	}

	return imaging.FromRaw(w, h, overlayPix), imaging.FromRaw(w, h, supportPix)
}

// ringSample finds the scene pixel where the ray from the patch center
// through (x, y) crosses just outside the elliptical mask support.
func ringSample(target, mask *imaging.Buffer, atX, atY, x, y int, cx, cy, rx, ry float64, w, h int) (r, g, b, a uint8, ok bool) {
	dx := float64(x) - cx
	dy := float64(y) - cy
	d := math.Hypot(dx/rx, dy/ry)
	if d < 1e-6 {
		return 0, 0, 0, 0, false
	}
	// Step outward until past the support, capped to a short walk.
	for scale := 1.04 / d; scale < 2.0/d; scale += 0.04 / d {
		px := int(math.Round(cx + dx*scale))
		py := int(math.Round(cy + dy*scale))
		tx := atX + px
		ty := atY + py
		if tx < 0 || ty < 0 || tx >= target.Width() || ty >= target.Height() {
			return 0, 0, 0, 0, false
		}
		if px >= 0 && py >= 0 && px < w && py < h {
			if ma, _, _, _ := maskAlpha(mask, px, py); ma > 0 {
				continue // still inside support, keep walking outward
			}
		}
		r, g, b, a = target.PixelAt(tx, ty)
		return r, g, b, a, true
	}
	return 0, 0, 0, 0, false
}

// maskAlpha reads the mask's red channel as alpha.
func maskAlpha(mask *imaging.Buffer, x, y int) (uint8, uint8, uint8, uint8) {
	return mask.PixelAt(x, y)
}

// featheredEllipseMask builds a soft-edged elliptical alpha mask: a filled
// ellipse inscribed in the box, inset by the feather radius, then box-blurred
// by that radius so alpha ramps smoothly from opaque center to transparent
// border.
func featheredEllipseMask(w, h, feather int) *imaging.Buffer {
	if feather*4 > w || feather*4 > h {
		// Tiny regions get proportionally smaller feathering.
		feather = minInt(w, h) / 4
		if feather < 1 {
			feather = 1
		}
	}

	plane := make([]float64, w*h)
	cx := float64(w) / 2
	cy := float64(h) / 2
	rx := float64(w)/2 - float64(feather)
	ry := float64(h)/2 - float64(feather)
	if rx < 1 {
		rx = 1
	}
	if ry < 1 {
		ry = 1
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			u := (float64(x) + 0.5 - cx) / rx
			v := (float64(y) + 0.5 - cy) / ry
			if u*u+v*v <= 1 {
				plane[y*w+x] = 255
			}
		}
	}

	plane = boxBlurPlane(plane, w, h, feather)

	pix := make([]uint8, w*h*4)
	for i, v := range plane {
		a := uint8(math.Round(v))
		pix[i*4] = a
		pix[i*4+1] = a
		pix[i*4+2] = a
		pix[i*4+3] = 255
	}
	return imaging.FromRaw(w, h, pix)
}

// boxBlurPlane applies a separable box blur of the given radius.
func boxBlurPlane(src []float64, w, h, radius int) []float64 {
	if radius < 1 {
		return src
	}
	tmp := make([]float64, len(src))
	dst := make([]float64, len(src))
	window := float64(2*radius + 1)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -radius; k <= radius; k++ {
				xx := clampInt(x+k, 0, w-1)
				sum += src[y*w+xx]
			}
			tmp[y*w+x] = sum / window
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -radius; k <= radius; k++ {
				yy := clampInt(y+k, 0, h-1)
				sum += tmp[yy*w+x]
			}
			dst[y*w+x] = sum / window
		}
	}
	return dst
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
