package imaging

// Box is a pixel-space rectangle. Boxes handed between pipeline stages are
// always clamped to the owning image's bounds.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Clamp restricts the box to an image of the given dimensions.
func (b Box) Clamp(imgWidth, imgHeight int) Box {
	x0 := b.X
	y0 := b.Y
	x1 := b.X + b.Width
	y1 := b.Y + b.Height

	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > imgWidth {
		x1 = imgWidth
	}
	if y1 > imgHeight {
		y1 = imgHeight
	}
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return Box{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Expand scales the box by factor about its center, unclamped.
func (b Box) Expand(factor float64) Box {
	newW := int(float64(b.Width) * factor)
	newH := int(float64(b.Height) * factor)
	return Box{
		X:      b.X - (newW-b.Width)/2,
		Y:      b.Y - (newH-b.Height)/2,
		Width:  newW,
		Height: newH,
	}
}
