package compositor

import "image"

// Mask is the area of effect of a compositing operation
type Mask interface {
	// Bounds is the bounding box of the mask, not clipped to any image
	Bounds() image.Rectangle
	// Contains reports whether the pixel at (x, y) is inside the mask
	Contains(x, y int) bool
}

// Circle is the circular mask used by manual strokes
type Circle struct {
	Center image.Point
	Radius int
}

func (c Circle) Bounds() image.Rectangle {
	r := c.Radius
	return image.Rect(c.Center.X-r, c.Center.Y-r, c.Center.X+r+1, c.Center.Y+r+1)
}

func (c Circle) Contains(x, y int) bool {
	dx, dy := x-c.Center.X, y-c.Center.Y
	return dx*dx+dy*dy <= c.Radius*c.Radius
}

// Rect is the rectangular mask used for detected regions
type Rect struct {
	R image.Rectangle
}

func (r Rect) Bounds() image.Rectangle { return r.R.Canon() }

func (r Rect) Contains(x, y int) bool { return image.Pt(x, y).In(r.R.Canon()) }

// clip returns the part of the mask bounds that lies inside img
func clip(img *image.NRGBA, m Mask) image.Rectangle {
	return m.Bounds().Intersect(img.Bounds())
}
