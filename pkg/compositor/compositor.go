// Package compositor implements the pixel operators used to obscure image
// content: block-average mosaic, localized blur, solid fill, pen blending,
// restoring from an untouched original and clone sampling. Every operator
// writes strictly inside its mask.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/image-redactor/pkg/types"
)

const (
	// DefaultBlockSize is the mosaic cell size in pixels
	DefaultBlockSize = 16
	// MinBlurRadius is the smallest blur radius regardless of block size
	MinBlurRadius = 8
)

var (
	Black = color.NRGBA{0, 0, 0, 255}
	White = color.NRGBA{255, 255, 255, 255}
)

// Options selects the operator applied by Apply
type Options struct {
	Style     types.Style
	BlockSize int
}

// DefaultOptions returns mosaic with the default block size
func DefaultOptions() Options {
	return Options{Style: types.StyleMosaic, BlockSize: DefaultBlockSize}
}

// Apply runs the operator selected by opts over the mask
func Apply(dst *image.NRGBA, m Mask, opts Options) error {
	switch opts.Style {
	case types.StyleMosaic, "":
		Mosaic(dst, m, opts.BlockSize)
	case types.StyleBlur:
		Blur(dst, m, opts.BlockSize)
	case types.StyleBlack:
		Fill(dst, m, Black)
	case types.StyleWhite:
		Fill(dst, m, White)
	default:
		return fmt.Errorf("unknown censor style: %s", opts.Style)
	}
	return nil
}

// Mosaic replaces every grid cell whose centre lies inside the mask with the
// per-channel mean of the cell. Rect masks partition their own clipped
// bounds, starting at the top-left corner. Other masks share a grid anchored
// at the image origin so overlapping brush dabs line up. Cells are clipped to
// the mask bounds, so applying it twice is the same as applying it once.
// Alpha is left untouched.
func Mosaic(dst *image.NRGBA, m Mask, block int) {
	if block <= 0 {
		block = DefaultBlockSize
	}
	area := clip(dst, m)
	if area.Empty() {
		return
	}

	startX, startY := area.Min.X, area.Min.Y
	if _, ok := m.(Rect); !ok {
		origin := dst.Bounds().Min
		startX = origin.X + floorDiv(area.Min.X-origin.X, block)*block
		startY = origin.Y + floorDiv(area.Min.Y-origin.Y, block)*block
	}

	for cy := startY; cy < area.Max.Y; cy += block {
		for cx := startX; cx < area.Max.X; cx += block {
			cell := image.Rect(cx, cy, cx+block, cy+block).Intersect(area)
			if cell.Empty() {
				continue
			}
			midX := (cell.Min.X + cell.Max.X - 1) / 2
			midY := (cell.Min.Y + cell.Max.Y - 1) / 2
			if !m.Contains(midX, midY) {
				continue
			}
			averageCell(dst, cell)
		}
	}
}

func averageCell(dst *image.NRGBA, cell image.Rectangle) {
	var sr, sg, sb, n int
	for y := cell.Min.Y; y < cell.Max.Y; y++ {
		i := dst.PixOffset(cell.Min.X, y)
		for x := cell.Min.X; x < cell.Max.X; x++ {
			sr += int(dst.Pix[i])
			sg += int(dst.Pix[i+1])
			sb += int(dst.Pix[i+2])
			n++
			i += 4
		}
	}
	r, g, b := uint8(sr/n), uint8(sg/n), uint8(sb/n)
	for y := cell.Min.Y; y < cell.Max.Y; y++ {
		i := dst.PixOffset(cell.Min.X, y)
		for x := cell.Min.X; x < cell.Max.X; x++ {
			dst.Pix[i] = r
			dst.Pix[i+1] = g
			dst.Pix[i+2] = b
			i += 4
		}
	}
}

// BlurRadius returns the blur radius used for a block size
func BlurRadius(block int) int {
	if block < MinBlurRadius {
		return MinBlurRadius
	}
	return block
}

// Blur copies the mask area (padded by the blur radius for context) to a
// scratch image, blurs it and writes the result back only inside the mask.
func Blur(dst *image.NRGBA, m Mask, block int) {
	area := clip(dst, m)
	if area.Empty() {
		return
	}
	radius := BlurRadius(block)
	scratchRect := area.Inset(-radius).Intersect(dst.Bounds())

	scratch := imaging.Blur(dst.SubImage(scratchRect), float64(radius)/2)
	// imaging returns images anchored at (0,0)
	off := scratchRect.Min

	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			if !m.Contains(x, y) {
				continue
			}
			si := scratch.PixOffset(x-off.X, y-off.Y)
			di := dst.PixOffset(x, y)
			copy(dst.Pix[di:di+4], scratch.Pix[si:si+4])
		}
	}
}

// Fill paints a flat opaque color inside the mask
func Fill(dst *image.NRGBA, m Mask, c color.NRGBA) {
	Blend(dst, m, color.NRGBA{c.R, c.G, c.B, 255}, 1)
}

// Blend mixes c into the mask with the given opacity in [0,1]
func Blend(dst *image.NRGBA, m Mask, c color.NRGBA, opacity float64) {
	opacity = math.Max(0, math.Min(1, opacity))
	if opacity == 0 {
		return
	}
	area := clip(dst, m)
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			if !m.Contains(x, y) {
				continue
			}
			i := dst.PixOffset(x, y)
			dst.Pix[i] = mix(dst.Pix[i], c.R, opacity)
			dst.Pix[i+1] = mix(dst.Pix[i+1], c.G, opacity)
			dst.Pix[i+2] = mix(dst.Pix[i+2], c.B, opacity)
			dst.Pix[i+3] = mix(dst.Pix[i+3], c.A, opacity)
		}
	}
}

func mix(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a)*(1-t) + float64(b)*t))
}

// Restore copies pixels inside the mask back from the original
func Restore(dst, original *image.NRGBA, m Mask) {
	Sample(dst, original, m, image.Point{})
}

// Sample paints every mask pixel p with original[p+offset]. Pixels whose
// source falls outside the original are left alone.
func Sample(dst, original *image.NRGBA, m Mask, offset image.Point) {
	if original == nil {
		return
	}
	area := clip(dst, m)
	src := original.Bounds()
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			if !m.Contains(x, y) {
				continue
			}
			sp := image.Pt(x+offset.X, y+offset.Y)
			if !sp.In(src) {
				continue
			}
			si := original.PixOffset(sp.X, sp.Y)
			di := dst.PixOffset(x, y)
			copy(dst.Pix[di:di+4], original.Pix[si:si+4])
		}
	}
}

// DiffOverlay returns a copy of cur in which every pixel that differs from
// orig is blended with tint at 50% opacity.
func DiffOverlay(cur, orig *image.NRGBA, tint color.NRGBA) *image.NRGBA {
	out := imaging.Clone(cur)
	b := cur.Bounds().Intersect(orig.Bounds())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			ci := cur.PixOffset(x, y)
			oi := orig.PixOffset(x, y)
			if cur.Pix[ci] == orig.Pix[oi] && cur.Pix[ci+1] == orig.Pix[oi+1] &&
				cur.Pix[ci+2] == orig.Pix[oi+2] && cur.Pix[ci+3] == orig.Pix[oi+3] {
				continue
			}
			i := out.PixOffset(x-cur.Bounds().Min.X, y-cur.Bounds().Min.Y)
			out.Pix[i] = mix(out.Pix[i], tint.R, 0.5)
			out.Pix[i+1] = mix(out.Pix[i+1], tint.G, 0.5)
			out.Pix[i+2] = mix(out.Pix[i+2], tint.B, 0.5)
			out.Pix[i+3] = 255
		}
	}
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
