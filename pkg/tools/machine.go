package tools

import (
	"fmt"
	"image"
	"math"

	"github.com/menta2k/image-redactor/pkg/types"
)

// StepSpacing is the distance in pixels between interpolated dabs
const StepSpacing = 2.0

// Machine holds the active tool and the shared settings. Brush is active
// initially and every tool can be selected from every other tool.
type Machine struct {
	settings Settings
	brush    *Brush
	pen      *Pen
	eraser   *Eraser
	clone    *CloneStamp
	active   Tool

	stroking bool
	last     image.Point
}

// NewMachine creates a Machine with default settings
func NewMachine() *Machine {
	return NewMachineWithSettings(DefaultSettings())
}

// NewMachineWithSettings creates a Machine with custom settings. An unknown
// style falls back to mosaic and sizes below 1 are raised to 1.
func NewMachineWithSettings(s Settings) *Machine {
	if style, ok := types.ParseStyle(string(s.Style)); ok {
		s.Style = style
	} else {
		s.Style = types.StyleMosaic
	}
	s.Radius = max(1, s.Radius)
	s.BlockSize = max(1, s.BlockSize)
	s.PenOpacity = math.Max(0, math.Min(1, s.PenOpacity))
	m := &Machine{
		settings: s,
		brush:    &Brush{},
		pen:      &Pen{},
		eraser:   &Eraser{},
		clone:    &CloneStamp{},
	}
	m.active = m.brush
	return m
}

// Select makes kind the active tool. Selecting a tool ends any open stroke.
func (m *Machine) Select(kind Kind) error {
	switch kind {
	case KindBrush:
		m.active = m.brush
	case KindPen:
		m.active = m.pen
	case KindEraser:
		m.active = m.eraser
	case KindCloneStamp:
		m.active = m.clone
	default:
		return fmt.Errorf("unknown tool: %d", kind)
	}
	m.stroking = false
	return nil
}

// Active returns the active tool
func (m *Machine) Active() Tool { return m.active }

// Settings returns a copy of the current settings
func (m *Machine) Settings() Settings { return m.settings }

// SetRadius sets the stroke mask radius
func (m *Machine) SetRadius(r int) {
	if r < 1 {
		r = 1
	}
	m.settings.Radius = r
}

// SetStyle sets the brush compositing style
func (m *Machine) SetStyle(style types.Style) error {
	parsed, ok := types.ParseStyle(string(style))
	if !ok {
		return fmt.Errorf("unknown censor style: %s", style)
	}
	m.settings.Style = parsed
	return nil
}

// SetBlockSize sets the mosaic block size
func (m *Machine) SetBlockSize(n int) {
	if n < 1 {
		n = 1
	}
	m.settings.BlockSize = n
}

// SetPen sets the pen color and opacity
func (m *Machine) SetPen(s Settings) {
	m.settings.PenColor = s.PenColor
	m.settings.PenOpacity = math.Max(0, math.Min(1, s.PenOpacity))
}

// SetCloneSource records the clone stamp source point
func (m *Machine) SetCloneSource(p image.Point) {
	m.clone.SetSource(p)
}

// Begin starts a stroke at p and paints the first dab
func (m *Machine) Begin(c Canvas, p image.Point) {
	m.stroking = true
	m.last = p
	m.active.Begin(c, p)
	m.active.Dab(c, p, m.settings)
}

// Continue extends the stroke to p, dabbing at interpolated points so fast
// pointer movement leaves no gaps.
func (m *Machine) Continue(c Canvas, p image.Point) {
	if !m.stroking {
		return
	}
	for _, q := range Interpolate(m.last, p) {
		m.active.Dab(c, q, m.settings)
	}
	m.last = p
}

// End finishes the stroke
func (m *Machine) End() {
	m.stroking = false
}

// Stroking reports whether a stroke is open
func (m *Machine) Stroking() bool { return m.stroking }

// Interpolate returns the points after from up to and including to, spaced
// roughly StepSpacing apart. Equal points yield nothing.
func Interpolate(from, to image.Point) []image.Point {
	dx := float64(to.X - from.X)
	dy := float64(to.Y - from.Y)
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		return nil
	}
	steps := int(math.Ceil(dist / StepSpacing))
	pts := make([]image.Point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		pts = append(pts, image.Pt(
			from.X+int(math.Round(dx*t)),
			from.Y+int(math.Round(dy*t)),
		))
	}
	return pts
}
