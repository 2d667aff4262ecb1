// Package history keeps a bounded ring of encoded buffer snapshots used for
// undo. Snapshots are WebP encoded to bound memory; PNG is used when the
// WebP encoder fails or produces something that is not WebP.
package history

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/webp"
)

// DefaultCapacity is the number of snapshots kept before the oldest is evicted
const DefaultCapacity = 20

// ErrEmptyHistory is returned by Pop when there is nothing to undo. It is
// informational and not a failure.
var ErrEmptyHistory = errors.New("history: nothing to undo")

// Config holds configuration for the undo history
type Config struct {
	Capacity int
	// Lossless keeps snapshots pixel exact at the cost of memory
	Lossless bool
	Quality  float32
}

// Snapshot is an encoded copy of a full buffer
type Snapshot struct {
	Data   []byte
	Format string
}

// Decode turns the snapshot back into a buffer
func (s Snapshot) Decode() (*image.NRGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(s.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", s.Format, err)
	}
	return imaging.Clone(img), nil
}

// Manager is a fixed capacity FIFO-evicting stack of snapshots
type Manager struct {
	config Config
	ring   []Snapshot
	start  int
	n      int
	encode func(img image.Image) ([]byte, error)
}

// New creates a Manager with default configuration
func New() *Manager {
	return NewWithConfig(Config{Capacity: DefaultCapacity, Quality: 90})
}

// NewWithConfig creates a Manager with custom configuration
func NewWithConfig(config Config) *Manager {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 90
	}
	m := &Manager{
		config: config,
		ring:   make([]Snapshot, config.Capacity),
	}
	m.encode = m.encodeWebP
	return m
}

// Capacity returns the maximum number of snapshots kept
func (m *Manager) Capacity() int { return m.config.Capacity }

// Len returns the number of snapshots available for undo
func (m *Manager) Len() int { return m.n }

// Push encodes img and appends it, evicting the oldest snapshot when full
func (m *Manager) Push(img image.Image) error {
	snap, err := m.snapshot(img)
	if err != nil {
		return err
	}
	capacity := len(m.ring)
	if m.n == capacity {
		m.ring[m.start] = Snapshot{}
		m.start = (m.start + 1) % capacity
		m.n--
	}
	m.ring[(m.start+m.n)%capacity] = snap
	m.n++
	return nil
}

// Pop removes and returns the most recent snapshot
func (m *Manager) Pop() (Snapshot, error) {
	if m.n == 0 {
		return Snapshot{}, ErrEmptyHistory
	}
	i := (m.start + m.n - 1) % len(m.ring)
	snap := m.ring[i]
	m.ring[i] = Snapshot{}
	m.n--
	return snap, nil
}

// Clear drops every snapshot
func (m *Manager) Clear() {
	for i := range m.ring {
		m.ring[i] = Snapshot{}
	}
	m.start, m.n = 0, 0
}

// Reset clears the history and seeds it with a snapshot of original, so an
// immediate undo restores the original again.
func (m *Manager) Reset(original image.Image) error {
	m.Clear()
	return m.Push(original)
}

func (m *Manager) snapshot(img image.Image) (Snapshot, error) {
	data, err := m.encode(img)
	if err == nil {
		if kind, kerr := filetype.Match(data); kerr == nil && kind.Extension == "webp" {
			return Snapshot{Data: data, Format: "webp"}, nil
		}
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return Snapshot{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return Snapshot{Data: buf.Bytes(), Format: "png"}, nil
}

func (m *Manager) encodeWebP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	opts := &webp.Options{Lossless: m.config.Lossless, Quality: m.config.Quality}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
