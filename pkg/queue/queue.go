// Package queue holds the ordered set of images being edited and the
// pointer to the one currently loaded on the drawing surface.
package queue

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfirmed is returned by Clear when the caller did not confirm
var ErrNotConfirmed = errors.New("queue: clear not confirmed")

// Editor is the drawing surface as seen by the queue
type Editor interface {
	// Commit writes uncommitted edits back into the loaded item
	Commit() bool
	// Load shows it on the surface
	Load(ctx context.Context, it *Item) error
}

// Manager is an ordered, reorderable queue of items unique by ID
type Manager struct {
	items  []*Item
	byID   map[string]*Item
	active *Item
	editor Editor
}

// New creates an empty queue bound to an editor
func New(editor Editor) *Manager {
	return &Manager{
		byID:   make(map[string]*Item),
		editor: editor,
	}
}

// Add appends items, skipping IDs that are already queued. It returns the
// number of items added.
func (q *Manager) Add(items ...*Item) int {
	added := 0
	for _, it := range items {
		if it == nil {
			continue
		}
		if _, ok := q.byID[it.ID]; ok {
			continue
		}
		q.byID[it.ID] = it
		q.items = append(q.items, it)
		added++
	}
	return added
}

// Len returns the number of queued items
func (q *Manager) Len() int { return len(q.items) }

// Items returns the queued items in order
func (q *Manager) Items() []*Item {
	out := make([]*Item, len(q.items))
	copy(out, q.items)
	return out
}

// Find returns the item with the given ID
func (q *Manager) Find(id string) (*Item, bool) {
	it, ok := q.byID[id]
	return it, ok
}

// Index returns the position of id in the queue or -1
func (q *Manager) Index(id string) int {
	for i, it := range q.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// Active returns the active item, or nil
func (q *Manager) Active() *Item { return q.active }

// Activate makes the item at index i active. Uncommitted edits of the
// previously active item are always committed before the new item is loaded.
// If loading fails the previous item stays active.
func (q *Manager) Activate(ctx context.Context, i int) error {
	if i < 0 || i >= len(q.items) {
		return fmt.Errorf("queue index %d out of range [0,%d)", i, len(q.items))
	}
	next := q.items[i]
	if q.editor != nil {
		if q.active != nil {
			q.editor.Commit()
		}
		if err := q.editor.Load(ctx, next); err != nil {
			return err
		}
	}
	q.active = next
	return nil
}

// Move moves the item at index i to index j, shifting the items in between
func (q *Manager) Move(i, j int) error {
	n := len(q.items)
	if i < 0 || i >= n || j < 0 || j >= n {
		return fmt.Errorf("move %d -> %d out of range [0,%d)", i, j, n)
	}
	if i == j {
		return nil
	}
	it := q.items[i]
	if i < j {
		copy(q.items[i:j], q.items[i+1:j+1])
	} else {
		copy(q.items[j+1:i+1], q.items[j:i])
	}
	q.items[j] = it
	return nil
}

// Rename changes the output filename of an item
func (q *Manager) Rename(id, filename string) error {
	it, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("item %q not in queue", id)
	}
	if filename == "" {
		return fmt.Errorf("empty filename for %q", id)
	}
	it.OutputFilename = filename
	return nil
}

// Remove drops a single item. Removing the active item leaves no item active.
func (q *Manager) Remove(id string) bool {
	i := q.Index(id)
	if i < 0 {
		return false
	}
	it := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	delete(q.byID, id)
	if q.active == it {
		q.active = nil
	}
	it.release()
	return true
}

// Clear removes every item once the caller has confirmed
func (q *Manager) Clear(confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	for _, it := range q.items {
		it.release()
	}
	q.items = nil
	q.byID = make(map[string]*Item)
	q.active = nil
	return nil
}
