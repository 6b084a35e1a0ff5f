package mapview

import (
	"fmt"
	"sort"
	"sync"
)

// Container is a rectangular element on the rendering surface.
type Container struct {
	ID     string
	Width  int
	Height int
}

// Document is the rendering surface: a set of uniquely identified containers.
type Document struct {
	mu         sync.RWMutex
	containers map[string]Container
}

// NewDocument returns a document holding the given containers.
func NewDocument(containers ...Container) (*Document, error) {
	d := &Document{containers: make(map[string]Container)}
	for _, c := range containers {
		if err := d.Add(c); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add registers a container. Ids must be unique and sizes positive.
func (d *Document) Add(c Container) error {
	if c.ID == "" {
		return fmt.Errorf("container id must not be empty")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("container %q must have a positive size, got %dx%d", c.ID, c.Width, c.Height)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.containers[c.ID]; exists {
		return fmt.Errorf("duplicate container id %q", c.ID)
	}
	d.containers[c.ID] = c
	return nil
}

// Lookup finds a container by id.
func (d *Document) Lookup(id string) (Container, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.containers[id]
	return c, ok
}

// IDs returns the registered container ids in sorted order.
func (d *Document) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.containers))
	for id := range d.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
