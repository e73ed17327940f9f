// Package catalog holds the immutable table of loop metadata the mixer
// draws voices from. Entries are loaded once from a TOML manifest and never
// mutated afterward, so reads require no coordination.
package catalog

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrNotFound is returned by Get when no entry carries the requested id.
var ErrNotFound = errors.New("catalog: entry not found")

const (
	beatsPerBar  = 4
	barsPerLoop  = 16
	beatsPerLoop = beatsPerBar * barsPerLoop
)

// Entry describes one catalog-resident loop. It is immutable once loaded.
type Entry struct {
	ID            uint32  `toml:"id"`
	Title         string  `toml:"title"`
	Key           int     `toml:"key"`
	NativeBPM     float64 `toml:"native_bpm"`
	ResourcePath  string  `toml:"resource"`
}

// NominalDuration is the duration, in seconds, a correctly encoded resource
// for this entry must have: 16 bars of 4 beats at the entry's native tempo.
func (e Entry) NominalDuration() float64 {
	return float64(beatsPerLoop) * 60.0 / e.NativeBPM
}

type manifest struct {
	Entries []Entry `toml:"loop"`
}

// Catalog is the read-only, post-construction-immutable table of entries.
type Catalog struct {
	byID map[uint32]Entry
	all  []Entry
}

// Load decodes a TOML manifest into a Catalog. The manifest's directory is
// used to resolve each entry's resource path, so resource fields may be
// relative. Malformed manifests, duplicate ids, non-positive tempos, and
// keys outside 0..11 are all rejected — the catalog either loads completely
// or not at all.
func Load(path string) (*Catalog, error) {
	var m manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("catalog: decode %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	byID := make(map[uint32]Entry, len(m.Entries))
	all := make([]Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if e.NativeBPM <= 0 {
			return nil, fmt.Errorf("catalog: entry %d (%s): native_bpm must be positive, got %f", e.ID, e.Title, e.NativeBPM)
		}
		if e.Key < 0 || e.Key > 11 {
			return nil, fmt.Errorf("catalog: entry %d (%s): key must be 0..11, got %d", e.ID, e.Title, e.Key)
		}
		if _, exists := byID[e.ID]; exists {
			return nil, fmt.Errorf("catalog: duplicate id %d", e.ID)
		}
		if !filepath.IsAbs(e.ResourcePath) {
			e.ResourcePath = filepath.Join(dir, e.ResourcePath)
		}
		byID[e.ID] = e
		all = append(all, e)
	}

	return &Catalog{byID: byID, all: all}, nil
}

// Get returns the entry for id, or ErrNotFound.
func (c *Catalog) Get(id uint32) (Entry, error) {
	e, ok := c.byID[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// All returns every catalog entry. The returned slice is owned by the
// caller; mutating it has no effect on the catalog.
func (c *Catalog) All() []Entry {
	out := make([]Entry, len(c.all))
	copy(out, c.all)
	return out
}
