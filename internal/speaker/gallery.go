package speaker

import (
	"fmt"
	"sort"

	"github.com/snarg/speaker-id/internal/features"
)

type entry struct {
	name   string
	prints []features.Voiceprint
	files  []string
}

func (e *entry) clone() *entry {
	return &entry{
		name:   e.name,
		prints: append(make([]features.Voiceprint, 0, len(e.prints)+1), e.prints...),
		files:  append(make([]string, 0, len(e.files)+1), e.files...),
	}
}

// gallery is an immutable view of all enrolled speakers. Writers derive a
// new gallery through a txn and publish it only after a successful persist.
type gallery struct {
	entries map[string]*entry
	dim     int
}

func emptyGallery() *gallery {
	return &gallery{entries: map[string]*entry{}}
}

func (g *gallery) ids() []string {
	ids := make([]string, 0, len(g.entries))
	for id := range g.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *gallery) voiceprints() int {
	n := 0
	for _, e := range g.entries {
		n += len(e.prints)
	}
	return n
}

func (g *gallery) document() Document {
	doc := make(Document, len(g.entries))
	for id, e := range g.entries {
		prints := make([][]float64, len(e.prints))
		for i, vp := range e.prints {
			prints[i] = vp
		}
		doc[id] = Record{Features: prints, Name: e.name, Files: e.files}
	}
	return doc
}

func galleryFromDocument(doc Document) (*gallery, error) {
	g := emptyGallery()
	for id, rec := range doc {
		if len(rec.Features) != len(rec.Files) {
			return nil, fmt.Errorf("speaker %q: %d voiceprints but %d files", id, len(rec.Features), len(rec.Files))
		}
		e := &entry{name: rec.Name, files: append([]string(nil), rec.Files...)}
		for _, f := range rec.Features {
			if g.dim == 0 {
				g.dim = len(f)
			}
			if len(f) == 0 || len(f) != g.dim {
				return nil, fmt.Errorf("speaker %q: %w (got %d, want %d)", id, ErrDimensionMismatch, len(f), g.dim)
			}
			e.prints = append(e.prints, features.Voiceprint(f))
		}
		if e.name == "" {
			e.name = defaultName(id)
		}
		g.entries[id] = e
	}
	return g, nil
}

func defaultName(id string) string {
	return "Speaker " + id
}

// txn accumulates changes to a copy of a gallery. Entries are cloned on
// first write so the base gallery is never modified.
type txn struct {
	next    *gallery
	touched map[string]bool
}

func (g *gallery) begin() *txn {
	entries := make(map[string]*entry, len(g.entries)+1)
	for id, e := range g.entries {
		entries[id] = e
	}
	return &txn{
		next:    &gallery{entries: entries, dim: g.dim},
		touched: map[string]bool{},
	}
}

// entry returns a writable entry for id, creating it when create is set.
func (t *txn) entry(id string, create bool) (*entry, bool) {
	e, ok := t.next.entries[id]
	if !ok {
		if !create {
			return nil, false
		}
		e = &entry{name: defaultName(id)}
		t.next.entries[id] = e
		t.touched[id] = true
		return e, true
	}
	if !t.touched[id] {
		e = e.clone()
		t.next.entries[id] = e
		t.touched[id] = true
	}
	return e, true
}

func (t *txn) remove(id string) {
	delete(t.next.entries, id)
	if len(t.next.entries) == 0 {
		t.next.dim = 0
	}
}

// add appends a voiceprint and its sample file to id.
func (t *txn) add(id string, vp features.Voiceprint, file string) error {
	if t.next.dim != 0 && len(vp) != t.next.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vp), t.next.dim)
	}
	e, _ := t.entry(id, true)
	e.prints = append(e.prints, vp)
	e.files = append(e.files, file)
	t.next.dim = len(vp)
	return nil
}
