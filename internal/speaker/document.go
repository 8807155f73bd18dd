package speaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Record is one speaker in the persisted document. Features and Files are
// co-indexed.
type Record struct {
	Features [][]float64 `json:"features"`
	Name     string      `json:"name"`
	Files    []string    `json:"files"`
}

// Document is the durable form of the whole gallery, keyed by speaker id.
type Document map[string]Record

// Persister loads and saves the gallery document. Save must be durable
// before it returns nil.
type Persister interface {
	// Load returns the stored document, or an empty one if nothing has
	// been saved yet.
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
	// Location describes where the document lives, for logging.
	Location() string
}

// FilePersister stores the document as a single JSON file.
type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

func (p *FilePersister) Location() string { return p.path }

func (p *FilePersister) Load(ctx context.Context) (Document, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return nil, &StoreIOError{Op: "load", Path: p.path, Err: err}
	}
	doc := Document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &StoreIOError{Op: "load", Path: p.path, Err: fmt.Errorf("parse: %w", err)}
	}
	return doc, nil
}

// Save writes the document to a temp file in the same directory, syncs it
// and renames it over the previous version.
func (p *FilePersister) Save(ctx context.Context, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return &StoreIOError{Op: "save", Path: p.path, Err: fmt.Errorf("encode: %w", err)}
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StoreIOError{Op: "save", Path: p.path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".speakers-*.tmp")
	if err != nil {
		return &StoreIOError{Op: "save", Path: p.path, Err: err}
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return &StoreIOError{Op: "save", Path: p.path, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &StoreIOError{Op: "save", Path: p.path, Err: err}
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath)
		return &StoreIOError{Op: "save", Path: p.path, Err: err}
	}
	return nil
}
