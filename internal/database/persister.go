package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/snarg/speaker-id/internal/speaker"
)

// DefaultDocumentName is the speaker_store row used when none is given.
const DefaultDocumentName = "default"

// Persister keeps the speaker document as one jsonb row.
type Persister struct {
	db   *DB
	name string
}

// NewPersister returns a persister for the document row the DB was
// connected with.
func NewPersister(db *DB) *Persister {
	name := db.document
	if name == "" {
		name = DefaultDocumentName
	}
	return &Persister{db: db, name: name}
}

func (p *Persister) Location() string { return "postgres:speaker_store/" + p.name }

func (p *Persister) Load(ctx context.Context) (speaker.Document, error) {
	var raw []byte
	err := p.db.Pool.QueryRow(ctx,
		`SELECT document FROM speaker_store WHERE name = $1`, p.name,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return speaker.Document{}, nil
	}
	if err != nil {
		return nil, &speaker.StoreIOError{Op: "load", Path: p.Location(), Err: err}
	}
	doc := speaker.Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &speaker.StoreIOError{Op: "load", Path: p.Location(), Err: fmt.Errorf("parse: %w", err)}
	}
	return doc, nil
}

// Save upserts the document and bumps its revision in one statement.
func (p *Persister) Save(ctx context.Context, doc speaker.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return &speaker.StoreIOError{Op: "save", Path: p.Location(), Err: fmt.Errorf("encode: %w", err)}
	}
	_, err = p.db.Pool.Exec(ctx, `
		INSERT INTO speaker_store (name, document, updated_at, revision)
		VALUES ($1, $2::jsonb, now(), 1)
		ON CONFLICT (name) DO UPDATE
		SET document = EXCLUDED.document,
		    updated_at = now(),
		    revision = speaker_store.revision + 1`,
		p.name, string(data),
	)
	if err != nil {
		return &speaker.StoreIOError{Op: "save", Path: p.Location(), Err: err}
	}
	return nil
}

// Revision returns how many times the document has been saved.
func (p *Persister) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := p.db.Pool.QueryRow(ctx,
		`SELECT revision FROM speaker_store WHERE name = $1`, p.name,
	).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return rev, err
}
