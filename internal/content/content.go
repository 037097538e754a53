// Package content reads and writes whole page documents. Writes go
// through a Saver; the only strategy today is ReplaceAll, which swaps
// every block of the page for a fresh set derived from the submitted
// document inside one transaction.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/primal-host/primal-pages/internal/actor"
	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/database"
	"github.com/primal-host/primal-pages/internal/document"
	"github.com/primal-host/primal-pages/internal/page"
)

// SaveParams is one content save request. A nil ExpectedVersion skips
// the optimistic check.
type SaveParams struct {
	DocJSON         json.RawMessage
	ExpectedVersion *int
	PMSchemaVersion int
}

// SaveResult reports the outcome of a save.
type SaveResult struct {
	Version  int      `json:"version"`
	CID      string   `json:"cid"`
	Blocks   int      `json:"blocks"`
	Dropped  int      `json:"dropped"`
	Trashed  []string `json:"trashed"`
	Restored []string `json:"restored"`
}

// Saver persists a submitted document for a page.
type Saver interface {
	Save(ctx context.Context, act actor.Actor, postID string, p SaveParams) (*SaveResult, error)
}

// Document is a page's content as returned to clients.
type Document struct {
	DocJSON   *document.Doc `json:"docJson"`
	Version   int           `json:"version"`
	Title     string        `json:"title"`
	Icon      *string       `json:"icon"`
	Status    string        `json:"status"`
	DeletedAt *time.Time    `json:"deleted_at"`
	CID       string        `json:"cid,omitempty"`
}

// Store loads documents and delegates saves to a Saver.
type Store struct {
	db    *database.DB
	saver Saver
}

// NewStore creates a content Store.
func NewStore(db *database.DB, saver Saver) *Store {
	return &Store{db: db, saver: saver}
}

// Save stores a document through the configured Saver.
func (s *Store) Save(ctx context.Context, act actor.Actor, postID string, p SaveParams) (*SaveResult, error) {
	return s.saver.Save(ctx, act, postID, p)
}

// Load reassembles the document of a page act may read.
func (s *Store) Load(ctx context.Context, act actor.Actor, postID string) (*Document, error) {
	pg, err := page.Authorize(ctx, s.db.Pool, act, postID, false)
	if err != nil {
		return nil, err
	}
	blocks, err := block.List(ctx, s.db.Pool, postID, nil)
	if err != nil {
		return nil, err
	}
	doc, err := document.Reassemble(blocks)
	if err != nil {
		return nil, fmt.Errorf("content: load %q: %w", postID, err)
	}
	return &Document{
		DocJSON:   doc,
		Version:   pg.Metadata.DocVersion,
		Title:     pg.Title,
		Icon:      pg.Icon,
		Status:    pg.Status,
		DeletedAt: pg.DeletedAt,
		CID:       pg.Metadata.DocCID,
	}, nil
}
