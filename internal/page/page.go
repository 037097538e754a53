// Package page manages the per-tenant page forest: creation, reads
// under the visibility rule, metadata updates, moves with cycle
// prevention, and the trash (subtree restore and purge).
//
// Statuses:
//   - draft:   live page
//   - deleted: soft-deleted, in trash; deleted_at is set
//
// Purge is terminal and removes the row along with its blocks.
package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/primal-host/primal-pages/internal/actor"
	"github.com/primal-host/primal-pages/internal/apperr"
	"github.com/primal-host/primal-pages/internal/category"
	"github.com/primal-host/primal-pages/internal/database"
	"github.com/primal-host/primal-pages/internal/events"
	"github.com/primal-host/primal-pages/internal/idgen"
)

// Valid statuses.
const (
	StatusDraft   = "draft"
	StatusDeleted = "deleted"
)

// Defaults for new pages.
const (
	TypePage          = "page"
	VisibilityPrivate = "private"
)

// Metadata is the part of posts.metadata this service reads. Other keys
// are preserved on write.
type Metadata struct {
	DocVersion   int    `json:"doc_version"`
	CategoryLost bool   `json:"category_lost,omitempty"`
	DocCID       string `json:"doc_cid,omitempty"`
}

// Page is one node of a tenant's page forest.
type Page struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	ParentID   *string    `json:"parent_id"`
	CategoryID *string    `json:"category_id"`
	AuthorID   string     `json:"author_id"`
	Title      string     `json:"title"`
	Icon       *string    `json:"icon"`
	Slug       string     `json:"slug"`
	PageType   string     `json:"page_type"`
	Status     string     `json:"status"`
	Visibility string     `json:"visibility"`
	ChildCount int        `json:"child_count"`
	PageOrder  int        `json:"page_order"`
	Metadata   Metadata   `json:"metadata"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at"`
}

// CreateParams holds the fields of a new page.
type CreateParams struct {
	Title      string  `json:"title"`
	Icon       *string `json:"icon"`
	PageType   string  `json:"page_type"`
	Visibility string  `json:"visibility"`
	Status     string  `json:"status"`
	ParentID   *string `json:"parent_id"`
	CategoryID *string `json:"category_id"`
}

// UpdateParams holds a partial page update; nil fields are unchanged.
type UpdateParams struct {
	Title  *string `json:"title"`
	Status *string `json:"status"`
	Icon   *string `json:"icon"`
}

const columns = `id, tenant_id, parent_id, category_id, author_id, title, icon, slug,
	page_type, status, visibility, child_count, page_order, metadata,
	created_at, updated_at, deleted_at`

// Store provides page operations backed by PostgreSQL. Committed
// changes are published to pub.
type Store struct {
	db  *database.DB
	pub events.Publisher
}

// NewStore creates a page Store. pub may be nil.
func NewStore(db *database.DB, pub events.Publisher) *Store {
	return &Store{db: db, pub: pub}
}

// Create inserts a page for act. A parent must be a live page of the
// same author; without an explicit category the parent's is inherited.
func (s *Store) Create(ctx context.Context, act actor.Actor, p CreateParams) (*Page, error) {
	if p.PageType == "" {
		p.PageType = TypePage
	}
	if p.Visibility == "" {
		p.Visibility = VisibilityPrivate
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if !validStatus(p.Status) {
		return nil, apperr.Validation("invalid status %q", p.Status)
	}

	var (
		out *Page
		evt events.Event
	)
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		categoryID := p.CategoryID
		if p.ParentID != nil {
			parent, err := lockOwned(ctx, tx, act, *p.ParentID)
			if err != nil {
				return err
			}
			if parent.Status == StatusDeleted {
				return apperr.NotFound("parent page", *p.ParentID)
			}
			if categoryID == nil {
				categoryID = parent.CategoryID
			}
		}
		if p.CategoryID != nil {
			if _, err := category.CheckAccess(ctx, tx, act, *p.CategoryID); err != nil {
				return err
			}
		}

		var order int
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(page_order), 0) + 1 FROM posts
			 WHERE tenant_id = $1 AND author_id = $2
			   AND parent_id IS NOT DISTINCT FROM $3 AND category_id IS NOT DISTINCT FROM $4
			   AND status <> 'deleted'`,
			act.TenantID, act.ID, p.ParentID, categoryID,
		).Scan(&order)
		if err != nil {
			return err
		}

		pg, err := scanPage(tx.QueryRow(ctx,
			`INSERT INTO posts
			   (id, tenant_id, parent_id, category_id, author_id, title, icon, slug,
			    page_type, status, visibility, page_order, deleted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			    CASE WHEN $13::boolean THEN NOW() END)
			 RETURNING `+columns,
			idgen.New(), act.TenantID, p.ParentID, categoryID, act.ID, p.Title, p.Icon, idgen.Slug(),
			p.PageType, p.Status, p.Visibility, order, p.Status == StatusDeleted,
		))
		if err != nil {
			return err
		}

		if p.ParentID != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE posts SET child_count = child_count + 1 WHERE id = $1`, *p.ParentID,
			); err != nil {
				return err
			}
		}

		evt = events.Event{Type: events.PageCreated, TenantID: act.TenantID, PostID: pg.ID, ActorID: act.ID}
		if err := events.Record(ctx, tx, &evt); err != nil {
			return err
		}
		out = pg
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("page: create: %w", err)
	}
	s.publish(evt)
	return out, nil
}

// Get returns a page act may read: its own, or a non-private page of
// the same tenant.
func (s *Store) Get(ctx context.Context, act actor.Actor, id string) (*Page, error) {
	return Authorize(ctx, s.db.Pool, act, id, false)
}

// Access checks that act may read, or with write set modify, page id.
func (s *Store) Access(ctx context.Context, act actor.Actor, id string, write bool) error {
	_, err := Authorize(ctx, s.db.Pool, act, id, write)
	return err
}

// Authorize loads a page and checks act's access. Writes require
// authorship. Pages of other tenants are reported as not found.
func Authorize(ctx context.Context, q database.Querier, act actor.Actor, id string, write bool) (*Page, error) {
	pg, err := scanPage(q.QueryRow(ctx,
		`SELECT `+columns+` FROM posts WHERE id = $1 AND tenant_id = $2`, id, act.TenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("page", id)
	}
	if err != nil {
		return nil, fmt.Errorf("page: get %q: %w", id, err)
	}
	if pg.AuthorID == act.ID {
		return pg, nil
	}
	if write {
		return nil, apperr.Forbidden("page %s is owned by another actor", id)
	}
	if pg.Visibility == VisibilityPrivate {
		return nil, apperr.Forbidden("page %s is private", id)
	}
	return pg, nil
}

// ListMine returns act's live pages, optionally within one category,
// parents before children and siblings in page_order.
func (s *Store) ListMine(ctx context.Context, act actor.Actor, categoryID *string) ([]Page, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+columns+` FROM posts
		 WHERE tenant_id = $1 AND author_id = $2 AND status <> 'deleted'
		   AND ($3::text IS NULL OR category_id = $3)
		 ORDER BY parent_id NULLS FIRST, page_order, created_at, id`,
		act.TenantID, act.ID, categoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("page: list: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Update applies title, icon and status changes to one of act's pages.
// Setting status flips deleted_at for this page only.
func (s *Store) Update(ctx context.Context, act actor.Actor, id string, p UpdateParams) (*Page, error) {
	if p.Status != nil && !validStatus(*p.Status) {
		return nil, apperr.Validation("invalid status %q", *p.Status)
	}

	var (
		out *Page
		evt events.Event
	)
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockOwned(ctx, tx, act, id); err != nil {
			return err
		}
		pg, err := scanPage(tx.QueryRow(ctx,
			`UPDATE posts SET
			   title      = COALESCE($2::text, title),
			   icon       = COALESCE($3::text, icon),
			   status     = COALESCE($4::text, status),
			   deleted_at = CASE
			                  WHEN $4::text IS NULL THEN deleted_at
			                  WHEN $4::text = 'deleted' THEN COALESCE(deleted_at, NOW())
			                  ELSE NULL
			                END,
			   updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+columns,
			id, p.Title, p.Icon, p.Status,
		))
		if err != nil {
			return err
		}
		evt = events.Event{Type: events.PageUpdated, TenantID: act.TenantID, PostID: id, ActorID: act.ID}
		if err := events.Record(ctx, tx, &evt); err != nil {
			return err
		}
		out = pg
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("page: update %q: %w", id, err)
	}
	s.publish(evt)
	return out, nil
}

// Backlinks returns the live pages of act's tenant that link to id.
func (s *Store) Backlinks(ctx context.Context, act actor.Actor, id string) ([]Page, error) {
	if _, err := s.Get(ctx, act, id); err != nil {
		return nil, err
	}
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+columns+` FROM posts
		 WHERE tenant_id = $2 AND status <> 'deleted'
		   AND id IN (SELECT source_post_id FROM backlinks WHERE target_post_id = $1)
		 ORDER BY title, id`,
		id, act.TenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("page: backlinks %q: %w", id, err)
	}
	defer rows.Close()
	return collect(rows)
}

// ExistingIDs returns the subset of ids that are pages of tenantID, in
// any status.
func ExistingIDs(ctx context.Context, q database.Querier, tenantID string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx,
		`SELECT id FROM posts WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("page: existing ids: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("page: existing ids: %w", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

// lockOwned loads one of act's pages FOR UPDATE.
func lockOwned(ctx context.Context, q database.Querier, act actor.Actor, id string) (*Page, error) {
	pg, err := scanPage(q.QueryRow(ctx,
		`SELECT `+columns+` FROM posts
		 WHERE id = $1 AND tenant_id = $2 AND author_id = $3
		 FOR UPDATE`,
		id, act.TenantID, act.ID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("page", id)
	}
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// lockForest serializes structural changes to act's forest for the rest
// of the transaction. Row locks alone do not cover it: two moves can
// lock disjoint rows and each miss the other's reparent.
func lockForest(ctx context.Context, q database.Querier, act actor.Actor) error {
	_, err := q.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2::text))`,
		act.TenantID, act.ID,
	)
	return err
}

// loadForest reads every page of act as a Forest.
func loadForest(ctx context.Context, q database.Querier, act actor.Actor) (*Forest, error) {
	rows, err := q.Query(ctx,
		`SELECT `+columns+` FROM posts
		 WHERE tenant_id = $1 AND author_id = $2
		 ORDER BY page_order, created_at, id`,
		act.TenantID, act.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	pages, err := collect(rows)
	if err != nil {
		return nil, err
	}
	return NewForest(pages), nil
}

func (s *Store) publish(evts ...events.Event) {
	if s.pub != nil {
		s.pub.Publish(evts...)
	}
}

func validStatus(s string) bool {
	return s == StatusDraft || s == StatusDeleted
}

func collect(rows pgx.Rows) ([]Page, error) {
	pages := []Page{} // empty slice, not nil (clean JSON: [] not null)
	for rows.Next() {
		pg, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, *pg)
	}
	return pages, rows.Err()
}

func scanPage(row pgx.Row) (*Page, error) {
	var (
		pg   Page
		meta []byte
	)
	err := row.Scan(&pg.ID, &pg.TenantID, &pg.ParentID, &pg.CategoryID, &pg.AuthorID, &pg.Title,
		&pg.Icon, &pg.Slug, &pg.PageType, &pg.Status, &pg.Visibility, &pg.ChildCount, &pg.PageOrder,
		&meta, &pg.CreatedAt, &pg.UpdatedAt, &pg.DeletedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &pg.Metadata); err != nil {
			return nil, fmt.Errorf("page: decode metadata of %s: %w", pg.ID, err)
		}
	}
	return &pg, nil
}
