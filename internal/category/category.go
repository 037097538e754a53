// Package category provides the sidebar groups pages are filed under.
// Categories belong to a tenant. Shared categories (owner_id NULL) are
// visible to every actor in the tenant; personal ones only to their
// owner. Removal is a hard delete: pages that pointed at the category
// lose it and are flagged category_lost so a later restore asks for a
// new one.
package category

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/primal-host/primal-pages/internal/actor"
	"github.com/primal-host/primal-pages/internal/apperr"
	"github.com/primal-host/primal-pages/internal/database"
	"github.com/primal-host/primal-pages/internal/idgen"
)

// Valid category types.
const (
	TypePersonal = "personal"
	TypeShared   = "shared"
)

// Category represents a single sidebar group.
type Category struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	OwnerID      *string   `json:"owner_id"`
	CategoryType string    `json:"category_type"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateParams holds the parameters for a new category.
type CreateParams struct {
	Name         string `json:"name"`
	CategoryType string `json:"category_type"` // defaults to "personal"
}

const columns = `id, tenant_id, owner_id, category_type, name, created_at`

// Store provides category operations backed by PostgreSQL.
type Store struct {
	db *database.DB
}

// NewStore creates a category Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// List returns the categories visible to act, shared first, then by name.
func (s *Store) List(ctx context.Context, act actor.Actor) ([]Category, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+columns+` FROM categories
		 WHERE tenant_id = $1 AND (owner_id IS NULL OR owner_id = $2)
		 ORDER BY (owner_id IS NOT NULL), name, id`,
		act.TenantID, act.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("category: list: %w", err)
	}
	defer rows.Close()

	categories := []Category{}
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("category: list scan: %w", err)
		}
		categories = append(categories, *c)
	}
	return categories, rows.Err()
}

// Create inserts a category. Personal categories are owned by act.
func (s *Store) Create(ctx context.Context, act actor.Actor, p CreateParams) (*Category, error) {
	if p.Name == "" {
		return nil, apperr.Validation("name is required")
	}
	if p.CategoryType == "" {
		p.CategoryType = TypePersonal
	}

	var owner *string
	switch p.CategoryType {
	case TypePersonal:
		owner = &act.ID
	case TypeShared:
	default:
		return nil, apperr.Validation("invalid category_type %q", p.CategoryType)
	}

	c, err := scan(s.db.Pool.QueryRow(ctx,
		`INSERT INTO categories (id, tenant_id, owner_id, category_type, name)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+columns,
		idgen.New(), act.TenantID, owner, p.CategoryType, p.Name,
	))
	if err != nil {
		return nil, fmt.Errorf("category: create %q: %w", p.Name, err)
	}
	return c, nil
}

// Delete removes a category the actor can access. Pages filed under it
// are uncategorized and flagged category_lost in the same transaction.
// Returns the ids of the affected pages.
func (s *Store) Delete(ctx context.Context, act actor.Actor, id string) ([]string, error) {
	var affected []string
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := CheckAccess(ctx, tx, act, id); err != nil {
			return err
		}

		rows, err := tx.Query(ctx,
			`UPDATE posts
			 SET category_id = NULL,
			     metadata = metadata || '{"category_lost": true}'::jsonb,
			     updated_at = NOW()
			 WHERE category_id = $1
			 RETURNING id`,
			id,
		)
		if err != nil {
			return err
		}
		affected, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("category: delete %q: %w", id, err)
	}
	if affected == nil {
		affected = []string{}
	}
	return affected, nil
}

// CheckAccess loads a category and verifies act may file pages under
// it. Returns apperr.ErrNotFound for unknown ids and apperr.ErrForbidden
// for another tenant's or another owner's category.
func CheckAccess(ctx context.Context, q database.Querier, act actor.Actor, id string) (*Category, error) {
	c, err := scan(q.QueryRow(ctx, `SELECT `+columns+` FROM categories WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("category", id)
	}
	if err != nil {
		return nil, fmt.Errorf("category: get %q: %w", id, err)
	}
	if err := Authorize(act, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Authorize applies the access rule to a loaded category.
func Authorize(act actor.Actor, c *Category) error {
	if c.TenantID != act.TenantID {
		return apperr.Forbidden("category %s belongs to another tenant", c.ID)
	}
	if c.OwnerID != nil && *c.OwnerID != act.ID {
		return apperr.Forbidden("category %s is personal to another actor", c.ID)
	}
	return nil
}

func scan(row pgx.Row) (*Category, error) {
	var c Category
	if err := row.Scan(&c.ID, &c.TenantID, &c.OwnerID, &c.CategoryType, &c.Name, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
