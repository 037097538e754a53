package page

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/primal-host/primal-pages/internal/actor"
	"github.com/primal-host/primal-pages/internal/apperr"
	"github.com/primal-host/primal-pages/internal/events"
)

// MoveParams names the new parent (nil for top level) and an optional
// sibling to land next to.
type MoveParams struct {
	TargetParentID *string `json:"targetParentId"`
	BeforePageID   string  `json:"beforePageId"`
	AfterPageID    string  `json:"afterPageId"`
}

// Move reparents and reorders one of act's live pages. The new parent
// must be a live page of act that is neither the page itself nor one of
// its descendants. Siblings sharing (parent, category) are renumbered
// 1..N.
func (s *Store) Move(ctx context.Context, act actor.Actor, id string, p MoveParams) (*Page, error) {
	var (
		out *Page
		evt events.Event
	)
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		if err := lockForest(ctx, tx, act); err != nil {
			return err
		}
		moving, err := lockOwned(ctx, tx, act, id)
		if err != nil {
			return err
		}
		if moving.Status == StatusDeleted {
			return apperr.NotFound("page", id)
		}

		if p.TargetParentID != nil {
			target := *p.TargetParentID
			if target == id {
				return apperr.Validation("page cannot be its own parent")
			}
			parent, err := lockOwned(ctx, tx, act, target)
			if err != nil {
				return err
			}
			if parent.Status == StatusDeleted {
				return apperr.NotFound("parent page", target)
			}
			f, err := loadForest(ctx, tx, act)
			if err != nil {
				return err
			}
			if f.IsAncestor(id, target) {
				return apperr.Validation("page %s is a descendant of %s", target, id)
			}
		}

		siblings, err := updateIDs(ctx, tx,
			`SELECT id FROM posts
			 WHERE tenant_id = $1 AND author_id = $2
			   AND parent_id IS NOT DISTINCT FROM $3 AND category_id IS NOT DISTINCT FROM $4
			   AND status <> 'deleted' AND id <> $5
			 ORDER BY page_order, created_at, id`,
			act.TenantID, act.ID, p.TargetParentID, moving.CategoryID, id)
		if err != nil {
			return err
		}
		ordered := PlaceSibling(siblings, id, p.BeforePageID, p.AfterPageID)

		if _, err := tx.Exec(ctx,
			`UPDATE posts SET parent_id = $2, updated_at = NOW() WHERE id = $1`,
			id, p.TargetParentID,
		); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, sid := range ordered {
			batch.Queue(`UPDATE posts SET page_order = $2 WHERE id = $1 AND page_order <> $2`, sid, i+1)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		if !sameParent(moving.ParentID, p.TargetParentID) {
			if moving.ParentID != nil {
				if _, err := tx.Exec(ctx,
					`UPDATE posts SET child_count = GREATEST(child_count - 1, 0) WHERE id = $1`,
					*moving.ParentID,
				); err != nil {
					return err
				}
			}
			if p.TargetParentID != nil {
				if _, err := tx.Exec(ctx,
					`UPDATE posts SET child_count = child_count + 1 WHERE id = $1`,
					*p.TargetParentID,
				); err != nil {
					return err
				}
			}
		}

		out, err = lockOwned(ctx, tx, act, id)
		if err != nil {
			return err
		}
		evt = events.Event{Type: events.PageMoved, TenantID: act.TenantID, PostID: id, ActorID: act.ID}
		return events.Record(ctx, tx, &evt)
	})
	if err != nil {
		return nil, fmt.Errorf("page: move %q: %w", id, err)
	}
	s.publish(evt)
	return out, nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
