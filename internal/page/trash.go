package page

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/primal-host/primal-pages/internal/actor"
	"github.com/primal-host/primal-pages/internal/apperr"
	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/category"
	"github.com/primal-host/primal-pages/internal/events"
)

// TrashDetail is a deleted page with its deleted descendants.
type TrashDetail struct {
	Page        Page   `json:"page"`
	Descendants []Page `json:"descendants"`
}

// RestoreResult lists the pages a subtree restore touched.
type RestoreResult struct {
	Restored    []string `json:"restored"`
	Categorized []string `json:"categorized"`
}

// ListTrash returns the tops of act's deleted subtrees: deleted pages
// whose parent is absent or not itself deleted.
func (s *Store) ListTrash(ctx context.Context, act actor.Actor) ([]Page, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+columns+` FROM posts p
		 WHERE p.tenant_id = $1 AND p.author_id = $2 AND p.status = 'deleted'
		   AND (p.parent_id IS NULL OR NOT EXISTS (
		         SELECT 1 FROM posts pp WHERE pp.id = p.parent_id AND pp.status = 'deleted'))
		 ORDER BY p.deleted_at DESC NULLS LAST, p.id`,
		act.TenantID, act.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("page: list trash: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// GetTrash returns a deleted page and its deleted descendants.
func (s *Store) GetTrash(ctx context.Context, act actor.Actor, id string) (*TrashDetail, error) {
	f, err := loadForest(ctx, s.db.Pool, act)
	if err != nil {
		return nil, fmt.Errorf("page: get trash %q: %w", id, err)
	}
	pg := f.Page(id)
	if pg == nil || pg.Status != StatusDeleted {
		return nil, apperr.NotFound("page in trash", id)
	}

	d := &TrashDetail{Page: *pg, Descendants: []Page{}}
	for _, cid := range f.Descendants(id) {
		if c := f.Page(cid); c.Status == StatusDeleted {
			d.Descendants = append(d.Descendants, *c)
		}
	}
	return d, nil
}

// RestoreSubtree returns a deleted page to draft together with its
// ancestors and descendants, clearing category_lost on all of them.
// A page that is uncategorized or lost its category needs
// chosenCategoryID; a chosen category is applied to the roots of the
// restored set only.
func (s *Store) RestoreSubtree(ctx context.Context, act actor.Actor, id string, chosenCategoryID *string) (*RestoreResult, error) {
	var (
		res RestoreResult
		evt events.Event
	)
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		target, err := lockOwned(ctx, tx, act, id)
		if err != nil {
			return err
		}
		if target.Status != StatusDeleted {
			return apperr.Validation("page %s is not in the trash", id)
		}

		needCategory := target.CategoryID == nil || target.Metadata.CategoryLost
		if needCategory && chosenCategoryID == nil {
			return apperr.ErrCategoryRequired
		}
		if chosenCategoryID != nil {
			if _, err := category.CheckAccess(ctx, tx, act, *chosenCategoryID); err != nil {
				return err
			}
		}

		f, err := loadForest(ctx, tx, act)
		if err != nil {
			return err
		}
		set := f.RestoreSet(id)

		res.Restored, err = updateIDs(ctx, tx,
			`UPDATE posts
			 SET status = 'draft', deleted_at = NULL,
			     metadata = metadata - 'category_lost', updated_at = NOW()
			 WHERE id = ANY($1) AND tenant_id = $2 AND author_id = $3
			 RETURNING id`,
			set, act.TenantID, act.ID)
		if err != nil {
			return err
		}

		res.Categorized = []string{}
		if chosenCategoryID != nil {
			res.Categorized, err = updateIDs(ctx, tx,
				`UPDATE posts SET category_id = $2, updated_at = NOW()
				 WHERE id = ANY($1) AND tenant_id = $3 AND author_id = $4
				 RETURNING id`,
				f.Roots(set), *chosenCategoryID, act.TenantID, act.ID)
			if err != nil {
				return err
			}
		}

		evt = events.Event{
			Type: events.SubtreeRestored, TenantID: act.TenantID, PostID: id,
			ActorID: act.ID, Related: res.Restored,
		}
		return events.Record(ctx, tx, &evt)
	})
	if err != nil {
		return nil, fmt.Errorf("page: restore %q: %w", id, err)
	}
	s.publish(evt)
	return &res, nil
}

// PurgeSubtree permanently removes a deleted page and its deleted
// descendants along with their blocks. Descendants that are not in the
// deleted state survive and become roots. Returns the purged ids.
func (s *Store) PurgeSubtree(ctx context.Context, act actor.Actor, id string) ([]string, error) {
	var (
		purged []string
		evt    events.Event
	)
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		target, err := lockOwned(ctx, tx, act, id)
		if err != nil {
			return err
		}
		if target.Status != StatusDeleted {
			return apperr.Validation("page %s is not in the trash", id)
		}

		f, err := loadForest(ctx, tx, act)
		if err != nil {
			return err
		}
		candidates := append([]string{id}, f.Descendants(id)...)

		doomed, err := updateIDs(ctx, tx,
			`SELECT id FROM posts
			 WHERE id = ANY($1) AND tenant_id = $2 AND author_id = $3 AND status = 'deleted'
			 FOR UPDATE`,
			candidates, act.TenantID, act.ID)
		if err != nil {
			return err
		}

		if _, err := block.PurgePosts(ctx, tx, doomed); err != nil {
			return err
		}

		purged, err = updateIDs(ctx, tx,
			`DELETE FROM posts
			 WHERE id = ANY($1) AND status = 'deleted'
			 RETURNING id`,
			doomed)
		if err != nil {
			return err
		}

		// Keep child_count in step for parents that survive the purge.
		gone := make(map[string]bool, len(purged))
		for _, pid := range purged {
			gone[pid] = true
		}
		lost := make(map[string]int)
		for _, pid := range purged {
			if pg := f.Page(pid); pg != nil && pg.ParentID != nil && !gone[*pg.ParentID] {
				lost[*pg.ParentID]++
			}
		}
		for parentID, n := range lost {
			if _, err := tx.Exec(ctx,
				`UPDATE posts SET child_count = GREATEST(child_count - $2, 0) WHERE id = $1`,
				parentID, n,
			); err != nil {
				return err
			}
		}

		evt = events.Event{
			Type: events.SubtreePurged, TenantID: act.TenantID, PostID: id,
			ActorID: act.ID, Related: purged,
		}
		return events.Record(ctx, tx, &evt)
	})
	if err != nil {
		return nil, fmt.Errorf("page: purge %q: %w", id, err)
	}
	s.publish(evt)
	return purged, nil
}

func updateIDs(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]string, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
