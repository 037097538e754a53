package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/primal-host/primal-pages/internal/actor"
	"github.com/primal-host/primal-pages/internal/apperr"
	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/database"
	"github.com/primal-host/primal-pages/internal/document"
	"github.com/primal-host/primal-pages/internal/embed"
	"github.com/primal-host/primal-pages/internal/events"
	"github.com/primal-host/primal-pages/internal/idgen"
	"github.com/primal-host/primal-pages/internal/page"
)

// ReplaceAll saves by deleting every block of the page and inserting a
// fresh set flattened from the submitted document.
type ReplaceAll struct {
	db  *database.DB
	pub events.Publisher
}

// NewReplaceAll creates the replace-all Saver. pub may be nil.
func NewReplaceAll(db *database.DB, pub events.Publisher) *ReplaceAll {
	return &ReplaceAll{db: db, pub: pub}
}

// Save runs one save transaction:
//
//  1. lock the page row and check the expected doc_version
//  2. snapshot the current page_link blocks
//  3. delete every block
//  4. flatten the document
//  5. drop blocks whose ref_post_id names no page of the tenant
//  6. insert the rest
//  7. reconcile embedded child pages
//  8. bump doc_version and store the fingerprint
//
// Any failure rolls the whole save back.
func (r *ReplaceAll) Save(ctx context.Context, act actor.Actor, postID string, p SaveParams) (*SaveResult, error) {
	if len(p.DocJSON) == 0 {
		return nil, apperr.Validation("docJson is required")
	}
	doc, err := document.Parse(p.DocJSON)
	if err != nil {
		return nil, apperr.Validation("docJson: %v", err)
	}
	if p.PMSchemaVersion <= 0 {
		p.PMSchemaVersion = 1
	}

	var (
		res  SaveResult
		evts []events.Event
	)
	err = r.db.InTx(ctx, func(tx pgx.Tx) error {
		cur, err := lockVersion(ctx, tx, act, postID)
		if err != nil {
			return err
		}
		if p.ExpectedVersion != nil && *p.ExpectedVersion != cur {
			return &apperr.VersionConflictError{Current: cur, Expected: *p.ExpectedVersion}
		}

		prev, err := block.ListPageLinks(ctx, tx, postID)
		if err != nil {
			return err
		}
		if _, err := block.DeleteAll(ctx, tx, postID); err != nil {
			return err
		}

		flat, err := document.Flatten(postID, doc, p.PMSchemaVersion)
		if err != nil {
			return err
		}
		kept, err := dropDangling(ctx, tx, act.TenantID, flat)
		if err != nil {
			return err
		}
		res.Dropped = len(flat) - len(kept)

		inserted, err := block.InsertAll(ctx, tx, kept)
		if err != nil {
			return err
		}
		res.Blocks = len(inserted)

		rec, err := embed.Reconcile(ctx, tx, act, postID, prev, inserted)
		if err != nil {
			return err
		}
		res.Trashed, res.Restored = rec.Trashed, rec.Restored

		stored, err := document.Reassemble(inserted)
		if err != nil {
			return err
		}
		if res.CID, err = document.Fingerprint(stored); err != nil {
			return err
		}

		res.Version = cur + 1
		if _, err := tx.Exec(ctx,
			`UPDATE posts
			 SET metadata = jsonb_set(jsonb_set(metadata, '{doc_version}', to_jsonb($2::int)),
			                          '{doc_cid}', to_jsonb($3::text)),
			     updated_at = NOW()
			 WHERE id = $1`,
			postID, res.Version, res.CID,
		); err != nil {
			return err
		}

		evts = []events.Event{{
			Type: events.ContentSaved, TenantID: act.TenantID, PostID: postID,
			ActorID: act.ID, Version: res.Version,
		}}
		if len(res.Trashed) > 0 {
			evts = append(evts, events.Event{
				Type: events.EmbedTrashed, TenantID: act.TenantID, PostID: postID,
				ActorID: act.ID, Related: res.Trashed,
			})
		}
		if len(res.Restored) > 0 {
			evts = append(evts, events.Event{
				Type: events.EmbedRestored, TenantID: act.TenantID, PostID: postID,
				ActorID: act.ID, Related: res.Restored,
			})
		}
		for i := range evts {
			if err := events.Record(ctx, tx, &evts[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("content: save %q: %w", postID, err)
	}
	if r.pub != nil {
		r.pub.Publish(evts...)
	}
	return &res, nil
}

// lockVersion locks the page row and returns its doc_version. Only the
// author may save.
func lockVersion(ctx context.Context, q database.Querier, act actor.Actor, postID string) (int, error) {
	var (
		author  string
		version int
	)
	err := q.QueryRow(ctx,
		`SELECT author_id, COALESCE((metadata->>'doc_version')::int, 0)
		 FROM posts WHERE id = $1 AND tenant_id = $2
		 FOR UPDATE`,
		postID, act.TenantID,
	).Scan(&author, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.NotFound("page", postID)
	}
	if err != nil {
		return 0, err
	}
	if author != act.ID {
		return 0, apperr.Forbidden("page %s is owned by another actor", postID)
	}
	return version, nil
}

// dropDangling removes blocks whose reference is malformed or names no
// page of the tenant. Pages in the trash still count as existing.
func dropDangling(ctx context.Context, q database.Querier, tenantID string, blocks []block.Block) ([]block.Block, error) {
	refs := []string{}
	for _, b := range blocks {
		if b.RefPostID != nil && idgen.Valid(*b.RefPostID) {
			refs = append(refs, *b.RefPostID)
		}
	}
	existing, err := page.ExistingIDs(ctx, q, tenantID, refs)
	if err != nil {
		return nil, err
	}
	return Keep(blocks, existing), nil
}

// Keep returns the blocks without a reference or whose reference is in
// existing.
func Keep(blocks []block.Block, existing map[string]bool) []block.Block {
	out := make([]block.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.RefPostID != nil && !existing[*b.RefPostID] {
			continue
		}
		out = append(out, b)
	}
	return out
}
