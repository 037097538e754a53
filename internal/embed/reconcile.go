package embed

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/primal-host/primal-pages/internal/actor"
	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/database"
)

// Result reports which child pages a reconcile pass changed.
type Result struct {
	Trashed  []string
	Restored []string
	Reranked int
}

// Reconcile applies the embed diff between prev and next blocks of
// postID. Only pages whose parent is postID and whose author is the
// acting user are touched. Run it inside the save transaction.
func Reconcile(ctx context.Context, q database.Querier, act actor.Actor, postID string, prev, next []block.Block) (Result, error) {
	plan := Diff(Targets(prev), Targets(next))
	res := Result{Trashed: []string{}, Restored: []string{}}

	var err error
	if len(plan.Remove) > 0 {
		res.Trashed, err = updateIDs(ctx, q,
			`UPDATE posts SET status = 'deleted', deleted_at = NOW(), updated_at = NOW()
			 WHERE id = ANY($1) AND parent_id = $2 AND author_id = $3 AND tenant_id = $4
			   AND status <> 'deleted'
			 RETURNING id`,
			plan.Remove, postID, act.ID, act.TenantID)
		if err != nil {
			return res, fmt.Errorf("embed: trash removed children of %q: %w", postID, err)
		}
	}

	if len(plan.Restore) > 0 {
		res.Restored, err = updateIDs(ctx, q,
			`UPDATE posts SET status = 'draft', deleted_at = NULL, updated_at = NOW()
			 WHERE id = ANY($1) AND parent_id = $2 AND author_id = $3 AND tenant_id = $4
			   AND status = 'deleted'
			 RETURNING id`,
			plan.Restore, postID, act.ID, act.TenantID)
		if err != nil {
			return res, fmt.Errorf("embed: restore children of %q: %w", postID, err)
		}
	}

	if len(plan.Order) > 0 {
		res.Reranked, err = rerank(ctx, q, act, postID, plan.Order)
		if err != nil {
			return res, fmt.Errorf("embed: rerank children of %q: %w", postID, err)
		}
	}
	return res, nil
}

// rerank renumbers the live children of postID densely from 1 within
// each category, embeds first. It returns the number of rows whose
// page_order changed.
func rerank(ctx context.Context, q database.Querier, act actor.Actor, postID string, embedOrder []string) (int, error) {
	rows, err := q.Query(ctx,
		`SELECT id, category_id, page_order FROM posts
		 WHERE parent_id = $1 AND author_id = $2 AND tenant_id = $3 AND status <> 'deleted'
		 ORDER BY page_order, created_at, id`,
		postID, act.ID, act.TenantID,
	)
	if err != nil {
		return 0, err
	}
	siblings := []Sibling{}
	current := make(map[string]int)
	for rows.Next() {
		var (
			s   Sibling
			ord int
		)
		if err := rows.Scan(&s.ID, &s.CategoryID, &ord); err != nil {
			rows.Close()
			return 0, err
		}
		siblings = append(siblings, s)
		current[s.ID] = ord
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	ranks := RankByCategory(embedOrder, siblings)
	batch := &pgx.Batch{}
	for _, s := range siblings {
		if current[s.ID] == ranks[s.ID] {
			continue
		}
		batch.Queue(`UPDATE posts SET page_order = $2 WHERE id = $1`, s.ID, ranks[s.ID])
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	n := batch.Len()
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func updateIDs(ctx context.Context, q database.Querier, sql string, args ...any) ([]string, error) {
	rows, err := q.Query(ctx, sql, args...)
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
