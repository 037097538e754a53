package block

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/primal-host/primal-pages/internal/apperr"
	"github.com/primal-host/primal-pages/internal/database"
	"github.com/primal-host/primal-pages/internal/idgen"
	"github.com/primal-host/primal-pages/internal/order"
)

const columns = `id, post_id, parent_block_id, block_type, sort_key::text, content,
	content_text, ref_post_id, external_embed_id, is_deleted, pm_schema_version,
	created_at, updated_at, deleted_at`

// Store provides block CRUD backed by PostgreSQL. Callers are expected
// to have authorized access to the owning page.
type Store struct {
	db *database.DB
}

// NewStore creates a block Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// List returns the live blocks of postID under parentBlockID (nil for
// top level), sorted by sort_key ascending.
func (s *Store) List(ctx context.Context, postID string, parentBlockID *string) ([]Block, error) {
	return List(ctx, s.db.Pool, postID, parentBlockID)
}

// Create inserts a block. Without an explicit SortKey the key comes from
// the before/after hints, or the end of the scope.
func (s *Store) Create(ctx context.Context, postID string, p CreateParams) (*Block, error) {
	if p.BlockType == "" {
		p.BlockType = TypeParagraph
	}
	if p.PMSchemaVersion == 0 {
		p.PMSchemaVersion = 1
	}
	if p.Content == nil {
		p.Content = []byte(`{}`)
	}

	var out *Block
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		if err := checkParent(ctx, tx, postID, p.ParentBlockID, ""); err != nil {
			return err
		}
		if err := checkRef(ctx, tx, postID, p.RefPostID); err != nil {
			return err
		}

		// An explicit key already held by a sibling is replaced by an
		// append so keys stay unique within the scope.
		scope := order.Scope{PostID: postID, ParentBlockID: p.ParentBlockID}
		alloc := order.New(siblingSource{q: tx})
		var (
			key decimal.Decimal
			err error
		)
		if p.SortKey != nil {
			key, err = alloc.Claim(ctx, scope, *p.SortKey)
		} else {
			key, err = alloc.InsertBetween(ctx, scope, p.BeforeBlockID, p.AfterBlockID)
		}
		if err != nil {
			return err
		}

		b, err := insert(ctx, tx, Block{
			ID:              idgen.New(),
			PostID:          postID,
			ParentBlockID:   p.ParentBlockID,
			BlockType:       p.BlockType,
			SortKey:         key,
			Content:         p.Content,
			ContentText:     p.ContentText,
			RefPostID:       p.RefPostID,
			ExternalEmbedID: p.ExternalEmbedID,
			PMSchemaVersion: p.PMSchemaVersion,
		})
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("block: create in %q: %w", postID, err)
	}
	return out, nil
}

// Update applies the non-nil fields of p to the block.
// Returns apperr.ErrNotFound if no row matches (id, post_id).
func (s *Store) Update(ctx context.Context, postID, blockID string, p UpdateParams) (*Block, error) {
	if err := checkRef(ctx, s.db.Pool, postID, p.RefPostID); err != nil {
		return nil, fmt.Errorf("block: update %q: %w", blockID, err)
	}
	var content []byte
	if p.Content != nil {
		content = p.Content
	}
	b, err := scanBlock(s.db.Pool.QueryRow(ctx,
		`UPDATE blocks SET
		   block_type        = COALESCE($3, block_type),
		   content           = COALESCE($4::jsonb, content),
		   content_text      = COALESCE($5, content_text),
		   ref_post_id       = COALESCE($6, ref_post_id),
		   external_embed_id = COALESCE($7, external_embed_id),
		   pm_schema_version = COALESCE($8, pm_schema_version),
		   updated_at        = NOW()
		 WHERE id = $1 AND post_id = $2
		 RETURNING `+columns,
		blockID, postID, p.BlockType, content, p.ContentText, p.RefPostID, p.ExternalEmbedID, p.PMSchemaVersion,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("block", blockID)
	}
	if err != nil {
		return nil, fmt.Errorf("block: update %q: %w", blockID, err)
	}
	return b, nil
}

// SoftDelete marks the block deleted. Deleting twice keeps the first
// deletion time. Returns apperr.ErrNotFound if no row matches.
func (s *Store) SoftDelete(ctx context.Context, postID, blockID string) error {
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE blocks
		 SET is_deleted = TRUE, deleted_at = COALESCE(deleted_at, NOW()), updated_at = NOW()
		 WHERE id = $1 AND post_id = $2`,
		blockID, postID,
	)
	if err != nil {
		return fmt.Errorf("block: delete %q: %w", blockID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("block", blockID)
	}
	return nil
}

// Reorder moves a block under p.ParentBlockID and recomputes its key
// from the before/after hints in one transaction.
func (s *Store) Reorder(ctx context.Context, postID, blockID string, p ReorderParams) (*Block, error) {
	var out *Block
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx,
			`SELECT id FROM blocks WHERE id = $1 AND post_id = $2 AND NOT is_deleted FOR UPDATE`,
			blockID, postID,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("block", blockID)
		}
		if err != nil {
			return err
		}
		if err := checkParent(ctx, tx, postID, p.ParentBlockID, blockID); err != nil {
			return err
		}

		scope := order.Scope{PostID: postID, ParentBlockID: p.ParentBlockID, Exclude: blockID}
		key, err := order.New(siblingSource{q: tx}).InsertBetween(ctx, scope, p.BeforeBlockID, p.AfterBlockID)
		if err != nil {
			return err
		}

		b, err := scanBlock(tx.QueryRow(ctx,
			`UPDATE blocks SET sort_key = $3::text::numeric, parent_block_id = $4, updated_at = NOW()
			 WHERE id = $1 AND post_id = $2
			 RETURNING `+columns,
			blockID, postID, key.String(), p.ParentBlockID,
		))
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("block: reorder %q: %w", blockID, err)
	}
	return out, nil
}

// List returns live blocks of one scope through q, sorted by key.
func List(ctx context.Context, q database.Querier, postID string, parentBlockID *string) ([]Block, error) {
	rows, err := q.Query(ctx,
		`SELECT `+columns+` FROM blocks
		 WHERE post_id = $1 AND parent_block_id IS NOT DISTINCT FROM $2 AND NOT is_deleted
		 ORDER BY sort_key, id`,
		postID, parentBlockID,
	)
	if err != nil {
		return nil, fmt.Errorf("block: list %q: %w", postID, err)
	}
	defer rows.Close()
	return collect(rows)
}

// ListPageLinks returns the live page_link blocks of postID in document
// order.
func ListPageLinks(ctx context.Context, q database.Querier, postID string) ([]Block, error) {
	rows, err := q.Query(ctx,
		`SELECT `+columns+` FROM blocks
		 WHERE post_id = $1 AND block_type = $2 AND NOT is_deleted
		 ORDER BY sort_key, id`,
		postID, TypePageLink,
	)
	if err != nil {
		return nil, fmt.Errorf("block: list page links %q: %w", postID, err)
	}
	defer rows.Close()
	return collect(rows)
}

// DeleteAll hard-deletes every block of postID.
func DeleteAll(ctx context.Context, q database.Querier, postID string) (int64, error) {
	tag, err := q.Exec(ctx, `DELETE FROM blocks WHERE post_id = $1`, postID)
	if err != nil {
		return 0, fmt.Errorf("block: delete all %q: %w", postID, err)
	}
	return tag.RowsAffected(), nil
}

// InsertAll writes blocks in one batch, assigning ids where missing.
// The returned slice carries ids and timestamps.
func InsertAll(ctx context.Context, q database.Querier, blocks []Block) ([]Block, error) {
	if len(blocks) == 0 {
		return []Block{}, nil
	}

	batch := &pgx.Batch{}
	for i := range blocks {
		if blocks[i].ID == "" {
			blocks[i].ID = idgen.New()
		}
		queueInsert(batch, blocks[i])
	}

	br := q.SendBatch(ctx, batch)
	out := make([]Block, 0, len(blocks))
	for range blocks {
		b, err := scanBlock(br.QueryRow())
		if err != nil {
			br.Close()
			return nil, fmt.Errorf("block: insert batch: %w", err)
		}
		out = append(out, *b)
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("block: insert batch: %w", err)
	}
	return out, nil
}

// PurgePosts hard-deletes every block owned by the given pages.
func PurgePosts(ctx context.Context, q database.Querier, postIDs []string) (int64, error) {
	if len(postIDs) == 0 {
		return 0, nil
	}
	tag, err := q.Exec(ctx, `DELETE FROM blocks WHERE post_id = ANY($1)`, postIDs)
	if err != nil {
		return 0, fmt.Errorf("block: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

const insertSQL = `INSERT INTO blocks
	(id, post_id, parent_block_id, block_type, sort_key, content, content_text,
	 ref_post_id, external_embed_id, pm_schema_version)
	VALUES ($1, $2, $3, $4, $5::text::numeric, $6::jsonb, $7, $8, $9, $10)
	RETURNING ` + columns

func insertArgs(b Block) []any {
	return []any{
		b.ID, b.PostID, b.ParentBlockID, b.BlockType, b.SortKey.String(), []byte(b.Content),
		b.ContentText, b.RefPostID, b.ExternalEmbedID, b.PMSchemaVersion,
	}
}

func insert(ctx context.Context, q database.Querier, b Block) (*Block, error) {
	return scanBlock(q.QueryRow(ctx, insertSQL, insertArgs(b)...))
}

func queueInsert(batch *pgx.Batch, b Block) {
	batch.Queue(insertSQL, insertArgs(b)...)
}

// checkParent verifies that a non-nil parent is a live block of the same
// page and that self is not among its ancestors.
func checkParent(ctx context.Context, q database.Querier, postID string, parentBlockID *string, self string) error {
	if parentBlockID == nil {
		return nil
	}
	if *parentBlockID == self {
		return apperr.Validation("block cannot be its own parent")
	}
	var id string
	err := q.QueryRow(ctx,
		`SELECT id FROM blocks WHERE id = $1 AND post_id = $2 AND NOT is_deleted`,
		*parentBlockID, postID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("parent block", *parentBlockID)
	}
	if err != nil || self == "" {
		return err
	}

	// UNION stops the walk if the stored chain already loops.
	var cycle bool
	err = q.QueryRow(ctx,
		`WITH RECURSIVE up(id, parent_block_id) AS (
		   SELECT id, parent_block_id FROM blocks WHERE id = $1 AND post_id = $2
		   UNION
		   SELECT b.id, b.parent_block_id FROM blocks b JOIN up ON b.id = up.parent_block_id
		   WHERE b.post_id = $2
		 )
		 SELECT EXISTS (SELECT 1 FROM up WHERE id = $3)`,
		*parentBlockID, postID, self,
	).Scan(&cycle)
	if err != nil {
		return err
	}
	if cycle {
		return apperr.Validation("block %s cannot move under its own descendant %s", self, *parentBlockID)
	}
	return nil
}

// checkRef verifies that a non-nil ref names a page of the same tenant
// as postID.
func checkRef(ctx context.Context, q database.Querier, postID string, ref *string) error {
	if ref == nil {
		return nil
	}
	var ok bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM posts r JOIN posts o ON o.tenant_id = r.tenant_id
		   WHERE o.id = $1 AND r.id = $2
		 )`,
		postID, *ref,
	).Scan(&ok)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Validation("refPostId %s names no page", *ref)
	}
	return nil
}

// siblingSource reads sibling keys through a Querier for the allocator.
type siblingSource struct {
	q database.Querier
}

func (s siblingSource) Siblings(ctx context.Context, scope order.Scope) ([]order.Entry, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, sort_key::text FROM blocks
		 WHERE post_id = $1 AND parent_block_id IS NOT DISTINCT FROM $2
		   AND NOT is_deleted AND id <> $3
		 ORDER BY sort_key`,
		scope.PostID, scope.ParentBlockID, scope.Exclude,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []order.Entry{}
	for rows.Next() {
		var (
			e   order.Entry
			key string
		)
		if err := rows.Scan(&e.ID, &key); err != nil {
			return nil, err
		}
		if e.Key, err = decimal.NewFromString(key); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func collect(rows pgx.Rows) ([]Block, error) {
	blocks := []Block{}
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *b)
	}
	return blocks, rows.Err()
}

func scanBlock(row pgx.Row) (*Block, error) {
	var (
		b       Block
		key     string
		content []byte
	)
	err := row.Scan(&b.ID, &b.PostID, &b.ParentBlockID, &b.BlockType, &key, &content,
		&b.ContentText, &b.RefPostID, &b.ExternalEmbedID, &b.IsDeleted, &b.PMSchemaVersion,
		&b.CreatedAt, &b.UpdatedAt, &b.DeletedAt)
	if err != nil {
		return nil, err
	}
	if b.SortKey, err = decimal.NewFromString(key); err != nil {
		return nil, fmt.Errorf("block: parse sort key %q: %w", key, err)
	}
	b.Content = content
	return &b, nil
}
