// Package database manages the PostgreSQL connection pool and
// bootstraps the schema on startup.
package database

// Schema contains the SQL statements for the pages database. Every
// statement is idempotent so it runs on each startup.
const Schema = `
-- categories: Sidebar groups for pages, scoped by tenant. owner_id is
-- NULL for tenant-shared categories and set for personal ones. Removal
-- is a hard delete; pages that pointed at it are flagged category_lost.
CREATE TABLE IF NOT EXISTS categories (
    id            VARCHAR(36) PRIMARY KEY,
    tenant_id     VARCHAR(64) NOT NULL,
    owner_id      VARCHAR(64),
    category_type VARCHAR(20) NOT NULL DEFAULT 'personal',
    name          VARCHAR(255) NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_categories_tenant ON categories(tenant_id, category_type);

-- posts: Pages, one forest per tenant. parent_id is self-referencing.
--
-- Statuses:
--   draft:   live page.
--   deleted: soft-deleted (in trash); deleted_at is set.
--
-- metadata always carries doc_version (bumped by exactly one per content
-- save) and may carry category_lost and doc_cid.
CREATE TABLE IF NOT EXISTS posts (
    id          VARCHAR(36) PRIMARY KEY,
    tenant_id   VARCHAR(64) NOT NULL,
    parent_id   VARCHAR(36) REFERENCES posts(id) ON DELETE SET NULL,
    category_id VARCHAR(36) REFERENCES categories(id) ON DELETE SET NULL,
    author_id   VARCHAR(64) NOT NULL,
    title       VARCHAR(500) NOT NULL DEFAULT '',
    icon        VARCHAR(64),
    slug        VARCHAR(64) UNIQUE NOT NULL,
    page_type   VARCHAR(20) NOT NULL DEFAULT 'page',
    status      VARCHAR(20) NOT NULL DEFAULT 'draft',
    visibility  VARCHAR(20) NOT NULL DEFAULT 'private',
    child_count INT NOT NULL DEFAULT 0,
    page_order  INT NOT NULL DEFAULT 0,
    metadata    JSONB NOT NULL DEFAULT '{"doc_version": 0}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_posts_owner ON posts(tenant_id, author_id, status);
CREATE INDEX IF NOT EXISTS idx_posts_parent ON posts(parent_id, page_order);

-- blocks: Flat records for the top-level nodes of a page document.
-- sort_key is a fixed-point decimal, strictly increasing among live
-- siblings of (post_id, parent_block_id).
CREATE TABLE IF NOT EXISTS blocks (
    id                VARCHAR(36) PRIMARY KEY,
    post_id           VARCHAR(36) NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    parent_block_id   VARCHAR(36) REFERENCES blocks(id) ON DELETE CASCADE,
    block_type        VARCHAR(50) NOT NULL DEFAULT 'paragraph',
    sort_key          NUMERIC(30, 10) NOT NULL,
    content           JSONB NOT NULL DEFAULT '{}',
    content_text      TEXT NOT NULL DEFAULT '',
    ref_post_id       VARCHAR(36) REFERENCES posts(id) ON DELETE SET NULL,
    external_embed_id VARCHAR(255),
    is_deleted        BOOLEAN NOT NULL DEFAULT FALSE,
    pm_schema_version INT NOT NULL DEFAULT 1,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_blocks_scope ON blocks(post_id, parent_block_id, sort_key) WHERE NOT is_deleted;
CREATE INDEX IF NOT EXISTS idx_blocks_ref ON blocks(ref_post_id) WHERE ref_post_id IS NOT NULL;

-- backlinks: Directed source -> target page references. Maintained
-- outside this service; read-only here.
CREATE TABLE IF NOT EXISTS backlinks (
    source_post_id VARCHAR(36) NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    target_post_id VARCHAR(36) NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (source_post_id, target_post_id)
);

CREATE INDEX IF NOT EXISTS idx_backlinks_target ON backlinks(target_post_id);

-- page_events: Sequenced change feed. Rows are written inside the
-- mutating transaction; the BIGSERIAL seq is the replay cursor.
CREATE TABLE IF NOT EXISTS page_events (
    seq        BIGSERIAL PRIMARY KEY,
    tenant_id  VARCHAR(64) NOT NULL,
    event_type VARCHAR(40) NOT NULL,
    post_id    VARCHAR(36) NOT NULL,
    payload    BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_page_events_tenant_seq ON page_events(tenant_id, seq);
`
