package content

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primal-host/primal-pages/internal/actor"
	"github.com/primal-host/primal-pages/internal/apperr"
	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/database/dbtest"
	"github.com/primal-host/primal-pages/internal/idgen"
	"github.com/primal-host/primal-pages/internal/page"
)

func TestKeep(t *testing.T) {
	ref := func(s string) *string { return &s }
	blocks := []block.Block{
		{ID: "plain"},
		{ID: "live", RefPostID: ref("p1")},
		{ID: "dangling", RefPostID: ref("p2")},
	}
	kept := Keep(blocks, map[string]bool{"p1": true})
	require.Len(t, kept, 2)
	assert.Equal(t, "plain", kept[0].ID)
	assert.Equal(t, "live", kept[1].ID)
}

func TestSaveRejectsEmptyDocument(t *testing.T) {
	r := NewReplaceAll(nil, nil)
	_, err := r.Save(context.Background(), actor.Actor{ID: "a", TenantID: "t"}, "p", SaveParams{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = r.Save(context.Background(), actor.Actor{ID: "a", TenantID: "t"}, "p",
		SaveParams{DocJSON: json.RawMessage(`{"type":"list"}`)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func embedDoc(ids ...string) json.RawMessage {
	nodes := `{"type":"paragraph","content":[{"type":"text","text":"intro"}]}`
	for _, id := range ids {
		nodes += fmt.Sprintf(`,{"type":"page_link","attrs":{"pageId":%q,"display":"embed"}}`, id)
	}
	return json.RawMessage(`{"type":"doc","content":[` + nodes + `]}`)
}

func intp(v int) *int { return &v }

type saveFixture struct {
	store *Store
	pages *page.Store
	act   actor.Actor
}

func setupSave(t *testing.T) saveFixture {
	db := dbtest.Open(t)
	return saveFixture{
		store: NewStore(db, NewReplaceAll(db, nil)),
		pages: page.NewStore(db, nil),
		act:   actor.Actor{ID: "alice", TenantID: dbtest.Tenant()},
	}
}

func (f saveFixture) page(t *testing.T, parent *string) *page.Page {
	t.Helper()
	pg, err := f.pages.Create(context.Background(), f.act, page.CreateParams{Title: "t", ParentID: parent})
	require.NoError(t, err)
	return pg
}

func TestSaveVersioning(t *testing.T) {
	f := setupSave(t)
	ctx := context.Background()
	p := f.page(t, nil)

	res, err := f.store.Save(ctx, f.act, p.ID, SaveParams{DocJSON: embedDoc(), ExpectedVersion: intp(0)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	assert.NotEmpty(t, res.CID)

	_, err = f.store.Save(ctx, f.act, p.ID, SaveParams{
		DocJSON:         json.RawMessage(`{"type":"doc","content":[]}`),
		ExpectedVersion: intp(0),
	})
	var conflict *apperr.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.Current)
	assert.ErrorIs(t, err, apperr.ErrVersionConflict)

	doc, err := f.store.Load(ctx, f.act, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, res.CID, doc.CID)
	require.Len(t, doc.DocJSON.Content, 1)

	res, err = f.store.Save(ctx, f.act, p.ID, SaveParams{DocJSON: embedDoc()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version)

	_, err = f.store.Save(ctx, f.act, idgen.New(), SaveParams{DocJSON: embedDoc()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.store.Save(ctx, actor.Actor{ID: "bob", TenantID: f.act.TenantID}, p.ID, SaveParams{DocJSON: embedDoc()})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestSaveDropsDanglingReferences(t *testing.T) {
	f := setupSave(t)
	ctx := context.Background()
	p := f.page(t, nil)
	other := f.page(t, nil)

	res, err := f.store.Save(ctx, f.act, p.ID, SaveParams{DocJSON: embedDoc(other.ID, idgen.New(), "not-an-id")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Blocks)
	assert.Equal(t, 2, res.Dropped)
	// other is not a structural child, so nothing is restored or trashed.
	assert.Empty(t, res.Restored)

	res, err = f.store.Save(ctx, f.act, p.ID, SaveParams{DocJSON: embedDoc()})
	require.NoError(t, err)
	assert.Empty(t, res.Trashed)
	got, err := f.pages.Get(ctx, f.act, other.ID)
	require.NoError(t, err)
	assert.Equal(t, page.StatusDraft, got.Status)
}

func TestSaveCascadesEmbeddedChildren(t *testing.T) {
	f := setupSave(t)
	ctx := context.Background()
	parent := f.page(t, nil)
	c1 := f.page(t, &parent.ID)
	c2 := f.page(t, &parent.ID)

	res, err := f.store.Save(ctx, f.act, parent.ID, SaveParams{DocJSON: embedDoc(c2.ID, c1.ID), ExpectedVersion: intp(0)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)

	got1, err := f.pages.Get(ctx, f.act, c1.ID)
	require.NoError(t, err)
	got2, err := f.pages.Get(ctx, f.act, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got1.PageOrder)
	assert.Equal(t, 1, got2.PageOrder)

	res, err = f.store.Save(ctx, f.act, parent.ID, SaveParams{DocJSON: embedDoc(c2.ID), ExpectedVersion: intp(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{c1.ID}, res.Trashed)
	got1, err = f.pages.Get(ctx, f.act, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, page.StatusDeleted, got1.Status)
	assert.NotNil(t, got1.DeletedAt)

	res, err = f.store.Save(ctx, f.act, parent.ID, SaveParams{DocJSON: embedDoc(c1.ID, c2.ID), ExpectedVersion: intp(2)})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Version)
	assert.Equal(t, []string{c1.ID}, res.Restored)
	got1, err = f.pages.Get(ctx, f.act, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, page.StatusDraft, got1.Status)
	assert.Nil(t, got1.DeletedAt)
	assert.Equal(t, 1, got1.PageOrder)
}
