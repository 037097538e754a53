package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primal-host/primal-pages/internal/actor"
	"github.com/primal-host/primal-pages/internal/apperr"
	"github.com/primal-host/primal-pages/internal/auth"
	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/category"
	"github.com/primal-host/primal-pages/internal/config"
	"github.com/primal-host/primal-pages/internal/content"
	"github.com/primal-host/primal-pages/internal/events"
	"github.com/primal-host/primal-pages/internal/page"
)

var alice = actor.Actor{ID: "alice", TenantID: "acme"}

type fakePages struct {
	err       error
	accessErr error
	gotActor  actor.Actor
	gotCat    *string
	gotWrite  bool
	restoreTo *string
}

func (f *fakePages) Create(_ context.Context, act actor.Actor, p page.CreateParams) (*page.Page, error) {
	f.gotActor = act
	if f.err != nil {
		return nil, f.err
	}
	return &page.Page{ID: "p1", TenantID: act.TenantID, AuthorID: act.ID, Title: p.Title}, nil
}

func (f *fakePages) Get(_ context.Context, _ actor.Actor, id string) (*page.Page, error) {
	return &page.Page{ID: id}, f.err
}

func (f *fakePages) Access(_ context.Context, _ actor.Actor, _ string, write bool) error {
	f.gotWrite = write
	return f.accessErr
}

func (f *fakePages) ListMine(_ context.Context, act actor.Actor, categoryID *string) ([]page.Page, error) {
	f.gotActor = act
	f.gotCat = categoryID
	return []page.Page{{ID: "p1"}}, f.err
}

func (f *fakePages) Update(_ context.Context, _ actor.Actor, id string, _ page.UpdateParams) (*page.Page, error) {
	return &page.Page{ID: id}, f.err
}

func (f *fakePages) Move(_ context.Context, _ actor.Actor, id string, _ page.MoveParams) (*page.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &page.Page{ID: id}, nil
}

func (f *fakePages) Backlinks(context.Context, actor.Actor, string) ([]page.Page, error) {
	return nil, f.err
}

func (f *fakePages) ListTrash(context.Context, actor.Actor) ([]page.Page, error) {
	return nil, f.err
}

func (f *fakePages) GetTrash(_ context.Context, _ actor.Actor, id string) (*page.TrashDetail, error) {
	return &page.TrashDetail{Page: page.Page{ID: id}}, f.err
}

func (f *fakePages) RestoreSubtree(_ context.Context, _ actor.Actor, id string, chosen *string) (*page.RestoreResult, error) {
	f.restoreTo = chosen
	if f.err != nil {
		return nil, f.err
	}
	return &page.RestoreResult{Restored: []string{id}}, nil
}

func (f *fakePages) PurgeSubtree(_ context.Context, _ actor.Actor, id string) ([]string, error) {
	return []string{id}, f.err
}

// fakeBlocks records calls. When pages is set, refs outside it are
// rejected the way the block store rejects them.
type fakeBlocks struct {
	created *block.CreateParams
	updated *block.UpdateParams
	pages   map[string]bool
}

func (f *fakeBlocks) checkRef(ref *string) error {
	if f.pages != nil && ref != nil && !f.pages[*ref] {
		return apperr.Validation("refPostId %s names no page", *ref)
	}
	return nil
}

func (f *fakeBlocks) List(context.Context, string, *string) ([]block.Block, error) {
	return []block.Block{}, nil
}

func (f *fakeBlocks) Create(_ context.Context, postID string, p block.CreateParams) (*block.Block, error) {
	if err := f.checkRef(p.RefPostID); err != nil {
		return nil, err
	}
	f.created = &p
	return &block.Block{ID: "b1", PostID: postID, BlockType: p.BlockType}, nil
}

func (f *fakeBlocks) Update(_ context.Context, postID, blockID string, p block.UpdateParams) (*block.Block, error) {
	if err := f.checkRef(p.RefPostID); err != nil {
		return nil, err
	}
	f.updated = &p
	return &block.Block{ID: blockID, PostID: postID}, nil
}

func (f *fakeBlocks) SoftDelete(context.Context, string, string) error {
	return nil
}

func (f *fakeBlocks) Reorder(_ context.Context, postID, blockID string, _ block.ReorderParams) (*block.Block, error) {
	return &block.Block{ID: blockID, PostID: postID}, nil
}

type fakeContent struct {
	doc     *content.Document
	saveErr error
	saved   *content.SaveParams
}

func (f *fakeContent) Load(context.Context, actor.Actor, string) (*content.Document, error) {
	if f.doc == nil {
		return nil, apperr.NotFound("page", "missing")
	}
	return f.doc, nil
}

func (f *fakeContent) Save(_ context.Context, _ actor.Actor, _ string, p content.SaveParams) (*content.SaveResult, error) {
	f.saved = &p
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	return &content.SaveResult{Version: 1, CID: "bafkreitest"}, nil
}

type fakeCategories struct{}

func (fakeCategories) List(context.Context, actor.Actor) ([]category.Category, error) {
	return []category.Category{}, nil
}

func (fakeCategories) Create(_ context.Context, act actor.Actor, p category.CreateParams) (*category.Category, error) {
	return &category.Category{ID: "c1", TenantID: act.TenantID, Name: p.Name, CategoryType: p.CategoryType}, nil
}

func (fakeCategories) Delete(context.Context, actor.Actor, string) ([]string, error) {
	return []string{"p1"}, nil
}

// signalFeed wraps a Manager and reports each subscription.
type signalFeed struct {
	*events.Manager
	subscribed chan string
}

func (f *signalFeed) Subscribe(ctx context.Context, tenantID string, since *int64) (*events.Subscription, error) {
	sub, err := f.Manager.Subscribe(ctx, tenantID, since)
	f.subscribed <- tenantID
	return sub, err
}

type harness struct {
	srv     *Server
	jwt     *auth.JWTManager
	pages   *fakePages
	blocks  *fakeBlocks
	content *fakeContent
	feed    *signalFeed
	token   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	hash, err := auth.HashKey("admin-key")
	require.NoError(t, err)
	cfg := &config.Config{
		ListenAddr:   ":0",
		AdminKeyHash: hash,
		MaxDocBytes:  config.DefaultMaxDocBytes,
	}

	h := &harness{
		jwt:     auth.NewJWTManager("test-secret", "primal-pages"),
		pages:   &fakePages{},
		blocks:  &fakeBlocks{},
		content: &fakeContent{},
		feed: &signalFeed{
			Manager:    events.NewManager(nil, zerolog.Nop()),
			subscribed: make(chan string, 1),
		},
	}
	t.Cleanup(h.feed.Shutdown)

	h.srv = New(cfg, zerolog.Nop(), Deps{
		Pages:      h.pages,
		Blocks:     h.blocks,
		Content:    h.content,
		Categories: fakeCategories{},
		Feed:       h.feed,
		JWT:        h.jwt,
	})

	pair, err := h.jwt.CreateTokenPair(alice)
	require.NoError(t, err)
	h.token = pair.AccessJwt
	return h
}

func (h *harness) do(method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Version, decode(t, rec)["version"])
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/pages/mine", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AuthRequired", decode(t, rec)["error"])

	rec = h.do(http.MethodGet, "/pages/mine", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "InvalidToken", decode(t, rec)["error"])
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	h := newHarness(t)
	pair, err := h.jwt.CreateTokenPair(alice)
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/pages/mine", "", pair.RefreshJwt)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/auth/refresh", "", pair.RefreshJwt)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["accessJwt"])
}

func TestIssueToken(t *testing.T) {
	h := newHarness(t)
	body := `{"actorId":"bob","tenantId":"acme"}`

	rec := h.do(http.MethodPost, "/auth/token", body, "wrong-key")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/auth/token", `{"actorId":"bob"}`, "admin-key")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/auth/token", body, "admin-key")
	require.Equal(t, http.StatusOK, rec.Code)
	access, _ := decode(t, rec)["accessJwt"].(string)
	require.NotEmpty(t, access)

	rec = h.do(http.MethodGet, "/pages/mine?categoryId=c9", "", access)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, actor.Actor{ID: "bob", TenantID: "acme"}, h.pages.gotActor)
	require.NotNil(t, h.pages.gotCat)
	assert.Equal(t, "c9", *h.pages.gotCat)
}

func TestCreatePage(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/pages", `{"title":"Notes"}`, h.token)
	require.Equal(t, http.StatusCreated, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "Notes", out["title"])
	assert.Equal(t, alice, h.pages.gotActor)

	rec = h.do(http.MethodPost, "/pages", `{"title":`, h.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePageNeedsAField(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPatch, "/pages/p1", `{}`, h.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPatch, "/pages/p1", `{"status":"deleted"}`, h.token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		errCode string
	}{
		{"validation", apperr.Validation("page cannot be its own parent"), http.StatusBadRequest, "InvalidRequest"},
		{"not found", apperr.NotFound("page", "p1"), http.StatusNotFound, "NotFound"},
		{"forbidden", apperr.Forbidden("not the author"), http.StatusForbidden, "Forbidden"},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, "InternalError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.pages.err = tt.err

			rec := h.do(http.MethodPost, "/pages/p1/move", `{"targetParentId":"p2"}`, h.token)
			assert.Equal(t, tt.status, rec.Code)
			out := decode(t, rec)
			assert.Equal(t, tt.errCode, out["error"])
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, out["message"], "connection reset")
			}
		})
	}
}

func TestRestoreCategoryRequired(t *testing.T) {
	h := newHarness(t)
	h.pages.err = apperr.ErrCategoryRequired

	rec := h.do(http.MethodPost, "/pages/trash/p1/restore", "", h.token)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CATEGORY_REQUIRED", decode(t, rec)["message"])
	assert.Nil(t, h.pages.restoreTo)

	h.pages.err = nil
	rec = h.do(http.MethodPost, "/pages/trash/p1/restore", `{"category_id":"c2"}`, h.token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, h.pages.restoreTo)
	assert.Equal(t, "c2", *h.pages.restoreTo)
}

func TestSaveContentVersionConflict(t *testing.T) {
	h := newHarness(t)
	h.content.saveErr = &apperr.VersionConflictError{Current: 3, Expected: 2}

	rec := h.do(http.MethodPost, "/pages/p1/content", `{"docJson":{"type":"doc","content":[]},"version":2}`, h.token)
	require.Equal(t, http.StatusConflict, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "VersionConflict", out["error"])
	assert.EqualValues(t, 3, out["currentVersion"])

	require.NotNil(t, h.content.saved)
	require.NotNil(t, h.content.saved.ExpectedVersion)
	assert.Equal(t, 2, *h.content.saved.ExpectedVersion)
}

func TestSaveContentStringDoc(t *testing.T) {
	h := newHarness(t)

	body := `{"docJson":"{\"type\":\"doc\",\"content\":[]}","pmSchemaVersion":2}`
	rec := h.do(http.MethodPost, "/pages/p1/content", body, h.token)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["ok"])
	assert.EqualValues(t, 1, out["version"])
	assert.Equal(t, `"bafkreitest"`, rec.Header().Get("ETag"))

	require.NotNil(t, h.content.saved)
	assert.JSONEq(t, `{"type":"doc","content":[]}`, string(h.content.saved.DocJSON))
	assert.Equal(t, 2, h.content.saved.PMSchemaVersion)
	assert.Nil(t, h.content.saved.ExpectedVersion)
}

func TestSaveContentTooLarge(t *testing.T) {
	h := newHarness(t)
	h.srv.cfg.MaxDocBytes = 64

	body := `{"docJson":{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"` +
		strings.Repeat("x", 200) + `"}]}]}}`
	rec := h.do(http.MethodPost, "/pages/p1/content", body, h.token)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, h.content.saved)
}

func TestGetContentETag(t *testing.T) {
	h := newHarness(t)
	h.content.doc = &content.Document{Version: 4, Title: "Notes", Status: page.StatusDraft, CID: "bafkreiabc"}

	rec := h.do(http.MethodGet, "/pages/p1/content", "", h.token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"bafkreiabc"`, rec.Header().Get("ETag"))
	assert.EqualValues(t, 4, decode(t, rec)["version"])

	req := httptest.NewRequest(http.MethodGet, "/pages/p1/content", nil)
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("If-None-Match", `"bafkreiabc"`)
	rec = httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestGetContentNotFound(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/pages/missing/content", "", h.token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateBlockFromNode(t *testing.T) {
	h := newHarness(t)

	body := `{"content":{"type":"page_link","attrs":{"pageId":"p2","display":"embed"}},"afterBlockId":"b0"}`
	rec := h.do(http.MethodPost, "/pages/p1/blocks", body, h.token)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, h.pages.gotWrite)

	p := h.blocks.created
	require.NotNil(t, p)
	assert.Equal(t, block.TypePageLink, p.BlockType)
	require.NotNil(t, p.RefPostID)
	assert.Equal(t, "p2", *p.RefPostID)
	assert.Equal(t, "b0", p.AfterBlockID)
	assert.Contains(t, string(p.Content), `"postId":"p1"`)
}

func TestBlockWithDanglingRefIsBadRequest(t *testing.T) {
	h := newHarness(t)
	h.blocks.pages = map[string]bool{"p2": true}

	body := `{"content":{"type":"page_link","attrs":{"pageId":"gone","display":"link"}}}`
	rec := h.do(http.MethodPost, "/pages/p1/blocks", body, h.token)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"InvalidRequest"`)
	assert.Contains(t, rec.Body.String(), "gone")
	assert.Nil(t, h.blocks.created)

	rec = h.do(http.MethodPatch, "/pages/p1/blocks/b1", `{"refPostId":"gone"}`, h.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, h.blocks.updated)

	rec = h.do(http.MethodPatch, "/pages/p1/blocks/b1", `{"refPostId":"p2"}`, h.token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBlocksRequireAccess(t *testing.T) {
	h := newHarness(t)
	h.pages.accessErr = apperr.Forbidden("not the author")

	rec := h.do(http.MethodPost, "/pages/p1/blocks", `{"blockType":"paragraph"}`, h.token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, h.blocks.created)

	h.pages.accessErr = nil
	rec = h.do(http.MethodGet, "/pages/p1/blocks", "", h.token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, h.pages.gotWrite)
}

func TestUpdateBlock(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPatch, "/pages/p1/blocks/b1", `{}`, h.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := `{"content":{"type":"paragraph","content":[{"type":"text","text":"hello"}]}}`
	rec = h.do(http.MethodPatch, "/pages/p1/blocks/b1", body, h.token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, h.blocks.updated)
	require.NotNil(t, h.blocks.updated.ContentText)
	assert.Equal(t, "hello", *h.blocks.updated.ContentText)
}

func TestDeleteCategory(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodDelete, "/categories/c1", "", h.token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"p1"}, decode(t, rec)["orphaned"])
}

func TestEventsCursorValidation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/pages/events?cursor=abc", "", h.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsFeed(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/pages/events?token=" + h.token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	select {
	case tenant := <-h.feed.subscribed:
		assert.Equal(t, "acme", tenant)
	case <-time.After(5 * time.Second):
		t.Fatal("feed never subscribed")
	}

	h.feed.Publish(
		events.Event{Seq: 1, Type: events.PageCreated, TenantID: "other", PostID: "x"},
		events.Event{Seq: 2, Type: events.ContentSaved, TenantID: "acme", PostID: "p1", Version: 1},
	)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	typ, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)

	evt, err := events.DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, int64(2), evt.Seq)
	assert.Equal(t, events.ContentSaved, evt.Type)
	assert.Equal(t, "p1", evt.PostID)
}
