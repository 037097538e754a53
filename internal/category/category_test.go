package category

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primal-host/primal-pages/internal/actor"
	"github.com/primal-host/primal-pages/internal/apperr"
	"github.com/primal-host/primal-pages/internal/database/dbtest"
)

func TestAuthorize(t *testing.T) {
	owner := "alice"
	act := actor.Actor{ID: "alice", TenantID: "t1"}

	tests := []struct {
		name string
		cat  Category
		err  error
	}{
		{"shared same tenant", Category{ID: "c", TenantID: "t1"}, nil},
		{"own personal", Category{ID: "c", TenantID: "t1", OwnerID: &owner}, nil},
		{"other tenant", Category{ID: "c", TenantID: "t2"}, apperr.ErrForbidden},
		{"other owner", Category{ID: "c", TenantID: "t1", OwnerID: ptr("bob")}, apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(act, &tt.cat)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func ptr(s string) *string { return &s }

func TestStoreLifecycle(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	store := NewStore(db)
	tenant := dbtest.Tenant()
	alice := actor.Actor{ID: "alice", TenantID: tenant}
	bob := actor.Actor{ID: "bob", TenantID: tenant}

	shared, err := store.Create(ctx, alice, CreateParams{Name: "Team", CategoryType: TypeShared})
	require.NoError(t, err)
	assert.Nil(t, shared.OwnerID)

	mine, err := store.Create(ctx, alice, CreateParams{Name: "Notes"})
	require.NoError(t, err)
	require.NotNil(t, mine.OwnerID)
	assert.Equal(t, "alice", *mine.OwnerID)

	_, err = store.Create(ctx, alice, CreateParams{Name: "x", CategoryType: "global"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	list, err := store.List(ctx, bob)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, shared.ID, list[0].ID)

	_, err = CheckAccess(ctx, db.Pool, bob, mine.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = CheckAccess(ctx, db.Pool, bob, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	pageID := dbtest.InsertPage(t, db, tenant, "alice", nil)
	_, err = db.Pool.Exec(ctx, `UPDATE posts SET category_id = $1 WHERE id = $2`, mine.ID, pageID)
	require.NoError(t, err)

	_, err = store.Delete(ctx, bob, mine.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	affected, err := store.Delete(ctx, alice, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{pageID}, affected)

	var lost bool
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT category_id IS NULL AND (metadata->>'category_lost')::boolean FROM posts WHERE id = $1`, pageID,
	).Scan(&lost))
	assert.True(t, lost)
}
