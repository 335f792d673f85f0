package redis

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/paragate/internal/testutil/daotest"
	"github.com/StricklySoft/paragate/pkg/dao"
	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)

func newMiniStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(NewFromClient(rdb, nil)), mr
}

func TestStore_CreateReadLayout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newMiniStore(t)

	u := models.NewUser("u1")
	u.AppID = "elsewhere"
	id, err := store.Create(ctx, "app1", u)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	assert.True(t, mr.Exists("para:app1:obj:u1"))
	members, err := mr.ZMembers("para:app1:ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)

	got, ok, err := dao.ReadAs[*models.User](ctx, store, "app1", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "app1", got.AppID)
	assert.False(t, got.Timestamp.IsZero())

	_, ok, err = store.Read(ctx, "elsewhere", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_CreateGeneratesID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newMiniStore(t)

	id, err := store.Create(ctx, "app1", models.NewRecord("note").Set("body", "hi"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	obj, ok, err := store.Read(ctx, "app1", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "note", obj.GetType())
}

func TestStore_UpdateMergesAndLocks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newMiniStore(t)

	app, err := models.NewApp("app1")
	require.NoError(t, err)
	_, err = store.Create(ctx, "para", app)
	require.NoError(t, err)

	patch := &models.App{Meta: models.Meta{ID: app.ID}, Secret: "hijack", Active: false}
	require.NoError(t, store.Update(ctx, "para", patch))

	got, ok, err := dao.ReadAs[*models.App](ctx, store, "para", app.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, app.Secret.Value(), got.Secret.Value())
	assert.False(t, got.Active)
	assert.False(t, got.Updated.IsZero())

	// Missing records are not created by update.
	require.NoError(t, store.Update(ctx, "para", &models.App{Meta: models.Meta{ID: "app:ghost"}}))
	_, ok, err = store.Read(ctx, "para", "app:ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteRemovesIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newMiniStore(t)

	require.NoError(t, store.CreateAll(ctx, "app1", []models.Object{
		models.NewUser("a"), nil, models.NewUser("b"),
	}))
	require.NoError(t, store.Delete(ctx, "app1", models.NewUser("a")))
	require.NoError(t, store.Delete(ctx, "app1", models.NewUser("a")))

	assert.False(t, mr.Exists("para:app1:obj:a"))
	members, err := mr.ZMembers("para:app1:ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)

	require.NoError(t, store.DeleteAll(ctx, "app1", []models.Object{nil, models.NewUser("b")}))
	members, _ = mr.ZMembers("para:app1:ids")
	assert.Empty(t, members)
}

func TestStore_BatchSemantics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newMiniStore(t)

	objs := []models.Object{models.NewUser("a")}
	assert.True(t, sserr.HasCode(store.CreateAll(ctx, "", objs), sserr.CodeInvalidArgument))
	assert.True(t, sserr.HasCode(store.UpdateAll(ctx, " ", objs), sserr.CodeInvalidArgument))
	assert.True(t, sserr.HasCode(store.DeleteAll(ctx, "", objs), sserr.CodeInvalidArgument))
	_, err := store.ReadAll(ctx, "", []string{"a"})
	assert.True(t, sserr.HasCode(err, sserr.CodeInvalidArgument))

	require.NoError(t, store.CreateAll(ctx, "app1", []models.Object{
		models.NewUser("a"), models.NewUser("b"), models.NewUser("c"),
	}))
	got, err := store.ReadAll(ctx, "app1", []string{"c", "zz", "", "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].GetID())
	assert.Equal(t, "a", got[1].GetID())

	patch := models.NewUser("b")
	patch.Email = "b@example.com"
	require.NoError(t, store.UpdateAll(ctx, "app1", []models.Object{nil, patch}))
	b, _, err := dao.ReadAs[*models.User](ctx, store, "app1", "b")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", b.Email)
}

func TestStore_TenantSegmentIsEscaped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newMiniStore(t)

	_, err := store.Create(ctx, "t:obj:x", models.NewUser("doc"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("para:t%3Aobj%3Ax:obj:doc"))
	assert.False(t, mr.Exists("para:t:obj:x:obj:doc"))

	_, ok, err := store.Read(ctx, "t", "x:obj:doc")
	require.NoError(t, err)
	assert.False(t, ok, "tenant t must not read t:obj:x's record")

	// An id shaped like another tenant's index key stays a plain record.
	_, err = store.Create(ctx, "t", models.NewUser("x:ids"))
	require.NoError(t, err)
	members, err := mr.ZMembers("para:t%3Aobj%3Ax:ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc"}, members)

	require.NoError(t, store.Delete(ctx, "t", models.NewUser("x:obj:doc")))
	_, ok, err = store.Read(ctx, "t:obj:x", "doc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_CreateAllWritesAroundBadItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newMiniStore(t)

	err := store.CreateAll(ctx, "app1", []models.Object{
		models.NewUser("a"), models.NewRecord("note").Set("v", math.NaN()), models.NewUser("b"),
	})
	assert.True(t, sserr.HasCode(err, sserr.CodeInvalidArgument), "CreateAll() error = %v", err)
	assert.True(t, mr.Exists("para:app1:obj:a"))
	assert.True(t, mr.Exists("para:app1:obj:b"))
	members, err := mr.ZMembers("para:app1:ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)
}

func TestStore_ReadPage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newMiniStore(t)

	for i := 9; i >= 0; i-- {
		_, err := store.Create(ctx, "app1", models.NewUser(fmt.Sprintf("u%02d", i)))
		require.NoError(t, err)
	}

	pager := models.NewPager(4)
	var pages [][]string
	for {
		page, err := store.ReadPage(ctx, "app1", pager)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		ids := make([]string, len(page))
		for i, obj := range page {
			ids[i] = obj.GetID()
		}
		pages = append(pages, ids)
	}
	assert.Equal(t, [][]string{
		{"u00", "u01", "u02", "u03"},
		{"u04", "u05", "u06", "u07"},
		{"u08", "u09"},
	}, pages)
	assert.Equal(t, int64(10), pager.Count)

	empty, err := store.ReadPage(ctx, "nobody", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_BackendFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newMiniStore(t)

	mr.SetError("ERR simulated outage")
	_, _, err := store.Read(ctx, "app1", "u1")
	assert.True(t, sserr.IsStoreFailure(err), "got %v", err)
	_, err = store.Create(ctx, "app1", models.NewUser("u1"))
	assert.True(t, sserr.IsStoreFailure(err), "got %v", err)
	assert.True(t, sserr.IsStoreFailure(store.Health(ctx)))

	mr.SetError("")
	assert.NoError(t, store.Health(ctx))
}

func TestStore_ConcurrentUpdatesSameKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newMiniStore(t)

	counter := models.NewRecord("counter").Set("n", 0)
	counter.ID = "c"
	_, err := store.Create(ctx, "app1", counter)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := &models.Record{Meta: models.Meta{ID: "c"}}
			rec.Set(fmt.Sprintf("k%d", i), i)
			err := store.Update(ctx, "app1", rec)
			if err != nil && !sserr.HasCode(err, sserr.CodeConflict) {
				t.Errorf("update: %v", err)
			}
		}(i)
	}
	wg.Wait()
}

func TestStore_Contract(t *testing.T) {
	store, _ := newMiniStore(t)
	daotest.Run(t, store)
}
