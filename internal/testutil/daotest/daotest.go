// Package daotest holds the Tenant Store contract checks shared by every
// backend. Each backend's tests call [Run] with a store bound to a fresh
// namespace, so the same expectations hold for memory, Redis, PostgreSQL
// and MinIO.
package daotest

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/paragate/internal/testutil"
	"github.com/StricklySoft/paragate/pkg/dao"
	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)

// Run exercises the contract against store. Every run uses fresh tenant
// identifiers so that runs sharing a backend do not collide.
func Run(t *testing.T, store dao.DAO) {
	t.Helper()
	run := uuid.NewString()[:8]
	ns := func(_ *testing.T, suffix string) string {
		return fmt.Sprintf("t%s-%s", run, suffix)
	}

	t.Run("CreateStampsTenant", func(t *testing.T) {
		ctx := context.Background()
		appid := ns(t, "stamp")
		u := models.NewUser("u1")
		u.AppID = "forged"

		id, err := store.Create(ctx, appid, u)
		require.NoError(t, err)
		assert.Equal(t, "u1", id)

		got, ok, err := dao.ReadAs[*models.User](ctx, store, appid, "u1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, appid, got.AppID)
		assert.False(t, got.Timestamp.IsZero())

		_, ok, err = store.Read(ctx, "forged", "u1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("CreateRejectsInvalidArguments", func(t *testing.T) {
		ctx := context.Background()
		_, err := store.Create(ctx, "", models.NewUser("u1"))
		testutil.AssertErrorCode(t, err, sserr.CodeInvalidArgument)
		_, err = store.Create(ctx, ns(t, "nil"), nil)
		testutil.AssertErrorCode(t, err, sserr.CodeInvalidArgument)
	})

	t.Run("ReadMissing", func(t *testing.T) {
		obj, ok, err := store.Read(context.Background(), ns(t, "missing"), "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, obj)
	})

	t.Run("UpdateKeepsLockedFields", func(t *testing.T) {
		ctx := context.Background()
		appid := ns(t, "locked")
		app, err := models.NewApp("tenant")
		require.NoError(t, err)
		_, err = store.Create(ctx, appid, app)
		require.NoError(t, err)

		patch := &models.App{
			Meta:     models.Meta{ID: app.ID, AppID: "other"},
			Secret:   "replaced",
			Active:   true,
			ReadOnly: true,
		}
		require.NoError(t, store.Update(ctx, appid, patch))

		got, ok, err := dao.ReadAs[*models.App](ctx, store, appid, app.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, app.Secret.Value(), got.Secret.Value())
		assert.Equal(t, appid, got.AppID)
		assert.True(t, got.ReadOnly)
	})

	t.Run("AppPatchKeepsUnsetFlags", func(t *testing.T) {
		ctx := context.Background()
		appid := ns(t, "apppatch")
		app, err := models.NewApp("tenant")
		require.NoError(t, err)
		_, err = store.Create(ctx, appid, app)
		require.NoError(t, err)

		require.NoError(t, store.Update(ctx, appid, models.NewAppPatch("tenant").SetReadOnly(true)))

		got, ok, err := dao.ReadAs[*models.App](ctx, store, appid, app.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.Active)
		assert.True(t, got.ReadOnly)
		assert.Equal(t, app.Secret.Value(), got.Secret.Value())
	})

	t.Run("UpdateAndDeleteMissingAreNoOps", func(t *testing.T) {
		ctx := context.Background()
		appid := ns(t, "noop")
		assert.NoError(t, store.Update(ctx, appid, models.NewUser("ghost")))
		assert.NoError(t, store.Delete(ctx, appid, models.NewUser("ghost")))
		assert.NoError(t, store.Update(ctx, "", models.NewUser("ghost")))
		assert.NoError(t, store.Delete(ctx, appid, nil))

		_, ok, err := store.Read(ctx, appid, "ghost")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("BatchRejectsBlankTenant", func(t *testing.T) {
		ctx := context.Background()
		objs := []models.Object{models.NewUser("u1")}
		testutil.AssertErrorCode(t, store.CreateAll(ctx, "", objs), sserr.CodeInvalidArgument)
		testutil.AssertErrorCode(t, store.UpdateAll(ctx, "", objs), sserr.CodeInvalidArgument)
		testutil.AssertErrorCode(t, store.DeleteAll(ctx, "", objs), sserr.CodeInvalidArgument)
		_, err := store.ReadAll(ctx, "", []string{"u1"})
		testutil.AssertErrorCode(t, err, sserr.CodeInvalidArgument)
		assert.Empty(t, objs[0].GetAppID())
	})

	t.Run("BatchRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		appid := ns(t, "batch")
		require.NoError(t, store.CreateAll(ctx, appid, []models.Object{
			models.NewUser("a"), nil, models.NewUser("b"), models.NewUser("c"),
		}))

		got, err := store.ReadAll(ctx, appid, []string{"c", "missing", "a"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "c", got[0].GetID())
		assert.Equal(t, "a", got[1].GetID())

		require.NoError(t, store.DeleteAll(ctx, appid, []models.Object{models.NewUser("a"), nil}))
		got, err = store.ReadAll(ctx, appid, []string{"a", "b"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "b", got[0].GetID())
	})

	t.Run("BatchSkipsMalformedItems", func(t *testing.T) {
		ctx := context.Background()
		appid := ns(t, "malformed")

		err := store.CreateAll(ctx, appid, []models.Object{
			models.NewUser("a"), models.NewRecord("note").Set("v", math.NaN()), models.NewUser("b"),
		})
		testutil.RequireErrorCode(t, err, sserr.CodeInvalidArgument)
		got, err := store.ReadAll(ctx, appid, []string{"a", "b"})
		require.NoError(t, err)
		assert.Len(t, got, 2, "items around the malformed one must still be created")

		note := models.NewRecord("note").Set("v", 1.0)
		note.SetID("n1")
		_, err = store.Create(ctx, appid, note)
		require.NoError(t, err)

		bad := models.NewRecord("note").Set("v", math.NaN())
		bad.SetID("n1")
		a, b := models.NewUser("a"), models.NewUser("b")
		a.Email, b.Email = "a@example.com", "b@example.com"
		err = store.UpdateAll(ctx, appid, []models.Object{a, bad, b})
		testutil.RequireErrorCode(t, err, sserr.CodeInvalidArgument)

		for _, id := range []string{"a", "b"} {
			u, ok, err := dao.ReadAs[*models.User](ctx, store, appid, id)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, id+"@example.com", u.Email)
		}
		stored, ok, err := dao.ReadAs[*models.Record](ctx, store, appid, "n1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 1.0, stored.Properties["v"])
	})

	t.Run("TenantsWithSeparatorsStayIsolated", func(t *testing.T) {
		ctx := context.Background()
		base := ns(t, "sep")
		for _, tenant := range []string{base + ":obj:x", base + "/x", base + "%3Aobj%3Ax"} {
			_, err := store.Create(ctx, tenant, models.NewUser("doc"))
			require.NoError(t, err)
		}

		for _, id := range []string{"x:obj:doc", "x/doc", "doc"} {
			_, ok, err := store.Read(ctx, base, id)
			require.NoError(t, err)
			assert.False(t, ok, "tenant %q must not see %q from a neighbour", base, id)
		}
		page, err := store.ReadPage(ctx, base, nil)
		require.NoError(t, err)
		assert.Empty(t, page)

		got, ok, err := store.Read(ctx, base+":obj:x", "doc")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, base+":obj:x", got.GetAppID())
	})

	t.Run("ReadPageOrdersByID", func(t *testing.T) {
		ctx := context.Background()
		appid := ns(t, "page")
		for _, id := range []string{"k3", "k1", "k5", "k2", "k4"} {
			_, err := store.Create(ctx, appid, models.NewUser(id))
			require.NoError(t, err)
		}

		pager := models.NewPager(2)
		var seen []string
		for range 10 {
			page, err := store.ReadPage(ctx, appid, pager)
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			for _, obj := range page {
				seen = append(seen, obj.GetID())
			}
		}
		assert.Equal(t, []string{"k1", "k2", "k3", "k4", "k5"}, seen)
		assert.Equal(t, int64(5), pager.Count)
	})
}
