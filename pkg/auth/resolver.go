package auth

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/StricklySoft/paragate/pkg/dao"
	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)

// TenantResolver looks up tenants and their users in the Tenant Store.
// Concurrent lookups of the same tenant share one store call.
type TenantResolver struct {
	store   dao.DAO
	tenants *dao.Scoped
	group   singleflight.Group
}

// NewTenantResolver reads tenant records from the rootApp keyspace of
// store.
func NewTenantResolver(store dao.DAO, rootApp string) *TenantResolver {
	return &TenantResolver{store: store, tenants: dao.Bind(store, rootApp)}
}

// RootApp returns the keyspace holding tenant records.
func (r *TenantResolver) RootApp() string { return r.tenants.AppID() }

type appLookup struct {
	app *models.App
	ok  bool
}

// ResolveApp returns the tenant named by appid. A blank appid or a missing
// record is (nil, false, nil). Store errors are returned as store failures.
//
// The shared lookup is detached from any single caller's cancellation;
// each caller still stops waiting when its own ctx is done. The returned
// App may be shared with concurrent callers and must not be modified.
func (r *TenantResolver) ResolveApp(ctx context.Context, appid string) (*models.App, bool, error) {
	appid = strings.TrimSpace(models.AppIdentifier(appid))
	if appid == "" {
		return nil, false, nil
	}

	ch := r.group.DoChan(appid, func() (any, error) {
		app, ok, err := dao.ReadAs[*models.App](context.WithoutCancel(ctx), r.tenants.DAO(), r.tenants.AppID(), models.AppKey(appid))
		return appLookup{app: app, ok: ok}, err
	})

	select {
	case <-ctx.Done():
		return nil, false, sserr.StoreFailure(ctx.Err(), "auth: tenant lookup abandoned")
	case res := <-ch:
		if res.Err != nil {
			return nil, false, sserr.StoreFailure(res.Err, "auth: tenant lookup failed")
		}
		found := res.Val.(appLookup)
		return found.app, found.ok, nil
	}
}

// ResolveUser returns user id from the keyspace of appid.
func (r *TenantResolver) ResolveUser(ctx context.Context, appid, id string) (*models.User, bool, error) {
	if strings.TrimSpace(appid) == "" || strings.TrimSpace(id) == "" {
		return nil, false, nil
	}
	user, ok, err := dao.ReadAs[*models.User](ctx, r.store, appid, id)
	if err != nil {
		return nil, false, sserr.StoreFailure(err, "auth: user lookup failed")
	}
	return user, ok, nil
}
