package dao

import (
	"context"

	"github.com/StricklySoft/paragate/pkg/models"
)

// Scoped binds a DAO to one tenant identifier, typically the configured
// root app used for tenant records themselves. It is a convenience for
// single-tenant call sites, not an authorization boundary.
type Scoped struct {
	dao   DAO
	appid string
}

// Bind returns d bound to appid.
func Bind(d DAO, appid string) *Scoped {
	return &Scoped{dao: d, appid: appid}
}

// AppID returns the bound tenant identifier.
func (s *Scoped) AppID() string { return s.appid }

// DAO returns the underlying store.
func (s *Scoped) DAO() DAO { return s.dao }

func (s *Scoped) Create(ctx context.Context, obj models.Object) (string, error) {
	return s.dao.Create(ctx, s.appid, obj)
}

func (s *Scoped) Read(ctx context.Context, id string) (models.Object, bool, error) {
	return s.dao.Read(ctx, s.appid, id)
}

func (s *Scoped) Update(ctx context.Context, obj models.Object) error {
	return s.dao.Update(ctx, s.appid, obj)
}

func (s *Scoped) Delete(ctx context.Context, obj models.Object) error {
	return s.dao.Delete(ctx, s.appid, obj)
}

func (s *Scoped) CreateAll(ctx context.Context, objs []models.Object) error {
	return s.dao.CreateAll(ctx, s.appid, objs)
}

func (s *Scoped) ReadAll(ctx context.Context, ids []string) ([]models.Object, error) {
	return s.dao.ReadAll(ctx, s.appid, ids)
}

func (s *Scoped) UpdateAll(ctx context.Context, objs []models.Object) error {
	return s.dao.UpdateAll(ctx, s.appid, objs)
}

func (s *Scoped) DeleteAll(ctx context.Context, objs []models.Object) error {
	return s.dao.DeleteAll(ctx, s.appid, objs)
}

func (s *Scoped) ReadPage(ctx context.Context, pager *models.Pager) ([]models.Object, error) {
	return s.dao.ReadPage(ctx, s.appid, pager)
}
