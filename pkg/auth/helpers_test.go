package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/paragate/internal/testutil/fixtures"
	"github.com/StricklySoft/paragate/pkg/dao"
	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)

// ---------------------------------------------------------------------------
// Test store helpers
// ---------------------------------------------------------------------------

func fixedClock() time.Time { return fixtures.Now }

// seedApp stores an active tenant with secret and returns the stored copy.
func seedApp(t *testing.T, store dao.DAO, appid, secret string, mutate ...func(*models.App)) *models.App {
	t.Helper()
	app, err := models.NewApp(appid)
	require.NoError(t, err)
	app.Secret = models.Secret(secret)
	for _, m := range mutate {
		m(app)
	}
	_, err = store.Create(context.Background(), fixtures.RootApp, app)
	require.NoError(t, err)
	return app
}

func seedUser(t *testing.T, store dao.DAO, appid, id string, active bool) *models.User {
	t.Helper()
	user := models.NewUser(id)
	user.Email = fixtures.UserEmail
	user.Active = active
	_, err := store.Create(context.Background(), appid, user)
	require.NoError(t, err)
	return user
}

// newSeededStore returns a memory store holding app1, app2 and the default
// users of app1.
func newSeededStore(t *testing.T) *dao.Memory {
	t.Helper()
	store := dao.NewMemory(dao.WithClock(fixedClock))
	seedApp(t, store, fixtures.AppID, fixtures.AppSecret, func(a *models.App) {
		a.Grant(fixtures.UserID, "items/*", "GET")
	})
	seedApp(t, store, fixtures.AltAppID, fixtures.AltAppSecret)
	seedUser(t, store, fixtures.AppID, fixtures.UserID, true)
	seedUser(t, store, fixtures.AppID, fixtures.InactiveUserID, false)
	return store
}

// failingStore fails every read with err.
type failingStore struct {
	dao.DAO
	err   error
	reads atomic.Int32
}

func newFailingStore() *failingStore {
	return &failingStore{
		DAO: dao.NewMemory(),
		err: sserr.StoreFailure(errors.New("dial tcp 10.0.0.1:6379: connection refused"), "redis: read failed"),
	}
}

func (s *failingStore) Read(context.Context, string, string) (models.Object, bool, error) {
	s.reads.Add(1)
	return nil, false, s.err
}

// blockingStore blocks every read until release is closed.
type blockingStore struct {
	dao.DAO
	release chan struct{}
}

func newBlockingStore(t *testing.T) *blockingStore {
	s := &blockingStore{DAO: dao.NewMemory(), release: make(chan struct{})}
	t.Cleanup(func() { close(s.release) })
	return s
}

func (s *blockingStore) Read(ctx context.Context, appid, id string) (models.Object, bool, error) {
	<-s.release
	return s.DAO.Read(ctx, appid, id)
}

// splitStore reads tenant records from DAO and everything else from users.
type splitStore struct {
	dao.DAO
	users dao.DAO
}

func (s *splitStore) Read(ctx context.Context, appid, id string) (models.Object, bool, error) {
	if appid == fixtures.RootApp {
		return s.DAO.Read(ctx, appid, id)
	}
	return s.users.Read(ctx, appid, id)
}
