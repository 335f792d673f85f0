package postgres

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)


func userRow(id string) []byte {
	return []byte(`{"id":"` + id + `","appid":"app1","type":"user","active":true}`)
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, queries) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	store, err := NewStore(context.Background(), NewFromPool(mock, &Config{Database: "testdb"}))
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return store, mock, newQueries(DefaultTable)
}

func expectationsMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestNewStore_AutoMigrate(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(newQueries("tenant_records").migrate).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	client := NewFromPool(mock, &Config{Table: "tenant_records", AutoMigrate: true})
	if _, err := NewStore(context.Background(), client); err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestStore_Create(t *testing.T) {
	store, mock, q := newMockStore(t)

	mock.ExpectExec(q.insert).
		WithArgs("app1", "u1", "user", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	u := models.NewUser("u1")
	u.AppID = "forged"
	id, err := store.Create(context.Background(), "app1", u)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if id != "u1" {
		t.Errorf("id = %q, want %q", id, "u1")
	}
	if u.AppID != "app1" {
		t.Errorf("AppID = %q, want tenant stamped", u.AppID)
	}
	expectationsMet(t, mock)
}

func TestStore_CreateBlankTenantTouchesNothing(t *testing.T) {
	store, mock, _ := newMockStore(t)

	_, err := store.Create(context.Background(), " ", models.NewUser("u1"))
	if !sserr.HasCode(err, sserr.CodeInvalidArgument) {
		t.Errorf("Create() error = %v, want %s", err, sserr.CodeInvalidArgument)
	}
	if err := store.CreateAll(context.Background(), "", []models.Object{models.NewUser("u1")}); !sserr.HasCode(err, sserr.CodeInvalidArgument) {
		t.Errorf("CreateAll() error = %v, want %s", err, sserr.CodeInvalidArgument)
	}
	expectationsMet(t, mock)
}

func TestStore_Read(t *testing.T) {
	store, mock, q := newMockStore(t)

	mock.ExpectQuery(q.selectOne).WithArgs("app1", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(userRow("u1")))
	mock.ExpectQuery(q.selectOne).WithArgs("app1", "nope").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))

	obj, ok, err := store.Read(context.Background(), "app1", "u1")
	if err != nil || !ok {
		t.Fatalf("Read() = %v, %v, %v", obj, ok, err)
	}
	if _, isUser := obj.(*models.User); !isUser {
		t.Errorf("Read() type = %T, want *models.User", obj)
	}

	obj, ok, err = store.Read(context.Background(), "app1", "nope")
	if err != nil || ok || obj != nil {
		t.Errorf("Read(missing) = %v, %v, %v; want nil, false, nil", obj, ok, err)
	}
	expectationsMet(t, mock)
}

func TestStore_ReadFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want sserr.Code
	}{
		{"network", errors.New("dial tcp: connection refused"), sserr.CodeStoreUnavailable},
		{"deadline", context.DeadlineExceeded, sserr.CodeStoreTimeout},
		{"server", &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}, sserr.CodeInternalDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock, q := newMockStore(t)
			mock.ExpectQuery(q.selectOne).WithArgs("app1", "u1").WillReturnError(tt.err)

			_, ok, err := store.Read(context.Background(), "app1", "u1")
			if ok {
				t.Error("Read() ok = true on failure")
			}
			if got := sserr.GetCode(err); got != tt.want {
				t.Errorf("Read() code = %s, want %s", got, tt.want)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestStore_Update(t *testing.T) {
	store, mock, q := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q.lockOne).WithArgs("app1", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(userRow("u1")))
	mock.ExpectExec(q.update).WithArgs("app1", "u1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	patch := models.NewUser("u1")
	patch.Email = "u1@example.com"
	if err := store.Update(context.Background(), "app1", patch); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if patch.Updated.IsZero() {
		t.Error("Update() did not stamp the update time")
	}
	expectationsMet(t, mock)
}

func TestStore_UpdateMissingIsNoOp(t *testing.T) {
	store, mock, q := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q.lockOne).WithArgs("app1", "ghost").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))
	mock.ExpectCommit()

	if err := store.Update(context.Background(), "app1", models.NewUser("ghost")); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	// Blank inputs never reach the database.
	if err := store.Update(context.Background(), "", models.NewUser("ghost")); err != nil {
		t.Errorf("Update(blank tenant) error: %v", err)
	}
	if err := store.Update(context.Background(), "app1", nil); err != nil {
		t.Errorf("Update(nil) error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	store, mock, q := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q.lockOne).WithArgs("app1", "u1").
		WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()

	err := store.Update(context.Background(), "app1", models.NewUser("u1"))
	if !sserr.HasCode(err, sserr.CodeInternalDatabase) {
		t.Errorf("Update() error = %v, want %s", err, sserr.CodeInternalDatabase)
	}
	expectationsMet(t, mock)
}

func TestStore_ReadAllKeepsInputOrder(t *testing.T) {
	store, mock, q := newMockStore(t)

	mock.ExpectQuery(q.selectIDs).WithArgs("app1", []string{"c", "missing", "a"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "data"}).
			AddRow("a", userRow("a")).
			AddRow("c", userRow("c")))

	got, err := store.ReadAll(context.Background(), "app1", []string{"c", "missing", "", "a"})
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(got) != 2 || got[0].GetID() != "c" || got[1].GetID() != "a" {
		t.Errorf("ReadAll() = %v, want [c a]", got)
	}
	expectationsMet(t, mock)
}

func TestStore_CreateAll(t *testing.T) {
	store, mock, q := newMockStore(t)

	mock.ExpectBegin()
	for _, id := range []string{"a", "b"} {
		mock.ExpectExec(q.insert).
			WithArgs("app1", id, "user", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	err := store.CreateAll(context.Background(), "app1", []models.Object{
		models.NewUser("a"), nil, models.NewUser("b"),
	})
	if err != nil {
		t.Fatalf("CreateAll() error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestStore_CreateAllSkipsUnencodableItem(t *testing.T) {
	store, mock, q := newMockStore(t)

	mock.ExpectBegin()
	for _, id := range []string{"a", "b"} {
		mock.ExpectExec(q.insert).
			WithArgs("app1", id, "user", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	err := store.CreateAll(context.Background(), "app1", []models.Object{
		models.NewUser("a"), models.NewRecord("note").Set("v", math.NaN()), models.NewUser("b"),
	})
	if !sserr.HasCode(err, sserr.CodeInvalidArgument) {
		t.Fatalf("CreateAll() error = %v, want %s for the middle item", err, sserr.CodeInvalidArgument)
	}
	expectationsMet(t, mock)
}

func TestStore_UpdateAllSkipsUnmergeableItem(t *testing.T) {
	store, mock, q := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q.lockOne).WithArgs("app1", "a").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(userRow("a")))
	mock.ExpectExec(q.update).WithArgs("app1", "a", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(q.lockOne).WithArgs("app1", "n1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"n1","appid":"app1","type":"note"}`)))
	mock.ExpectQuery(q.lockOne).WithArgs("app1", "b").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(userRow("b")))
	mock.ExpectExec(q.update).WithArgs("app1", "b", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	bad := models.NewRecord("note").Set("v", math.NaN())
	bad.SetID("n1")
	err := store.UpdateAll(context.Background(), "app1", []models.Object{
		models.NewUser("a"), bad, models.NewUser("b"),
	})
	if !sserr.HasCode(err, sserr.CodeInvalidArgument) {
		t.Fatalf("UpdateAll() error = %v, want %s for the middle item", err, sserr.CodeInvalidArgument)
	}
	expectationsMet(t, mock)
}

func TestStore_DeleteAll(t *testing.T) {
	store, mock, q := newMockStore(t)

	mock.ExpectExec(q.deleteIDs).WithArgs("app1", []string{"a", "b"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	err := store.DeleteAll(context.Background(), "app1", []models.Object{
		models.NewUser("a"), nil, models.NewUser("b"),
	})
	if err != nil {
		t.Fatalf("DeleteAll() error: %v", err)
	}
	// Nothing to delete means no statement.
	if err := store.DeleteAll(context.Background(), "app1", []models.Object{nil}); err != nil {
		t.Errorf("DeleteAll(nil items) error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestStore_ReadPage(t *testing.T) {
	store, mock, q := newMockStore(t)

	mock.ExpectQuery(q.count).WithArgs("app1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(q.page).WithArgs("app1", "", 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "data"}).
			AddRow("a", userRow("a")).
			AddRow("b", userRow("b")))
	mock.ExpectQuery(q.count).WithArgs("app1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(q.page).WithArgs("app1", "b", 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "data"}).AddRow("c", userRow("c")))

	pager := models.NewPager(2)
	page, err := store.ReadPage(context.Background(), "app1", pager)
	if err != nil {
		t.Fatalf("ReadPage() error: %v", err)
	}
	if len(page) != 2 || pager.LastKey != "b" || pager.Count != 3 {
		t.Errorf("first page = %d items, lastKey %q, count %d", len(page), pager.LastKey, pager.Count)
	}

	page, err = store.ReadPage(context.Background(), "app1", pager)
	if err != nil {
		t.Fatalf("ReadPage() error: %v", err)
	}
	if len(page) != 1 || page[0].GetID() != "c" || pager.LastKey != "c" {
		t.Errorf("second page = %v, lastKey %q", page, pager.LastKey)
	}
	expectationsMet(t, mock)
}

func TestStore_Health(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	if err := store.Health(context.Background()); err != nil {
		t.Errorf("Health() error: %v", err)
	}
	if err := store.Health(context.Background()); !sserr.HasCode(err, sserr.CodeStoreUnavailable) {
		t.Errorf("Health() error = %v, want %s", err, sserr.CodeStoreUnavailable)
	}
	expectationsMet(t, mock)
}
