package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/StricklySoft/paragate/pkg/dao"
	"github.com/StricklySoft/paragate/pkg/models"
)

// Store implements [dao.DAO] on PostgreSQL. Every tenant shares one table;
// the (appid, id) primary key keeps keyspaces disjoint, and row locks
// serialize concurrent updates of the same record.
//
// Identifiers are compared with the "C" collation so that paging follows
// byte order on every backend.
type Store struct {
	client *Client
	opts   dao.Options
	q      queries
}

// Compile-time assertions.
var (
	_ dao.DAO           = (*Store)(nil)
	_ dao.HealthChecker = (*Store)(nil)
)

type queries struct {
	migrate   string
	insert    string
	selectOne string
	lockOne   string
	update    string
	deleteIDs string
	selectIDs string
	count     string
	page      string
}

func newQueries(table string) queries {
	return queries{
		migrate: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	appid   TEXT        NOT NULL,
	id      TEXT        NOT NULL,
	type    TEXT        NOT NULL,
	created TIMESTAMPTZ NOT NULL,
	updated TIMESTAMPTZ,
	data    JSONB       NOT NULL,
	PRIMARY KEY (appid, id)
)`, table),
		insert: fmt.Sprintf(`INSERT INTO %s (appid, id, type, created, data) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (appid, id) DO UPDATE SET type = EXCLUDED.type, created = EXCLUDED.created, updated = NULL, data = EXCLUDED.data`, table),
		selectOne: fmt.Sprintf(`SELECT data FROM %s WHERE appid = $1 AND id = $2`, table),
		lockOne:   fmt.Sprintf(`SELECT data FROM %s WHERE appid = $1 AND id = $2 FOR UPDATE`, table),
		update:    fmt.Sprintf(`UPDATE %s SET data = $3, updated = $4 WHERE appid = $1 AND id = $2`, table),
		deleteIDs: fmt.Sprintf(`DELETE FROM %s WHERE appid = $1 AND id = ANY($2)`, table),
		selectIDs: fmt.Sprintf(`SELECT id, data FROM %s WHERE appid = $1 AND id = ANY($2)`, table),
		count:     fmt.Sprintf(`SELECT count(*) FROM %s WHERE appid = $1`, table),
		page:      fmt.Sprintf(`SELECT id, data FROM %s WHERE appid = $1 AND id COLLATE "C" > $2 ORDER BY id COLLATE "C" LIMIT $3`, table),
	}
}

// NewStore returns a Tenant Store backed by client. When the client config
// enables AutoMigrate the table is created first.
func NewStore(ctx context.Context, client *Client, opts ...dao.Option) (*Store, error) {
	s := &Store{
		client: client,
		opts:   dao.NewOptions(opts...),
		q:      newQueries(client.Table()),
	}
	if client.config.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates the records table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.client.Exec(ctx, s.q.migrate)
	return err
}

// Create implements [dao.DAO]. Creating an existing identifier replaces the
// record.
func (s *Store) Create(ctx context.Context, appid string, obj models.Object) (string, error) {
	data, err := s.opts.PrepareCreate(appid, obj)
	if err != nil {
		return "", err
	}
	if _, err := s.client.Exec(ctx, s.q.insert,
		appid, obj.GetID(), obj.GetType(), obj.GetTimestamp(), data); err != nil {
		return "", err
	}
	return obj.GetID(), nil
}

// Read implements [dao.DAO].
func (s *Store) Read(ctx context.Context, appid, id string) (models.Object, bool, error) {
	if dao.BlankTenant(appid) || strings.TrimSpace(id) == "" {
		return nil, false, nil
	}
	var data []byte
	err := s.client.QueryRow(ctx, s.q.selectOne, appid, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapError(err, "postgres: read failed")
	}
	obj, err := s.opts.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// Update implements [dao.DAO]. The stored row is locked with FOR UPDATE for
// the duration of the merge.
func (s *Store) Update(ctx context.Context, appid string, obj models.Object) error {
	if dao.BlankTenant(appid) || dao.Skippable(obj) {
		return nil
	}
	tx, err := s.client.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.updateTx(ctx, tx, appid, obj); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapError(err, "postgres: commit failed")
	}
	return nil
}

func (s *Store) updateTx(ctx context.Context, tx pgx.Tx, appid string, obj models.Object) error {
	var stored []byte
	err := tx.QueryRow(ctx, s.q.lockOne, appid, obj.GetID()).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return wrapError(err, "postgres: lock failed")
	}
	merged, err := s.opts.PrepareUpdate(stored, obj)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, s.q.update, appid, obj.GetID(), merged, obj.GetUpdated()); err != nil {
		return wrapError(err, "postgres: update failed")
	}
	return nil
}

// Delete implements [dao.DAO].
func (s *Store) Delete(ctx context.Context, appid string, obj models.Object) error {
	if dao.BlankTenant(appid) || dao.Skippable(obj) {
		return nil
	}
	_, err := s.client.Exec(ctx, s.q.deleteIDs, appid, []string{obj.GetID()})
	return err
}

// CreateAll implements [dao.DAO]. The valid items are inserted in one
// transaction; nil items are skipped and items that cannot be encoded are
// reported without stopping the rest.
func (s *Store) CreateAll(ctx context.Context, appid string, objs []models.Object) error {
	if dao.BlankTenant(appid) {
		return dao.ErrBlankTenant()
	}
	type row struct {
		obj  models.Object
		data []byte
	}
	var failed dao.BatchErrors
	rows := make([]row, 0, len(objs))
	for i, obj := range objs {
		if obj == nil {
			continue
		}
		data, err := s.opts.PrepareCreate(appid, obj)
		if err != nil {
			if err := failed.Add(i, err); err != nil {
				return err
			}
			continue
		}
		rows = append(rows, row{obj: obj, data: data})
	}
	if len(rows) == 0 {
		return failed.Err()
	}

	tx, err := s.client.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range rows {
		if _, err := tx.Exec(ctx, s.q.insert,
			appid, r.obj.GetID(), r.obj.GetType(), r.obj.GetTimestamp(), r.data); err != nil {
			return wrapError(err, "postgres: batch insert failed")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapError(err, "postgres: commit failed")
	}
	return failed.Err()
}

// ReadAll implements [dao.DAO] with a single ANY($2) query. Results follow
// the order of ids.
func (s *Store) ReadAll(ctx context.Context, appid string, ids []string) ([]models.Object, error) {
	if dao.BlankTenant(appid) {
		return nil, dao.ErrBlankTenant()
	}
	want := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			want = append(want, id)
		}
	}
	out := make([]models.Object, 0, len(want))
	if len(want) == 0 {
		return out, nil
	}

	found, _, err := s.scan(ctx, s.q.selectIDs, appid, want)
	if err != nil {
		return nil, err
	}
	for _, id := range want {
		if obj, ok := found[id]; ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

// scan runs a query returning (id, data) rows and decodes each record.
func (s *Store) scan(ctx context.Context, sql string, args ...any) (map[string]models.Object, []string, error) {
	rows, err := s.client.Query(ctx, sql, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	found := make(map[string]models.Object)
	var order []string
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, nil, wrapError(err, "postgres: scan failed")
		}
		obj, err := s.opts.Decode(data)
		if err != nil {
			return nil, nil, err
		}
		found[id] = obj
		order = append(order, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapError(err, "postgres: row iteration failed")
	}
	return found, order, nil
}

// UpdateAll implements [dao.DAO]. All merges share one transaction. A
// patch that cannot be merged is reported and the others still commit.
func (s *Store) UpdateAll(ctx context.Context, appid string, objs []models.Object) error {
	if dao.BlankTenant(appid) {
		return dao.ErrBlankTenant()
	}
	tx, err := s.client.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var failed dao.BatchErrors
	for i, obj := range objs {
		if dao.Skippable(obj) {
			continue
		}
		if err := s.updateTx(ctx, tx, appid, obj); err != nil {
			if err := failed.Add(i, err); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapError(err, "postgres: commit failed")
	}
	return failed.Err()
}

// DeleteAll implements [dao.DAO].
func (s *Store) DeleteAll(ctx context.Context, appid string, objs []models.Object) error {
	if dao.BlankTenant(appid) {
		return dao.ErrBlankTenant()
	}
	ids := make([]string, 0, len(objs))
	for _, obj := range objs {
		if !dao.Skippable(obj) {
			ids = append(ids, obj.GetID())
		}
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := s.client.Exec(ctx, s.q.deleteIDs, appid, ids)
	return err
}

// ReadPage implements [dao.DAO] with keyset pagination on id.
func (s *Store) ReadPage(ctx context.Context, appid string, pager *models.Pager) ([]models.Object, error) {
	if dao.BlankTenant(appid) {
		return nil, dao.ErrBlankTenant()
	}
	if pager == nil {
		pager = &models.Pager{}
	}

	var count int64
	if err := s.client.QueryRow(ctx, s.q.count, appid).Scan(&count); err != nil {
		return nil, wrapError(err, "postgres: count failed")
	}
	found, order, err := s.scan(ctx, s.q.page, appid, pager.LastKey, pager.PageSize())
	if err != nil {
		return nil, err
	}

	pager.Count = count
	out := make([]models.Object, 0, len(order))
	for _, id := range order {
		out = append(out, found[id])
	}
	if len(order) > 0 {
		pager.LastKey = order[len(order)-1]
	}
	return out, nil
}

// Health implements [dao.HealthChecker].
func (s *Store) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}
