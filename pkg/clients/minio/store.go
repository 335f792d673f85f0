package minio

import (
	"bytes"
	"context"
	"hash/fnv"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/StricklySoft/paragate/pkg/dao"
	"github.com/StricklySoft/paragate/pkg/models"
)

const (
	objectSuffix = ".json"
	lockStripes  = 64
)

// Store implements [dao.DAO] on object storage. The tenant identifier is
// path-escaped into the first key segment, so keyspaces never overlap.
//
// Object storage has no server-side merge, so updates of the same record
// are serialized in process with striped locks. Writers in different
// processes race with last-writer-wins.
type Store struct {
	client      *Client
	opts        dao.Options
	concurrency int
	locks       [lockStripes]sync.Mutex
}

// Compile-time assertions.
var (
	_ dao.DAO           = (*Store)(nil)
	_ dao.HealthChecker = (*Store)(nil)
)

// NewStore returns a Tenant Store backed by client.
func NewStore(client *Client, opts ...dao.Option) *Store {
	n := client.config.Concurrency
	if n < 1 {
		n = DefaultFetchConcurrency
	}
	return &Store{
		client:      client,
		opts:        dao.NewOptions(opts...),
		concurrency: n,
	}
}

func tenantPrefix(appid string) string {
	return url.PathEscape(appid) + "/"
}

func objectKey(appid, id string) string {
	return tenantPrefix(appid) + id + objectSuffix
}

func (s *Store) lock(appid, id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(appid))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *Store) put(ctx context.Context, appid, id string, data []byte) error {
	return s.client.PutObject(ctx, objectKey(appid, id), bytes.NewReader(data), int64(len(data)))
}

// Create implements [dao.DAO]. Creating an existing identifier replaces the
// record.
func (s *Store) Create(ctx context.Context, appid string, obj models.Object) (string, error) {
	data, err := s.opts.PrepareCreate(appid, obj)
	if err != nil {
		return "", err
	}
	if err := s.put(ctx, appid, obj.GetID(), data); err != nil {
		return "", err
	}
	return obj.GetID(), nil
}

// Read implements [dao.DAO].
func (s *Store) Read(ctx context.Context, appid, id string) (models.Object, bool, error) {
	if dao.BlankTenant(appid) || strings.TrimSpace(id) == "" {
		return nil, false, nil
	}
	data, ok, err := s.client.ReadObject(ctx, objectKey(appid, id))
	if err != nil || !ok {
		return nil, false, err
	}
	obj, err := s.opts.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// Update implements [dao.DAO].
func (s *Store) Update(ctx context.Context, appid string, obj models.Object) error {
	if dao.BlankTenant(appid) || dao.Skippable(obj) {
		return nil
	}
	mu := s.lock(appid, obj.GetID())
	mu.Lock()
	defer mu.Unlock()

	stored, ok, err := s.client.ReadObject(ctx, objectKey(appid, obj.GetID()))
	if err != nil || !ok {
		return err
	}
	merged, err := s.opts.PrepareUpdate(stored, obj)
	if err != nil {
		return err
	}
	return s.put(ctx, appid, obj.GetID(), merged)
}

// Delete implements [dao.DAO].
func (s *Store) Delete(ctx context.Context, appid string, obj models.Object) error {
	if dao.BlankTenant(appid) || dao.Skippable(obj) {
		return nil
	}
	return s.client.RemoveObject(ctx, objectKey(appid, obj.GetID()))
}

// CreateAll implements [dao.DAO]. Objects are uploaded in parallel; nil
// items are skipped and items that cannot be encoded are reported without
// stopping the rest.
func (s *Store) CreateAll(ctx context.Context, appid string, objs []models.Object) error {
	if dao.BlankTenant(appid) {
		return dao.ErrBlankTenant()
	}
	type upload struct {
		id   string
		data []byte
	}
	var failed dao.BatchErrors
	uploads := make([]upload, 0, len(objs))
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
		uploads = append(uploads, upload{id: obj.GetID(), data: data})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, u := range uploads {
		g.Go(func() error { return s.put(gctx, appid, u.id, u.data) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return failed.Err()
}

// ReadAll implements [dao.DAO]. Results follow the order of ids.
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
	return s.readMany(ctx, appid, want)
}

// readMany fetches ids in parallel and returns the found records in the
// order of ids.
func (s *Store) readMany(ctx context.Context, appid string, ids []string) ([]models.Object, error) {
	found := make([]models.Object, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			obj, ok, err := s.Read(gctx, appid, id)
			if ok {
				found[i] = obj
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.Object, 0, len(ids))
	for _, obj := range found {
		if obj != nil {
			out = append(out, obj)
		}
	}
	return out, nil
}

// UpdateAll implements [dao.DAO].
func (s *Store) UpdateAll(ctx context.Context, appid string, objs []models.Object) error {
	if dao.BlankTenant(appid) {
		return dao.ErrBlankTenant()
	}
	var failed dao.BatchErrors
	for i, obj := range objs {
		if err := s.Update(ctx, appid, obj); err != nil {
			if err := failed.Add(i, err); err != nil {
				return err
			}
		}
	}
	return failed.Err()
}

// DeleteAll implements [dao.DAO].
func (s *Store) DeleteAll(ctx context.Context, appid string, objs []models.Object) error {
	if dao.BlankTenant(appid) {
		return dao.ErrBlankTenant()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, obj := range objs {
		if dao.Skippable(obj) {
			continue
		}
		key := objectKey(appid, obj.GetID())
		g.Go(func() error { return s.client.RemoveObject(gctx, key) })
	}
	return g.Wait()
}

// ReadPage implements [dao.DAO]. Listing order follows object names, which
// differs from identifier order once the suffix is appended, so the tenant
// listing is sorted by identifier before the page is cut.
func (s *Store) ReadPage(ctx context.Context, appid string, pager *models.Pager) ([]models.Object, error) {
	if dao.BlankTenant(appid) {
		return nil, dao.ErrBlankTenant()
	}
	if pager == nil {
		pager = &models.Pager{}
	}

	prefix := tenantPrefix(appid)
	keys, err := s.client.ListKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id, ok := strings.CutSuffix(strings.TrimPrefix(key, prefix), objectSuffix)
		if ok && id != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	start := sort.SearchStrings(ids, pager.LastKey)
	if start < len(ids) && ids[start] == pager.LastKey {
		start++
	}
	end := min(start+pager.PageSize(), len(ids))
	window := ids[start:end]

	out, err := s.readMany(ctx, appid, window)
	if err != nil {
		return nil, err
	}
	pager.Count = int64(len(ids))
	if len(window) > 0 {
		pager.LastKey = window[len(window)-1]
	}
	return out, nil
}

// Health implements [dao.HealthChecker].
func (s *Store) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}
