package dao

import (
	"context"
	"slices"
	"strings"
	"sync"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)

// Memory is the in-process reference Tenant Store: a map of tenant
// keyspaces, each a map of identifier to encoded record. Records are stored
// encoded, so callers can never alias stored state.
//
// The outer lock only guards the keyspace map; each keyspace has its own
// lock. Writers on different tenants never contend, and writers on the same
// tenant are serialized (last write wins).
type Memory struct {
	opts Options

	mu     sync.RWMutex
	spaces map[string]*keyspace
}

type keyspace struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// Compile-time assertion.
var _ DAO = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		opts:   NewOptions(opts...),
		spaces: make(map[string]*keyspace),
	}
}

// space returns the keyspace for appid, creating it when create is true.
func (m *Memory) space(appid string, create bool) *keyspace {
	m.mu.RLock()
	ks, ok := m.spaces[appid]
	m.mu.RUnlock()
	if ok || !create {
		return ks
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ks, ok = m.spaces[appid]; ok {
		return ks
	}
	ks = &keyspace{records: make(map[string][]byte)}
	m.spaces[appid] = ks
	return ks
}

// Create implements [DAO].
func (m *Memory) Create(ctx context.Context, appid string, obj models.Object) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	data, err := m.opts.PrepareCreate(appid, obj)
	if err != nil {
		return "", err
	}
	ks := m.space(appid, true)
	ks.mu.Lock()
	ks.records[obj.GetID()] = data
	ks.mu.Unlock()
	return obj.GetID(), nil
}

// Read implements [DAO].
func (m *Memory) Read(ctx context.Context, appid, id string) (models.Object, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, false, err
	}
	if BlankTenant(appid) || strings.TrimSpace(id) == "" {
		return nil, false, nil
	}
	ks := m.space(appid, false)
	if ks == nil {
		return nil, false, nil
	}
	ks.mu.RLock()
	data, ok := ks.records[id]
	ks.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	obj, err := m.opts.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// Update implements [DAO].
func (m *Memory) Update(ctx context.Context, appid string, obj models.Object) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if BlankTenant(appid) || Skippable(obj) {
		return nil
	}
	ks := m.space(appid, false)
	if ks == nil {
		return nil
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	stored, ok := ks.records[obj.GetID()]
	if !ok {
		return nil
	}
	merged, err := m.opts.PrepareUpdate(stored, obj)
	if err != nil {
		return err
	}
	ks.records[obj.GetID()] = merged
	return nil
}

// Delete implements [DAO].
func (m *Memory) Delete(ctx context.Context, appid string, obj models.Object) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if BlankTenant(appid) || Skippable(obj) {
		return nil
	}
	ks := m.space(appid, false)
	if ks == nil {
		return nil
	}
	ks.mu.Lock()
	delete(ks.records, obj.GetID())
	ks.mu.Unlock()
	return nil
}

// CreateAll implements [DAO]. Nil items are skipped.
func (m *Memory) CreateAll(ctx context.Context, appid string, objs []models.Object) error {
	if BlankTenant(appid) {
		return ErrBlankTenant()
	}
	var failed BatchErrors
	for i, obj := range objs {
		if obj == nil {
			continue
		}
		if _, err := m.Create(ctx, appid, obj); err != nil {
			if err := failed.Add(i, err); err != nil {
				return err
			}
		}
	}
	return failed.Err()
}

// ReadAll implements [DAO].
func (m *Memory) ReadAll(ctx context.Context, appid string, ids []string) ([]models.Object, error) {
	if BlankTenant(appid) {
		return nil, ErrBlankTenant()
	}
	out := make([]models.Object, 0, len(ids))
	for _, id := range ids {
		obj, ok, err := m.Read(ctx, appid, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

// UpdateAll implements [DAO].
func (m *Memory) UpdateAll(ctx context.Context, appid string, objs []models.Object) error {
	if BlankTenant(appid) {
		return ErrBlankTenant()
	}
	var failed BatchErrors
	for i, obj := range objs {
		if err := m.Update(ctx, appid, obj); err != nil {
			if err := failed.Add(i, err); err != nil {
				return err
			}
		}
	}
	return failed.Err()
}

// DeleteAll implements [DAO].
func (m *Memory) DeleteAll(ctx context.Context, appid string, objs []models.Object) error {
	if BlankTenant(appid) {
		return ErrBlankTenant()
	}
	for _, obj := range objs {
		if err := m.Delete(ctx, appid, obj); err != nil {
			return err
		}
	}
	return nil
}

// ReadPage implements [DAO]. A nil pager reads the first page with the
// default limit.
func (m *Memory) ReadPage(ctx context.Context, appid string, pager *models.Pager) ([]models.Object, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if BlankTenant(appid) {
		return nil, ErrBlankTenant()
	}
	if pager == nil {
		pager = &models.Pager{}
	}
	ks := m.space(appid, false)
	if ks == nil {
		pager.Count = 0
		return []models.Object{}, nil
	}

	ks.mu.RLock()
	keys := make([]string, 0, len(ks.records))
	for k := range ks.records {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	start, _ := slices.BinarySearch(keys, pager.LastKey)
	if start < len(keys) && keys[start] == pager.LastKey {
		start++
	}
	end := min(start+pager.PageSize(), len(keys))
	page := make([][]byte, 0, end-start)
	for _, k := range keys[start:end] {
		page = append(page, ks.records[k])
	}
	pager.Count = int64(len(keys))
	ks.mu.RUnlock()

	out := make([]models.Object, 0, len(page))
	for _, data := range page {
		obj, err := m.opts.Decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	if len(out) > 0 {
		pager.LastKey = out[len(out)-1].GetID()
	}
	return out, nil
}

// ctxErr reports a canceled or expired context as a store failure.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return sserr.StoreFailure(err, "store: call abandoned")
	}
	return nil
}

// Health implements [HealthChecker]. The memory store is always healthy.
func (m *Memory) Health(context.Context) error {
	return nil
}
