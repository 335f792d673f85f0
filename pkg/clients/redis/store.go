package redis

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/StricklySoft/paragate/pkg/dao"
	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)

// maxTxAttempts bounds optimistic retries of a watched update.
const maxTxAttempts = 3

// Store implements [dao.DAO] on Redis.
type Store struct {
	client *Client
	opts   dao.Options
	prefix string
}

// Compile-time assertions.
var (
	_ dao.DAO           = (*Store)(nil)
	_ dao.HealthChecker = (*Store)(nil)
)

// NewStore returns a Tenant Store backed by client.
func NewStore(client *Client, opts ...dao.Option) *Store {
	return &Store{
		client: client,
		opts:   dao.NewOptions(opts...),
		prefix: client.KeyPrefix(),
	}
}

// tenantSegment escapes appid so it never contains ':'. The first ':'
// after the prefix therefore always ends the tenant, and no tenant or id
// can reach another tenant's keys.
func tenantSegment(appid string) string {
	return url.QueryEscape(appid)
}

func (s *Store) objKey(appid, id string) string {
	return s.prefix + ":" + tenantSegment(appid) + ":obj:" + id
}

func (s *Store) idxKey(appid string) string {
	return s.prefix + ":" + tenantSegment(appid) + ":ids"
}

// Create implements [dao.DAO]. The record and its index entry are written
// in one MULTI/EXEC block.
func (s *Store) Create(ctx context.Context, appid string, obj models.Object) (string, error) {
	data, err := s.opts.PrepareCreate(appid, obj)
	if err != nil {
		return "", err
	}
	id := obj.GetID()
	key := s.objKey(appid, id)

	ctx, span := s.client.startSpan(ctx, "Create", "SET "+key)
	_, err = s.client.cmdable.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, data, 0)
		p.ZAdd(ctx, s.idxKey(appid), redis.Z{Member: id})
		return nil
	})
	finishSpan(span, err)
	if err != nil {
		return "", wrapError(err, "redis: create failed")
	}
	return id, nil
}

// Read implements [dao.DAO].
func (s *Store) Read(ctx context.Context, appid, id string) (models.Object, bool, error) {
	if dao.BlankTenant(appid) || strings.TrimSpace(id) == "" {
		return nil, false, nil
	}
	key := s.objKey(appid, id)

	ctx, span := s.client.startSpan(ctx, "Read", "GET "+key)
	data, err := s.client.cmdable.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return nil, false, nil
	}
	finishSpan(span, err)
	if err != nil {
		return nil, false, wrapError(err, "redis: read failed")
	}
	obj, err := s.opts.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// Update implements [dao.DAO]. The read-merge-write runs under WATCH so a
// concurrent writer to the same key forces a retry instead of a lost
// update.
func (s *Store) Update(ctx context.Context, appid string, obj models.Object) error {
	if dao.BlankTenant(appid) || dao.Skippable(obj) {
		return nil
	}
	key := s.objKey(appid, obj.GetID())

	ctx, span := s.client.startSpan(ctx, "Update", "WATCH "+key)
	var err error
	for range maxTxAttempts {
		err = s.client.cmdable.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			merged, err := s.opts.PrepareUpdate(stored, obj)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, merged, 0)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	finishSpan(span, err)

	if errors.Is(err, redis.TxFailedErr) {
		return sserr.Wrap(err, sserr.CodeConflict, "redis: update lost to concurrent writes")
	}
	return wrapError(err, "redis: update failed")
}

// Delete implements [dao.DAO].
func (s *Store) Delete(ctx context.Context, appid string, obj models.Object) error {
	if dao.BlankTenant(appid) || dao.Skippable(obj) {
		return nil
	}
	return s.remove(ctx, appid, []string{obj.GetID()})
}

func (s *Store) remove(ctx context.Context, appid string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.objKey(appid, id)
		members[i] = id
	}

	ctx, span := s.client.startSpan(ctx, "Delete", "DEL "+strings.Join(keys, " "))
	_, err := s.client.cmdable.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		p.ZRem(ctx, s.idxKey(appid), members...)
		return nil
	})
	finishSpan(span, err)
	return wrapError(err, "redis: delete failed")
}

// CreateAll implements [dao.DAO]. The valid items are written in one
// transaction; nil items are skipped and items that cannot be encoded are
// reported without stopping the rest.
func (s *Store) CreateAll(ctx context.Context, appid string, objs []models.Object) error {
	if dao.BlankTenant(appid) {
		return dao.ErrBlankTenant()
	}
	type entry struct {
		id   string
		data []byte
	}
	var failed dao.BatchErrors
	entries := make([]entry, 0, len(objs))
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
		entries = append(entries, entry{id: obj.GetID(), data: data})
	}
	if len(entries) == 0 {
		return failed.Err()
	}

	ctx, span := s.client.startSpan(ctx, "CreateAll", "MULTI SET x"+strconv.Itoa(len(entries)))
	_, err := s.client.cmdable.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, e := range entries {
			p.Set(ctx, s.objKey(appid, e.id), e.data, 0)
			p.ZAdd(ctx, s.idxKey(appid), redis.Z{Member: e.id})
		}
		return nil
	})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: batch create failed")
	}
	return failed.Err()
}

// ReadAll implements [dao.DAO] with a single MGET.
func (s *Store) ReadAll(ctx context.Context, appid string, ids []string) ([]models.Object, error) {
	if dao.BlankTenant(appid) {
		return nil, dao.ErrBlankTenant()
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			keys = append(keys, s.objKey(appid, id))
		}
	}
	return s.mget(ctx, keys)
}

func (s *Store) mget(ctx context.Context, keys []string) ([]models.Object, error) {
	out := make([]models.Object, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	ctx, span := s.client.startSpan(ctx, "ReadAll", "MGET "+strings.Join(keys, " "))
	vals, err := s.client.cmdable.MGet(ctx, keys...).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: batch read failed")
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		obj, err := s.opts.Decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// UpdateAll implements [dao.DAO]. Each item is merged in its own watched
// transaction.
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
	ids := make([]string, 0, len(objs))
	for _, obj := range objs {
		if !dao.Skippable(obj) {
			ids = append(ids, obj.GetID())
		}
	}
	return s.remove(ctx, appid, ids)
}

// ReadPage implements [dao.DAO] by walking the identifier index with
// ZRANGEBYLEX from just after the pager's last key.
func (s *Store) ReadPage(ctx context.Context, appid string, pager *models.Pager) ([]models.Object, error) {
	if dao.BlankTenant(appid) {
		return nil, dao.ErrBlankTenant()
	}
	if pager == nil {
		pager = &models.Pager{}
	}
	idx := s.idxKey(appid)
	lower := "-"
	if pager.LastKey != "" {
		lower = "(" + pager.LastKey
	}

	ctx, span := s.client.startSpan(ctx, "ReadPage", "ZRANGEBYLEX "+idx+" "+lower+" +")
	count, err := s.client.cmdable.ZCard(ctx, idx).Result()
	var ids []string
	if err == nil {
		ids, err = s.client.cmdable.ZRangeByLex(ctx, idx, &redis.ZRangeBy{
			Min:   lower,
			Max:   "+",
			Count: int64(pager.PageSize()),
		}).Result()
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: page read failed")
	}

	pager.Count = count
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.objKey(appid, id)
	}
	out, err := s.mget(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		pager.LastKey = ids[len(ids)-1]
	}
	return out, nil
}

// Health implements [dao.HealthChecker].
func (s *Store) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}
