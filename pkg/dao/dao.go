// Package dao defines the Tenant Store: a keyspace-isolated, type-erased
// CRUD contract over [models.Object] records, partitioned by tenant
// identifier (appid).
//
// # Contract
//
//   - Create assigns an identifier and creation timestamp when absent and
//     always stamps the tenant identifier it was called with, ignoring any
//     appid carried by the record.
//   - Read reports a missing key as (nil, false, nil), never as an error.
//   - Update merges the incoming record onto the stored one, preserving the
//     record type's locked fields. It is a no-op for a blank tenant, a nil
//     record, a blank identifier, or a record that does not exist.
//   - Delete is a no-op when the record is absent.
//   - Batch variants reject a blank tenant outright (zero items processed)
//     and otherwise skip malformed items independently: an item that
//     cannot be encoded or merged is left out, the rest are written, and
//     the per-item failures are returned joined (see [BatchErrors]).
//     ReadAll preserves input order and omits missing keys.
//   - ReadPage orders by identifier ascending and honours [models.Pager].
//
// Backend failures surface as [sserr.CodeStoreUnavailable] or
// [sserr.CodeStoreTimeout] so that callers never mistake an outage for an
// authentication failure.
//
// # Implementations
//
// [Memory] is the in-process reference implementation. Backends built on
// Redis, PostgreSQL and MinIO live in the corresponding pkg/clients
// packages. [Guarded] wraps any DAO with a circuit breaker.
package dao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
	"github.com/StricklySoft/paragate/pkg/models"
)

// DAO is the Tenant Store contract. Implementations must be safe for
// concurrent use: calls on different tenants must not interfere, and
// concurrent writes to the same (tenant, id) pair are serialized.
type DAO interface {
	Create(ctx context.Context, appid string, obj models.Object) (string, error)
	Read(ctx context.Context, appid, id string) (models.Object, bool, error)
	Update(ctx context.Context, appid string, obj models.Object) error
	Delete(ctx context.Context, appid string, obj models.Object) error

	CreateAll(ctx context.Context, appid string, objs []models.Object) error
	ReadAll(ctx context.Context, appid string, ids []string) ([]models.Object, error)
	UpdateAll(ctx context.Context, appid string, objs []models.Object) error
	DeleteAll(ctx context.Context, appid string, objs []models.Object) error

	ReadPage(ctx context.Context, appid string, pager *models.Pager) ([]models.Object, error)
}

// HealthChecker is implemented by stores that can report backend health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Options configures how a store stamps and encodes records. All backends
// share it so that every implementation assigns identifiers and
// timestamps the same way.
type Options struct {
	// Registry decodes stored records into concrete types.
	Registry *models.Registry

	// Now returns the current time. Defaults to time.Now in UTC.
	Now func() time.Time

	// NewID generates record identifiers. Defaults to UUID v4.
	NewID func() string
}

// Option configures [Options].
type Option func(*Options)

// WithRegistry sets the type registry.
func WithRegistry(r *models.Registry) Option {
	return func(o *Options) { o.Registry = r }
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// WithIDGenerator sets the identifier generator used by Create.
func WithIDGenerator(newID func() string) Option {
	return func(o *Options) { o.NewID = newID }
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{
		Registry: models.NewRegistry(),
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// PrepareCreate stamps obj for insertion under appid: an identifier and a
// creation timestamp when absent, and always the tenant identifier. It
// returns the encoded record. obj is modified in place so that callers
// observe the generated fields.
func (o Options) PrepareCreate(appid string, obj models.Object) ([]byte, error) {
	if BlankTenant(appid) {
		return nil, ErrBlankTenant()
	}
	if obj == nil {
		return nil, ErrNilRecord()
	}
	if strings.TrimSpace(obj.GetID()) == "" {
		obj.SetID(o.NewID())
	}
	if obj.GetTimestamp().IsZero() {
		obj.SetTimestamp(o.Now())
	}
	obj.SetAppID(appid)
	data, err := o.Registry.Encode(obj)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInvalidArgument, "store: record cannot be encoded")
	}
	return data, nil
}

// PrepareUpdate merges patch onto the encoded stored record and returns
// the encoded result. The update timestamp is stamped on patch first.
func (o Options) PrepareUpdate(stored []byte, patch models.Object) ([]byte, error) {
	current, err := o.Registry.Decode(stored)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "store: stored record is corrupt")
	}
	patch.SetUpdated(o.Now())
	merged, err := o.Registry.Merge(current, patch)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInvalidArgument, "store: record cannot be merged")
	}
	data, err := o.Registry.Encode(merged)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "store: merged record cannot be encoded")
	}
	return data, nil
}

// Decode decodes a stored record, classifying failures as corrupt data.
func (o Options) Decode(data []byte) (models.Object, error) {
	obj, err := o.Registry.Decode(data)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "store: stored record is corrupt")
	}
	return obj, nil
}

// BlankTenant reports whether appid is empty or whitespace.
func BlankTenant(appid string) bool {
	return strings.TrimSpace(appid) == ""
}

// Skippable reports whether an update or delete of obj is a no-op because
// the record or its identifier is absent.
func Skippable(obj models.Object) bool {
	return obj == nil || strings.TrimSpace(obj.GetID()) == ""
}

// ErrBlankTenant returns the error for a call with a blank tenant.
func ErrBlankTenant() *sserr.Error {
	return sserr.InvalidArgument("store: tenant identifier must not be blank")
}

// ErrNilRecord returns the error for a create with no record.
func ErrNilRecord() *sserr.Error {
	return sserr.InvalidArgument("store: record must not be nil")
}

// ReadAs reads a record and asserts its concrete type. A record of a
// different type is reported as missing.
//
// Example:
//
//	app, ok, err := dao.ReadAs[*models.App](ctx, store, "para", models.AppKey("app1"))
func ReadAs[T models.Object](ctx context.Context, d DAO, appid, id string) (T, bool, error) {
	var zero T
	obj, ok, err := d.Read(ctx, appid, id)
	if err != nil || !ok {
		return zero, false, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, false, nil
	}
	return typed, true, nil
}

// BatchErrors collects the per-item failures of a batch write. Client
// errors (VAL_xxx and the like) belong to one item and are recorded so the
// batch can go on; anything else, such as a store outage, ends the batch.
type BatchErrors struct {
	errs []error
}

// Add records the failure of item i. It returns err unchanged when the
// failure is not confined to the item and the batch must stop.
func (b *BatchErrors) Add(i int, err error) error {
	if err == nil {
		return nil
	}
	if !sserr.IsClientError(err) {
		return err
	}
	b.errs = append(b.errs, fmt.Errorf("item %d: %w", i, err))
	return nil
}

// Len returns the number of recorded failures.
func (b *BatchErrors) Len() int { return len(b.errs) }

// Err joins the recorded failures, or returns nil when there are none.
func (b *BatchErrors) Err() error { return errors.Join(b.errs...) }
