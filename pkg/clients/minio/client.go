// Package minio provides the object-storage Tenant Store. Each record is
// one JSON object named {appid}/{id}.json in a single bucket; the client
// wraps minio-go with OpenTelemetry tracing and store failure
// classification.
//
// # Configuration
//
//	cfg := minio.DefaultConfig()
//	cfg.AccessKey = os.Getenv("PARA_MINIO_ACCESS_KEY")
//	cfg.SecretKey = models.Secret(os.Getenv("PARA_MINIO_SECRET_KEY"))
//	client, err := minio.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	store := minio.NewStore(client)
//
// For testing, use [NewFromStore] to inject a mock [ObjectStore].
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/paragate/pkg/clients/minio"

// ObjectStore is the subset of the minio-go API used by the client. It is
// satisfied by [*minio.Client] and by mocks.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)

	// GetObject returns a lazy reader; a missing object may only be
	// reported once the object is read.
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)

	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// Compile-time interface compliance check.
var _ ObjectStore = (*minio.Client)(nil)

// Client is a MinIO client bound to the records bucket. It is safe for
// concurrent use.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient validates cfg, creates the minio-go client, and verifies that
// the records bucket is reachable. With cfg.CreateBucket the bucket is
// created when missing.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeStoreUnavailable]: cannot reach MinIO
//   - [sserr.CodeNotFound]: the bucket does not exist and CreateBucket is off
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation,
			"minio: invalid configuration")
	}

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation,
			"minio: failed to create client")
	}

	c := NewFromStore(minioClient, &cfg)
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromStore creates a Client around an existing [ObjectStore]. cfg is
// stored but not validated; nil yields the default bucket.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()
	return &Client{
		store:  store,
		config: cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// Bucket returns the records bucket.
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// EnsureBucket checks that the records bucket exists, creating it when the
// config allows.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.BucketExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !c.config.CreateBucket {
		return sserr.Newf(sserr.CodeNotFound, "minio: bucket %q does not exist", c.config.Bucket)
	}
	return c.MakeBucket(ctx)
}

// PutObject uploads data as objectName in the records bucket.
func (c *Client) PutObject(ctx context.Context, objectName string, reader io.Reader, size int64) error {
	ctx, span := c.startSpan(ctx, "PutObject", fmt.Sprintf("PUT %s/%s", c.config.Bucket, objectName))

	_, err := c.store.PutObject(ctx, c.config.Bucket, objectName, reader, size,
		minio.PutObjectOptions{ContentType: "application/json"})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: put object failed")
	}
	return nil
}

// ReadObject downloads objectName. A missing object is reported as
// (nil, false, nil).
func (c *Client) ReadObject(ctx context.Context, objectName string) ([]byte, bool, error) {
	ctx, span := c.startSpan(ctx, "GetObject", fmt.Sprintf("GET %s/%s", c.config.Bucket, objectName))

	data, err := c.readObject(ctx, objectName)
	if isNotFound(err) {
		finishSpan(span, nil)
		return nil, false, nil
	}
	finishSpan(span, err)
	if err != nil {
		return nil, false, wrapError(err, "minio: get object failed")
	}
	return data, true, nil
}

func (c *Client) readObject(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := c.store.GetObject(ctx, c.config.Bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// Exists reports whether objectName exists.
func (c *Client) Exists(ctx context.Context, objectName string) (bool, error) {
	ctx, span := c.startSpan(ctx, "StatObject", fmt.Sprintf("STAT %s/%s", c.config.Bucket, objectName))

	_, err := c.store.StatObject(ctx, c.config.Bucket, objectName, minio.StatObjectOptions{})
	if isNotFound(err) {
		finishSpan(span, nil)
		return false, nil
	}
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "minio: stat object failed")
	}
	return true, nil
}

// RemoveObject deletes objectName. Removing a missing object succeeds.
func (c *Client) RemoveObject(ctx context.Context, objectName string) error {
	ctx, span := c.startSpan(ctx, "RemoveObject", fmt.Sprintf("DELETE %s/%s", c.config.Bucket, objectName))

	err := c.store.RemoveObject(ctx, c.config.Bucket, objectName, minio.RemoveObjectOptions{})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: remove object failed")
	}
	return nil
}

// ListKeys returns the names of every object under prefix, in the order
// the server lists them.
func (c *Client) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "ListObjects", fmt.Sprintf("LIST %s prefix=%s", c.config.Bucket, prefix))

	var keys []string
	for info := range c.store.ListObjects(ctx, c.config.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			finishSpan(span, info.Err)
			return nil, wrapError(info.Err, "minio: list objects failed")
		}
		keys = append(keys, info.Key)
	}
	span.SetAttributes(attribute.Int("minio.objects", len(keys)))
	finishSpan(span, nil)
	return keys, nil
}

// BucketExists reports whether the records bucket exists.
func (c *Client) BucketExists(ctx context.Context) (bool, error) {
	ctx, span := c.startSpan(ctx, "BucketExists", fmt.Sprintf("HEAD %s", c.config.Bucket))

	exists, err := c.store.BucketExists(ctx, c.config.Bucket)
	finishSpan(span, err)
	if err != nil {
		return false, sserr.StoreFailure(err, "minio: bucket exists check failed")
	}
	return exists, nil
}

// MakeBucket creates the records bucket.
func (c *Client) MakeBucket(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "MakeBucket", fmt.Sprintf("MAKE %s", c.config.Bucket))

	err := c.store.MakeBucket(ctx, c.config.Bucket, minio.MakeBucketOptions{Region: c.config.Region})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: make bucket failed")
	}
	return nil
}

// Health probes the records bucket. It applies [DefaultHealthTimeout] if
// ctx has no deadline.
func (c *Client) Health(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	_, err := c.BucketExists(ctx)
	return err
}

// Close is a no-op; minio-go keeps no persistent connections that need
// releasing.
func (c *Client) Close() {}

// Store returns the underlying [ObjectStore].
func (c *Client) Store() ObjectStore {
	return c.store
}

func (c *Client) startSpan(ctx context.Context, operationName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", c.config.Bucket),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

// finishSpan records err on the span, if any, and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// isNotFound reports whether err is an S3 missing-object response.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// wrapError classifies a storage error. A 4xx answer from the server means
// the request reached MinIO and was refused, which is an internal error.
// Transport failures, deadlines and 5xx answers are store failures.
func wrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := sserr.AsError(err); ok {
		return err
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return sserr.Wrap(err, sserr.CodeInternalDatabase, message).
			WithDetail("s3_code", resp.Code)
	}
	return sserr.StoreFailure(err, message)
}
