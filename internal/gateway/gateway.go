// Package gateway runs bucket and object operations on behalf of a user.
//
// Every operation resolves a credential, acquires a client scoped to it,
// performs its backend call(s), releases the client and records one audit
// entry. Move records its copy phase as well.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/arencloud/s3keeper/internal/apperr"
	"github.com/arencloud/s3keeper/internal/audit"
	"github.com/arencloud/s3keeper/internal/logging"
	"github.com/arencloud/s3keeper/internal/metrics"
	"github.com/arencloud/s3keeper/internal/models"
	"github.com/arencloud/s3keeper/internal/s3"
)

const MaxPresignExpiry = 7 * 24 * time.Hour

// Resolver picks the credential for an operation.
type Resolver interface {
	Resolve(ctx context.Context, user, credentialID string) (*models.Credential, error)
}

// ClientFactory builds scoped clients and presigned URLs.
type ClientFactory interface {
	Acquire(ctx context.Context, cred *models.Credential) (*s3.Client, error)
	Presign(ctx context.Context, cred *models.Credential, bucket, key string, ttl time.Duration) (string, error)
}

type Options struct {
	MaxUploadSize int64
	ListMaxKeys   int32
	PresignExpiry time.Duration
}

type Gateway struct {
	creds   Resolver
	clients ClientFactory
	audit   audit.Recorder
	log     logging.Logger
	opts    Options
	now     func() time.Time
}

func New(creds Resolver, clients ClientFactory, rec audit.Recorder, log logging.Logger, o Options) *Gateway {
	if o.ListMaxKeys <= 0 {
		o.ListMaxKeys = 1000
	}
	if o.PresignExpiry <= 0 {
		o.PresignExpiry = time.Hour
	}
	if o.MaxUploadSize <= 0 {
		o.MaxUploadSize = 100 << 20
	}
	return &Gateway{creds: creds, clients: clients, audit: rec, log: log, opts: o, now: time.Now}
}

// run executes fn with a client for credID and records ev with the outcome.
// op names the operation in OperationFailed messages.
func (g *Gateway) run(ctx context.Context, actor audit.Actor, credID string, ev *audit.Event, op string, fn func(c *s3.Client, cred *models.Credential) error) (err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			ev.Err = fmt.Errorf("panic during %s: %v", op, r)
			g.finish(actor, ev, started)
			panic(r)
		}
		ev.Err = err
		g.finish(actor, ev, started)
	}()

	c, cred, err := g.acquire(ctx, actor.UserID, credID)
	if err != nil {
		return err
	}
	defer c.Release()

	if err := fn(c, cred); err != nil {
		return wrap(op, err)
	}
	return nil
}

func (g *Gateway) acquire(ctx context.Context, user, credID string) (*s3.Client, *models.Credential, error) {
	cred, err := g.creds.Resolve(ctx, user, credID)
	if err != nil {
		return nil, nil, err
	}
	c, err := g.clients.Acquire(ctx, cred)
	if err != nil {
		return nil, nil, apperr.Internal("failed to create storage client", err)
	}
	return c, cred, nil
}

func (g *Gateway) finish(actor audit.Actor, ev *audit.Event, started time.Time) {
	status := models.StatusSuccess
	if ev.Err != nil {
		status = models.StatusFailure
		g.log.Warn("gateway operation failed", "action", ev.Action, "userId", actor.UserID, "bucket", ev.Bucket, "key", ev.Key, "error", ev.Err)
	}
	metrics.ObserveOperation(string(ev.Action), status, started)
	g.audit.Record(actor, *ev)
}

// reject records a request that failed validation before any backend work.
func (g *Gateway) reject(actor audit.Actor, ev audit.Event, err error) error {
	ev.Err = err
	g.finish(actor, &ev, time.Now())
	return err
}

func wrap(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.OperationFailed(op, err)
}

func required(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return apperr.InvalidInput("%s is required", name)
	}
	return nil
}

func (g *Gateway) ListBuckets(ctx context.Context, actor audit.Actor, credID string) ([]s3.BucketInfo, error) {
	var out []s3.BucketInfo
	ev := audit.Event{Action: audit.ActionListBuckets}
	err := g.run(ctx, actor, credID, &ev, "list buckets", func(c *s3.Client, _ *models.Credential) error {
		var err error
		out, err = c.ListBuckets(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Gateway) CreateBucket(ctx context.Context, actor audit.Actor, credID, name string) error {
	ev := audit.Event{Action: audit.ActionCreateBucket, Bucket: name}
	if err := required("bucket name", name); err != nil {
		return g.reject(actor, ev, err)
	}
	return g.run(ctx, actor, credID, &ev, "create bucket", func(c *s3.Client, cred *models.Credential) error {
		return c.CreateBucket(ctx, name, cred.Region)
	})
}

func (g *Gateway) DeleteBucket(ctx context.Context, actor audit.Actor, credID, name string) error {
	ev := audit.Event{Action: audit.ActionDeleteBucket, Bucket: name}
	if err := required("bucket name", name); err != nil {
		return g.reject(actor, ev, err)
	}
	return g.run(ctx, actor, credID, &ev, "delete bucket", func(c *s3.Client, _ *models.Credential) error {
		return c.DeleteBucket(ctx, name)
	})
}

type ListObjectsInput struct {
	CredentialID      string
	Bucket            string
	Prefix            string
	Delimiter         string
	MaxKeys           int32
	ContinuationToken string
}

type ListObjectsResult = s3.ListPage

// ListObjects returns one page. MaxKeys is clamped to the configured maximum.
func (g *Gateway) ListObjects(ctx context.Context, actor audit.Actor, in ListObjectsInput) (*ListObjectsResult, error) {
	ev := audit.Event{Action: audit.ActionListObjects, Bucket: in.Bucket, Key: in.Prefix}
	if err := required("bucket name", in.Bucket); err != nil {
		return nil, g.reject(actor, ev, err)
	}
	maxKeys := in.MaxKeys
	if maxKeys <= 0 || maxKeys > g.opts.ListMaxKeys {
		maxKeys = g.opts.ListMaxKeys
	}
	var page *s3.ListPage
	err := g.run(ctx, actor, in.CredentialID, &ev, "list objects", func(c *s3.Client, _ *models.Credential) error {
		var err error
		page, err = c.ListObjectsPage(ctx, s3.ListParams{
			Bucket:            in.Bucket,
			Prefix:            in.Prefix,
			Delimiter:         in.Delimiter,
			ContinuationToken: in.ContinuationToken,
			MaxKeys:           maxKeys,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

type UploadInput struct {
	CredentialID string
	Bucket       string
	Key          string
	Body         io.Reader
	Size         int64
	ContentType  string
}

type UploadResult struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag"`
}

// Upload stores in.Body. Oversized input is rejected before a client is acquired.
func (g *Gateway) Upload(ctx context.Context, actor audit.Actor, in UploadInput) (*UploadResult, error) {
	ev := audit.Event{Action: audit.ActionUploadObject, Bucket: in.Bucket, Key: in.Key, Metadata: map[string]any{"size": in.Size}}
	if err := required("bucket name", in.Bucket); err != nil {
		return nil, g.reject(actor, ev, err)
	}
	if err := required("object key", in.Key); err != nil {
		return nil, g.reject(actor, ev, err)
	}
	if in.Size < 0 {
		return nil, g.reject(actor, ev, apperr.InvalidInput("file size must not be negative"))
	}
	if in.Size > g.opts.MaxUploadSize {
		return nil, g.reject(actor, ev, apperr.InvalidInput("file size %d exceeds maximum allowed size %d", in.Size, g.opts.MaxUploadSize))
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	res := &UploadResult{Bucket: in.Bucket, Key: in.Key, Size: in.Size}
	err := g.run(ctx, actor, in.CredentialID, &ev, "upload object", func(c *s3.Client, _ *models.Credential) error {
		etag, err := c.PutObject(ctx, in.Bucket, in.Key, in.Body, in.Size, contentType)
		res.ETag = etag
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type ObjectRef struct {
	CredentialID string
	Bucket       string
	Key          string
}

func (r ObjectRef) validate() error {
	if err := required("bucket name", r.Bucket); err != nil {
		return err
	}
	return required("object key", r.Key)
}

// Download streams the object into sink while the client is held.
func (g *Gateway) Download(ctx context.Context, actor audit.Actor, ref ObjectRef, sink func(info s3.ObjectInfo, body io.Reader) error) error {
	ev := audit.Event{Action: audit.ActionDownloadObject, Bucket: ref.Bucket, Key: ref.Key}
	if err := ref.validate(); err != nil {
		return g.reject(actor, ev, err)
	}
	return g.run(ctx, actor, ref.CredentialID, &ev, "download object", func(c *s3.Client, _ *models.Credential) error {
		body, info, err := c.GetObject(ctx, ref.Bucket, ref.Key)
		if err != nil {
			return err
		}
		defer body.Close()
		ev.Metadata = map[string]any{"size": info.Size}
		return sink(info, body)
	})
}

func (g *Gateway) DeleteObject(ctx context.Context, actor audit.Actor, ref ObjectRef) error {
	ev := audit.Event{Action: audit.ActionDeleteObject, Bucket: ref.Bucket, Key: ref.Key}
	if err := ref.validate(); err != nil {
		return g.reject(actor, ev, err)
	}
	return g.run(ctx, actor, ref.CredentialID, &ev, "delete object", func(c *s3.Client, _ *models.Credential) error {
		return c.DeleteObject(ctx, ref.Bucket, ref.Key)
	})
}

// HeadObject returns object metadata, audited as a preview.
func (g *Gateway) HeadObject(ctx context.Context, actor audit.Actor, ref ObjectRef) (s3.ObjectInfo, error) {
	ev := audit.Event{Action: audit.ActionPreviewObject, Bucket: ref.Bucket, Key: ref.Key}
	if err := ref.validate(); err != nil {
		return s3.ObjectInfo{}, g.reject(actor, ev, err)
	}
	var info s3.ObjectInfo
	err := g.run(ctx, actor, ref.CredentialID, &ev, "get object metadata", func(c *s3.Client, _ *models.Credential) error {
		var err error
		info, err = c.HeadObject(ctx, ref.Bucket, ref.Key)
		return err
	})
	return info, err
}

type PresignInput struct {
	CredentialID string
	Bucket       string
	Key          string
	// Expiration of zero means the configured default.
	Expiration time.Duration
}

type PresignResult struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PresignURL signs a GET URL locally; no backend call is made.
func (g *Gateway) PresignURL(ctx context.Context, actor audit.Actor, in PresignInput) (*PresignResult, error) {
	ev := audit.Event{Action: audit.ActionGeneratePresignedURL, Bucket: in.Bucket, Key: in.Key}
	ref := ObjectRef{Bucket: in.Bucket, Key: in.Key}
	if err := ref.validate(); err != nil {
		return nil, g.reject(actor, ev, err)
	}
	ttl := in.Expiration
	if ttl == 0 {
		ttl = g.opts.PresignExpiry
	}
	if ttl < time.Second || ttl > MaxPresignExpiry {
		return nil, g.reject(actor, ev, apperr.InvalidInput("expiration must be between 1 second and 7 days"))
	}
	ev.Metadata = map[string]any{"expirationSeconds": int64(ttl / time.Second)}

	started := time.Now()
	res, err := g.presign(ctx, actor.UserID, in, ttl)
	ev.Err = err
	g.finish(actor, &ev, started)
	return res, err
}

func (g *Gateway) presign(ctx context.Context, user string, in PresignInput, ttl time.Duration) (*PresignResult, error) {
	cred, err := g.creds.Resolve(ctx, user, in.CredentialID)
	if err != nil {
		return nil, err
	}
	u, err := g.clients.Presign(ctx, cred, in.Bucket, in.Key, ttl)
	if err != nil {
		return nil, apperr.OperationFailed("generate presigned URL", err)
	}
	return &PresignResult{URL: u, ExpiresAt: g.now().Add(ttl)}, nil
}
