// Package analytics computes storage statistics by scanning every bucket a
// credential can see.
package analytics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/arencloud/s3keeper/internal/apperr"
	"github.com/arencloud/s3keeper/internal/audit"
	"github.com/arencloud/s3keeper/internal/logging"
	"github.com/arencloud/s3keeper/internal/metrics"
	"github.com/arencloud/s3keeper/internal/models"
	"github.com/arencloud/s3keeper/internal/s3"

	"github.com/dustin/go-humanize"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const scanPageSize = 1000

type Resolver interface {
	Resolve(ctx context.Context, user, credentialID string) (*models.Credential, error)
}

type ClientFactory interface {
	Acquire(ctx context.Context, cred *models.Credential) (*s3.Client, error)
}

type Options struct {
	// CacheTTL of zero disables memoization.
	CacheTTL   time.Duration
	BucketTopK int
	GlobalTopK int
}

// StorageAnalytics is a point-in-time snapshot. Cached values are shared
// between callers and must not be modified.
type StorageAnalytics struct {
	TotalSize       int64            `json:"totalSize"`
	TotalSizeHuman  string           `json:"totalSizeHuman"`
	TotalObjects    int64            `json:"totalObjects"`
	TotalBuckets    int              `json:"totalBuckets"`
	SizeByBucket    map[string]int64 `json:"sizeByBucket"`
	ObjectsByBucket map[string]int64 `json:"objectsByBucket"`
	SizeByFileType  map[string]int64 `json:"sizeByFileType"`
	LargestFiles    []LargestFile    `json:"largestFiles"`
	OldestFiles     []OldestFile     `json:"oldestFiles"`
	GeneratedAt     time.Time        `json:"generatedAt"`
}

type Aggregator struct {
	creds   Resolver
	clients ClientFactory
	audit   audit.Recorder
	log     logging.Logger
	opts    Options

	cache *cache.Cache
	group singleflight.Group
	now   func() time.Time
}

func New(creds Resolver, clients ClientFactory, rec audit.Recorder, log logging.Logger, o Options) *Aggregator {
	if o.BucketTopK <= 0 {
		o.BucketTopK = 5
	}
	if o.GlobalTopK <= 0 {
		o.GlobalTopK = 10
	}
	a := &Aggregator{creds: creds, clients: clients, audit: rec, log: log, opts: o, now: time.Now}
	if o.CacheTTL > 0 {
		a.cache = cache.New(o.CacheTTL, 2*o.CacheTTL)
	}
	return a
}

func cacheKey(user, credID string) string { return user + "|" + credID }

// Compute returns the storage analytics for the credential, possibly from cache.
func (a *Aggregator) Compute(ctx context.Context, actor audit.Actor, credID string) (*StorageAnalytics, error) {
	ev := audit.Event{Action: audit.ActionViewAnalytics}
	res, cached, err := a.analytics(ctx, actor.UserID, credID)
	if err == nil {
		ev.Metadata = map[string]any{"cached": cached, "buckets": res.TotalBuckets}
	}
	ev.Err = err
	a.audit.Record(actor, ev)
	return res, err
}

// Invalidate drops every cached result for user.
func (a *Aggregator) Invalidate(user string) {
	if a.cache == nil {
		return
	}
	prefix := cacheKey(user, "")
	for k := range a.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			a.cache.Delete(k)
		}
	}
}

func (a *Aggregator) analytics(ctx context.Context, user, credID string) (*StorageAnalytics, bool, error) {
	key := cacheKey(user, credID)
	if a.cache != nil {
		if v, ok := a.cache.Get(key); ok {
			metrics.AnalyticsCache(true)
			return v.(*StorageAnalytics), true, nil
		}
		metrics.AnalyticsCache(false)
	}
	v, err, _ := a.group.Do(key, func() (any, error) {
		// shared by every joined caller, so one disconnecting client must not fail the rest
		res, err := a.compute(context.WithoutCancel(ctx), user, credID)
		if err != nil {
			return nil, err
		}
		if a.cache != nil {
			a.cache.SetDefault(key, res)
		}
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*StorageAnalytics), false, nil
}

func (a *Aggregator) compute(ctx context.Context, user, credID string) (*StorageAnalytics, error) {
	started := time.Now()
	cred, err := a.creds.Resolve(ctx, user, credID)
	if err != nil {
		return nil, err
	}
	c, err := a.clients.Acquire(ctx, cred)
	if err != nil {
		return nil, apperr.Internal("failed to create storage client", err)
	}
	defer c.Release()

	buckets, err := c.ListBuckets(ctx)
	if err != nil {
		return nil, scanErr(err)
	}

	res := &StorageAnalytics{
		TotalBuckets:    len(buckets),
		SizeByBucket:    make(map[string]int64, len(buckets)),
		ObjectsByBucket: make(map[string]int64, len(buckets)),
		SizeByFileType:  map[string]int64{},
	}
	largest := newTopK(a.opts.GlobalTopK, largerFirst)
	oldest := newTopK(a.opts.GlobalTopK, olderFirst)
	for _, b := range buckets {
		ba, err := a.scanBucket(ctx, c, b.Name)
		if err != nil {
			a.log.Error("storage analytics aborted", "userId", user, "bucket", b.Name, "error", err)
			return nil, scanErr(err)
		}
		res.SizeByBucket[b.Name] = ba.size
		res.ObjectsByBucket[b.Name] = ba.objects
		res.TotalSize += ba.size
		res.TotalObjects += ba.objects
		for t, n := range ba.sizeByType {
			res.SizeByFileType[t] += n
		}
		for _, f := range ba.largest.list() {
			largest.offer(f)
		}
		for _, f := range ba.oldest.list() {
			oldest.offer(f)
		}
	}
	res.LargestFiles = largest.list()
	res.OldestFiles = oldest.list()
	res.TotalSizeHuman = humanize.Bytes(uint64(res.TotalSize))
	res.GeneratedAt = a.now().UTC()

	a.log.Info("storage analytics computed", "userId", user, "buckets", res.TotalBuckets, "objects", res.TotalObjects, "duration", time.Since(started).String())
	return res, nil
}

type bucketAnalysis struct {
	size       int64
	objects    int64
	sizeByType map[string]int64
	largest    *topK[LargestFile]
	oldest     *topK[OldestFile]
}

// scanBucket pages through every object in bucket. Folder placeholders are skipped.
func (a *Aggregator) scanBucket(ctx context.Context, c *s3.Client, bucket string) (*bucketAnalysis, error) {
	ba := &bucketAnalysis{
		sizeByType: map[string]int64{},
		largest:    newTopK(a.opts.BucketTopK, largerFirst),
		oldest:     newTopK(a.opts.BucketTopK, olderFirst),
	}
	token := ""
	for {
		page, err := c.ListObjectsPage(ctx, s3.ListParams{Bucket: bucket, ContinuationToken: token, MaxKeys: scanPageSize})
		if err != nil {
			return nil, err
		}
		metrics.ObjectsScanned(len(page.Objects))
		for _, o := range page.Objects {
			if strings.HasSuffix(o.Key, "/") {
				continue
			}
			ft := fileType(o.Key)
			ba.size += o.Size
			ba.objects++
			ba.sizeByType[ft] += o.Size
			ba.largest.offer(LargestFile{Bucket: bucket, Key: o.Key, Size: o.Size, FileType: ft})
			ba.oldest.offer(OldestFile{Bucket: bucket, Key: o.Key, LastModified: o.LastModified})
		}
		if page.NextContinuationToken == "" {
			return ba, nil
		}
		token = page.NextContinuationToken
	}
}

func scanErr(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.OperationFailed("generate storage analytics", err)
}
