package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/arencloud/s3keeper/internal/apperr"
	"github.com/arencloud/s3keeper/internal/audit"
	"github.com/arencloud/s3keeper/internal/logging"
	"github.com/arencloud/s3keeper/internal/models"
	"github.com/arencloud/s3keeper/internal/s3/s3fake"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolver struct{}

func (resolver) Resolve(_ context.Context, user, id string) (*models.Credential, error) {
	if user != "alice" {
		return nil, apperr.NotFound("no default credential set")
	}
	return &models.Credential{ID: "c1", UserID: user, State: models.CredentialActive}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Record(_ audit.Actor, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) last() audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

var alice = audit.Actor{UserID: "alice"}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ctxResolver fails like a real store would once the request context is gone.
type ctxResolver struct{ resolver }

func (r ctxResolver) Resolve(ctx context.Context, user, id string) (*models.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.resolver.Resolve(ctx, user, id)
}

func TestComputeSurvivesCallerCancellation(t *testing.T) {
	f := s3fake.NewFactory(nil)
	f.Backend.PutSized("docs", "a.txt", 10, epoch)
	a := New(ctxResolver{}, f, &recorder{}, logging.Nop(), Options{CacheTTL: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := a.Compute(ctx, alice, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.TotalSize)
}

func newAggregator(o Options) (*Aggregator, *s3fake.Factory, *recorder) {
	f := s3fake.NewFactory(nil)
	rec := &recorder{}
	return New(resolver{}, f, rec, logging.Nop(), o), f, rec
}

func TestComputeSkipsFoldersAndClassifiesTypes(t *testing.T) {
	a, f, rec := newAggregator(Options{})
	b := f.Backend
	b.PutSized("docs", "reports/", 0, epoch)
	b.PutSized("docs", "reports/q1.PDF", 100, epoch)
	b.PutSized("docs", "reports/readme", 10, epoch)
	b.PutSized("docs", "trailing.", 5, epoch)
	b.PutSized("docs", "v1.2/notes", 7, epoch)
	b.PutSized("media", "clip.tar.gz", 50, epoch)
	b.AddBucket("empty")

	res, err := a.Compute(context.Background(), alice, "")
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalBuckets)
	assert.Equal(t, int64(5), res.TotalObjects)
	assert.Equal(t, int64(172), res.TotalSize)
	assert.Equal(t, "172 B", res.TotalSizeHuman)
	assert.Equal(t, map[string]int64{"docs": 122, "media": 50, "empty": 0}, res.SizeByBucket)
	assert.Equal(t, map[string]int64{"docs": 4, "media": 1, "empty": 0}, res.ObjectsByBucket)
	assert.Equal(t, map[string]int64{"pdf": 100, "unknown": 22, "gz": 50}, res.SizeByFileType)
	require.NotEmpty(t, res.LargestFiles)
	assert.Equal(t, LargestFile{Bucket: "docs", Key: "reports/q1.PDF", Size: 100, FileType: "pdf"}, res.LargestFiles[0])

	assert.Zero(t, f.Outstanding())
	acquired, _ := f.Counts()
	assert.Equal(t, 1, acquired, "one client for the whole scan")
	ev := rec.last()
	assert.Equal(t, audit.ActionViewAnalytics, ev.Action)
	assert.NoError(t, ev.Err)
}

func TestComputeFollowsContinuationTokens(t *testing.T) {
	a, f, _ := newAggregator(Options{})
	for i := 0; i < 2500; i++ {
		f.Backend.PutSized("logs", fmt.Sprintf("2024/%05d.log", i), 1, epoch.Add(time.Duration(i)*time.Second))
	}
	res, err := a.Compute(context.Background(), alice, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), res.TotalObjects)
	assert.Equal(t, 3, f.Backend.Calls("ListObjectsV2"))
	require.Len(t, res.OldestFiles, 10)
	assert.Equal(t, "2024/00000.log", res.OldestFiles[0].Key)
	assert.Equal(t, "2024/00009.log", res.OldestFiles[9].Key)
}

// Per-bucket lists are truncated before the global merge, so a bucket holding
// more than BucketTopK of the true global top entries is under-reported.
func TestTopKTruncatesPerBucketBeforeMerge(t *testing.T) {
	a, f, _ := newAggregator(Options{})
	for i := 0; i < 8; i++ {
		f.Backend.PutSized("big", fmt.Sprintf("f%d.bin", i), int64(100+i), epoch)
	}
	for i := 1; i <= 3; i++ {
		f.Backend.PutSized("small", fmt.Sprintf("s%d.bin", i), int64(i), epoch)
	}

	res, err := a.Compute(context.Background(), alice, "")
	require.NoError(t, err)
	require.Len(t, res.LargestFiles, 8)

	fromBig := 0
	for _, lf := range res.LargestFiles {
		if lf.Bucket == "big" {
			fromBig++
		}
	}
	assert.Equal(t, 5, fromBig)
	assert.Equal(t, int64(107), res.LargestFiles[0].Size)
	assert.Equal(t, int64(103), res.LargestFiles[4].Size)
	assert.Equal(t, "small", res.LargestFiles[5].Bucket)
}

func TestComputeAbortsOnFirstError(t *testing.T) {
	a, f, rec := newAggregator(Options{CacheTTL: time.Minute})
	f.Backend.PutSized("a", "x.txt", 1, epoch)
	f.Backend.PutSized("b", "y.txt", 1, epoch)
	f.Backend.Fail = func(op, bucket, _ string) error {
		if op == "ListObjectsV2" && bucket == "b" {
			return &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}
		}
		return nil
	}

	res, err := a.Compute(context.Background(), alice, "")
	require.ErrorIs(t, err, apperr.ErrOperationFailed)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "AccessDenied")
	assert.Zero(t, f.Outstanding())
	assert.Error(t, rec.last().Err)

	f.Backend.Fail = nil
	res, err = a.Compute(context.Background(), alice, "")
	require.NoError(t, err, "failures are not cached")
	assert.Equal(t, int64(2), res.TotalObjects)
}

func TestComputeResolveFailure(t *testing.T) {
	a, f, rec := newAggregator(Options{})
	_, err := a.Compute(context.Background(), audit.Actor{UserID: "bob"}, "")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	acquired, _ := f.Counts()
	assert.Zero(t, acquired)
	assert.Error(t, rec.last().Err)
}

func TestComputeCachesPerUserAndCredential(t *testing.T) {
	a, f, rec := newAggregator(Options{CacheTTL: time.Minute})
	f.Backend.PutSized("a", "x.txt", 1, epoch)
	ctx := context.Background()

	first, err := a.Compute(ctx, alice, "")
	require.NoError(t, err)
	assert.Equal(t, false, rec.last().Metadata["cached"])

	second, err := a.Compute(ctx, alice, "")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, true, rec.last().Metadata["cached"])
	assert.Equal(t, 1, f.Backend.Calls("ListBuckets"))

	_, err = a.Compute(ctx, alice, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.Backend.Calls("ListBuckets"), "explicit credential id is a separate entry")

	a.Invalidate("alice")
	_, err = a.Compute(ctx, alice, "")
	require.NoError(t, err)
	assert.Equal(t, 3, f.Backend.Calls("ListBuckets"))
}

func TestComputeWithoutCache(t *testing.T) {
	a, f, _ := newAggregator(Options{})
	f.Backend.AddBucket("a")
	for i := 0; i < 2; i++ {
		_, err := a.Compute(context.Background(), alice, "")
		require.NoError(t, err)
	}
	acquired, released := f.Counts()
	assert.Equal(t, 2, acquired)
	assert.Equal(t, 2, released)
}

func TestExportWritesCSV(t *testing.T) {
	a, f, rec := newAggregator(Options{})
	f.Backend.PutSized("docs", "a.pdf", 2048, epoch)
	f.Backend.PutSized("docs", "b.txt", 10, epoch)
	f.Backend.PutSized("media", "c.mp4", 5, epoch)

	var buf bytes.Buffer
	require.NoError(t, a.Export(context.Background(), alice, "", &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"section", "name", "objects", "size_bytes", "size"},
		{"total", "", "3", "2063", "2.1 kB"},
		{"bucket", "docs", "2", "2058", "2.1 kB"},
		{"bucket", "media", "1", "5", "5 B"},
		{"file_type", "mp4", "", "5", "5 B"},
		{"file_type", "pdf", "", "2048", "2.0 kB"},
		{"file_type", "txt", "", "10", "10 B"},
	}, rows)
	assert.Equal(t, audit.ActionExportAnalytics, rec.last().Action)
}

func TestFileType(t *testing.T) {
	cases := map[string]string{
		"a.TXT":          "txt",
		"dir/archive.gz": "gz",
		"noext":          "unknown",
		"dot.":           "unknown",
		"v1.2/file":      "unknown",
		".env":           "env",
	}
	for key, want := range cases {
		assert.Equal(t, want, fileType(key), key)
	}
}

func TestTopKKeepsBestInOrder(t *testing.T) {
	k := newTopK(3, func(a, b int) bool { return a > b })
	for _, v := range []int{5, 1, 9, 3, 7, 2} {
		k.offer(v)
	}
	assert.Equal(t, []int{9, 7, 5}, k.list())
}
