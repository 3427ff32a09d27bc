package audit

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/arencloud/s3keeper/internal/apperr"
	"github.com/arencloud/s3keeper/internal/config"
	"github.com/arencloud/s3keeper/internal/db"
	"github.com/arencloud/s3keeper/internal/logging"
	"github.com/arencloud/s3keeper/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(&config.Config{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "audit.db")}, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}

func seed(t *testing.T, s Store, user string, action Action, status string, ts time.Time) {
	t.Helper()
	e := &models.AuditEntry{ID: uuid.NewString(), UserID: user, Action: string(action), Status: status, Timestamp: ts.UTC()}
	require.NoError(t, s.Insert(context.Background(), e))
}

func TestRecordIsWrittenAsynchronously(t *testing.T) {
	store := NewStore(newTestDB(t))
	tr := NewTrail(store, logging.Nop(), Options{})
	tr.Start(context.Background())
	defer tr.Stop()

	actor := Actor{UserID: "alice", ClientIP: "10.0.0.1", UserAgent: "cli"}
	tr.Record(actor, Event{Action: ActionListBuckets})
	tr.Record(actor, Event{Action: ActionDeleteObject, Bucket: "b", Key: "k", Err: errors.New("AccessDenied"), Metadata: map[string]any{"size": 3}})

	require.Eventually(t, func() bool {
		c, err := tr.Counts(context.Background(), "alice")
		return err == nil && c.Success == 1 && c.Failure == 1
	}, 2*time.Second, 10*time.Millisecond)

	page, err := tr.Query(context.Background(), "alice", Query{Action: ActionDeleteObject})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	got := page.Items[0]
	assert.Equal(t, models.StatusFailure, got.Status)
	assert.Equal(t, "AccessDenied", got.ErrorMessage)
	assert.Equal(t, "10.0.0.1", got.ClientIP)
	assert.Equal(t, "cli", got.UserAgent)
	assert.JSONEq(t, `{"size":3}`, got.Metadata)
}

func TestQueryPrecedenceAndOrdering(t *testing.T) {
	store := NewStore(newTestDB(t))
	tr := NewTrail(store, logging.Nop(), Options{})
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	seed(t, store, "u", ActionUploadObject, models.StatusSuccess, base.Add(-48*time.Hour))
	seed(t, store, "u", ActionUploadObject, models.StatusSuccess, base)
	seed(t, store, "u", ActionDeleteObject, models.StatusSuccess, base.Add(time.Hour))
	seed(t, store, "u", ActionListBuckets, models.StatusFailure, base.Add(2*time.Hour))
	seed(t, store, "other", ActionUploadObject, models.StatusSuccess, base)

	ctx := context.Background()
	start, end := base.Add(-time.Minute), base.Add(90*time.Minute)

	// action wins; the date range is ignored
	p, err := tr.Query(ctx, "u", Query{Action: ActionUploadObject, StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	require.Len(t, p.Items, 2)
	assert.True(t, p.Items[0].Timestamp.After(p.Items[1].Timestamp))

	p, err = tr.Query(ctx, "u", Query{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	require.Len(t, p.Items, 2)
	assert.Equal(t, string(ActionDeleteObject), p.Items[0].Action)
	assert.Equal(t, string(ActionUploadObject), p.Items[1].Action)

	// a single bound is not a range
	p, err = tr.Query(ctx, "u", Query{StartDate: &start})
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.TotalElements)

	p, err = tr.Query(ctx, "u", Query{Page: 1, Size: 3})
	require.NoError(t, err)
	assert.Len(t, p.Items, 1)
	assert.Equal(t, 2, p.TotalPages)
	assert.True(t, base.Add(-48*time.Hour).Equal(p.Items[0].Timestamp))

	p, err = tr.Query(ctx, "u", Query{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, p.Size)
	assert.Equal(t, string(ActionListBuckets), p.Items[0].Action)

	p, err = tr.Query(ctx, "u", Query{Size: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, p.Size)

	_, err = tr.Query(ctx, "u", Query{Action: "NOPE"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = tr.Query(ctx, "u", Query{Page: -1})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestPurgeIsIdempotent(t *testing.T) {
	store := NewStore(newTestDB(t))
	tr := NewTrail(store, logging.Nop(), Options{})
	now := time.Now()
	seed(t, store, "u", ActionUploadObject, models.StatusSuccess, now.Add(-100*24*time.Hour))
	seed(t, store, "u", ActionUploadObject, models.StatusSuccess, now.Add(-91*24*time.Hour))
	seed(t, store, "u", ActionUploadObject, models.StatusSuccess, now.Add(-89*24*time.Hour))
	seed(t, store, "u", ActionUploadObject, models.StatusSuccess, now)

	n, err := tr.Purge(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = tr.Purge(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	p, err := tr.Query(context.Background(), "u", Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.TotalElements)

	_, err = tr.Purge(context.Background(), 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

// blockingStore holds every insert until release is closed.
type blockingStore struct {
	Store
	release chan struct{}
	mu      sync.Mutex
	written []*models.AuditEntry
}

func (b *blockingStore) Insert(_ context.Context, e *models.AuditEntry) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.written = append(b.written, e)
	return nil
}

func (b *blockingStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.written)
}

func TestRecordDropsWhenQueueStaysFull(t *testing.T) {
	bs := &blockingStore{release: make(chan struct{})}
	tr := NewTrail(bs, logging.Nop(), Options{QueueSize: 1, EnqueueTimeout: 5 * time.Millisecond})

	actor := Actor{UserID: "u"}
	tr.Record(actor, Event{Action: ActionUploadObject})

	started := time.Now()
	tr.Record(actor, Event{Action: ActionUploadObject})
	assert.Less(t, time.Since(started), time.Second, "Record must not block beyond the enqueue timeout")
	assert.Equal(t, int64(1), tr.DroppedCount())
	assert.Equal(t, 1, tr.Pending())

	close(bs.release)
	tr.Start(context.Background())
	tr.Stop()
	assert.Equal(t, 1, bs.count())

	tr.Record(actor, Event{Action: ActionUploadObject})
	assert.Equal(t, int64(2), tr.DroppedCount())
}

func TestStopWritesEntriesRecordedAfterContextCancel(t *testing.T) {
	bs := &blockingStore{release: make(chan struct{})}
	close(bs.release)
	tr := NewTrail(bs, logging.Nop(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	tr.Start(ctx)
	cancel()

	exited := make(chan struct{})
	go func() {
		tr.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after context cancel")
	}

	tr.Record(Actor{UserID: "u"}, Event{Action: ActionUploadObject})
	tr.Stop()

	assert.Equal(t, 1, bs.count())
	assert.Zero(t, tr.Pending())
	assert.Zero(t, tr.DroppedCount())
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	s := strings.Repeat("a", 999) + "é…"
	got := truncate(s, 1000)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 1000, utf8.RuneCountInString(got))
	assert.Equal(t, strings.Repeat("a", 999)+"é", got)

	assert.Equal(t, "short", truncate("short", 1000))
	assert.Equal(t, "日本", truncate("日本語", 2))

	bad := truncate("ab\xffcd", 10)
	assert.True(t, utf8.ValidString(bad))
	assert.Equal(t, "ab\uFFFDcd", bad)
}

func TestRecordTruncatesLongErrorMessages(t *testing.T) {
	bs := &blockingStore{release: make(chan struct{})}
	close(bs.release)
	tr := NewTrail(bs, logging.Nop(), Options{})
	tr.Start(context.Background())

	msg := strings.Repeat("x", maxErrorMessage-1) + "ключ"
	tr.Record(Actor{UserID: "u", UserAgent: strings.Repeat("ü", 600)}, Event{Action: ActionUploadObject, Err: errors.New(msg)})
	tr.Stop()

	require.Equal(t, 1, bs.count())
	e := bs.written[0]
	assert.True(t, utf8.ValidString(e.ErrorMessage))
	assert.Equal(t, maxErrorMessage, utf8.RuneCountInString(e.ErrorMessage))
	assert.True(t, utf8.ValidString(e.UserAgent))
	assert.Equal(t, 512, utf8.RuneCountInString(e.UserAgent))
}

type failingStore struct{ Store }

func (failingStore) Insert(context.Context, *models.AuditEntry) error {
	return errors.New("disk full")
}

func TestWriteFailureDoesNotSurface(t *testing.T) {
	tr := NewTrail(failingStore{}, logging.Nop(), Options{})
	tr.Start(context.Background())
	tr.Record(Actor{UserID: "u"}, Event{Action: ActionListBuckets})
	tr.Stop()
	assert.Zero(t, tr.Pending())
	assert.Zero(t, tr.DroppedCount())
}

func TestActorFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.7:51000"
	r.Header.Set("User-Agent", "curl/8")
	a := ActorFromRequest(r, "alice")
	assert.Equal(t, Actor{UserID: "alice", ClientIP: "192.0.2.7", UserAgent: "curl/8"}, a)

	r.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ActorFromRequest(r, "alice").ClientIP)
}

func TestNextRun(t *testing.T) {
	loc := time.UTC
	at := func(h, m int) time.Time { return time.Date(2026, 3, 1, h, m, 0, 0, loc) }

	assert.Equal(t, at(2, 0), nextRun(at(1, 30), 2))
	assert.Equal(t, at(2, 0).AddDate(0, 0, 1), nextRun(at(2, 0), 2))
	assert.Equal(t, at(2, 0).AddDate(0, 0, 1), nextRun(at(13, 0), 2))
}

func TestRetentionJobPurgesAtStartup(t *testing.T) {
	store := NewStore(newTestDB(t))
	tr := NewTrail(store, logging.Nop(), Options{})
	seed(t, store, "u", ActionUploadObject, models.StatusSuccess, time.Now().Add(-200*24*time.Hour))
	seed(t, store, "u", ActionUploadObject, models.StatusSuccess, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.StartRetentionJob(ctx, 90*24*time.Hour, 2)

	require.Eventually(t, func() bool {
		p, err := tr.Query(context.Background(), "u", Query{})
		return err == nil && p.TotalElements == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestActionsClosedSet(t *testing.T) {
	assert.Len(t, Actions(), 22)
	assert.True(t, ActionSetDefaultCredential.Valid())
	assert.False(t, Action("DROP_TABLE").Valid())
}
