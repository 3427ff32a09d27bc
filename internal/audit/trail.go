// Package audit records one entry per user-initiated operation.
//
// Writes are asynchronous: Record hands the entry to a bounded queue drained by a
// single writer goroutine, so audit persistence never delays or fails the
// operation being audited. When the queue is full Record waits at most
// EnqueueTimeout and then drops the entry; drops are counted.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/arencloud/s3keeper/internal/apperr"
	"github.com/arencloud/s3keeper/internal/logging"
	"github.com/arencloud/s3keeper/internal/metrics"
	"github.com/arencloud/s3keeper/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultQueueSize      = 1024
	DefaultEnqueueTimeout = 25 * time.Millisecond
	DefaultPageSize       = 20
	MaxPageSize           = 100

	maxErrorMessage = 1000
	writeTimeout    = 5 * time.Second
)

type Options struct {
	QueueSize      int
	EnqueueTimeout time.Duration
}

type Trail struct {
	store          Store
	log            logging.Logger
	queue          chan *models.AuditEntry
	enqueueTimeout time.Duration
	now            func() time.Time

	mu      sync.RWMutex
	running bool
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup

	dropped atomic.Int64
}

func NewTrail(store Store, logger logging.Logger, o Options) *Trail {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = DefaultEnqueueTimeout
	}
	return &Trail{
		store:          store,
		log:            logger,
		queue:          make(chan *models.AuditEntry, o.QueueSize),
		enqueueTimeout: o.EnqueueTimeout,
		now:            time.Now,
		done:           make(chan struct{}),
	}
}

// Start launches the writer. Entries recorded before Start stay queued.
func (t *Trail) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running || t.stopped {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.worker(ctx)
}

// Stop drains the queue and waits for the writer to exit.
func (t *Trail) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	wasRunning := t.running
	t.running = false
	t.mu.Unlock()

	close(t.done)
	if wasRunning {
		t.wg.Wait()
	}
	// the worker may have exited early on ctx cancellation
	t.drain()
}

// Record builds an entry for ev and queues it. It never returns an error.
func (t *Trail) Record(actor Actor, ev Event) {
	e := t.buildEntry(actor, ev)

	// held across the send so Stop cannot drain before an in-flight enqueue lands
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stopped {
		t.drop(e, "stopped")
		return
	}

	select {
	case t.queue <- e:
		return
	default:
	}
	timer := time.NewTimer(t.enqueueTimeout)
	defer timer.Stop()
	select {
	case t.queue <- e:
	case <-timer.C:
		t.drop(e, "queue full")
	}
}

// DroppedCount returns the number of entries dropped since start.
func (t *Trail) DroppedCount() int64 { return t.dropped.Load() }

// Pending returns the number of queued, unwritten entries.
func (t *Trail) Pending() int { return len(t.queue) }

func (t *Trail) drop(e *models.AuditEntry, reason string) {
	t.dropped.Add(1)
	metrics.AuditDropped.Inc()
	t.log.Warn("audit entry dropped", "reason", reason, "action", e.Action, "userId", e.UserID)
}

func (t *Trail) buildEntry(actor Actor, ev Event) *models.AuditEntry {
	e := &models.AuditEntry{
		ID:         uuid.NewString(),
		UserID:     actor.UserID,
		Action:     string(ev.Action),
		BucketName: ev.Bucket,
		ObjectKey:  ev.Key,
		Timestamp:  t.now().UTC(),
		Status:     models.StatusSuccess,
		ClientIP:   actor.ClientIP,
		UserAgent:  truncate(actor.UserAgent, 512),
	}
	if ev.Err != nil {
		e.Status = models.StatusFailure
		e.ErrorMessage = truncate(ev.Err.Error(), maxErrorMessage)
	}
	if len(ev.Metadata) > 0 {
		if b, err := json.Marshal(ev.Metadata); err == nil {
			e.Metadata = string(b)
		}
	}
	return e
}

func (t *Trail) worker(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			t.drain()
			return
		case <-t.done:
			t.drain()
			return
		case e := <-t.queue:
			t.write(ctx, e)
		}
	}
}

func (t *Trail) drain() {
	for {
		select {
		case e := <-t.queue:
			t.write(context.Background(), e)
		default:
			return
		}
	}
}

func (t *Trail) write(ctx context.Context, e *models.AuditEntry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := t.store.Insert(wctx, e); err != nil {
		metrics.AuditWritten(false)
		t.log.Error("audit write failed", "action", e.Action, "userId", e.UserID, "error", err)
		return
	}
	metrics.AuditWritten(true)
}

// Query returns one page of the user's history, newest first.
func (t *Trail) Query(ctx context.Context, user string, q Query) (*Page, error) {
	if q.Page < 0 {
		return nil, apperr.InvalidInput("page must not be negative")
	}
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	if q.Size > MaxPageSize {
		q.Size = MaxPageSize
	}
	var f Filter
	switch {
	case q.Action != "":
		if !q.Action.Valid() {
			return nil, apperr.InvalidInput("unknown audit action %q", q.Action)
		}
		f.Action = string(q.Action)
	case q.StartDate != nil && q.EndDate != nil:
		if q.EndDate.Before(*q.StartDate) {
			return nil, apperr.InvalidInput("endDate is before startDate")
		}
		f.From, f.To = *q.StartDate, *q.EndDate
	}

	items, total, err := t.store.Find(ctx, user, f, q.Page*q.Size, q.Size)
	if err != nil {
		return nil, apperr.Internal("failed to query audit logs", err)
	}
	if items == nil {
		items = []models.AuditEntry{}
	}
	return &Page{
		Items:         items,
		Page:          q.Page,
		Size:          q.Size,
		TotalElements: total,
		TotalPages:    int((total + int64(q.Size) - 1) / int64(q.Size)),
	}, nil
}

// Counts returns the user's success and failure totals.
func (t *Trail) Counts(ctx context.Context, user string) (Counts, error) {
	m, err := t.store.CountByStatus(ctx, user)
	if err != nil {
		return Counts{}, apperr.Internal("failed to count audit logs", err)
	}
	return Counts{Success: m[models.StatusSuccess], Failure: m[models.StatusFailure]}, nil
}

// Purge deletes entries strictly older than now-olderThan. Running it twice
// deletes nothing the second time.
func (t *Trail) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, apperr.InvalidInput("retention must be positive")
	}
	cutoff := t.now().Add(-olderThan)
	n, err := t.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.AuditPurged(n)
	t.log.Info("audit purge", "deleted", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	return n, nil
}

// truncate keeps at most n characters of s and always returns valid UTF-8.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for range n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}
