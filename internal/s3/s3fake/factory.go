package s3fake

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/arencloud/s3keeper/internal/models"
	"github.com/arencloud/s3keeper/internal/s3"
)

// Factory hands out clients over a shared Backend and counts their lifecycle.
type Factory struct {
	Backend *Backend

	// CheckErr decides the outcome of CheckConnection; nil means every check succeeds.
	CheckErr func(p s3.Params) error
	// AcquireErr, when set, is returned by Acquire.
	AcquireErr error

	mu       sync.Mutex
	acquired int
	released int
	checks   []s3.Params
}

func NewFactory(b *Backend) *Factory {
	if b == nil {
		b = New()
	}
	return &Factory{Backend: b}
}

func (f *Factory) Acquire(_ context.Context, cred *models.Credential) (*s3.Client, error) {
	if f.AcquireErr != nil {
		return nil, f.AcquireErr
	}
	f.mu.Lock()
	f.acquired++
	f.mu.Unlock()
	return s3.NewClient(f.Backend, func() {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
	}), nil
}

func (f *Factory) CheckConnection(_ context.Context, p s3.Params) error {
	f.mu.Lock()
	f.checks = append(f.checks, p)
	f.mu.Unlock()
	if f.CheckErr != nil {
		return f.CheckErr(p)
	}
	return nil
}

func (f *Factory) Presign(_ context.Context, cred *models.Credential, bucket, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://fake.local/%s/%s?X-Amz-Credential=%s&X-Amz-Expires=%d",
		bucket, url.PathEscape(key), url.QueryEscape(cred.AccessKey), int(ttl.Seconds())), nil
}

// Counts returns acquired and released totals.
func (f *Factory) Counts() (acquired, released int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired, f.released
}

// Outstanding is acquired minus released.
func (f *Factory) Outstanding() int {
	a, r := f.Counts()
	return a - r
}

// Checks returns the parameters of every CheckConnection call, in order.
func (f *Factory) Checks() []s3.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]s3.Params(nil), f.checks...)
}
