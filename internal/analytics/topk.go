package analytics

import (
	"path"
	"sort"
	"strings"
	"time"
)

type LargestFile struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	FileType string `json:"contentType"`
}

type OldestFile struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	LastModified time.Time `json:"lastModified"`
}

func largerFirst(a, b LargestFile) bool {
	if a.Size != b.Size {
		return a.Size > b.Size
	}
	if a.Bucket != b.Bucket {
		return a.Bucket < b.Bucket
	}
	return a.Key < b.Key
}

func olderFirst(a, b OldestFile) bool {
	if !a.LastModified.Equal(b.LastModified) {
		return a.LastModified.Before(b.LastModified)
	}
	if a.Bucket != b.Bucket {
		return a.Bucket < b.Bucket
	}
	return a.Key < b.Key
}

// topK keeps the k best items seen so far, ordered best first.
type topK[T any] struct {
	k     int
	less  func(a, b T) bool
	items []T
}

func newTopK[T any](k int, less func(a, b T) bool) *topK[T] {
	return &topK[T]{k: k, less: less, items: make([]T, 0, k)}
}

func (t *topK[T]) offer(v T) {
	if t.k <= 0 {
		return
	}
	n := len(t.items)
	if n == t.k && !t.less(v, t.items[n-1]) {
		return
	}
	i := sort.Search(n, func(i int) bool { return t.less(v, t.items[i]) })
	if n < t.k {
		t.items = append(t.items, v)
	}
	copy(t.items[i+1:], t.items[i:len(t.items)-1])
	t.items[i] = v
}

func (t *topK[T]) list() []T {
	return append([]T(nil), t.items...)
}

// fileType is the lowercase extension of the key's last path segment, or
// "unknown" when there is none.
func fileType(key string) string {
	name := path.Base(key)
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return "unknown"
	}
	return strings.ToLower(name[dot+1:])
}
