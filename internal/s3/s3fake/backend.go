// Package s3fake is an in-memory S3 backend and client factory for tests.
package s3fake

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arencloud/s3keeper/internal/s3"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const defaultMaxKeys = 1000

type object struct {
	data        []byte
	contentType string
	modified    time.Time
	etag        string
	meta        map[string]string
}

type bucket struct {
	created time.Time
	objects map[string]*object
}

// Backend implements s3.API in memory.
type Backend struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	calls   map[string]int

	// Now stamps new objects. Defaults to time.Now.
	Now func() time.Time
	// Fail, when set, is consulted before every call; a non-nil result is returned as the call's error.
	Fail func(op, bucket, key string) error
}

var _ s3.API = (*Backend)(nil)

func New() *Backend {
	return &Backend{buckets: map[string]*bucket{}, calls: map[string]int{}, Now: time.Now}
}

// Calls returns how many times op (e.g. "ListObjectsV2") was invoked.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// AddBucket creates name if it does not exist.
func (b *Backend) AddBucket(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[name]; !ok {
		b.buckets[name] = &bucket{created: b.Now(), objects: map[string]*object{}}
	}
}

// Put stores an object directly, creating the bucket if needed.
func (b *Backend) Put(bucketName, key string, data []byte, modified time.Time) {
	b.AddBucket(bucketName)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buckets[bucketName].objects[key] = newObject(data, "", modified, nil)
}

// PutSized stores a zero-filled object of size bytes.
func (b *Backend) PutSized(bucketName, key string, size int64, modified time.Time) {
	b.Put(bucketName, key, make([]byte, size), modified)
}

func (b *Backend) Has(bucketName, key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.buckets[bucketName]
	if !ok {
		return false
	}
	_, ok = bk.objects[key]
	return ok
}

func (b *Backend) Data(bucketName, key string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bk, ok := b.buckets[bucketName]; ok {
		if o, ok := bk.objects[key]; ok {
			return append([]byte(nil), o.data...)
		}
	}
	return nil
}

func newObject(data []byte, contentType string, modified time.Time, meta map[string]string) *object {
	sum := md5.Sum(data)
	return &object{data: data, contentType: contentType, modified: modified, etag: hex.EncodeToString(sum[:]), meta: meta}
}

func apiError(code, msg string) error {
	return &smithy.GenericAPIError{Code: code, Message: msg}
}

// begin records the call and applies failure injection. Caller holds no lock.
func (b *Backend) begin(op, bucketName, key string) error {
	b.mu.Lock()
	b.calls[op]++
	fail := b.Fail
	b.mu.Unlock()
	if fail != nil {
		return fail(op, bucketName, key)
	}
	return nil
}

func (b *Backend) bucket(name string) (*bucket, error) {
	bk, ok := b.buckets[name]
	if !ok {
		return nil, apiError("NoSuchBucket", "The specified bucket does not exist")
	}
	return bk, nil
}

func (b *Backend) ListBuckets(ctx context.Context, _ *awss3.ListBucketsInput, _ ...func(*awss3.Options)) (*awss3.ListBucketsOutput, error) {
	if err := b.begin("ListBuckets", "", ""); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.buckets))
	for n := range b.buckets {
		names = append(names, n)
	}
	sort.Strings(names)
	out := &awss3.ListBucketsOutput{}
	for _, n := range names {
		out.Buckets = append(out.Buckets, types.Bucket{Name: aws.String(n), CreationDate: aws.Time(b.buckets[n].created)})
	}
	return out, nil
}

func (b *Backend) CreateBucket(ctx context.Context, in *awss3.CreateBucketInput, _ ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error) {
	name := aws.ToString(in.Bucket)
	if err := b.begin("CreateBucket", name, ""); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[name]; ok {
		return nil, apiError("BucketAlreadyOwnedByYou", "Your previous request to create the named bucket succeeded and you already own it.")
	}
	b.buckets[name] = &bucket{created: b.Now(), objects: map[string]*object{}}
	return &awss3.CreateBucketOutput{}, nil
}

func (b *Backend) DeleteBucket(ctx context.Context, in *awss3.DeleteBucketInput, _ ...func(*awss3.Options)) (*awss3.DeleteBucketOutput, error) {
	name := aws.ToString(in.Bucket)
	if err := b.begin("DeleteBucket", name, ""); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, err := b.bucket(name)
	if err != nil {
		return nil, err
	}
	if len(bk.objects) > 0 {
		return nil, apiError("BucketNotEmpty", "The bucket you tried to delete is not empty")
	}
	delete(b.buckets, name)
	return &awss3.DeleteBucketOutput{}, nil
}

// ListObjectsV2 returns keys in lexical order. The continuation token is the
// last key (or common prefix) returned.
func (b *Backend) ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	name := aws.ToString(in.Bucket)
	if err := b.begin("ListObjectsV2", name, ""); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, err := b.bucket(name)
	if err != nil {
		return nil, err
	}

	prefix, delim, token := aws.ToString(in.Prefix), aws.ToString(in.Delimiter), aws.ToString(in.ContinuationToken)
	maxKeys := int(aws.ToInt32(in.MaxKeys))
	if maxKeys <= 0 || maxKeys > defaultMaxKeys {
		maxKeys = defaultMaxKeys
	}

	keys := make([]string, 0, len(bk.objects))
	for k := range bk.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &awss3.ListObjectsV2Output{Name: aws.String(name), Prefix: in.Prefix, Delimiter: in.Delimiter, MaxKeys: aws.Int32(int32(maxKeys))}
	seen := map[string]bool{}
	count := 0
	last := ""
	for _, k := range keys {
		if token != "" && (k <= token || (delim != "" && strings.HasSuffix(token, delim) && strings.HasPrefix(k, token))) {
			continue
		}
		cp := ""
		if delim != "" {
			if idx := strings.Index(k[len(prefix):], delim); idx >= 0 {
				cp = k[:len(prefix)+idx+len(delim)]
				if seen[cp] {
					continue
				}
			}
		}
		if count == maxKeys {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(last)
			break
		}
		count++
		if cp != "" {
			seen[cp] = true
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
			last = cp
			continue
		}
		o := bk.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(o.data))),
			LastModified: aws.Time(o.modified),
			ETag:         aws.String(strconv.Quote(o.etag)),
			StorageClass: types.ObjectStorageClassStandard,
		})
		last = k
	}
	if out.IsTruncated == nil {
		out.IsTruncated = aws.Bool(false)
	}
	out.KeyCount = aws.Int32(int32(count))
	return out, nil
}

func (b *Backend) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	name, key := aws.ToString(in.Bucket), aws.ToString(in.Key)
	if err := b.begin("PutObject", name, key); err != nil {
		return nil, err
	}
	var data []byte
	if in.Body != nil {
		var err error
		if data, err = io.ReadAll(in.Body); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, err := b.bucket(name)
	if err != nil {
		return nil, err
	}
	o := newObject(data, aws.ToString(in.ContentType), b.Now(), in.Metadata)
	bk.objects[key] = o
	return &awss3.PutObjectOutput{ETag: aws.String(strconv.Quote(o.etag))}, nil
}

func (b *Backend) GetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	name, key := aws.ToString(in.Bucket), aws.ToString(in.Key)
	if err := b.begin("GetObject", name, key); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.object(name, key)
	if err != nil {
		return nil, err
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(append([]byte(nil), o.data...))),
		ContentLength: aws.Int64(int64(len(o.data))),
		ContentType:   aws.String(o.contentType),
		LastModified:  aws.Time(o.modified),
		ETag:          aws.String(strconv.Quote(o.etag)),
		Metadata:      o.meta,
	}, nil
}

func (b *Backend) object(bucketName, key string) (*object, error) {
	bk, err := b.bucket(bucketName)
	if err != nil {
		return nil, err
	}
	o, ok := bk.objects[key]
	if !ok {
		return nil, apiError("NoSuchKey", "The specified key does not exist.")
	}
	return o, nil
}

func (b *Backend) DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	name, key := aws.ToString(in.Bucket), aws.ToString(in.Key)
	if err := b.begin("DeleteObject", name, key); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, err := b.bucket(name)
	if err != nil {
		return nil, err
	}
	delete(bk.objects, key)
	return &awss3.DeleteObjectOutput{}, nil
}

func (b *Backend) CopyObject(ctx context.Context, in *awss3.CopyObjectInput, _ ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error) {
	dstBucket, dstKey := aws.ToString(in.Bucket), aws.ToString(in.Key)
	srcBucket, rawKey, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	srcKey, err := url.PathUnescape(rawKey)
	if err != nil {
		return nil, apiError("InvalidArgument", "Copy Source must mention the source bucket and key")
	}
	if err := b.begin("CopyObject", srcBucket, srcKey); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src, err := b.object(srcBucket, srcKey)
	if err != nil {
		return nil, err
	}
	dst, err := b.bucket(dstBucket)
	if err != nil {
		return nil, err
	}
	dst.objects[dstKey] = newObject(append([]byte(nil), src.data...), src.contentType, b.Now(), src.meta)
	return &awss3.CopyObjectOutput{}, nil
}

func (b *Backend) HeadObject(ctx context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	name, key := aws.ToString(in.Bucket), aws.ToString(in.Key)
	if err := b.begin("HeadObject", name, key); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.object(name, key)
	if err != nil {
		return nil, apiError("NotFound", "Not Found")
	}
	return &awss3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.data))),
		ContentType:   aws.String(o.contentType),
		LastModified:  aws.Time(o.modified),
		ETag:          aws.String(strconv.Quote(o.etag)),
		Metadata:      o.meta,
		StorageClass:  types.StorageClassStandard,
	}, nil
}
