package s3

import (
	"context"
	"io"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/arencloud/s3keeper/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Client is a backend client scoped to one credential and one logical operation.
// It must be released exactly once; extra Release calls are no-ops.
type Client struct {
	api      API
	release  func()
	released atomic.Bool
}

// NewClient wraps api. release, if set, runs on the first Release.
func NewClient(api API, release func()) *Client {
	metrics.ClientAcquired()
	return &Client{api: api, release: release}
}

func (c *Client) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	metrics.ClientReleased()
	if c.release != nil {
		c.release()
	}
}

func (c *Client) Released() bool { return c.released.Load() }

func (c *Client) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	out, err := c.api.ListBuckets(ctx, &awss3.ListBucketsInput{})
	if err != nil {
		return nil, backendError(err)
	}
	buckets := make([]BucketInfo, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, BucketInfo{Name: aws.ToString(b.Name), CreationDate: aws.ToTime(b.CreationDate)})
	}
	return buckets, nil
}

func (c *Client) CreateBucket(ctx context.Context, name, region string) error {
	in := &awss3.CreateBucketInput{Bucket: aws.String(name)}
	// us-east-1 rejects an explicit location constraint
	if region != "" && region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	_, err := c.api.CreateBucket(ctx, in)
	return backendError(err)
}

func (c *Client) DeleteBucket(ctx context.Context, name string) error {
	_, err := c.api.DeleteBucket(ctx, &awss3.DeleteBucketInput{Bucket: aws.String(name)})
	return backendError(err)
}

// ListObjectsPage performs one ListObjectsV2 round trip.
func (c *Client) ListObjectsPage(ctx context.Context, p ListParams) (*ListPage, error) {
	in := &awss3.ListObjectsV2Input{Bucket: aws.String(p.Bucket)}
	if p.Prefix != "" {
		in.Prefix = aws.String(p.Prefix)
	}
	if p.Delimiter != "" {
		in.Delimiter = aws.String(p.Delimiter)
	}
	if p.ContinuationToken != "" {
		in.ContinuationToken = aws.String(p.ContinuationToken)
	}
	if p.MaxKeys > 0 {
		in.MaxKeys = aws.Int32(p.MaxKeys)
	}
	out, err := c.api.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, backendError(err)
	}
	page := &ListPage{
		Objects:               make([]ObjectInfo, 0, len(out.Contents)),
		CommonPrefixes:        make([]string, 0, len(out.CommonPrefixes)),
		NextContinuationToken: aws.ToString(out.NextContinuationToken),
		IsTruncated:           aws.ToBool(out.IsTruncated),
		KeyCount:              aws.ToInt32(out.KeyCount),
	}
	for _, o := range out.Contents {
		page.Objects = append(page.Objects, ObjectInfo{
			Key:          aws.ToString(o.Key),
			Size:         aws.ToInt64(o.Size),
			LastModified: aws.ToTime(o.LastModified),
			ETag:         strings.Trim(aws.ToString(o.ETag), `"`),
			StorageClass: string(o.StorageClass),
		})
	}
	for _, cp := range out.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(cp.Prefix))
	}
	if !page.IsTruncated {
		page.NextContinuationToken = ""
	}
	return page, nil
}

func (c *Client) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (string, error) {
	in := &awss3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	out, err := c.api.PutObject(ctx, in)
	if err != nil {
		return "", backendError(err)
	}
	return strings.Trim(aws.ToString(out.ETag), `"`), nil
}

// GetObject returns the body; the caller closes it before releasing the client.
func (c *Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error) {
	out, err := c.api.GetObject(ctx, &awss3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, ObjectInfo{}, backendError(err)
	}
	return out.Body, ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		ContentType:  aws.ToString(out.ContentType),
		Metadata:     out.Metadata,
	}, nil
}

func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := c.api.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	return backendError(err)
}

func (c *Client) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := c.api.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(srcBucket, srcKey)),
	})
	return backendError(err)
}

func (c *Client) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := c.api.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return ObjectInfo{}, backendError(err)
	}
	return ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		StorageClass: string(out.StorageClass),
		ContentType:  aws.ToString(out.ContentType),
		Metadata:     out.Metadata,
	}, nil
}

// copySource builds the x-amz-copy-source value: bucket/key with each key segment escaped.
func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segs, "/")
}
