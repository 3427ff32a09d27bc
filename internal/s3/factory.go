package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arencloud/s3keeper/internal/logging"
	"github.com/arencloud/s3keeper/internal/models"
	"github.com/arencloud/s3keeper/internal/secrets"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

const checkTimeout = 15 * time.Second

// Params are the plaintext connection settings for one client.
type Params struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
}

// Factory builds per-operation clients from stored credentials.
// It is the only component that decrypts secret keys.
type Factory struct {
	cipher secrets.Cipher
	log    logging.Logger
}

func NewFactory(cipher secrets.Cipher, log logging.Logger) *Factory {
	return &Factory{cipher: cipher, log: log}
}

// Acquire returns a fresh client for cred. The caller must Release it.
func (f *Factory) Acquire(_ context.Context, cred *models.Credential) (*Client, error) {
	p, err := f.params(cred)
	if err != nil {
		return nil, err
	}
	api, tr := newAPI(p)
	f.log.Debug("s3 client acquired", "credentialId", cred.ID, "accessKey", logging.MaskKey(cred.AccessKey), "endpoint", p.Endpoint)
	return NewClient(api, tr.CloseIdleConnections), nil
}

// CheckConnection checks that p can list buckets on the backend.
func (f *Factory) CheckConnection(ctx context.Context, p Params) error {
	api, tr := newAPI(p)
	c := NewClient(api, tr.CloseIdleConnections)
	defer c.Release()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	_, err := c.ListBuckets(ctx)
	return err
}

// Presign returns a GET URL for bucket/key valid for ttl. No request is sent.
func (f *Factory) Presign(ctx context.Context, cred *models.Credential, bucket, key string, ttl time.Duration) (string, error) {
	p, err := f.params(cred)
	if err != nil {
		return "", err
	}
	api, tr := newAPI(p)
	defer tr.CloseIdleConnections()

	req, err := awss3.NewPresignClient(api).PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", backendError(err)
	}
	return req.URL, nil
}

func (f *Factory) params(cred *models.Credential) (Params, error) {
	if cred == nil {
		return Params{}, errors.New("s3: nil credential")
	}
	secret, err := f.cipher.Decrypt(cred.SecretKeyEnc)
	if err != nil {
		// never include the ciphertext or key material
		return Params{}, fmt.Errorf("s3: decrypt secret for credential %s: %w", cred.ID, err)
	}
	return Params{AccessKey: cred.AccessKey, SecretKey: secret, Region: cred.Region, Endpoint: cred.Endpoint}, nil
}

// newAPI builds an SDK client with its own transport so Release can close
// exactly this client's connections.
func newAPI(p Params) (*awss3.Client, *http.Transport) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	opts := awss3.Options{
		Region:      p.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(p.AccessKey, p.SecretKey, "")),
		HTTPClient:  &http.Client{Transport: tr},
		Retryer:     aws.NopRetryer{},
		// S3-compatible backends often reject the newer default checksums
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}
	if ep := normalizeEndpoint(p.Endpoint); ep != "" {
		opts.BaseEndpoint = aws.String(ep)
		opts.UsePathStyle = forcePathStyle(ep)
	}
	return awss3.New(opts), tr
}

// normalizeEndpoint adds an https scheme when none is given.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return ""
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return endpoint
}

// forcePathStyle is true for everything except AWS hosts, which prefer virtual-hosted style.
func forcePathStyle(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return true
	}
	return !strings.HasSuffix(strings.ToLower(u.Hostname()), ".amazonaws.com")
}
