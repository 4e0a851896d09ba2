package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

const Scheme = "s3"

// ObjectGetter is the part of the S3 client the transport needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Transport reads packages stored as S3 objects (s3://bucket/key). Clients
// are created lazily and pinned to each bucket's region.
type Transport struct {
	profile string
	// bucketRegion looks up where a bucket lives; it is swapped in tests.
	bucketRegion func(ctx context.Context, cfg aws.Config, bucket string) (string, error)

	mu      sync.Mutex
	cfg     *aws.Config
	clients map[string]ObjectGetter
}

func New(profile string) *Transport {
	return &Transport{
		profile:      profile,
		bucketRegion: lookupBucketRegion,
		clients:      make(map[string]ObjectGetter),
	}
}

func lookupBucketRegion(ctx context.Context, cfg aws.Config, bucket string) (string, error) {
	return manager.GetBucketRegion(ctx, s3.NewFromConfig(cfg), bucket)
}

// NewWithClient serves every bucket from client.
func NewWithClient(client ObjectGetter) *Transport {
	t := New("")
	t.clients[""] = client
	return t
}

func (t *Transport) Open(ctx context.Context, uri *url.URL) (io.ReadCloser, int64, error) {
	bucket, key, err := parseS3URL(uri)
	if err != nil {
		return nil, 0, err
	}
	client, err := t.clientFor(ctx, bucket)
	if err != nil {
		return nil, 0, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("error getting s3://%s/%s: %w", bucket, key, err)
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	log.Debug().Str("op", "s3/transport").Msgf("opened s3://%s/%s (%d bytes)", bucket, key, size)
	return out.Body, size, nil
}

// clientFor only holds t.mu around cache access; config loading and the
// region lookup run unlocked so buckets do not wait on each other.
func (t *Transport) clientFor(ctx context.Context, bucket string) (ObjectGetter, error) {
	t.mu.Lock()
	if c, ok := t.clients[""]; ok {
		t.mu.Unlock()
		return c, nil
	}
	if c, ok := t.clients[bucket]; ok {
		t.mu.Unlock()
		return c, nil
	}
	cached := t.cfg
	t.mu.Unlock()

	cfg, err := t.awsConfig(ctx, cached)
	if err != nil {
		return nil, err
	}
	var client ObjectGetter
	region, err := t.bucketRegion(ctx, cfg, bucket)
	if err != nil {
		log.Warn().Str("op", "s3/transport").Msgf("could not determine region of %s, using default: %v", bucket, err)
		client = s3.NewFromConfig(cfg)
	} else {
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.Region = region
		})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[bucket]; ok {
		return c, nil
	}
	t.clients[bucket] = client
	return client, nil
}

func (t *Transport) awsConfig(ctx context.Context, cached *aws.Config) (aws.Config, error) {
	if cached != nil {
		return *cached, nil
	}
	opts := []func(*config.LoadOptions) error{config.WithRetryMode(aws.RetryModeAdaptive)}
	if t.profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(t.profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("error loading AWS config: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg == nil {
		t.cfg = &cfg
	}
	return *t.cfg, nil
}

func parseS3URL(uri *url.URL) (string, string, error) {
	if !strings.EqualFold(uri.Scheme, Scheme) {
		return "", "", fmt.Errorf("not an s3 url: %s", uri)
	}
	bucket := uri.Host
	key := strings.TrimPrefix(uri.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 URL format: %s", uri)
	}
	return bucket, key, nil
}
