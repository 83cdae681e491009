// Package remote mirrors the task cache to an S3-compatible bucket so that
// build machines sharing a checkout layout can reuse each other's results.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ubuild/internal/config"
)

// Bucket is the object storage the mirror talks to.
type Bucket interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
	// List returns every key below prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// S3Bucket is a Bucket backed by the S3 API.
type S3Bucket struct {
	Client *s3.Client
	Name   string
}

// NewS3Bucket connects to the bucket configured in r. Static credentials
// are used when both keys are set, the default AWS chain otherwise.
func NewS3Bucket(ctx context.Context, r config.Remote, debug bool) (*S3Bucket, error) {
	if !r.Enabled() {
		return nil, errors.New("no remote bucket configured")
	}
	region := r.Region
	if region == "" {
		region = "auto"
	}
	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if r.AccessKey != "" && r.SecretKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(r.AccessKey, r.SecretKey, "")))
	}
	if debug {
		options = append(options, awsconfig.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if r.Endpoint != "" {
			o.BaseEndpoint = aws.String(r.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Bucket{Client: client, Name: r.Bucket}, nil
}

// Get implements Bucket.
func (b *S3Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Name),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Put implements Bucket.
func (b *S3Bucket) Put(ctx context.Context, key string, body []byte) error {
	_, err := b.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.Name),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/zstd"),
	})
	return err
}

// List implements Bucket.
func (b *S3Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(b.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.Name),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// objectKey maps a cache key to its object name below prefix.
func objectKey(prefix, key string) string {
	return path.Join(prefix, key[:min(2, len(key))], key+".zst")
}

// cacheKey is the inverse of objectKey. ok is false for foreign objects.
func cacheKey(object string) (string, bool) {
	name := path.Base(object)
	key, ok := strings.CutSuffix(name, ".zst")
	return key, ok && key != ""
}
