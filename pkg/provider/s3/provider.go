package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/simrun/pkg/provider"
)

// Provider keeps job documents in one bucket under an optional key prefix.
// Callers see keys relative to that prefix.
type Provider struct {
	client   *s3.Client
	bucket   string
	prefix   string
	pageSize int32
}

var _ provider.ReadWriter = (*Provider)(nil)

// New creates an S3 provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.OpError{Op: provider.OpOpen, Store: "s3://" + cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Provider{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.normalizedPrefix(),
		pageSize: pageSize(cfg.MaxKeys, DefaultMaxKeys),
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only pin the region when configured; otherwise env/profile resolve it.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	// S3-compatible endpoints get no implicit region.
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}
	return awsCfg, nil
}

// List returns one page of keys under opts.Prefix.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	size := p.pageSize
	if opts.MaxKeys > 0 {
		size = pageSize(opts.MaxKeys, int(p.pageSize))
	}
	input := &s3.ListObjectsV2Input{Bucket: aws.String(p.bucket), MaxKeys: aws.Int32(size)}
	if full := p.fullKey(opts.Prefix); full != "" {
		input.Prefix = aws.String(full)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	out, err := p.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, p.fail(provider.OpList, opts.Prefix, err)
	}

	res := &provider.ListResult{
		Objects:           make([]provider.ObjectSummary, 0, len(out.Contents)),
		IsTruncated:       aws.ToBool(out.IsTruncated),
		ContinuationToken: aws.ToString(out.NextContinuationToken),
	}
	for _, obj := range out.Contents {
		res.Objects = append(res.Objects, provider.ObjectSummary{
			Key:          strings.TrimPrefix(aws.ToString(obj.Key), p.prefix),
			Size:         aws.ToInt64(obj.Size),
			ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return res, nil
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.fullKey(key)),
	})
	if err != nil {
		return nil, p.fail(provider.OpStat, key, err)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
			LastModified: aws.ToTime(out.LastModified),
		},
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
	}, nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.fullKey(key)),
	})
	if err != nil {
		return nil, 0, p.fail(provider.OpRead, key, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// PutObject replaces key in one request, so readers see the old document or
// the new one and never a mix.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(p.fullKey(key)),
		Body:          body,
		ContentLength: aws.Int64(contentLength),
	})
	if err != nil {
		return p.fail(provider.OpWrite, key, err)
	}
	return nil
}

// DeleteObject removes key. S3 reports success for missing keys.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.fullKey(key)),
	})
	if err != nil {
		return p.fail(provider.OpDelete, key, err)
	}
	return nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) fullKey(key string) string {
	return p.prefix + strings.TrimPrefix(key, "/")
}

func (p *Provider) store() string {
	return "s3://" + p.bucket + "/" + p.prefix
}

func (p *Provider) fail(op, key string, err error) error {
	return &provider.OpError{Op: op, Store: p.store(), Key: key, Err: classify(err)}
}

// errorCodes maps S3 error codes onto store sentinels.
var errorCodes = map[string]error{
	"NoSuchKey":             provider.ErrNotFound,
	"NotFound":              provider.ErrNotFound,
	"NoSuchBucket":          provider.ErrNoBucket,
	"AccessDenied":          provider.ErrAccessDenied,
	"Forbidden":             provider.ErrAccessDenied,
	"InvalidAccessKeyId":    provider.ErrAccessDenied,
	"SignatureDoesNotMatch": provider.ErrAccessDenied,
	"SlowDown":              provider.ErrUnavailable,
	"Throttling":            provider.ErrUnavailable,
	"RequestLimitExceeded":  provider.ErrUnavailable,
	"ServiceUnavailable":    provider.ErrUnavailable,
	"InternalError":         provider.ErrUnavailable,
}

// classify returns the sentinel for err, or err itself when none applies.
// Typed SDK errors and API codes win; the HTTP status is the fallback for
// S3-compatible stores with their own codes.
func classify(err error) error {
	var (
		noSuchKey    *types.NoSuchKey
		notFound     *types.NotFound
		noSuchBucket *types.NoSuchBucket
		apiErr       smithy.APIError
		statusErr    interface{ HTTPStatusCode() int }
	)
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return provider.ErrNotFound
	case errors.As(err, &noSuchBucket):
		return provider.ErrNoBucket
	}
	if errors.As(err, &apiErr) {
		if sentinel, ok := errorCodes[apiErr.ErrorCode()]; ok {
			return sentinel
		}
	}
	if errors.As(err, &statusErr) {
		switch code := statusErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return provider.ErrNotFound
		case code == http.StatusForbidden:
			return provider.ErrAccessDenied
		case code == http.StatusTooManyRequests, code >= 500:
			return provider.ErrUnavailable
		}
	}
	return err
}

// pageSize bounds a requested list page to what S3 accepts.
func pageSize(requested, fallback int) int32 {
	if requested <= 0 {
		requested = fallback
	}
	return int32(min(requested, MaxAllowedKeys))
}
