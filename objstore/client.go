// Package objstore wraps the S3-compatible object storage used as the
// evacuation target for collection archives: presigned PUT URL generation
// so a remote agent can upload without the engine streaming bytes itself,
// and HEAD-based verification that an upload actually landed.
package objstore

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/0x4n6nerd/rtrtriage/errors"
)

// DefaultPresignExpiry bounds how long a generated PUT URL stays valid.
const DefaultPresignExpiry = 30 * time.Minute

// Client generates presigned upload URLs and verifies completed uploads
// against one S3-compatible bucket.
type Client struct {
	bucket  string
	region  string
	s3      *s3.Client
	presign *s3.PresignClient
}

// Option configures Client construction.
type Option func(*clientOptions)

type clientOptions struct {
	endpointURL     string
	accessKeyID     string
	secretAccessKey string
}

// WithEndpointURL overrides the service endpoint for S3-compatible
// providers that are not AWS itself.
func WithEndpointURL(url string) Option {
	return func(o *clientOptions) { o.endpointURL = url }
}

// WithStaticCredentials overrides the default credential chain.
func WithStaticCredentials(accessKeyID, secretAccessKey string) Option {
	return func(o *clientOptions) {
		o.accessKeyID = accessKeyID
		o.secretAccessKey = secretAccessKey
	}
}

// New builds a Client for bucket in region, loading credentials from the
// default AWS chain unless overridden by options.
func New(ctx context.Context, bucket, region string, opts ...Option) (*Client, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	var cfgOpts []func(*awsconfig.LoadOptions) error
	cfgOpts = append(cfgOpts, awsconfig.WithRegion(region))
	if o.accessKeyID != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.accessKeyID, o.secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	s3Client := s3.NewFromConfig(cfg, func(opts *s3.Options) {
		if o.endpointURL != "" {
			opts.BaseEndpoint = aws.String(o.endpointURL)
		}
	})

	return &Client{
		bucket:  bucket,
		region:  region,
		s3:      s3Client,
		presign: s3.NewPresignClient(s3Client),
	}, nil
}

// PresignPut generates a presigned PUT URL for key, valid for expiry (0
// uses DefaultPresignExpiry).
func (c *Client) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}

	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", errors.Wrapf(err, "presign put for key %s", key)
	}

	return req.URL, nil
}

// HeadResult describes a verified object.
type HeadResult struct {
	Exists        bool
	ContentLength int64
}

// HeadObject checks whether key exists in the bucket and returns its size.
// A missing object is reported as HeadResult{Exists: false}, not an error.
func (c *Client) HeadObject(ctx context.Context, key string) (HeadResult, error) {
	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return HeadResult{Exists: false}, nil
		}
		return HeadResult{}, errors.Wrapf(err, "head object %s", key)
	}

	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return HeadResult{Exists: true, ContentLength: size}, nil
}

// VerifyUpload confirms an upload completed: key must exist, and if
// expectedSize is non-zero the object's size must match within
// max(1 KiB, 1%).
func (c *Client) VerifyUpload(ctx context.Context, key string, expectedSize int64) error {
	head, err := c.HeadObject(ctx, key)
	if err != nil {
		return err
	}
	if !head.Exists {
		return errors.Wrapf(errors.ErrTransferFailed, "object %s not found after upload", key)
	}
	if expectedSize <= 0 {
		return nil
	}

	tolerance := expectedSize / 100
	if tolerance < 1024 {
		tolerance = 1024
	}
	diff := head.ContentLength - expectedSize
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return errors.Wrapf(errors.ErrTransferFailed, "object %s size %d does not match expected %d (tolerance %d)", key, head.ContentLength, expectedSize, tolerance)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf interface{ ErrorCode() string }
	if errors.As(err, &nf) {
		switch nf.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
