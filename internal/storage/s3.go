// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/lsst-ts/rubintv/internal/logging"
)

const (
	// opTimeout bounds every single store call.
	opTimeout = 30 * time.Second

	// presignTTL is how long direct media URLs stay valid.
	presignTTL = 5 * time.Minute

	// EndpointTesting disables the endpoint override so tests can build
	// a client against the SDK defaults without talking to anything.
	EndpointTesting = "testing"
)

// S3Config holds connection settings for one location's bucket.
type S3Config struct {
	Bucket string
	// Profile selects a shared-config credentials profile. Empty uses
	// the default credential chain.
	Profile string
	Region  string
	// Endpoint overrides the S3 endpoint for compatible stores (MinIO).
	// Empty or EndpointTesting leaves the SDK default in place.
	Endpoint string
	// AccessKey/SecretKey set static credentials, overriding Profile.
	AccessKey string
	SecretKey string
}

// S3Client implements Client against an S3-compatible store.
type S3Client struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	listBreaker   *gobreaker.CircuitBreaker[[]Object]
}

// NewS3Client builds a client for one bucket. The listing path is wrapped
// in a circuit breaker so a flapping endpoint trips open instead of being
// hammered every poll interval.
func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" && cfg.Endpoint != EndpointTesting {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Required for MinIO and most S3-compatible stores.
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	c := &S3Client{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		listBreaker:   newListBreaker(cfg.Bucket),
	}

	logging.Info().
		Str("bucket", cfg.Bucket).
		Str("profile", cfg.Profile).
		Str("endpoint", cfg.Endpoint).
		Msg("s3 client initialized")

	return c, nil
}

func newListBreaker(bucket string) *gobreaker.CircuitBreaker[[]Object] {
	return gobreaker.NewCircuitBreaker[[]Object](gobreaker.Settings{
		Name:    "s3-list-" + bucket,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("listing breaker state change")
		},
	})
}

// Bucket returns the bucket name.
func (c *S3Client) Bucket() string { return c.bucket }

// ListObjects returns every object under prefix via paginated ListObjectsV2.
func (c *S3Client) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	return c.listBreaker.Execute(func() ([]Object, error) {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		var objects []Object
		paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(c.bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("listing %s/%s: %w", c.bucket, prefix, err)
			}
			for _, obj := range page.Contents {
				objects = append(objects, Object{
					Key:  aws.ToString(obj.Key),
					Hash: stripETag(aws.ToString(obj.ETag)),
				})
			}
		}
		return objects, nil
	})
}

// GetJSON fetches and decodes one JSON object; missing keys are (nil, nil).
func (c *S3Client) GetJSON(ctx context.Context, key string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting %s/%s: %w", c.bucket, key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", c.bucket, key, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", c.bucket, key, err)
	}
	return decoded, nil
}

// GetObject opens the object body, forwarding an optional Range header.
func (c *S3Client) GetObject(ctx context.Context, key, rangeSpec string) (*ObjectStream, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if rangeSpec != "" {
		input.Range = aws.String(rangeSpec)
	}

	// No timeout here: the caller streams the body and owns its lifetime.
	out, err := c.client.GetObject(ctx, input)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, c.bucket, key)
		}
		return nil, fmt.Errorf("getting %s/%s: %w", c.bucket, key, err)
	}

	return &ObjectStream{
		Body:          out.Body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		ContentRange:  aws.ToString(out.ContentRange),
	}, nil
}

// PresignURL returns a presigned GET URL valid for presignTTL.
func (c *S3Client) PresignURL(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	req, err := c.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", fmt.Errorf("presigning %s/%s: %w", c.bucket, key, err)
	}
	return req.URL, nil
}

// stripETag removes the quoting S3 puts around ETag values.
func stripETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// isNoSuchKey matches the store's missing-key error shapes. MinIO and AWS
// agree on NoSuchKey for GET; HEAD-style 404s appear as NotFound.
func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
