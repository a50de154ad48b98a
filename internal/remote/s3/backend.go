// Package s3 implements the remote backend on Amazon S3 and S3-compatible
// endpoints through aws-sdk-go-v2.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/remote"
)

// Name is the backend type in configuration.
const Name = "s3"

const (
	headCacheSize = 4096
	headCacheTTL  = 5 * time.Minute
)

// API is the subset of the S3 client the backend calls.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type head struct {
	exists bool
	etag   string
	size   int64
}

// Backend stores objects in one bucket under the configured prefix.
type Backend struct {
	client      API
	settings    remote.Settings
	checksummer remote.Checksummer
	retrier     *remote.Retrier
	heads       *expirable.LRU[string, head]
	logger      *events.Logger
	progressOut io.Writer
}

// New builds a client from the backend settings. Recognized settings are
// region, profile, endpoint, accesskey and secretkey.
func New(ctx context.Context, settings remote.Settings, checksummer remote.Checksummer, logger *events.Logger) (*Backend, error) {
	var opts []func(*config.LoadOptions) error
	if region := settings.Get("region"); region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if profile := settings.Get("profile"); profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if ak, sk := settings.Get("accesskey"), settings.Get("secretkey"); ak != "" && sk != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(ak, sk, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := settings.Get("endpoint")
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, settings, checksummer, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, settings remote.Settings, checksummer remote.Checksummer, logger *events.Logger) *Backend {
	logger = logger.WithField("component", "s3_remote")
	return &Backend{
		client:      client,
		settings:    settings,
		checksummer: checksummer,
		retrier:     remote.NewRetrier(3, 500*time.Millisecond, logger),
		heads:       expirable.NewLRU[string, head](headCacheSize, nil, headCacheTTL),
		logger:      logger,
		progressOut: os.Stderr,
	}
}

// SetProgressOutput changes where transfer progress is written.
func (b *Backend) SetProgressOutput(w io.Writer) {
	b.progressOut = w
}

// SetRetrier replaces the retry policy.
func (b *Backend) SetRetrier(r *remote.Retrier) {
	b.retrier = r
}

// Name returns the backend type.
func (b *Backend) Name() string { return Name }

// SanityCheck verifies the bucket is reachable.
func (b *Backend) SanityCheck(ctx context.Context) error {
	bucket, err := b.settings.StorageBucket()
	if err != nil {
		return err
	}

	err = b.retrier.Do(ctx, func() error {
		_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if isNotFound(err) {
			return models.ErrObjectNotFound
		}
		return err
	})
	if models.IsNotFound(err) {
		return &models.ConfigError{Key: remote.StoragePathKey, Reason: fmt.Sprintf("bucket %q does not exist", bucket)}
	}
	if err != nil {
		return b.wrap("head_bucket", bucket, err)
	}
	return nil
}

// GetKey checks for the object with HEAD.
func (b *Backend) GetKey(ctx context.Context, cachePath string) (string, bool, error) {
	key, err := b.settings.CacheFileKey(cachePath)
	if err != nil {
		return "", false, err
	}

	h, err := b.head(ctx, key)
	if err != nil {
		return "", false, err
	}
	return key, h.exists, nil
}

// NewKey derives the key for cachePath.
func (b *Backend) NewKey(cachePath string) (string, error) {
	return b.settings.CacheFileKey(cachePath)
}

// CompareChecksum compares the object ETag with the local md5. Multipart
// ETags are not content digests and never match.
func (b *Backend) CompareChecksum(ctx context.Context, key, localPath string) (bool, error) {
	h, err := b.head(ctx, key)
	if err != nil {
		return false, err
	}
	if !h.exists {
		return false, b.wrap("compare", key, models.ErrObjectNotFound)
	}

	localMD5, err := b.checksummer.MD5(localPath)
	if err != nil {
		return false, err
	}

	if strings.Contains(h.etag, "-") {
		b.logger.WithField("key", key).Debug("Multipart ETag, treating as changed")
		return false, nil
	}
	return strings.EqualFold(h.etag, localMD5), nil
}

// PullObject streams the object into dest.
func (b *Backend) PullObject(ctx context.Context, key, dest string, showProgress bool) error {
	bucket, err := b.settings.StorageBucket()
	if err != nil {
		return err
	}

	err = b.retrier.Do(ctx, func() error {
		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if isNotFound(err) {
			return models.ErrObjectNotFound
		}
		if err != nil {
			return err
		}
		defer out.Body.Close()

		f, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("create %s: %w", dest, err)
		}
		defer f.Close()

		var r io.Reader = out.Body
		var progress *remote.Progress
		if showProgress {
			progress = remote.NewProgress(b.progressOut, key, aws.ToInt64(out.ContentLength))
			r = progress.Reader(out.Body)
		}

		if _, err := io.Copy(f, r); err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", dest, err)
		}
		if progress != nil {
			progress.Finish()
		}
		return nil
	})
	if err != nil {
		return b.wrap("get", key, err)
	}

	return nil
}

// PushObject uploads localPath with a single PUT.
func (b *Backend) PushObject(ctx context.Context, key, localPath string) ([]string, error) {
	bucket, err := b.settings.StorageBucket()
	if err != nil {
		return nil, err
	}

	err = b.retrier.Do(ctx, func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
		})
		return err
	})
	b.heads.Remove(key)
	if err != nil {
		return nil, b.wrap("put", key, err)
	}

	b.logger.WithField("key", key).Debug("Pushed object")
	return []string{key}, nil
}

func (b *Backend) head(ctx context.Context, key string) (head, error) {
	if h, ok := b.heads.Get(key); ok {
		return h, nil
	}

	bucket, err := b.settings.StorageBucket()
	if err != nil {
		return head{}, err
	}

	var h head
	err = b.retrier.Do(ctx, func() error {
		out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if isNotFound(err) {
			h = head{}
			return nil
		}
		if err != nil {
			return err
		}
		h = head{
			exists: true,
			etag:   strings.Trim(aws.ToString(out.ETag), `"`),
			size:   aws.ToInt64(out.ContentLength),
		}
		return nil
	})
	if err != nil {
		return head{}, b.wrap("head", key, err)
	}

	b.heads.Add(key, h)
	return h, nil
}

func (b *Backend) wrap(op, key string, err error) error {
	return &models.TransportError{Backend: Name, Op: op, Key: key, Err: err}
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var nf *types.NotFound
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	if errors.As(err, &nf) || errors.As(err, &nsk) || errors.As(err, &nsb) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

var _ remote.Backend = (*Backend)(nil)
