// Package minio implements the remote backend on MinIO and other
// S3-compatible servers through minio-go.
package minio

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/remote"
)

// Name is the backend type in configuration.
const Name = "minio"

const (
	statCacheSize = 4096
	statCacheTTL  = 5 * time.Minute
)

// API is the subset of *minio.Client the backend calls.
type API interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

type stat struct {
	exists bool
	etag   string
	size   int64
}

// Backend stores objects in a MinIO bucket.
type Backend struct {
	client      API
	settings    remote.Settings
	checksummer remote.Checksummer
	retrier     *remote.Retrier
	stats       *expirable.LRU[string, stat]
	logger      *events.Logger
	progressOut io.Writer
}

// New connects using the endpoint, accesskey, secretkey and usessl
// settings.
func New(settings remote.Settings, checksummer remote.Checksummer, logger *events.Logger) (*Backend, error) {
	endpoint := settings.Get("endpoint")
	if endpoint == "" {
		return nil, &models.ConfigError{Key: "minio.endpoint", Reason: "not set"}
	}

	secure := true
	if v := settings.Get("usessl"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &models.ConfigError{Key: "minio.usessl", Reason: err.Error()}
		}
		secure = parsed
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(settings.Get("accesskey"), settings.Get("secretkey"), ""),
		Secure: secure,
		Region: settings.Get("region"),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return NewWithClient(client, settings, checksummer, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, settings remote.Settings, checksummer remote.Checksummer, logger *events.Logger) *Backend {
	logger = logger.WithField("component", "minio_remote")
	return &Backend{
		client:      client,
		settings:    settings,
		checksummer: checksummer,
		retrier:     remote.NewRetrier(3, 500*time.Millisecond, logger),
		stats:       expirable.NewLRU[string, stat](statCacheSize, nil, statCacheTTL),
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

// SanityCheck verifies the bucket exists.
func (b *Backend) SanityCheck(ctx context.Context) error {
	bucket, err := b.settings.StorageBucket()
	if err != nil {
		return err
	}

	var exists bool
	err = b.retrier.Do(ctx, func() error {
		var err error
		exists, err = b.client.BucketExists(ctx, bucket)
		return err
	})
	if err != nil {
		return b.wrap("bucket_exists", bucket, err)
	}
	if !exists {
		return &models.ConfigError{Key: remote.StoragePathKey, Reason: fmt.Sprintf("bucket %q does not exist", bucket)}
	}
	return nil
}

// GetKey checks for the object with StatObject.
func (b *Backend) GetKey(ctx context.Context, cachePath string) (string, bool, error) {
	key, err := b.settings.CacheFileKey(cachePath)
	if err != nil {
		return "", false, err
	}

	st, err := b.stat(ctx, key)
	if err != nil {
		return "", false, err
	}
	return key, st.exists, nil
}

// NewKey derives the key for cachePath.
func (b *Backend) NewKey(cachePath string) (string, error) {
	return b.settings.CacheFileKey(cachePath)
}

// CompareChecksum compares the object ETag with the local md5.
func (b *Backend) CompareChecksum(ctx context.Context, key, localPath string) (bool, error) {
	st, err := b.stat(ctx, key)
	if err != nil {
		return false, err
	}
	if !st.exists {
		return false, b.wrap("compare", key, models.ErrObjectNotFound)
	}

	localMD5, err := b.checksummer.MD5(localPath)
	if err != nil {
		return false, err
	}

	if strings.Contains(st.etag, "-") {
		return false, nil
	}
	return strings.EqualFold(st.etag, localMD5), nil
}

// PullObject downloads the object into dest.
func (b *Backend) PullObject(ctx context.Context, key, dest string, showProgress bool) error {
	bucket, err := b.settings.StorageBucket()
	if err != nil {
		return err
	}

	err = b.retrier.Do(ctx, func() error {
		err := b.client.FGetObject(ctx, bucket, key, dest, minio.GetObjectOptions{})
		if isNotFound(err) {
			return models.ErrObjectNotFound
		}
		return err
	})
	if err != nil {
		return b.wrap("get", key, err)
	}

	if showProgress {
		if info, err := os.Stat(dest); err == nil {
			p := remote.NewProgress(b.progressOut, key, info.Size())
			p.Add(info.Size())
			p.Finish()
		}
	}

	return nil
}

// PushObject uploads localPath.
func (b *Backend) PushObject(ctx context.Context, key, localPath string) ([]string, error) {
	bucket, err := b.settings.StorageBucket()
	if err != nil {
		return nil, err
	}

	err = b.retrier.Do(ctx, func() error {
		_, err := b.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		return err
	})
	b.stats.Remove(key)
	if err != nil {
		return nil, b.wrap("put", key, err)
	}

	b.logger.WithField("key", key).Debug("Pushed object")
	return []string{key}, nil
}

func (b *Backend) stat(ctx context.Context, key string) (stat, error) {
	if st, ok := b.stats.Get(key); ok {
		return st, nil
	}

	bucket, err := b.settings.StorageBucket()
	if err != nil {
		return stat{}, err
	}

	var st stat
	err = b.retrier.Do(ctx, func() error {
		info, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
		if isNotFound(err) {
			st = stat{}
			return nil
		}
		if err != nil {
			return err
		}
		st = stat{exists: true, etag: strings.Trim(info.ETag, `"`), size: info.Size}
		return nil
	})
	if err != nil {
		return stat{}, b.wrap("stat", key, err)
	}

	b.stats.Add(key, st)
	return st, nil
}

func (b *Backend) wrap(op, key string, err error) error {
	return &models.TransportError{Backend: Name, Op: op, Key: key, Err: err}
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject", "NotFound":
		return true
	}
	return false
}

var _ remote.Backend = (*Backend)(nil)
