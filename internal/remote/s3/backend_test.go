package s3_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/dvcsync/internal/content"
	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/remote"
	s3remote "github.com/TheMichaelB/dvcsync/internal/remote/s3"
)

type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	heads   int
	puts    int
	failPut int
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{
		buckets: map[string]bool{bucket: true},
		objects: make(map[string][]byte),
	}
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.buckets[aws.ToString(in.Bucket)] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads++
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ETag:          aws.String(`"` + content.MD5Bytes(data) + `"`),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.failPut > 0 {
		f.failPut--
		return nil, errors.New("connection reset by peer")
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func newBackend(t *testing.T, client s3remote.API, storagePath string) (*s3remote.Backend, string) {
	t.Helper()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	cacheDir := filepath.Join(t.TempDir(), "cache")
	settings := remote.Settings{
		Backend:  map[string]string{"StoragePath": storagePath},
		CacheDir: cacheDir,
	}
	b := s3remote.NewWithClient(client, settings, remote.ChecksumFunc(content.MD5File), logger)
	b.SetRetrier(remote.NewRetrier(2, time.Millisecond, logger))
	b.SetProgressOutput(&buf)
	return b, cacheDir
}

func cacheFile(t *testing.T, cacheDir, rel, data string) string {
	t.Helper()
	path := filepath.Join(cacheDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestSanityCheck(t *testing.T) {
	ctx := context.Background()

	b, _ := newBackend(t, newFakeS3("dvc-test"), "dvc-test/myrepo")
	assert.NoError(t, b.SanityCheck(ctx))

	missing, _ := newBackend(t, newFakeS3("other"), "dvc-test/myrepo")
	err := missing.SanityCheck(ctx)
	assert.True(t, models.IsConfigError(err))

	unset, _ := newBackend(t, newFakeS3("dvc-test"), "")
	err = unset.SanityCheck(ctx)
	assert.ErrorIs(t, err, models.ErrNoStoragePath)
}

func TestPushCompareAndPull(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("dvc-test")
	b, cacheDir := newBackend(t, fake, "dvc-test/myrepo")
	src := cacheFile(t, cacheDir, "0c/c175b9c0f1b6a831c399e269772661", "a")

	key, ok, err := b.GetKey(ctx, src)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "myrepo/0c/c175b9c0f1b6a831c399e269772661", key)

	pushed, err := b.PushObject(ctx, key, src)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, pushed)
	assert.Contains(t, fake.objects, "dvc-test/"+key)

	_, ok, err = b.GetKey(ctx, src)
	require.NoError(t, err)
	assert.True(t, ok, "push invalidates the cached HEAD")

	equal, err := b.CompareChecksum(ctx, key, src)
	require.NoError(t, err)
	assert.True(t, equal)

	dest := filepath.Join(t.TempDir(), "out.part")
	require.NoError(t, b.PullObject(ctx, key, dest, true))
	final := filepath.Join(filepath.Dir(dest), "out")
	require.NoError(t, os.Rename(dest, final), "dest is closed when the pull returns")
	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestHeadIsCached(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("dvc-test")
	b, cacheDir := newBackend(t, fake, "dvc-test")
	src := cacheFile(t, cacheDir, "0c/c175b9c0f1b6a831c399e269772661", "a")

	key, _, err := b.GetKey(ctx, src)
	require.NoError(t, err)
	_, err = b.PushObject(ctx, key, src)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := b.GetKey(ctx, src)
		require.NoError(t, err)
		_, err = b.CompareChecksum(ctx, key, src)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, fake.heads, "one HEAD before and one after the push")
}

func TestCompareChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("dvc-test")
	fake.objects["dvc-test/0c/c175b9c0f1b6a831c399e269772661"] = []byte("stale")
	b, cacheDir := newBackend(t, fake, "dvc-test")
	src := cacheFile(t, cacheDir, "0c/c175b9c0f1b6a831c399e269772661", "a")

	equal, err := b.CompareChecksum(ctx, "0c/c175b9c0f1b6a831c399e269772661", src)
	require.NoError(t, err)
	assert.False(t, equal)
}

func TestPullMissingKey(t *testing.T) {
	b, _ := newBackend(t, newFakeS3("dvc-test"), "dvc-test")
	dest := filepath.Join(t.TempDir(), "out.part")

	err := b.PullObject(context.Background(), "ab/missing", dest, false)
	assert.True(t, models.IsNotFound(err))

	var te *models.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "s3", te.Backend)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPushRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("dvc-test")
	fake.failPut = 1
	b, cacheDir := newBackend(t, fake, "dvc-test")
	src := cacheFile(t, cacheDir, "0c/c175b9c0f1b6a831c399e269772661", "a")

	_, err := b.PushObject(ctx, "0c/c175b9c0f1b6a831c399e269772661", src)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.puts)

	fake.failPut = 10
	_, err = b.PushObject(ctx, "0c/other", src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 5, fake.puts, fmt.Sprintf("puts=%d", fake.puts))
}
