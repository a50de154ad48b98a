package sync_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/dvcsync/internal/cache"
	"github.com/TheMichaelB/dvcsync/internal/content"
	"github.com/TheMichaelB/dvcsync/internal/events"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/remote"
	"github.com/TheMichaelB/dvcsync/internal/services/sync"
	"github.com/TheMichaelB/dvcsync/internal/state"
)

type fixture struct {
	cache   *cache.Cache
	backend *remote.MemoryBackend
	engine  *sync.Engine
	work    string
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, storagePath string) *fixture {
	t.Helper()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := state.Open(state.NewMemoryPersister(map[string]state.Entry{}), logger)
	require.NoError(t, err)

	root := t.TempDir()
	c, err := cache.New(filepath.Join(root, "cache"), store, logger)
	require.NoError(t, err)

	backend := remote.NewMemoryBackend(remote.Settings{
		GlobalStoragePath: storagePath,
		CacheDir:          c.Dir(),
	})

	return &fixture{
		cache:   c,
		backend: backend,
		engine:  sync.NewEngine(backend, c, &sync.SyncConfig{Jobs: 4}, logger),
		work:    filepath.Join(root, "work"),
		logs:    &buf,
	}
}

func (f *fixture) addFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(f.work, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	h, err := f.cache.Add(path)
	require.NoError(t, err)
	return f.cache.Path(h)
}

func (f *fixture) addDir(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(f.work, name)
	for rel, data := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	}

	h, err := f.cache.Add(dir)
	require.NoError(t, err)
	require.True(t, h.IsDir())
	return f.cache.Path(h)
}

func (f *fixture) key(t *testing.T, path string) string {
	t.Helper()
	key, err := f.backend.NewKey(path)
	require.NoError(t, err)
	return key
}

func TestDefaultJobs(t *testing.T) {
	assert.Positive(t, sync.DefaultJobs())
	assert.Zero(t, sync.DefaultJobs()%8)

	f := newFixture(t, "bucket")
	logger := events.Discard()
	e := sync.NewEngine(f.backend, f.cache, &sync.SyncConfig{}, logger)
	assert.Equal(t, sync.DefaultJobs(), e.Jobs())
}

func TestStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("remote missing is new", func(t *testing.T) {
		f := newFixture(t, "bucket/prefix")
		path := f.addFile(t, "a.txt", "alpha")

		status, err := f.engine.Status(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, models.StatusNew, status)
	})

	t.Run("matching checksum is ok", func(t *testing.T) {
		f := newFixture(t, "bucket/prefix")
		path := f.addFile(t, "a.txt", "alpha")
		f.backend.Put(f.key(t, path), []byte("alpha"))

		status, err := f.engine.Status(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, models.StatusOk, status)
	})

	t.Run("different checksum is modified", func(t *testing.T) {
		f := newFixture(t, "bucket/prefix")
		path := f.addFile(t, "a.txt", "alpha")
		f.backend.Put(f.key(t, path), []byte("corrupted"))

		status, err := f.engine.Status(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, models.StatusModified, status)
	})

	t.Run("local missing is deleted", func(t *testing.T) {
		f := newFixture(t, "bucket/prefix")
		path := f.cache.Path(models.FileHash(content.MD5Bytes([]byte("beta"))))
		f.backend.Put(f.key(t, path), []byte("beta"))

		status, err := f.engine.Status(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeleted, status)
		assert.Zero(t, f.backend.Calls("compare"))
	})
}

func TestPush(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads new object", func(t *testing.T) {
		f := newFixture(t, "bucket/prefix")
		path := f.addFile(t, "a.txt", "alpha")

		keys, err := f.engine.Push(ctx, path)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, f.key(t, path), keys[0])

		data, ok := f.backend.Object(keys[0])
		require.True(t, ok)
		assert.Equal(t, "alpha", string(data))
	})

	t.Run("matching remote is a no-op", func(t *testing.T) {
		f := newFixture(t, "bucket/prefix")
		path := f.addFile(t, "a.txt", "alpha")
		f.backend.Put(f.key(t, path), []byte("alpha"))

		keys, err := f.engine.Push(ctx, path)
		require.NoError(t, err)
		assert.NotNil(t, keys)
		assert.Empty(t, keys)
		assert.Zero(t, f.backend.Calls("push"))
	})

	t.Run("mismatching remote is overwritten", func(t *testing.T) {
		f := newFixture(t, "bucket/prefix")
		path := f.addFile(t, "a.txt", "alpha")
		f.backend.Put(f.key(t, path), []byte("stale"))

		keys, err := f.engine.Push(ctx, path)
		require.NoError(t, err)
		assert.Len(t, keys, 1)
		assert.Equal(t, 1, f.backend.Calls("push"))

		data, _ := f.backend.Object(keys[0])
		assert.Equal(t, "alpha", string(data))
	})

	t.Run("transport error propagates", func(t *testing.T) {
		f := newFixture(t, "bucket/prefix")
		path := f.addFile(t, "a.txt", "alpha")
		boom := errors.New("connection reset")
		f.backend.FailKeys[f.key(t, path)] = boom

		_, err := f.engine.Push(ctx, path)
		assert.ErrorIs(t, err, boom)
	})
}

func TestPull(t *testing.T) {
	ctx := context.Background()

	t.Run("downloads object", func(t *testing.T) {
		f := newFixture(t, "bucket/prefix")
		path := f.cache.Path(models.FileHash(content.MD5Bytes([]byte("gamma"))))
		f.backend.Put(f.key(t, path), []byte("gamma"))

		key, ok, err := f.engine.Pull(ctx, path)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, f.key(t, path), key)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "gamma", string(data))
		assert.NoFileExists(t, path+sync.PartSuffix)
	})

	t.Run("missing remote leaves nothing behind", func(t *testing.T) {
		f := newFixture(t, "bucket/prefix")
		path := f.cache.Path(models.FileHash(content.MD5Bytes([]byte("delta"))))

		key, ok, err := f.engine.Pull(ctx, path)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, key)
		assert.NoFileExists(t, path)
		assert.NoFileExists(t, path+sync.PartSuffix)
		assert.Contains(t, f.logs.String(), "Object does not exist in the cloud")
	})

	t.Run("failed transfer removes part file", func(t *testing.T) {
		f := newFixture(t, "bucket/prefix")
		path := f.cache.Path(models.FileHash(content.MD5Bytes([]byte("eps"))))
		f.backend.Put(f.key(t, path), []byte("eps"))
		boom := errors.New("timeout")
		f.backend.FailKeys[f.key(t, path)] = boom

		_, ok, err := f.engine.Pull(ctx, path)
		assert.ErrorIs(t, err, boom)
		assert.False(t, ok)
		assert.NoFileExists(t, path)
		assert.NoFileExists(t, path+sync.PartSuffix)
	})
}

func TestCollect(t *testing.T) {
	ctx := context.Background()

	t.Run("file object expands to itself", func(t *testing.T) {
		f := newFixture(t, "bucket")
		path := f.addFile(t, "a.txt", "alpha")

		for _, local := range []bool{true, false} {
			paths, err := f.engine.Collect(ctx, path, local)
			require.NoError(t, err)
			assert.Equal(t, []string{path}, paths)
		}
	})

	t.Run("local directory expands to members", func(t *testing.T) {
		f := newFixture(t, "bucket")
		path := f.addDir(t, "data", map[string]string{
			"b.txt":     "bravo",
			"a.txt":     "alpha",
			"sub/c.txt": "charlie",
		})

		paths, err := f.engine.Collect(ctx, path, true)
		require.NoError(t, err)
		assert.Equal(t, []string{
			path,
			f.cache.Path(models.FileHash(content.MD5Bytes([]byte("alpha")))),
			f.cache.Path(models.FileHash(content.MD5Bytes([]byte("bravo")))),
			f.cache.Path(models.FileHash(content.MD5Bytes([]byte("charlie")))),
		}, paths)
	})

	t.Run("remote directory reads pushed manifest", func(t *testing.T) {
		f := newFixture(t, "bucket")
		path := f.addDir(t, "data", map[string]string{"a.txt": "alpha"})
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		f.backend.Put(f.key(t, path), data)

		paths, err := f.engine.Collect(ctx, path, false)
		require.NoError(t, err)
		assert.Equal(t, []string{
			path,
			f.cache.Path(models.FileHash(content.MD5Bytes([]byte("alpha")))),
		}, paths)
	})

	t.Run("absent manifest yields only the object", func(t *testing.T) {
		f := newFixture(t, "bucket")
		path := f.cache.Path(models.DirHash(content.MD5Bytes([]byte("[]"))))

		paths, err := f.engine.Collect(ctx, path, true)
		require.NoError(t, err)
		assert.Equal(t, []string{path}, paths)

		paths, err = f.engine.Collect(ctx, path, false)
		require.NoError(t, err)
		assert.Equal(t, []string{path}, paths)
	})
}

func TestRunPushAndPull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bucket/prefix")

	dir := f.addDir(t, "data", map[string]string{
		"a.txt": "alpha",
		"b.txt": "bravo",
	})
	file := f.addFile(t, "c.txt", "charlie")

	summary, err := f.engine.PushAll(ctx, []string{dir, file})
	require.NoError(t, err)
	assert.Equal(t, "push", summary.Op)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 4, summary.Transferred)
	assert.False(t, summary.HasFailures())
	assert.Equal(t, 4, f.backend.Len())
	assert.Equal(t, dir, summary.Results[0].Path)

	progress := f.engine.GetProgress()
	require.NotNil(t, progress)
	assert.Equal(t, "complete", progress.Phase)
	assert.Equal(t, 4, progress.Processed)

	// Second push transfers nothing.
	summary, err = f.engine.PushAll(ctx, []string{dir, file})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Total)
	assert.Zero(t, summary.Transferred)
	assert.Equal(t, 4, f.backend.Calls("push"))

	// Pull into an empty cache whose remote holds the same objects.
	g := newFixture(t, "bucket/prefix")
	for _, r := range summary.Results {
		g.backend.Put(f.key(t, r.Path), mustRead(t, r.Path))
	}
	target := filepath.Join(g.cache.Dir(), mustRel(t, f.cache.Dir(), dir))

	summary, err = g.engine.PullAll(ctx, []string{target})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.False(t, summary.HasFailures())

	m, err := g.cache.ReadManifest(target)
	require.NoError(t, err)
	for _, entry := range m.Entries() {
		h, err := models.ParseHash(entry.MD5)
		require.NoError(t, err)
		assert.FileExists(t, g.cache.Path(h))
	}
}

func TestRunStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bucket")

	pushed := f.addFile(t, "a.txt", "alpha")
	fresh := f.addFile(t, "b.txt", "bravo")
	f.backend.Put(f.key(t, pushed), []byte("alpha"))

	summary, err := f.engine.StatusAll(ctx, []string{pushed, fresh, pushed})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	assert.Equal(t, models.StatusOk, summary.Results[0].Status)
	assert.Equal(t, models.StatusNew, summary.Results[1].Status)
	assert.Equal(t, 1, summary.CountStatus(models.StatusNew))
	assert.Zero(t, f.backend.Calls("push"))
	assert.Zero(t, f.backend.Calls("pull"))
}

func TestLocalStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bucket")

	present := f.addFile(t, "a.txt", "alpha")
	missing := f.cache.Path(models.FileHash(content.MD5Bytes([]byte("zulu"))))

	summary, err := f.engine.LocalStatus(ctx, []string{present, missing})
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, models.StatusOk, summary.Results[0].Status)
	assert.Equal(t, models.StatusUnknown, summary.Results[1].Status)
	assert.Zero(t, f.backend.Calls("get_key"))
}

func TestRunConfigErrorAbortsBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("no storage path", func(t *testing.T) {
		f := newFixture(t, "")
		path := f.addFile(t, "a.txt", "alpha")

		summary, err := f.engine.PushAll(ctx, []string{path})
		require.Error(t, err)
		assert.Nil(t, summary)
		assert.True(t, models.IsConfigError(err))
		assert.ErrorIs(t, err, models.ErrNoStoragePath)
		assert.Zero(t, f.backend.Calls("get_key"))
	})

	t.Run("sanity check failure", func(t *testing.T) {
		f := newFixture(t, "bucket")
		path := f.addFile(t, "a.txt", "alpha")
		f.backend.SanityErr = &models.ConfigError{Key: "s3.region", Reason: "missing"}

		_, err := f.engine.PushAll(ctx, []string{path})
		assert.True(t, models.IsConfigError(err))
		assert.Zero(t, f.backend.Calls("push"))
	})
}

func TestRunIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bucket")

	good := f.addFile(t, "a.txt", "alpha")
	bad := f.addFile(t, "b.txt", "bravo")
	f.backend.FailKeys[f.key(t, bad)] = errors.New("access denied")

	summary, err := f.engine.PushAll(ctx, []string{bad, good})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, summary.HasFailures())

	assert.True(t, summary.Results[0].Failed())
	assert.Contains(t, summary.Results[0].Error, "access denied")
	var syncErr *models.SyncError
	require.ErrorAs(t, summary.Results[0].Err, &syncErr)
	assert.Equal(t, models.ErrCodeTransport, syncErr.Code)

	assert.False(t, summary.Results[1].Failed())
	_, ok := f.backend.Object(f.key(t, good))
	assert.True(t, ok)
}

func TestRunPullMissingCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bucket")
	path := f.cache.Path(models.FileHash(content.MD5Bytes([]byte("nope"))))

	summary, err := f.engine.PullAll(ctx, []string{path})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, models.IsNotFound(summary.Results[0].Err))
	assert.NoFileExists(t, path)
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t, "bucket")
	a := f.addFile(t, "a.txt", "alpha")
	b := f.addFile(t, "b.txt", "bravo")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.engine.PushAll(ctx, []string{a, b})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, f.backend.Calls("push"))
}

func TestServiceResolvesTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bucket")
	svc := sync.NewService(f.backend, f.cache, &sync.SyncConfig{Jobs: 2}, events.Discard())

	hashes, err := svc.Add([]string{writeWork(t, f.work, "a.txt", "alpha"), writeWork(t, f.work, "b.txt", "bravo")})
	require.NoError(t, err)
	require.Len(t, hashes, 2)

	// No targets means every cached object.
	summary, err := svc.Push(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)

	// A serialized hash is a valid target.
	summary, err = svc.Status(ctx, []string{hashes[0].String()}, sync.SyncOptions{Cloud: true})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, models.StatusOk, summary.Results[0].Status)

	_, err = svc.Pull(ctx, nil)
	assert.Error(t, err)
}

func writeWork(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func mustRel(t *testing.T, base, path string) string {
	t.Helper()
	rel, err := filepath.Rel(base, path)
	require.NoError(t, err)
	return rel
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
