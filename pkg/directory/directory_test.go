package directory

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/menxli/lfss-go/pkg/fileops"
	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/permission"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFixtures(t *testing.T) (*Service, *fileops.Service, *storage.Pool) {
	t.Helper()
	dir := t.TempDir()
	pool, err := storage.Open(dir, 4)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	blobs, err := storage.NewBlobStore(dir+"/blobs", 1<<20, 1<<20, 64*1024)
	require.NoError(t, err)

	perm := permission.New(blobs)
	return New(pool, blobs, perm), fileops.New(pool, blobs, perm), pool
}

func createTestUser(t *testing.T, pool *storage.Pool, username string, quota int64) *types.User {
	t.Helper()
	var u *types.User
	err := pool.WithTransaction(context.Background(), nil, func(c *storage.WriteCursor) error {
		var err error
		u, err = storage.CreateUser(context.Background(), c, username, "h", false, quota, types.PermPrivate)
		return err
	})
	require.NoError(t, err)
	return u
}

func TestCountAndListFiles(t *testing.T) {
	svc, files, pool := newTestFixtures(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)

	_, err := files.SaveFile(ctx, alice, "alice/a.txt", bytes.NewReader([]byte("1")), 1, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)
	_, err = files.SaveFile(ctx, alice, "alice/sub/b.txt", bytes.NewReader([]byte("22")), 2, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)

	n, err := svc.CountFiles(ctx, alice, "alice/", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = svc.CountFiles(ctx, alice, "alice/", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := svc.ListFiles(ctx, alice, "alice/", true, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	dirs, err := svc.ListDirs(ctx, alice, "alice/", storage.ListOptions{})
	require.NoError(t, err)
	if assert.Len(t, dirs, 1) {
		assert.Equal(t, "alice/sub/", dirs[0].URL)
	}

	rec, err := svc.GetDirRecord(ctx, alice, "alice/sub/")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.NFiles)
}

func TestCountFilesDeniedWithoutAccess(t *testing.T) {
	svc, files, pool := newTestFixtures(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)
	bob := createTestUser(t, pool, "bob", 1<<20)

	_, err := files.SaveFile(ctx, alice, "alice/a.txt", bytes.NewReader([]byte("1")), 1, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)

	_, err = svc.CountFiles(ctx, bob, "alice/", false)
	assert.True(t, lfsserr.Is(err, lfsserr.KindPermissionDenied))
}

func TestDirConfigRoundTrip(t *testing.T) {
	svc, _, pool := newTestFixtures(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)

	cfg := &types.DirConfig{
		Index:         "index.html",
		AccessControl: map[string]types.AccessLevel{"bob": types.AccessRead},
	}
	require.NoError(t, svc.SetDirConfig(ctx, alice, "alice/site/", cfg))

	got, err := svc.GetDirConfig(ctx, alice, "alice/site/")
	require.NoError(t, err)
	assert.Equal(t, "index.html", got.Index)
	assert.Equal(t, types.AccessRead, got.AccessControl["bob"])
}

func TestBundleProducesValidZip(t *testing.T) {
	svc, files, pool := newTestFixtures(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)

	_, err := files.SaveFile(ctx, alice, "alice/docs/a.txt", bytes.NewReader([]byte("aaa")), 3, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)
	_, err = files.SaveFile(ctx, alice, "alice/docs/sub/b.txt", bytes.NewReader([]byte("bbbb")), 4, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.Bundle(ctx, alice, "alice/docs/", 1<<20, &buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	names := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		names[f.Name] = string(content)
	}
	assert.Equal(t, "aaa", names["a.txt"])
	assert.Equal(t, "bbbb", names["sub/b.txt"])
}

func TestBundleStreamingVariantWhenOverMemoryCap(t *testing.T) {
	svc, files, pool := newTestFixtures(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)

	_, err := files.SaveFile(ctx, alice, "alice/docs/a.txt", bytes.NewReader([]byte("aaa")), 3, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.Bundle(ctx, alice, "alice/docs/", 1, &buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "a.txt", zr.File[0].Name)
}
