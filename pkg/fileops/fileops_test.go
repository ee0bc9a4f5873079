package fileops

import (
	"bytes"
	"context"
	"testing"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/permission"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *storage.Pool) {
	t.Helper()
	dir := t.TempDir()
	pool, err := storage.Open(dir, 4)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	blobs, err := storage.NewBlobStore(dir+"/blobs", 64, 1<<20, 64*1024)
	require.NoError(t, err)

	perm := permission.New(blobs)
	return New(pool, blobs, perm), pool
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

func TestSaveAndReadFileRoundTrip(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)

	content := []byte("hello world")
	rec, err := svc.SaveFile(ctx, alice, "alice/hello.txt", bytes.NewReader(content), int64(len(content)), types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), rec.Size)
	assert.False(t, rec.External)

	var buf bytes.Buffer
	_, err = svc.ReadFile(ctx, "alice/hello.txt", 0, -1, &buf)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())
}

func TestSaveFileExternalTier(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)

	content := bytes.Repeat([]byte("y"), 1024)
	rec, err := svc.SaveFile(ctx, alice, "alice/big.bin", bytes.NewReader(content), int64(len(content)), types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)
	assert.True(t, rec.External)
}

func TestSaveFileQuotaExceeded(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 10)

	content := bytes.Repeat([]byte("z"), 100)
	_, err := svc.SaveFile(ctx, alice, "alice/too-big.txt", bytes.NewReader(content), int64(len(content)), types.PermUnset, "", types.ConflictAbort)
	assert.True(t, lfsserr.Is(err, lfsserr.KindStorageExceeded))
}

func TestSaveFileConflictPolicies(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)

	_, err := svc.SaveFile(ctx, alice, "alice/a.txt", bytes.NewReader([]byte("one")), 3, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)

	_, err = svc.SaveFile(ctx, alice, "alice/a.txt", bytes.NewReader([]byte("two")), 3, types.PermUnset, "", types.ConflictAbort)
	assert.True(t, lfsserr.Is(err, lfsserr.KindFileExists))

	rec, err := svc.SaveFile(ctx, alice, "alice/a.txt", bytes.NewReader([]byte("three")), 5, types.PermUnset, "", types.ConflictSkip)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Size, "skip conflict returns the existing record unchanged")

	rec, err = svc.SaveFile(ctx, alice, "alice/a.txt", bytes.NewReader([]byte("three")), 5, types.PermUnset, "", types.ConflictOverwrite)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Size)
}

func TestWriteRequiresPermission(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)
	bob := createTestUser(t, pool, "bob", 1<<20)

	_, err := svc.SaveFile(ctx, bob, "alice/intrude.txt", bytes.NewReader([]byte("x")), 1, types.PermUnset, "", types.ConflictAbort)
	assert.True(t, lfsserr.Is(err, lfsserr.KindPermissionDenied))
}

func TestDeleteFileDedupAware(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)

	_, err := svc.SaveFile(ctx, alice, "alice/a.txt", bytes.NewReader([]byte("data")), 4, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)
	require.NoError(t, svc.CopyFile(ctx, alice, "alice/a.txt", "alice/b.txt"))

	deleted, err := svc.DeleteFile(ctx, alice, "alice/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "alice/a.txt", deleted.URL)

	var buf bytes.Buffer
	_, err = svc.ReadFile(ctx, "alice/b.txt", 0, -1, &buf)
	require.NoError(t, err, "copy still readable after deleting the original, dedup counter kept the blob alive")
	assert.Equal(t, "data", buf.String())
}

func TestMoveFileRejectsExistingDestination(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)

	_, err := svc.SaveFile(ctx, alice, "alice/a.txt", bytes.NewReader([]byte("1")), 1, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)
	_, err = svc.SaveFile(ctx, alice, "alice/b.txt", bytes.NewReader([]byte("2")), 1, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)

	err = svc.MoveFile(ctx, alice, nil, "alice/a.txt", "alice/b.txt")
	assert.True(t, lfsserr.Is(err, lfsserr.KindFileExists))
}

func TestDeleteUserReHomesCrossSubtreeFiles(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)
	createTestUser(t, pool, "bob", 1<<20)

	err := pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		bob, err := storage.GetUserByUsername(ctx, c, "bob")
		if err != nil {
			return err
		}
		return storage.SetPeerAccess(ctx, c, alice.ID, bob.ID, types.AccessWrite)
	})
	require.NoError(t, err)

	_, err = svc.SaveFile(ctx, alice, "bob/guestwrite.txt", bytes.NewReader([]byte("hi")), 2, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, "alice"))

	err = pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		rec, err := storage.GetFileRecord(ctx, c, "bob/guestwrite.txt")
		require.NoError(t, err)
		bob, err := storage.GetUserByUsername(ctx, c, "bob")
		require.NoError(t, err)
		assert.Equal(t, bob.ID, rec.OwnerID, "file re-homed to subtree owner after writing user deleted")
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteUserRemovesPeerWrittenFilesInOwnSubtree(t *testing.T) {
	svc, pool := newTestService(t)
	ctx := context.Background()
	alice := createTestUser(t, pool, "alice", 1<<20)
	bob := createTestUser(t, pool, "bob", 1<<20)

	err := pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		return storage.SetPeerAccess(ctx, c, bob.ID, alice.ID, types.AccessWrite)
	})
	require.NoError(t, err)

	_, err = svc.SaveFile(ctx, bob, "alice/peerwrite.txt", bytes.NewReader([]byte("hi")), 2, types.PermUnset, "", types.ConflictAbort)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, "alice"))

	err = pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		_, err := storage.GetFileRecord(ctx, c, "alice/peerwrite.txt")
		assert.True(t, lfsserr.Is(err, lfsserr.KindFileNotFound), "file under deleted user's subtree must be gone even if owned by another user")
		size, err := storage.GetUserSize(ctx, c, bob.ID)
		require.NoError(t, err)
		assert.Zero(t, size, "real owner's size counter must be decremented, not the deleted user's")
		return nil
	})
	require.NoError(t, err)
}
