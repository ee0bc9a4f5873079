package permission

import (
	"context"
	"testing"

	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFixtures(t *testing.T) (*storage.Pool, *storage.BlobStore) {
	t.Helper()
	dir := t.TempDir()
	pool, err := storage.Open(dir, 4)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	blobs, err := storage.NewBlobStore(dir+"/blobs", 1<<20, 1<<20, 64*1024)
	require.NoError(t, err)
	return pool, blobs
}

func TestCheckPathPermissionOwnerAndGuest(t *testing.T) {
	pool, blobs := newTestFixtures(t)
	engine := New(blobs)
	ctx := context.Background()

	var alice *types.User
	err := pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		u, err := storage.CreateUser(ctx, c, "alice", "h", false, 0, types.PermPrivate)
		alice = u
		return err
	})
	require.NoError(t, err)

	err = pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		level, err := engine.CheckPathPermission(ctx, c, "alice/docs/a.txt", alice)
		require.NoError(t, err)
		assert.Equal(t, types.AccessAll, level)

		level, err = engine.CheckPathPermission(ctx, c, "alice/docs/a.txt", types.GuestUser())
		require.NoError(t, err)
		assert.Equal(t, types.AccessGuest, level)
		return nil
	})
	require.NoError(t, err)
}

func TestCheckPathPermissionPeerGrantAndOverride(t *testing.T) {
	pool, blobs := newTestFixtures(t)
	engine := New(blobs)
	ctx := context.Background()

	var alice, bob *types.User
	err := pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		var err error
		alice, err = storage.CreateUser(ctx, c, "alice", "h", false, 0, types.PermPrivate)
		if err != nil {
			return err
		}
		bob, err = storage.CreateUser(ctx, c, "bob", "h", false, 0, types.PermPrivate)
		if err != nil {
			return err
		}
		return storage.SetPeerAccess(ctx, c, bob.ID, alice.ID, types.AccessRead)
	})
	require.NoError(t, err)

	err = pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		level, err := engine.CheckPathPermission(ctx, c, "alice/docs/a.txt", bob)
		require.NoError(t, err)
		assert.Equal(t, types.AccessRead, level)
		return nil
	})
	require.NoError(t, err)

	cfg := &types.DirConfig{AccessControl: map[string]types.AccessLevel{"bob": types.AccessNone}}
	err = pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		return storage.PutDirConfig(ctx, c, blobs, alice.ID, "alice/docs/", cfg)
	})
	require.NoError(t, err)

	err = pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		level, err := engine.CheckPathPermission(ctx, c, "alice/docs/a.txt", bob)
		require.NoError(t, err)
		assert.Equal(t, types.AccessNone, level, "directory config override should replace the peer grant, not merely lower it")

		level, err = engine.CheckPathPermission(ctx, c, "alice/other/a.txt", bob)
		require.NoError(t, err)
		assert.Equal(t, types.AccessRead, level, "override only applies within the configured subtree")
		return nil
	})
	require.NoError(t, err)
}

func TestCheckFileReadPermissionFallback(t *testing.T) {
	_, blobs := newTestFixtures(t)
	engine := New(blobs)

	owner := &types.User{ID: 1, Username: "alice", DefaultPerm: types.PermProtected}
	file := &types.FileRecord{Permission: types.PermUnset}

	allowed, err := engine.CheckFileReadPermission(context.Background(), nil, types.GuestUser(), file, owner)
	require.NoError(t, err)
	assert.False(t, allowed, "protected falls back from unset, guest denied")

	guestFile := &types.FileRecord{Permission: types.PermPublic}
	allowed, err = engine.CheckFileReadPermission(context.Background(), nil, types.GuestUser(), guestFile, owner)
	require.NoError(t, err)
	assert.True(t, allowed)
}
