package storage

import (
	"context"
	"testing"
	"time"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserCRUD(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	var userID int
	err := p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		u, err := CreateUser(ctx, c, "dora", "hash1", false, 1<<20, types.PermPrivate)
		if err != nil {
			return err
		}
		userID = u.ID
		return nil
	})
	require.NoError(t, err)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		u, err := GetUserByID(ctx, c, userID)
		require.NoError(t, err)
		assert.Equal(t, "dora", u.Username)
		assert.Equal(t, types.PermPrivate, u.DefaultPerm)
		return nil
	})
	require.NoError(t, err)

	err = p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		return DeleteUser(ctx, c, userID)
	})
	require.NoError(t, err)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		_, err := GetUserByID(ctx, c, userID)
		assert.True(t, lfsserr.Is(err, lfsserr.KindUserNotFound))
		return nil
	})
	require.NoError(t, err)
}

func TestVirtualUserExpiration(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	var userID int
	err := p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		u, err := CreateUser(ctx, c, ".v-temp", "hash", false, 0, types.PermPrivate)
		if err != nil {
			return err
		}
		userID = u.ID
		return SetUserExpiration(ctx, c, userID, time.Now().Add(-time.Minute))
	})
	require.NoError(t, err)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		_, err := GetUserByID(ctx, c, userID)
		assert.True(t, lfsserr.Is(err, lfsserr.KindUserNotFound))
		return nil
	})
	require.NoError(t, err)
}

func TestPeerAccessGrantAndRevoke(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	var aliceID, bobID int
	err := p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		a, err := CreateUser(ctx, c, "alice", "h", false, 0, types.PermPrivate)
		if err != nil {
			return err
		}
		b, err := CreateUser(ctx, c, "bob", "h", false, 0, types.PermPrivate)
		if err != nil {
			return err
		}
		aliceID, bobID = a.ID, b.ID
		return SetPeerAccess(ctx, c, bobID, aliceID, types.AccessRead)
	})
	require.NoError(t, err)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		level, err := GetPeerAccess(ctx, c, bobID, aliceID)
		require.NoError(t, err)
		assert.Equal(t, types.AccessRead, level)
		return nil
	})
	require.NoError(t, err)

	err = p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		return SetPeerAccess(ctx, c, bobID, aliceID, types.AccessNone)
	})
	require.NoError(t, err)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		level, err := GetPeerAccess(ctx, c, bobID, aliceID)
		require.NoError(t, err)
		assert.Equal(t, types.AccessNone, level)
		return nil
	})
	require.NoError(t, err)
}

func TestFileRecordLifecycle(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	rec := &types.FileRecord{
		URL: "alice/a.txt", OwnerID: 1, FileID: "fid1", Size: 5,
		CreateTime: time.Now(), AccessTime: time.Now(), MimeType: "text/plain",
	}

	err := p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		return InsertFileRecord(ctx, c, rec)
	})
	require.NoError(t, err)

	err = p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		return InsertFileRecord(ctx, c, rec)
	})
	assert.True(t, lfsserr.Is(err, lfsserr.KindFileExists))

	err = p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		return UpdateFileURL(ctx, c, "alice/a.txt", "alice/b.txt")
	})
	require.NoError(t, err)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		r, err := GetFileRecord(ctx, c, "alice/b.txt")
		require.NoError(t, err)
		assert.Equal(t, "fid1", r.FileID)
		return nil
	})
	require.NoError(t, err)

	err = p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		return DeleteFileRecord(ctx, c, "alice/b.txt")
	})
	require.NoError(t, err)
}

func TestDedupCounters(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	err := p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		if err := IncrementDedupCount(ctx, c, "shared"); err != nil {
			return err
		}
		return IncrementDedupCount(ctx, c, "shared")
	})
	require.NoError(t, err)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		n, err := GetDedupCount(ctx, c, "shared")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		return nil
	})
	require.NoError(t, err)

	// Two increments mean three rows now share the blob (the original plus
	// two copies): the blob is only orphaned after all three are removed.
	var zero1, zero2, zero3 bool
	err = p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		var err error
		zero1, err = DecrementDedupCount(ctx, c, "shared")
		if err != nil {
			return err
		}
		zero2, err = DecrementDedupCount(ctx, c, "shared")
		if err != nil {
			return err
		}
		zero3, err = DecrementDedupCount(ctx, c, "shared")
		return err
	})
	require.NoError(t, err)
	assert.False(t, zero1)
	assert.False(t, zero2)
	assert.True(t, zero3)
}

func TestListFilesAndDirs(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	urls := []string{"alice/a.txt", "alice/sub/b.txt", "alice/sub/c.txt", "alice/sub/deep/d.txt"}
	err := p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		for i, u := range urls {
			rec := &types.FileRecord{
				URL: u, OwnerID: 1, FileID: u, Size: int64(i + 1),
				CreateTime: time.Now(), AccessTime: time.Now(), MimeType: "text/plain",
			}
			if err := InsertFileRecord(ctx, c, rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		n, err := CountFiles(ctx, c, "alice/", false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = CountFiles(ctx, c, "alice/", true)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		dirs, err := ListDirs(ctx, c, "alice/", ListOptions{})
		require.NoError(t, err)
		if assert.Len(t, dirs, 1) {
			assert.Equal(t, "alice/sub/", dirs[0].URL)
			assert.Equal(t, 3, dirs[0].NFiles)
		}

		rec, err := GetDirRecord(ctx, c, "alice/sub/")
		require.NoError(t, err)
		assert.Equal(t, 3, rec.NFiles)

		_, err = GetDirRecord(ctx, c, "alice/missing/")
		assert.True(t, lfsserr.Is(err, lfsserr.KindPathNotFound))
		return nil
	})
	require.NoError(t, err)
}

func TestListDirsOrderedByDirname(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	urls := []string{"alice/zebra/a.txt", "alice/mango/b.txt", "alice/apple/c.txt"}
	err := p.WithTransaction(ctx, nil, func(c *WriteCursor) error {
		for _, u := range urls {
			rec := &types.FileRecord{
				URL: u, OwnerID: 1, FileID: u, Size: 1,
				CreateTime: time.Now(), AccessTime: time.Now(), MimeType: "text/plain",
			}
			if err := InsertFileRecord(ctx, c, rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = p.WithReader(ctx, func(c *ReadCursor) error {
		n, err := CountDirs(ctx, c, "alice/")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		asc, err := ListDirs(ctx, c, "alice/", ListOptions{})
		require.NoError(t, err)
		if assert.Len(t, asc, 3) {
			assert.Equal(t, []string{"alice/apple/", "alice/mango/", "alice/zebra/"},
				[]string{asc[0].URL, asc[1].URL, asc[2].URL})
		}

		desc, err := ListDirs(ctx, c, "alice/", ListOptions{Desc: true})
		require.NoError(t, err)
		if assert.Len(t, desc, 3) {
			assert.Equal(t, []string{"alice/zebra/", "alice/mango/", "alice/apple/"},
				[]string{desc[0].URL, desc[1].URL, desc[2].URL})
		}
		return nil
	})
	require.NoError(t, err)
}
