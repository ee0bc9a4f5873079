package user

import (
	"context"
	"testing"
	"time"

	"github.com/menxli/lfss-go/pkg/fileops"
	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/permission"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	pool, err := storage.Open(dir, 4)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	blobs, err := storage.NewBlobStore(dir+"/blobs", 1<<20, 1<<20, 64*1024)
	require.NoError(t, err)

	perm := permission.New(blobs)
	files := fileops.New(pool, blobs, perm)
	return New(pool, files)
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, "alice", "hunter2", false, 1<<20, types.PermPrivate)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	token := HashCredential("alice", "hunter2")
	got, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(ctx, "wrong-token")
	assert.True(t, lfsserr.Is(err, lfsserr.KindUserNotFound))

	guest, err := svc.Authenticate(ctx, "")
	require.NoError(t, err)
	assert.True(t, guest.IsGuest())
}

func TestAuthenticateBasic(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "alice", "hunter2", false, 1<<20, types.PermPrivate)
	require.NoError(t, err)

	u, err := svc.AuthenticateBasic(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = svc.AuthenticateBasic(ctx, "alice", "wrong")
	assert.True(t, lfsserr.Is(err, lfsserr.KindUserNotFound))
}

func TestCreateVirtualUserExpires(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateVirtualUser(ctx, ".v-guest", "pw", 0, types.PermPrivate, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	token := HashCredential(".v-guest", "pw")
	_, err = svc.Authenticate(ctx, token)
	assert.True(t, lfsserr.Is(err, lfsserr.KindUserNotFound))
}

func TestCreateVirtualUserRejectsNonVirtualName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateVirtualUser(ctx, "notvirtual", "pw", 0, types.PermPrivate, time.Time{})
	assert.True(t, lfsserr.Is(err, lfsserr.KindInvalidInput))
}

func TestUpdateUserPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "alice", "old-pass", false, 1<<20, types.PermPrivate)
	require.NoError(t, err)

	newPass := "new-pass"
	_, err = svc.UpdateUser(ctx, "alice", UpdateOptions{Password: &newPass})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, HashCredential("alice", "old-pass"))
	assert.Error(t, err)

	got, err := svc.Authenticate(ctx, HashCredential("alice", newPass))
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestPeerAccessGrantAndList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "alice", "p", false, 1<<20, types.PermPrivate)
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, "bob", "p", false, 1<<20, types.PermPrivate)
	require.NoError(t, err)

	require.NoError(t, svc.SetPeerAccess(ctx, "bob", "alice", types.AccessRead))

	peers, err := svc.ListPeers(ctx, "bob")
	require.NoError(t, err)
	if assert.Len(t, peers, 1) {
		assert.Equal(t, types.AccessRead, peers[0].Level)
	}

	require.NoError(t, svc.SetPeerAccess(ctx, "bob", "alice", types.AccessNone))
	peers, err = svc.ListPeers(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestStorageUsageReflectsSavedBytes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "alice", "p", false, 1<<20, types.PermPrivate)
	require.NoError(t, err)

	used, quota, err := svc.StorageUsage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)
	assert.Equal(t, int64(1<<20), quota)
}

func TestDeleteUserRemovesAccount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "alice", "p", false, 1<<20, types.PermPrivate)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteUser(ctx, "alice"))

	_, err = svc.GetByUsername(ctx, "alice")
	assert.True(t, lfsserr.Is(err, lfsserr.KindUserNotFound))
}
