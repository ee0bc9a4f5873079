package webdav

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"
)

func newTestLockSystem(t *testing.T) *LockSystem {
	t.Helper()
	ls, err := NewLockSystem(filepath.Join(t.TempDir(), "lock.db"), 30*time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { ls.Close() })
	return ls
}

func TestLockSystemCreateAndUnlock(t *testing.T) {
	ls := newTestLockSystem(t)
	now := time.Now()

	token, err := ls.Create(now, webdav.LockDetails{Root: "alice/report.txt", Duration: time.Hour})
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	err = ls.Unlock(now, token)
	require.NoError(t, err)

	err = ls.Unlock(now, token)
	assert.ErrorIs(t, err, webdav.ErrNoSuchLock)
}

func TestLockSystemConflictingLockIsRejected(t *testing.T) {
	ls := newTestLockSystem(t)
	now := time.Now()

	_, err := ls.Create(now, webdav.LockDetails{Root: "alice/report.txt", Duration: time.Hour})
	require.NoError(t, err)

	_, err = ls.Create(now, webdav.LockDetails{Root: "alice/report.txt", Duration: time.Hour})
	assert.ErrorIs(t, err, webdav.ErrLocked)
}

func TestLockSystemDirectoryLockBlocksChild(t *testing.T) {
	ls := newTestLockSystem(t)
	now := time.Now()

	_, err := ls.Create(now, webdav.LockDetails{Root: "alice/docs/", Duration: time.Hour})
	require.NoError(t, err)

	_, err = ls.Create(now, webdav.LockDetails{Root: "alice/docs/notes.txt", Duration: time.Hour})
	assert.ErrorIs(t, err, webdav.ErrLocked)
}

func TestLockSystemExpiredLockDoesNotConflict(t *testing.T) {
	ls := newTestLockSystem(t)
	now := time.Now()

	_, err := ls.Create(now, webdav.LockDetails{Root: "alice/report.txt", Duration: time.Millisecond})
	require.NoError(t, err)

	later := now.Add(time.Hour)
	token, err := ls.Create(later, webdav.LockDetails{Root: "alice/report.txt", Duration: time.Hour})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestLockSystemRefreshExtendsExpiry(t *testing.T) {
	ls := newTestLockSystem(t)
	now := time.Now()

	token, err := ls.Create(now, webdav.LockDetails{Root: "alice/report.txt", Duration: time.Minute})
	require.NoError(t, err)

	details, err := ls.Refresh(now.Add(30*time.Second), token, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "alice/report.txt", details.Root)

	// The refresh moved the expiry to 30s + 30min (the system's cap), so the
	// lock still conflicts after its original one-minute expiry has passed.
	_, err = ls.Create(now.Add(2*time.Minute), webdav.LockDetails{Root: "alice/report.txt", Duration: time.Hour})
	assert.ErrorIs(t, err, webdav.ErrLocked)
}
