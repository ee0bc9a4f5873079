// Package permission implements the path-level and file-level access
// decisions every read/write operation consults before touching storage.
package permission

import (
	"context"
	"strings"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
)

// Engine resolves access levels against the metadata store. blobs is
// needed only to read `.lfssdir.json` descriptors for the directory
// config override step.
type Engine struct {
	blobs *storage.BlobStore
}

// New constructs a permission Engine.
func New(blobs *storage.BlobStore) *Engine {
	return &Engine{blobs: blobs}
}

// CheckPathPermission computes the caller's effective AccessLevel over a
// file or directory URL, per the seven-step resolution order.
func (e *Engine) CheckPathPermission(ctx context.Context, q storage.Querier, path string, user *types.User) (types.AccessLevel, error) {
	if user == nil || user.IsGuest() {
		return types.AccessGuest, nil
	}
	if user.IsAdmin {
		return types.AccessAll, nil
	}

	ownerName := storage.PathOwnerUsername(path)
	owner, err := storage.GetUserByUsername(ctx, q, ownerName)
	if err != nil {
		if lfsserr.Is(err, lfsserr.KindUserNotFound) {
			return types.AccessGuest, lfsserr.New(lfsserr.KindPathNotFound, "path owner does not exist")
		}
		return types.AccessGuest, err
	}

	if user.ID == owner.ID {
		return types.AccessAll, nil
	}

	if !strings.HasSuffix(path, "/") {
		if rec, err := storage.GetFileRecord(ctx, q, path); err == nil && rec.OwnerID == user.ID {
			return types.AccessAll, nil
		} else if err != nil && !lfsserr.Is(err, lfsserr.KindFileNotFound) {
			return types.AccessGuest, err
		}
	}

	level, err := storage.GetPeerAccess(ctx, q, user.ID, owner.ID)
	if err != nil {
		return types.AccessGuest, err
	}

	override, ok, err := e.dirConfigOverride(ctx, q, path, user.Username)
	if err != nil {
		return types.AccessGuest, err
	}
	if ok {
		return override, nil
	}
	return level, nil
}

// dirConfigOverride walks path's ancestor directories innermost-first,
// returning the access level from the first `.lfssdir.json` that names
// username in its access_control map. The configured level replaces the
// peer level entirely for that subtree, including down to NONE.
func (e *Engine) dirConfigOverride(ctx context.Context, q storage.Querier, path, username string) (types.AccessLevel, bool, error) {
	for _, dirURL := range ancestorDirs(path) {
		cfg, err := storage.GetDirConfig(ctx, q, e.blobs, dirURL)
		if err != nil {
			if lfsserr.Is(err, lfsserr.KindFileNotFound) {
				continue
			}
			return types.AccessNone, false, err
		}
		if level, ok := cfg.AccessControl[username]; ok {
			return level, true, nil
		}
	}
	return types.AccessNone, false, nil
}

// ancestorDirs lists every ancestor directory URL of path, deepest first.
func ancestorDirs(path string) []string {
	trimmed := strings.TrimSuffix(path, "/")
	segments := strings.Split(trimmed, "/")
	var dirs []string
	for i := len(segments) - 1; i >= 1; i-- {
		dirs = append(dirs, strings.Join(segments[:i], "/")+"/")
	}
	return dirs
}

// CheckFileReadPermission applies the file-level read-visibility fallback
// used when the path-level check yields less than READ. owner is the
// file's path owner (not necessarily the file's current OwnerID).
func (e *Engine) CheckFileReadPermission(ctx context.Context, q storage.Querier, user *types.User, file *types.FileRecord, owner *types.User) (bool, error) {
	perm := file.Permission
	if perm == types.PermUnset {
		perm = owner.DefaultPerm
	}
	switch perm {
	case types.PermPublic:
		return true, nil
	case types.PermProtected:
		return user != nil && !user.IsGuest(), nil
	case types.PermPrivate:
		return false, nil
	default:
		return false, nil
	}
}
