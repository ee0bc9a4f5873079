// Package webdav adapts the core file-lifecycle and directory operations
// to golang.org/x/net/webdav's FileSystem and LockSystem interfaces, so
// the standard library's method dispatch, multistatus XML and lock-token
// XML handle the WebDAV protocol surface while path resolution,
// permission checks and persistence stay on the native engine.
package webdav

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/net/webdav"

	"github.com/menxli/lfss-go/pkg/directory"
	"github.com/menxli/lfss-go/pkg/fileops"
	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/permission"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
)

// FileSystem implements golang.org/x/net/webdav.FileSystem over the
// engine's file and directory services.
type FileSystem struct {
	files *fileops.Service
	dirs  *directory.Service
	pool  *storage.Pool
	perm  *permission.Engine
}

// NewFileSystem constructs a webdav.FileSystem adapter.
func NewFileSystem(files *fileops.Service, dirs *directory.Service, pool *storage.Pool, perm *permission.Engine) *FileSystem {
	return &FileSystem{files: files, dirs: dirs, pool: pool, perm: perm}
}

var _ webdav.FileSystem = (*FileSystem)(nil)

// toInternal strips the leading "/" every x/net/webdav path carries,
// matching the engine's no-leading-slash URL convention. A trailing "/"
// is preserved, or added to a non-empty directory name, to mark a
// directory; the root maps to the empty string.
func toInternal(name string, dir bool) string {
	p := strings.TrimPrefix(name, "/")
	if dir && p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func (fsys *FileSystem) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	user := userFromContext(ctx)
	dirURL := toInternal(name, true)
	if dirURL == "" {
		return lfsserr.New(lfsserr.KindInvalidPath, "cannot create the root directory")
	}
	keepURL := dirURL + types.KeepFileName
	_, err := fsys.files.SaveFile(ctx, user, keepURL, bytes.NewReader(nil), 0, types.PermUnset, "application/octet-stream", types.ConflictAbort)
	return err
}

func (fsys *FileSystem) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	user := userFromContext(ctx)
	isDir := strings.HasSuffix(name, "/") || name == ""

	if isDir {
		return fsys.openDir(ctx, user, toInternal(name, true))
	}

	url := toInternal(name, false)
	writing := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0
	if writing {
		mimeType := storage.ResolveMimeType(url, "", nil)
		return &writeHandle{ctx: ctx, fs: fsys, user: user, url: url, mimeType: mimeType}, nil
	}
	return fsys.openReadFile(ctx, user, url)
}

func (fsys *FileSystem) openReadFile(ctx context.Context, user *types.User, url string) (webdav.File, error) {
	var rec *types.FileRecord
	var owner *types.User
	err := fsys.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		var err error
		rec, err = storage.GetFileRecord(ctx, c, url)
		if err != nil {
			return err
		}
		owner, err = storage.GetUserByUsername(ctx, c, storage.PathOwnerUsername(url))
		return err
	})
	if err != nil {
		return nil, err
	}
	allowed, err := fsys.checkReadAllowed(ctx, user, rec, owner)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, lfsserr.New(lfsserr.KindPermissionDenied, "not permitted to read this file")
	}
	var buf bytes.Buffer
	if _, err := fsys.files.ReadFile(ctx, url, 0, -1, &buf); err != nil {
		return nil, err
	}
	return &readHandle{
		info: &fileInfo{name: url, size: rec.Size, modTime: rec.AccessTime},
		r:    bytes.NewReader(buf.Bytes()),
	}, nil
}

func (fsys *FileSystem) checkReadAllowed(ctx context.Context, user *types.User, rec *types.FileRecord, owner *types.User) (bool, error) {
	var level types.AccessLevel
	err := fsys.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		var err error
		level, err = fsys.perm.CheckPathPermission(ctx, c, rec.URL, user)
		return err
	})
	if err != nil {
		return false, err
	}
	if level >= types.AccessRead {
		return true, nil
	}
	var ok bool
	err = fsys.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		var err error
		ok, err = fsys.perm.CheckFileReadPermission(ctx, c, user, rec, owner)
		return err
	})
	return ok, err
}

func (fsys *FileSystem) openDir(ctx context.Context, user *types.User, dirURL string) (webdav.File, error) {
	files, err := fsys.dirs.ListFiles(ctx, user, dirURL, false, storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	dirs, err := fsys.dirs.ListDirs(ctx, user, dirURL, storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	children := make([]fs.FileInfo, 0, len(files)+len(dirs))
	for _, f := range files {
		if fileops.IsDirConfigFile(f.URL) || strings.HasSuffix(f.URL, "/"+types.KeepFileName) {
			continue
		}
		children = append(children, &fileInfo{name: childName(dirURL, f.URL), size: f.Size, modTime: f.AccessTime})
	}
	for _, d := range dirs {
		children = append(children, &fileInfo{name: childName(dirURL, d.URL), isDir: true, modTime: d.MaxAccess})
	}
	return &dirHandle{
		info:     &fileInfo{name: dirURL, isDir: true},
		children: children,
	}, nil
}

func childName(parentDir, childURL string) string {
	rest := strings.TrimPrefix(childURL, parentDir)
	return strings.TrimSuffix(rest, "/")
}

func (fsys *FileSystem) RemoveAll(ctx context.Context, name string) error {
	user := userFromContext(ctx)
	if strings.HasSuffix(name, "/") {
		_, err := fsys.files.DeleteDir(ctx, user, toInternal(name, true))
		return err
	}
	_, err := fsys.files.DeleteFile(ctx, user, toInternal(name, false))
	return err
}

func (fsys *FileSystem) Rename(ctx context.Context, oldName, newName string) error {
	user := userFromContext(ctx)
	if strings.HasSuffix(oldName, "/") {
		return fsys.files.MoveDir(ctx, user, user, toInternal(oldName, true), toInternal(newName, true))
	}
	return fsys.files.MoveFile(ctx, user, user, toInternal(oldName, false), toInternal(newName, false))
}

func (fsys *FileSystem) Stat(ctx context.Context, name string) (fs.FileInfo, error) {
	user := userFromContext(ctx)
	if strings.HasSuffix(name, "/") || name == "" || name == "/" {
		rec, err := fsys.dirs.GetDirRecord(ctx, user, toInternal(name, true))
		if err != nil {
			return nil, err
		}
		return &fileInfo{name: rec.URL, isDir: true, modTime: rec.MaxAccess, size: rec.Size}, nil
	}
	url := toInternal(name, false)
	var rec *types.FileRecord
	err := fsys.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		var err error
		rec, err = storage.GetFileRecord(ctx, c, url)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: rec.URL, size: rec.Size, modTime: rec.AccessTime}, nil
}
