package webdav

import (
	"bytes"
	"context"
	"io"
	"io/fs"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/types"
)

// readHandle serves a GET/PROPFIND against one file, buffered fully in
// memory since the underlying blob store only exposes streaming reads,
// not the io.Seeker the webdav.File interface demands.
type readHandle struct {
	info *fileInfo
	r    *bytes.Reader
}

func (h *readHandle) Read(p []byte) (int, error)              { return h.r.Read(p) }
func (h *readHandle) Seek(off int64, whence int) (int64, error) { return h.r.Seek(off, whence) }
func (h *readHandle) Close() error                             { return nil }
func (h *readHandle) Stat() (fs.FileInfo, error)                { return h.info, nil }
func (h *readHandle) Readdir(int) ([]fs.FileInfo, error) {
	return nil, lfsserr.New(lfsserr.KindInvalidOptions, "not a directory")
}
func (h *readHandle) Write([]byte) (int, error) {
	return 0, lfsserr.New(lfsserr.KindInvalidOptions, "file opened read-only")
}

// writeHandle buffers PUT content and commits it on Close, mirroring the
// memory-buffer-then-insert path the native HTTP PUT handler uses.
type writeHandle struct {
	ctx      context.Context
	fs       *FileSystem
	user     *types.User
	url      string
	mimeType string
	buf      bytes.Buffer
}

func (h *writeHandle) Write(p []byte) (int, error) { return h.buf.Write(p) }
func (h *writeHandle) Read([]byte) (int, error) {
	return 0, lfsserr.New(lfsserr.KindInvalidOptions, "file opened write-only")
}
func (h *writeHandle) Seek(int64, int) (int64, error) {
	return 0, lfsserr.New(lfsserr.KindInvalidOptions, "seek not supported on a pending write")
}
func (h *writeHandle) Readdir(int) ([]fs.FileInfo, error) {
	return nil, lfsserr.New(lfsserr.KindInvalidOptions, "not a directory")
}
func (h *writeHandle) Stat() (fs.FileInfo, error) {
	return &fileInfo{name: h.url, size: int64(h.buf.Len())}, nil
}
func (h *writeHandle) Close() error {
	_, err := h.fs.files.SaveFile(h.ctx, h.user, h.url, bytes.NewReader(h.buf.Bytes()), int64(h.buf.Len()), types.PermUnset, h.mimeType, types.ConflictOverwrite)
	return err
}

// dirHandle serves PROPFIND against a directory URL; it has no content of
// its own, only a Readdir listing of immediate children.
type dirHandle struct {
	info     *fileInfo
	children []fs.FileInfo
}

func (h *dirHandle) Read([]byte) (int, error) {
	return 0, lfsserr.New(lfsserr.KindInvalidOptions, "cannot read a directory")
}
func (h *dirHandle) Write([]byte) (int, error) {
	return 0, lfsserr.New(lfsserr.KindInvalidOptions, "cannot write a directory")
}
func (h *dirHandle) Seek(int64, int) (int64, error) {
	return 0, lfsserr.New(lfsserr.KindInvalidOptions, "cannot seek a directory")
}
func (h *dirHandle) Close() error              { return nil }
func (h *dirHandle) Stat() (fs.FileInfo, error) { return h.info, nil }
func (h *dirHandle) Readdir(count int) ([]fs.FileInfo, error) {
	if count <= 0 || count > len(h.children) {
		return h.children, nil
	}
	return h.children[:count], nil
}

var _ io.Writer = (*writeHandle)(nil)
