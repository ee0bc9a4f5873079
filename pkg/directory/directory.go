// Package directory implements the listing, aggregation, configuration
// and zip-bundling operations that treat a URL prefix as a directory,
// since directories have no row of their own in the metadata store.
package directory

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	kflate "github.com/klauspost/compress/flate"

	"github.com/menxli/lfss-go/pkg/fileops"
	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/permission"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
)

func init() {
	// klauspost/compress's flate implementation streams faster than the
	// standard library's, which matters for the streaming zip path.
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return kflate.NewWriter(w, kflate.DefaultCompression)
	})
}

// Service exposes directory-level operations over the metadata store.
type Service struct {
	pool  *storage.Pool
	blobs *storage.BlobStore
	perm  *permission.Engine
}

// New constructs a directory Service.
func New(pool *storage.Pool, blobs *storage.BlobStore, perm *permission.Engine) *Service {
	return &Service{pool: pool, blobs: blobs, perm: perm}
}

func (s *Service) requireAccess(ctx context.Context, q storage.Querier, path string, user *types.User, min types.AccessLevel) error {
	level, err := s.perm.CheckPathPermission(ctx, q, path, user)
	if err != nil {
		return err
	}
	if level < min {
		return lfsserr.New(lfsserr.KindPermissionDenied, "insufficient access to path")
	}
	return nil
}

// CountFiles returns how many files live under dirURL.
func (s *Service) CountFiles(ctx context.Context, user *types.User, dirURL string, recursive bool) (int, error) {
	if err := storage.ValidateDirURL(dirURL); err != nil {
		return 0, err
	}
	var n int
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		if err := s.requireAccess(ctx, c, dirURL, user, types.AccessRead); err != nil {
			return err
		}
		var err error
		n, err = storage.CountFiles(ctx, c, dirURL, recursive)
		return err
	})
	return n, err
}

// ListFiles lists files under dirURL.
func (s *Service) ListFiles(ctx context.Context, user *types.User, dirURL string, recursive bool, opts storage.ListOptions) ([]types.FileRecord, error) {
	if err := storage.ValidateDirURL(dirURL); err != nil {
		return nil, err
	}
	var out []types.FileRecord
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		if err := s.requireAccess(ctx, c, dirURL, user, types.AccessRead); err != nil {
			return err
		}
		var err error
		out, err = storage.ListFiles(ctx, c, dirURL, recursive, opts)
		return err
	})
	return out, err
}

// CountDirs returns the number of immediate child directories of dirURL.
func (s *Service) CountDirs(ctx context.Context, user *types.User, dirURL string) (int, error) {
	if err := storage.ValidateDirURL(dirURL); err != nil {
		return 0, err
	}
	var n int
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		if err := s.requireAccess(ctx, c, dirURL, user, types.AccessRead); err != nil {
			return err
		}
		var err error
		n, err = storage.CountDirs(ctx, c, dirURL)
		return err
	})
	return n, err
}

// ListDirs lists the immediate child directories of dirURL.
func (s *Service) ListDirs(ctx context.Context, user *types.User, dirURL string, opts storage.ListOptions) ([]types.DirectoryRecord, error) {
	if err := storage.ValidateDirURL(dirURL); err != nil {
		return nil, err
	}
	var out []types.DirectoryRecord
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		if err := s.requireAccess(ctx, c, dirURL, user, types.AccessRead); err != nil {
			return err
		}
		var err error
		out, err = storage.ListDirs(ctx, c, dirURL, opts)
		return err
	})
	return out, err
}

// GetDirRecord aggregates size/count/timestamp metadata for dirURL.
func (s *Service) GetDirRecord(ctx context.Context, user *types.User, dirURL string) (*types.DirectoryRecord, error) {
	if err := storage.ValidateDirURL(dirURL); err != nil {
		return nil, err
	}
	var rec *types.DirectoryRecord
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		if err := s.requireAccess(ctx, c, dirURL, user, types.AccessRead); err != nil {
			return err
		}
		var err error
		rec, err = storage.GetDirRecord(ctx, c, dirURL)
		return err
	})
	return rec, err
}

// GetDirConfig returns the `.lfssdir.json` descriptor for dirURL, or a
// zero-value DirConfig if none has been written yet. Requires WRITE so
// only someone who could also edit the config can read its contents.
func (s *Service) GetDirConfig(ctx context.Context, user *types.User, dirURL string) (*types.DirConfig, error) {
	if err := storage.ValidateDirURL(dirURL); err != nil {
		return nil, err
	}
	var cfg *types.DirConfig
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		if err := s.requireAccess(ctx, c, dirURL, user, types.AccessWrite); err != nil {
			return err
		}
		var err error
		cfg, err = storage.GetDirConfig(ctx, c, s.blobs, dirURL)
		return err
	})
	return cfg, err
}

// SetDirConfig writes the `.lfssdir.json` descriptor for dirURL.
func (s *Service) SetDirConfig(ctx context.Context, user *types.User, dirURL string, cfg *types.DirConfig) error {
	if err := storage.ValidateDirURL(dirURL); err != nil {
		return err
	}
	return s.pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		if err := s.requireAccess(ctx, c, dirURL, user, types.AccessWrite); err != nil {
			return err
		}
		return storage.PutDirConfig(ctx, c, s.blobs, user.ID, dirURL, cfg)
	})
}

// Bundle zips every file under dirURL (excluding directory-config
// descriptors) into w. Entries are URL-decoded paths relative to dirURL.
//
// Per the aggregate size against memoryCapBytes, one of two variants is
// used: small directories are built in an in-memory buffer first and then
// copied to w in one shot; large ones are streamed entry-by-entry
// straight into w. archive/zip switches a given entry to the ZIP64
// extension automatically once its size demands it, so no explicit
// handling is needed here for individual large files.
func (s *Service) Bundle(ctx context.Context, user *types.User, dirURL string, memoryCapBytes int64, w io.Writer) error {
	if err := storage.ValidateDirURL(dirURL); err != nil {
		return err
	}
	var records []types.FileRecord
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		if err := s.requireAccess(ctx, c, dirURL, user, types.AccessRead); err != nil {
			return err
		}
		var err error
		records, err = storage.ListFiles(ctx, c, dirURL, true, storage.ListOptions{})
		return err
	})
	if err != nil {
		return err
	}

	var total int64
	for _, rec := range records {
		if !fileops.IsDirConfigFile(rec.URL) {
			total += rec.Size
		}
	}

	if memoryCapBytes > 0 && total < memoryCapBytes {
		var buf bytes.Buffer
		if err := s.writeZip(ctx, dirURL, records, &buf); err != nil {
			return err
		}
		_, err := io.Copy(w, &buf)
		return err
	}
	return s.writeZip(ctx, dirURL, records, w)
}

func (s *Service) writeZip(ctx context.Context, dirURL string, records []types.FileRecord, w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, rec := range records {
		if fileops.IsDirConfigFile(rec.URL) {
			continue
		}
		rel := strings.TrimPrefix(rec.URL, dirURL)
		decoded, err := url.PathUnescape(rel)
		if err != nil {
			decoded = rel
		}
		entry, err := zw.Create(decoded)
		if err != nil {
			return err
		}
		if err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
			return s.blobs.ReadFull(ctx, c, rec.FileID, rec.External, entry)
		}); err != nil {
			return err
		}
	}
	return zw.Close()
}
