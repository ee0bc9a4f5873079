// Package fileops implements the transactional file and directory
// lifecycle: save, read, move, copy, delete, and the cross-subtree
// re-homing that happens when a user is deleted.
package fileops

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/log"
	"github.com/menxli/lfss-go/pkg/permission"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
)

// Service wires the connection pool, blob store and permission engine
// into the higher-level operations the API and WebDAV adapters call.
type Service struct {
	pool  *storage.Pool
	blobs *storage.BlobStore
	perm  *permission.Engine
}

// New constructs a fileops Service.
func New(pool *storage.Pool, blobs *storage.BlobStore, perm *permission.Engine) *Service {
	return &Service{pool: pool, blobs: blobs, perm: perm}
}

// deferredCleanup accumulates external-blob file-ids to unlink in a
// background goroutine after a transaction commits, so the unlinks run
// outside the write lock and failures in cleanup never roll back the
// transaction.
type deferredCleanup struct {
	svc     *Service
	fileIDs []string
}

func (d *deferredCleanup) add(fileID string) {
	d.fileIDs = append(d.fileIDs, fileID)
}

func (d *deferredCleanup) hook() *storage.Hook {
	return &storage.Hook{
		OnCommit: func() {
			ids := d.fileIDs
			go func() {
				for _, id := range ids {
					if err := d.svc.blobs.DeleteExternal(id); err != nil {
						log.Logger.Warn().Err(err).Str("file_id", id).Msg("deferred external blob cleanup failed")
					}
				}
			}()
		},
	}
}

// requireAccess checks path permission and returns a typed error if the
// caller holds less than min.
func (s *Service) requireAccess(ctx context.Context, q storage.Querier, path string, user *types.User, min types.AccessLevel) error {
	level, err := s.perm.CheckPathPermission(ctx, q, path, user)
	if err != nil {
		return err
	}
	if level < min {
		return lfsserr.New(lfsserr.KindPermissionDenied, "insufficient access level")
	}
	return nil
}

// SaveFile implements save_file: validate, authorize, quota-check, spool,
// resolve mime, generate a file id, and commit inline or external.
func (s *Service) SaveFile(ctx context.Context, user *types.User, url string, r io.Reader, knownSize int64, perm types.ReadPermission, mimeOverride string, conflict types.ConflictPolicy) (*types.FileRecord, error) {
	if err := storage.ValidateURL(url); err != nil {
		return nil, err
	}

	var existing *types.FileRecord
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		if err := s.requireAccess(ctx, c, url, user, types.AccessWrite); err != nil {
			return err
		}
		rec, err := storage.GetFileRecord(ctx, c, url)
		if err == nil {
			existing = rec
		} else if !lfsserr.Is(err, lfsserr.KindFileNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if existing != nil {
		switch conflict {
		case types.ConflictSkip:
			return existing, nil
		case types.ConflictAbort:
			return nil, lfsserr.New(lfsserr.KindFileExists, "file already exists")
		}
	}

	head := make([]byte, 512)
	n, _ := io.ReadFull(r, head)
	head = head[:n]
	mimeType := storage.ResolveMimeType(url, mimeOverride, head)
	body := io.MultiReader(bytes.NewReader(head), r)

	fileID := storage.NewFileID()
	spooled, err := s.blobs.Spool(fileID, body, knownSize)
	if err != nil {
		return nil, err
	}

	cleanup := &deferredCleanup{svc: s}
	var rec *types.FileRecord

	err = s.pool.WithTransaction(ctx, cleanup.hook(), func(c *storage.WriteCursor) error {
		used, err := storage.GetUserSize(ctx, c, user.ID)
		if err != nil {
			return err
		}
		if used+spooled.Size > user.MaxStorageBytes && user.MaxStorageBytes > 0 {
			return lfsserr.New(lfsserr.KindStorageExceeded, "quota exceeded")
		}
		if err := spooled.Commit(ctx, c); err != nil {
			return err
		}

		now := time.Now()
		rec = &types.FileRecord{
			URL: url, OwnerID: user.ID, FileID: fileID, Size: spooled.Size,
			CreateTime: now, AccessTime: now, Permission: perm,
			External: spooled.External, MimeType: mimeType,
		}
		if existing != nil {
			if err := storage.UpsertFileRecord(ctx, c, rec); err != nil {
				return err
			}
		} else {
			if err := storage.InsertFileRecord(ctx, c, rec); err != nil {
				return err
			}
		}
		if err := storage.AddUserSize(ctx, c, user.ID, spooled.Size); err != nil {
			return err
		}
		if existing != nil {
			return decrementOldBlob(ctx, c, s.blobs, existing, cleanup)
		}
		return nil
	})
	if err != nil {
		// the transaction never committed (quota exceeded, or rolled back
		// downstream): an external blob already on disk is now an orphan.
		spooled.Discard()
		return nil, err
	}
	return rec, nil
}

// decrementOldBlob is called when an overwrite replaces an existing file
// row: the old row's size is removed from the owner's counter and, if its
// dedup count reaches zero, its blob is scheduled for cleanup.
func decrementOldBlob(ctx context.Context, c *storage.WriteCursor, blobs *storage.BlobStore, existing *types.FileRecord, cleanup *deferredCleanup) error {
	if err := storage.AddUserSize(ctx, c, existing.OwnerID, -existing.Size); err != nil {
		return err
	}
	zero, err := storage.DecrementDedupCount(ctx, c, existing.FileID)
	if err != nil {
		return err
	}
	if zero {
		if existing.External {
			cleanup.add(existing.FileID)
		} else if err := storage.DeleteInlineBlob(ctx, c, existing.FileID); err != nil {
			return err
		}
	}
	return nil
}

// ReadFile validates the URL, fetches the record and streams [start, end)
// (end < 0 meaning "to end of file") to w. Does not permission-check;
// callers authorize before calling this.
func (s *Service) ReadFile(ctx context.Context, url string, start, end int64, w io.Writer) (*types.FileRecord, error) {
	if err := storage.ValidateURL(url); err != nil {
		return nil, err
	}
	var rec *types.FileRecord
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		r, err := storage.GetFileRecord(ctx, c, url)
		if err != nil {
			return err
		}
		rec = r
		length := int64(-1)
		if end >= 0 {
			length = end - start
		}
		if start == 0 && end < 0 {
			return s.blobs.ReadFull(ctx, c, r.FileID, r.External, w)
		}
		return s.blobs.ReadRange(ctx, c, r.FileID, r.External, start, length, w)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ReadFilesBulk fetches every url's record, requiring READ on all of them
// (failing the whole call if any one fails), and caps the aggregate size
// unless skipContent is set. Results preserve input order; missing paths
// map to a nil record.
func (s *Service) ReadFilesBulk(ctx context.Context, user *types.User, urls []string, skipContent bool, memoryCapBytes int64) ([]*types.FileRecord, error) {
	out := make([]*types.FileRecord, len(urls))
	var total int64
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		for i, url := range urls {
			rec, err := storage.GetFileRecord(ctx, c, url)
			if err != nil {
				if lfsserr.Is(err, lfsserr.KindFileNotFound) {
					continue
				}
				return err
			}
			if err := s.requireAccess(ctx, c, url, user, types.AccessRead); err != nil {
				return err
			}
			out[i] = rec
			total += rec.Size
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !skipContent && total > memoryCapBytes {
		return nil, lfsserr.New(lfsserr.KindInvalidOptions, "aggregate size exceeds memory cap")
	}
	return out, nil
}

// DeleteFile authorizes, removes the metadata row, and unlinks the blob
// via dedup-aware logic. Returns the deleted record.
func (s *Service) DeleteFile(ctx context.Context, user *types.User, url string) (*types.FileRecord, error) {
	if err := storage.ValidateURL(url); err != nil {
		return nil, err
	}
	cleanup := &deferredCleanup{svc: s}
	var deleted *types.FileRecord
	err := s.pool.WithTransaction(ctx, cleanup.hook(), func(c *storage.WriteCursor) error {
		if err := s.requireAccess(ctx, c, url, user, types.AccessWrite); err != nil {
			return err
		}
		rec, err := storage.GetFileRecord(ctx, c, url)
		if err != nil {
			return err
		}
		deleted = rec
		if err := storage.DeleteFileRecord(ctx, c, url); err != nil {
			return err
		}
		if err := storage.AddUserSize(ctx, c, rec.OwnerID, -rec.Size); err != nil {
			return err
		}
		zero, err := storage.DecrementDedupCount(ctx, c, rec.FileID)
		if err != nil {
			return err
		}
		if zero {
			if rec.External {
				cleanup.add(rec.FileID)
			} else if err := storage.DeleteInlineBlob(ctx, c, rec.FileID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// MoveFile renames url to destURL, optionally transferring ownership to
// opUser if it differs from the file's current owner, re-verifying the
// new owner's quota.
func (s *Service) MoveFile(ctx context.Context, user, opUser *types.User, url, destURL string) error {
	if err := storage.ValidateURL(url); err != nil {
		return err
	}
	if err := storage.ValidateURL(destURL); err != nil {
		return err
	}
	return s.pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		if err := s.requireAccess(ctx, c, url, user, types.AccessWrite); err != nil {
			return err
		}
		if err := s.requireAccess(ctx, c, destURL, user, types.AccessWrite); err != nil {
			return err
		}
		if _, err := storage.GetFileRecord(ctx, c, destURL); err == nil {
			return lfsserr.New(lfsserr.KindFileExists, "destination already exists")
		} else if !lfsserr.Is(err, lfsserr.KindFileNotFound) {
			return err
		}
		rec, err := storage.GetFileRecord(ctx, c, url)
		if err != nil {
			return err
		}
		if err := storage.UpdateFileURL(ctx, c, url, destURL); err != nil {
			return err
		}
		if opUser != nil && opUser.ID != rec.OwnerID {
			if err := storage.UpdateFileOwner(ctx, c, destURL, opUser.ID); err != nil {
				return err
			}
			if err := storage.AddUserSize(ctx, c, rec.OwnerID, -rec.Size); err != nil {
				return err
			}
			if err := storage.AddUserSize(ctx, c, opUser.ID, rec.Size); err != nil {
				return err
			}
			return checkQuota(ctx, c, opUser)
		}
		return nil
	})
}

// CopyFile inserts a new row at destURL pointing at the same file-id,
// incrementing the dedup counter, and enforces the new owner's quota.
// The storage tier (inline vs external) of the source row is preserved
// verbatim regardless of the currently configured threshold.
func (s *Service) CopyFile(ctx context.Context, user *types.User, url, destURL string) error {
	if err := storage.ValidateURL(url); err != nil {
		return err
	}
	if err := storage.ValidateURL(destURL); err != nil {
		return err
	}
	return s.pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		if err := s.requireAccess(ctx, c, url, user, types.AccessRead); err != nil {
			return err
		}
		if err := s.requireAccess(ctx, c, destURL, user, types.AccessWrite); err != nil {
			return err
		}
		if _, err := storage.GetFileRecord(ctx, c, destURL); err == nil {
			return lfsserr.New(lfsserr.KindFileExists, "destination already exists")
		} else if !lfsserr.Is(err, lfsserr.KindFileNotFound) {
			return err
		}
		src, err := storage.GetFileRecord(ctx, c, url)
		if err != nil {
			return err
		}
		now := time.Now()
		dest := &types.FileRecord{
			URL: destURL, OwnerID: user.ID, FileID: src.FileID, Size: src.Size,
			CreateTime: now, AccessTime: now, Permission: src.Permission,
			External: src.External, MimeType: src.MimeType,
		}
		if err := storage.InsertFileRecord(ctx, c, dest); err != nil {
			return err
		}
		if err := storage.IncrementDedupCount(ctx, c, src.FileID); err != nil {
			return err
		}
		if err := storage.AddUserSize(ctx, c, user.ID, dest.Size); err != nil {
			return err
		}
		return checkQuota(ctx, c, user)
	})
}

func checkQuota(ctx context.Context, c *storage.WriteCursor, user *types.User) error {
	if user.MaxStorageBytes <= 0 {
		return nil
	}
	used, err := storage.GetUserSize(ctx, c, user.ID)
	if err != nil {
		return err
	}
	if used > user.MaxStorageBytes {
		return lfsserr.New(lfsserr.KindStorageExceeded, "quota exceeded")
	}
	return nil
}

// IsDirConfigFile reports whether url names a directory config descriptor,
// which move-directory, copy-directory and zip bundling skip
// (delete-directory removes it with the rest of the subtree).
func IsDirConfigFile(url string) bool {
	return strings.HasSuffix(url, "/"+types.DirConfigFileName)
}
