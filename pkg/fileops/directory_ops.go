package fileops

import (
	"context"
	"strings"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
)

// MoveDir requires WRITE on both prefixes and moves every descendant file
// (excluding directory-config descriptors), failing if any destination
// already exists. Re-verifies the (possibly new) owner's quota afterward.
func (s *Service) MoveDir(ctx context.Context, user, opUser *types.User, srcDir, destDir string) error {
	if err := storage.ValidateDirURL(srcDir); err != nil {
		return err
	}
	if err := storage.ValidateDirURL(destDir); err != nil {
		return err
	}
	return s.pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		if err := s.requireAccess(ctx, c, srcDir, user, types.AccessWrite); err != nil {
			return err
		}
		if err := s.requireAccess(ctx, c, destDir, user, types.AccessWrite); err != nil {
			return err
		}
		records, err := storage.ListFiles(ctx, c, srcDir, true, storage.ListOptions{})
		if err != nil {
			return err
		}
		touchedOwners := map[int]bool{}
		for _, rec := range records {
			if IsDirConfigFile(rec.URL) {
				continue
			}
			rest := strings.TrimPrefix(rec.URL, srcDir)
			destURL := destDir + rest
			if _, err := storage.GetFileRecord(ctx, c, destURL); err == nil {
				return lfsserr.New(lfsserr.KindFileExists, "destination already exists")
			} else if !lfsserr.Is(err, lfsserr.KindFileNotFound) {
				return err
			}
			if err := storage.UpdateFileURL(ctx, c, rec.URL, destURL); err != nil {
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
				touchedOwners[opUser.ID] = true
			}
		}
		if opUser != nil && touchedOwners[opUser.ID] {
			return checkQuota(ctx, c, opUser)
		}
		return nil
	})
}

// CopyDir duplicates every descendant file (excluding directory-config
// descriptors) into destDir, pointing at the same file-ids and
// incrementing their dedup counters, then enforces the new owner's quota.
func (s *Service) CopyDir(ctx context.Context, user *types.User, srcDir, destDir string) error {
	if err := storage.ValidateDirURL(srcDir); err != nil {
		return err
	}
	if err := storage.ValidateDirURL(destDir); err != nil {
		return err
	}
	return s.pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		if err := s.requireAccess(ctx, c, srcDir, user, types.AccessRead); err != nil {
			return err
		}
		if err := s.requireAccess(ctx, c, destDir, user, types.AccessWrite); err != nil {
			return err
		}
		records, err := storage.ListFiles(ctx, c, srcDir, true, storage.ListOptions{})
		if err != nil {
			return err
		}
		for _, src := range records {
			if IsDirConfigFile(src.URL) {
				continue
			}
			rest := strings.TrimPrefix(src.URL, srcDir)
			destURL := destDir + rest
			if _, err := storage.GetFileRecord(ctx, c, destURL); err == nil {
				return lfsserr.New(lfsserr.KindFileExists, "destination already exists")
			} else if !lfsserr.Is(err, lfsserr.KindFileNotFound) {
				return err
			}
			dest := src
			dest.URL = destURL
			dest.OwnerID = user.ID
			if err := storage.InsertFileRecord(ctx, c, &dest); err != nil {
				return err
			}
			if err := storage.IncrementDedupCount(ctx, c, src.FileID); err != nil {
				return err
			}
			if err := storage.AddUserSize(ctx, c, user.ID, dest.Size); err != nil {
				return err
			}
		}
		return checkQuota(ctx, c, user)
	})
}

// DeleteDir collects every descendant record, batches blob unlinks with
// dedup and deferred external-blob cleanup, and removes the rows.
// Returns the removed records.
func (s *Service) DeleteDir(ctx context.Context, user *types.User, dirURL string) ([]types.FileRecord, error) {
	if err := storage.ValidateDirURL(dirURL); err != nil {
		return nil, err
	}
	cleanup := &deferredCleanup{svc: s}
	var removed []types.FileRecord
	err := s.pool.WithTransaction(ctx, cleanup.hook(), func(c *storage.WriteCursor) error {
		if err := s.requireAccess(ctx, c, dirURL, user, types.AccessWrite); err != nil {
			return err
		}
		records, err := storage.ListFiles(ctx, c, dirURL, true, storage.ListOptions{})
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := deleteRecordWithinTx(ctx, c, s.blobs, rec, cleanup); err != nil {
				return err
			}
		}
		removed = records
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// deleteRecordWithinTx removes one file row, adjusts the owner's size
// counter, and unlinks the blob once its dedup count reaches zero.
func deleteRecordWithinTx(ctx context.Context, c *storage.WriteCursor, blobs *storage.BlobStore, rec types.FileRecord, cleanup *deferredCleanup) error {
	if err := storage.DeleteFileRecord(ctx, c, rec.URL); err != nil {
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
}

// DeleteUser removes the user row, deletes every record whose URL falls
// under the deleted user's subtree regardless of who actually owns each
// file (a peer with WRITE or an admin may have written there, stamping
// themselves as owner), decrementing each record's real owner's size
// counter, then re-homes the user's remaining owned-elsewhere files
// (transferring ownership and re-verifying the new owner's quota).
func (s *Service) DeleteUser(ctx context.Context, username string) error {
	cleanup := &deferredCleanup{svc: s}
	return s.pool.WithTransaction(ctx, cleanup.hook(), func(c *storage.WriteCursor) error {
		target, err := storage.GetUserByUsername(ctx, c, username)
		if err != nil {
			return err
		}
		if err := storage.DeleteUser(ctx, c, target.ID); err != nil {
			return err
		}

		ownPrefix := username + "/"
		subtree, err := storage.ListFiles(ctx, c, ownPrefix, true, storage.ListOptions{})
		if err != nil {
			return err
		}
		for _, rec := range subtree {
			if err := deleteRecordWithinTx(ctx, c, s.blobs, rec, cleanup); err != nil {
				return err
			}
		}

		owned, err := storage.ListFilesUnderOwner(ctx, c, target.ID)
		if err != nil {
			return err
		}
		reVerify := map[int]bool{}
		for _, rec := range owned {
			subtreeOwnerName := storage.PathOwnerUsername(rec.URL)
			subtreeOwner, err := storage.GetUserByUsername(ctx, c, subtreeOwnerName)
			if err != nil {
				return err
			}
			if err := storage.UpdateFileOwner(ctx, c, rec.URL, subtreeOwner.ID); err != nil {
				return err
			}
			if err := storage.AddUserSize(ctx, c, subtreeOwner.ID, rec.Size); err != nil {
				return err
			}
			reVerify[subtreeOwner.ID] = true
		}
		for ownerID := range reVerify {
			owner, err := storage.GetUserByID(ctx, c, ownerID)
			if err != nil {
				return err
			}
			if err := checkQuota(ctx, c, owner); err != nil {
				return err
			}
		}
		return nil
	})
}
