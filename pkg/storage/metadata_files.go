package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/types"
)

func scanFileRecord(row *sql.Row) (*types.FileRecord, error) {
	var r types.FileRecord
	var external int
	if err := row.Scan(&r.URL, &r.OwnerID, &r.FileID, &r.Size, &r.CreateTime, &r.AccessTime, &r.Permission, &external, &r.MimeType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lfsserr.New(lfsserr.KindFileNotFound, "file not found")
		}
		return nil, err
	}
	r.External = external != 0
	return &r, nil
}

// GetFileRecord fetches the metadata row for an exact file URL.
func GetFileRecord(ctx context.Context, q querier, url string) (*types.FileRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT url, owner_id, file_id, size, create_time, access_time, permission, external, mime_type FROM files WHERE url = ?`, url)
	return scanFileRecord(row)
}

// InsertFileRecord inserts a new file row, failing with KindFileExists if
// the URL is already occupied.
func InsertFileRecord(ctx context.Context, c *WriteCursor, r *types.FileRecord) error {
	_, err := c.ExecContext(ctx, `INSERT INTO files (url, owner_id, file_id, size, create_time, access_time, permission, external, mime_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.URL, r.OwnerID, r.FileID, r.Size, r.CreateTime, r.AccessTime, r.Permission, boolToInt(r.External), r.MimeType)
	if err != nil {
		if isUniqueViolation(err) {
			return lfsserr.Wrap(lfsserr.KindFileExists, "file already exists", err)
		}
		return err
	}
	return nil
}

// UpsertFileRecord inserts or overwrites (used when a caller already
// resolved a conflict-overwrite policy).
func UpsertFileRecord(ctx context.Context, c *WriteCursor, r *types.FileRecord) error {
	_, err := c.ExecContext(ctx, `INSERT INTO files (url, owner_id, file_id, size, create_time, access_time, permission, external, mime_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET owner_id = excluded.owner_id, file_id = excluded.file_id,
			size = excluded.size, create_time = excluded.create_time, access_time = excluded.access_time,
			permission = excluded.permission, external = excluded.external, mime_type = excluded.mime_type`,
		r.URL, r.OwnerID, r.FileID, r.Size, r.CreateTime, r.AccessTime, r.Permission, boolToInt(r.External), r.MimeType)
	return err
}

// UpdateFileURL renames a file row in place (used by move).
func UpdateFileURL(ctx context.Context, c *WriteCursor, oldURL, newURL string) error {
	res, err := c.ExecContext(ctx, `UPDATE files SET url = ? WHERE url = ?`, newURL, oldURL)
	if err != nil {
		if isUniqueViolation(err) {
			return lfsserr.Wrap(lfsserr.KindFileExists, "destination already exists", err)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return lfsserr.New(lfsserr.KindFileNotFound, "file not found")
	}
	return nil
}

// UpdateFileOwner reassigns ownership (used when a move transfers a file to
// the operating user, and when re-homing after a user deletion).
func UpdateFileOwner(ctx context.Context, c *WriteCursor, url string, ownerID int) error {
	_, err := c.ExecContext(ctx, `UPDATE files SET owner_id = ? WHERE url = ?`, ownerID, url)
	return err
}

// UpdateFilePermission sets the per-file read permission override.
func UpdateFilePermission(ctx context.Context, c *WriteCursor, url string, perm types.ReadPermission) error {
	_, err := c.ExecContext(ctx, `UPDATE files SET permission = ? WHERE url = ?`, perm, url)
	return err
}

// TouchFileAccess stamps the access_time column; see debounce.go for the
// coalesced caller-facing path.
func TouchFileAccess(ctx context.Context, c *WriteCursor, url string, at time.Time) error {
	_, err := c.ExecContext(ctx, `UPDATE files SET access_time = ? WHERE url = ?`, at, url)
	return err
}

// DeleteFileRecord removes the metadata row. Blob/dedup-counter cleanup is
// the caller's (pkg/fileops) responsibility.
func DeleteFileRecord(ctx context.Context, c *WriteCursor, url string) error {
	res, err := c.ExecContext(ctx, `DELETE FROM files WHERE url = ?`, url)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return lfsserr.New(lfsserr.KindFileNotFound, "file not found")
	}
	return nil
}

// ListFilesUnderOwner returns every file row belonging to ownerID, for the
// re-homing pass run when that user is deleted.
func ListFilesUnderOwner(ctx context.Context, q querier, ownerID int) ([]types.FileRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT url, owner_id, file_id, size, create_time, access_time, permission, external, mime_type FROM files WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.FileRecord
	for rows.Next() {
		var r types.FileRecord
		var external int
		if err := rows.Scan(&r.URL, &r.OwnerID, &r.FileID, &r.Size, &r.CreateTime, &r.AccessTime, &r.Permission, &external, &r.MimeType); err != nil {
			return nil, err
		}
		r.External = external != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- dedup counters ---

// GetDedupCount returns how many file rows reference fileID beyond the
// first one (0 when no counter row exists).
func GetDedupCount(ctx context.Context, q querier, fileID string) (int, error) {
	row := q.QueryRowContext(ctx, `SELECT count FROM dedup_counters WHERE file_id = ?`, fileID)
	var n int
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// IncrementDedupCount bumps (or creates, at 1) the reference counter for a
// content identity. Called whenever a copy makes a new URL point at an
// existing blob; a save always stores content under a fresh file id.
func IncrementDedupCount(ctx context.Context, c *WriteCursor, fileID string) error {
	_, err := c.ExecContext(ctx, `INSERT INTO dedup_counters (file_id, count) VALUES (?, 1)
		ON CONFLICT(file_id) DO UPDATE SET count = count + 1`, fileID)
	return err
}

// DecrementDedupCount removes one reference to fileID's content. The
// counter tracks references *beyond* the row currently being removed: a
// positive count means another row still shares the blob, so it is only
// decremented and the blob survives; a zero (or absent) count means this
// was the last reference and the caller must physically unlink the blob.
func DecrementDedupCount(ctx context.Context, c *WriteCursor, fileID string) (blobNowOrphaned bool, err error) {
	row := c.QueryRowContext(ctx, `SELECT count FROM dedup_counters WHERE file_id = ?`, fileID)
	var n int
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, err
	}
	if n <= 0 {
		if _, err := c.ExecContext(ctx, `DELETE FROM dedup_counters WHERE file_id = ?`, fileID); err != nil {
			return false, err
		}
		return true, nil
	}
	if _, err := c.ExecContext(ctx, `UPDATE dedup_counters SET count = count - 1 WHERE file_id = ?`, fileID); err != nil {
		return false, err
	}
	return false, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
