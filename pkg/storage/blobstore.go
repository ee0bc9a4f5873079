package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/menxli/lfss-go/pkg/lfsserr"
)

// BlobStore persists file content, split between inline (small files, kept
// as a BLOB column) and external (large files, one file per file id on disk
// under ExternalDir) tiers.
type BlobStore struct {
	externalDir    string
	largeThreshold int64
	memoryCapBytes int64
	streamChunk    int64
}

// NewBlobStore creates the store and ensures externalDir exists.
func NewBlobStore(externalDir string, largeThreshold, memoryCapBytes, streamChunk int64) (*BlobStore, error) {
	if err := os.MkdirAll(externalDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating external blob dir: %w", err)
	}
	return &BlobStore{
		externalDir:    externalDir,
		largeThreshold: largeThreshold,
		memoryCapBytes: memoryCapBytes,
		streamChunk:    streamChunk,
	}, nil
}

// externalPath returns the on-disk path for a file id: a file named after
// the id directly under externalDir.
func (b *BlobStore) externalPath(fileID string) string {
	return filepath.Join(b.externalDir, fileID)
}

// WriteResult reports where a spooled write landed and its final size.
type WriteResult struct {
	External bool
	Size     int64
}

// SpoolAndStore reads src fully and stores it in the tier chosen from
// knownSize before any byte is read: above largeThreshold it is written
// straight to a temp file under externalDir and renamed into place,
// otherwise it is buffered whole in memory and inserted as an inline row.
// memoryCapBytes does not bound that buffer, and the tier follows knownSize
// rather than the number of bytes actually read. fileID is an opaque id
// from NewFileID. Returns the final placement.
func (b *BlobStore) SpoolAndStore(ctx context.Context, c *WriteCursor, fileID string, src io.Reader, knownSize int64) (*WriteResult, error) {
	external := knownSize > b.largeThreshold
	if external {
		return b.storeExternal(fileID, src)
	}
	return b.storeInline(ctx, c, fileID, src)
}

func (b *BlobStore) storeInline(ctx context.Context, c *WriteCursor, fileID string, src io.Reader) (*WriteResult, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, src)
	if err != nil {
		return nil, fmt.Errorf("reading inline blob: %w", err)
	}
	_, err = c.ExecContext(ctx, `INSERT INTO blobs (file_id, data) VALUES (?, ?)
		ON CONFLICT(file_id) DO NOTHING`, fileID, buf.Bytes())
	if err != nil {
		return nil, err
	}
	return &WriteResult{External: false, Size: n}, nil
}

// SpooledBlob is content already consumed from the source reader: an
// external blob is already committed to disk, an inline blob is buffered in
// memory awaiting Commit inside a short transaction.
type SpooledBlob struct {
	blobs    *BlobStore
	fileID   string
	External bool
	Size     int64
	data     []byte
}

// Spool consumes src fully and places it in the tier dictated by knownSize,
// writing straight to disk for external blobs. It takes no WriteCursor and
// does no database work, so it can run before a transaction opens, keeping
// the disk copy and fsync of a large upload off the single-writer critical
// section.
func (b *BlobStore) Spool(fileID string, src io.Reader, knownSize int64) (*SpooledBlob, error) {
	if knownSize > b.largeThreshold {
		res, err := b.storeExternal(fileID, src)
		if err != nil {
			return nil, err
		}
		return &SpooledBlob{blobs: b, fileID: fileID, External: true, Size: res.Size}, nil
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, src)
	if err != nil {
		return nil, fmt.Errorf("reading inline blob: %w", err)
	}
	return &SpooledBlob{blobs: b, fileID: fileID, External: false, Size: n, data: buf.Bytes()}, nil
}

// Commit records the spooled blob within an open transaction. External
// blobs are already on disk and need no further write; inline blobs are
// inserted as a row here, the only database work Spool deferred.
func (sb *SpooledBlob) Commit(ctx context.Context, c *WriteCursor) error {
	if sb.External {
		return nil
	}
	_, err := c.ExecContext(ctx, `INSERT INTO blobs (file_id, data) VALUES (?, ?)
		ON CONFLICT(file_id) DO NOTHING`, sb.fileID, sb.data)
	return err
}

// Discard unlinks an already-written external blob after the transaction
// that would have recorded it failed or rolled back. A no-op for inline
// blobs, whose row never left the failed transaction.
func (sb *SpooledBlob) Discard() {
	if sb.External {
		_ = sb.blobs.DeleteExternal(sb.fileID)
	}
}

func (b *BlobStore) storeExternal(fileID string, src io.Reader) (*WriteResult, error) {
	path := b.externalPath(fileID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating external blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp blob: %w", err)
	}
	tmpName := tmp.Name()
	n, copyErr := io.Copy(tmp, src)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	if copyErr != nil || syncErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if copyErr != nil {
			return nil, fmt.Errorf("writing external blob: %w", copyErr)
		}
		if syncErr != nil {
			return nil, fmt.Errorf("syncing external blob: %w", syncErr)
		}
		return nil, fmt.Errorf("closing external blob: %w", closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("committing external blob: %w", err)
	}
	return &WriteResult{External: true, Size: n}, nil
}

// ReadFull streams the entire blob for fileID to w.
func (b *BlobStore) ReadFull(ctx context.Context, q querier, fileID string, external bool, w io.Writer) error {
	if !external {
		data, err := b.readInlineBytes(ctx, q, fileID)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	f, err := os.Open(b.externalPath(fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return lfsserr.Wrap(lfsserr.KindFileNotFound, "blob missing on disk", err)
		}
		return err
	}
	defer f.Close()
	buf := make([]byte, b.streamChunk)
	_, err = io.CopyBuffer(w, f, buf)
	return err
}

// ReadRange streams [start, start+length) of the blob to w. length < 0
// means "to end of file".
func (b *BlobStore) ReadRange(ctx context.Context, q querier, fileID string, external bool, start, length int64, w io.Writer) error {
	if !external {
		data, err := b.readInlineBytes(ctx, q, fileID)
		if err != nil {
			return err
		}
		if start > int64(len(data)) {
			start = int64(len(data))
		}
		end := int64(len(data))
		if length >= 0 && start+length < end {
			end = start + length
		}
		_, err = w.Write(data[start:end])
		return err
	}
	f, err := os.Open(b.externalPath(fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return lfsserr.Wrap(lfsserr.KindFileNotFound, "blob missing on disk", err)
		}
		return err
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}
	var r io.Reader = f
	if length >= 0 {
		r = io.LimitReader(f, length)
	}
	buf := make([]byte, b.streamChunk)
	_, err = io.CopyBuffer(w, r, buf)
	return err
}

func (b *BlobStore) readInlineBytes(ctx context.Context, q querier, fileID string) ([]byte, error) {
	row := q.QueryRowContext(ctx, `SELECT data FROM blobs WHERE file_id = ?`, fileID)
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lfsserr.New(lfsserr.KindFileNotFound, "blob not found")
		}
		return nil, err
	}
	return data, nil
}

// DeleteInlineBlob removes the inline blob row (called once the dedup counter
// for fileID reaches zero).
func DeleteInlineBlob(ctx context.Context, c *WriteCursor, fileID string) error {
	_, err := c.ExecContext(ctx, `DELETE FROM blobs WHERE file_id = ?`, fileID)
	return err
}

// DeleteExternal unlinks the on-disk blob for fileID. Called once the
// dedup counter reaches zero; safe to call even if the file is absent.
func (b *BlobStore) DeleteExternal(fileID string) error {
	err := os.Remove(b.externalPath(fileID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ResolveMimeType picks a content type: caller override, then file
// extension, then content sniffing, then a generic fallback.
func ResolveMimeType(urlPath string, override string, head []byte) string {
	if override != "" {
		return override
	}
	if ext := filepath.Ext(urlPath); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return stripMimeParams(t)
		}
	}
	if len(head) > 0 {
		return stripMimeParams(http.DetectContentType(head))
	}
	return "application/octet-stream"
}

func stripMimeParams(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		return strings.TrimSpace(t[:i])
	}
	return t
}
