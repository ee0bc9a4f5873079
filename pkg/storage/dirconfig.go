package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/types"
)

// dirConfigURL returns the file URL a directory's config descriptor lives
// at. dirURL must end with /.
func dirConfigURL(dirURL string) string {
	return dirURL + types.DirConfigFileName
}

// GetDirConfig loads the `.lfssdir.json` descriptor for dirURL, returning
// a zero-value DirConfig (no error) if none has been written yet.
func GetDirConfig(ctx context.Context, q Querier, blobs *BlobStore, dirURL string) (*types.DirConfig, error) {
	rec, err := GetFileRecord(ctx, q, dirConfigURL(dirURL))
	if err != nil {
		if lfsserr.Is(err, lfsserr.KindFileNotFound) {
			return &types.DirConfig{}, nil
		}
		return nil, err
	}
	var buf bytes.Buffer
	if err := blobs.ReadFull(ctx, q, rec.FileID, rec.External, &buf); err != nil {
		return nil, err
	}
	var cfg types.DirConfig
	if err := json.Unmarshal(buf.Bytes(), &cfg); err != nil {
		return nil, lfsserr.Wrap(lfsserr.KindInvalidData, "corrupt directory config", err)
	}
	return &cfg, nil
}

// PutDirConfig writes cfg as the `.lfssdir.json` descriptor for dirURL,
// creating or overwriting it in a single transaction.
func PutDirConfig(ctx context.Context, c *WriteCursor, blobs *BlobStore, ownerID int, dirURL string, cfg *types.DirConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	fileID := NewFileID()
	result, err := blobs.SpoolAndStore(ctx, c, fileID, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	now := time.Now()
	rec := &types.FileRecord{
		URL: dirConfigURL(dirURL), OwnerID: ownerID, FileID: fileID,
		Size: result.Size, CreateTime: now, AccessTime: now,
		Permission: types.PermPrivate, External: result.External, MimeType: "application/json",
	}
	return UpsertFileRecord(ctx, c, rec)
}
