package api

import (
	"time"

	"github.com/menxli/lfss-go/pkg/types"
)

// fileRecordResponse is the JSON projection of types.FileRecord returned
// from the native HTTP surface; types.FileRecord itself carries no JSON
// tags since it also backs the SQLite row mapping.
type fileRecordResponse struct {
	URL        string    `json:"url"`
	Owner      int       `json:"owner_id"`
	FileID     string    `json:"file_id"`
	Size       int64     `json:"size"`
	CreateTime time.Time `json:"create_time"`
	AccessTime time.Time `json:"access_time"`
	Permission int       `json:"permission"`
	External   bool      `json:"external"`
	MimeType   string    `json:"mime_type"`
}

func fileRecordDTO(rec *types.FileRecord) fileRecordResponse {
	return fileRecordResponse{
		URL:        rec.URL,
		Owner:      rec.OwnerID,
		FileID:     rec.FileID,
		Size:       rec.Size,
		CreateTime: rec.CreateTime,
		AccessTime: rec.AccessTime,
		Permission: int(rec.Permission),
		External:   rec.External,
		MimeType:   rec.MimeType,
	}
}

// dirRecordResponse is the JSON projection of types.DirectoryRecord.
type dirRecordResponse struct {
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	NFiles    int       `json:"n_files"`
	MinCreate time.Time `json:"min_create_time"`
	MaxCreate time.Time `json:"max_create_time"`
	MaxAccess time.Time `json:"max_access_time"`
}

func dirRecordDTO(rec *types.DirectoryRecord) dirRecordResponse {
	return dirRecordResponse{
		URL:       rec.URL,
		Size:      rec.Size,
		NFiles:    rec.NFiles,
		MinCreate: rec.MinCreate,
		MaxCreate: rec.MaxCreate,
		MaxAccess: rec.MaxAccess,
	}
}

// directoryListingDTO is the response body for a GET on a directory URL.
type directoryListingDTO struct {
	Files []fileRecordResponse `json:"files"`
	Dirs  []dirRecordResponse  `json:"dirs"`
}

// userResponse is the JSON projection of types.User returned from the
// user-management endpoints; CredentialHash is never serialized.
type userResponse struct {
	ID              int       `json:"id"`
	Username        string    `json:"username"`
	IsAdmin         bool      `json:"is_admin"`
	CreatedAt       time.Time `json:"created_at"`
	LastActive      time.Time `json:"last_active"`
	MaxStorageBytes int64     `json:"max_storage_bytes"`
	DefaultPerm     int       `json:"default_permission"`
}

func userDTO(u *types.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Username:        u.Username,
		IsAdmin:         u.IsAdmin,
		CreatedAt:       u.CreatedAt,
		LastActive:      u.LastActive,
		MaxStorageBytes: u.MaxStorageBytes,
		DefaultPerm:     int(u.DefaultPerm),
	}
}

// peerAccessResponse is the JSON projection of types.PeerAccess.
type peerAccessResponse struct {
	SrcUserID int    `json:"src_user_id"`
	DstUserID int    `json:"dst_user_id"`
	Level     string `json:"level"`
}

func peerAccessDTO(p *types.PeerAccess) peerAccessResponse {
	return peerAccessResponse{
		SrcUserID: p.SrcUserID,
		DstUserID: p.DstUserID,
		Level:     p.Level.String(),
	}
}
