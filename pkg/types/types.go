package types

import "time"

// AccessLevel orders the privileges a user can hold over another user's
// subtree, from an explicit peer grant or a directory-config override.
type AccessLevel int

const (
	AccessGuest AccessLevel = iota - 1
	AccessNone
	AccessRead
	AccessWrite
	AccessAll
)

// String renders the access level the way it appears in API responses.
func (a AccessLevel) String() string {
	switch a {
	case AccessGuest:
		return "GUEST"
	case AccessNone:
		return "NONE"
	case AccessRead:
		return "READ"
	case AccessWrite:
		return "WRITE"
	case AccessAll:
		return "ALL"
	default:
		return "UNKNOWN"
	}
}

// ReadPermission is the per-file read visibility, independent of the
// path-level AccessLevel computed by the permission engine.
type ReadPermission int

const (
	PermUnset ReadPermission = iota
	PermPublic
	PermProtected
	PermPrivate
)

// GuestUserID is the sentinel id representing unauthenticated access.
const GuestUserID = 0

// VirtualUserPrefix marks a username as a virtual (short-lived) user.
const VirtualUserPrefix = ".v-"

// User is a registered identity owning a username-rooted subtree.
type User struct {
	ID              int
	Username        string
	CredentialHash  string
	IsAdmin         bool
	CreatedAt       time.Time
	LastActive      time.Time
	MaxStorageBytes int64
	DefaultPerm     ReadPermission
}

// IsVirtual reports whether the username carries the virtual-user marker.
func (u *User) IsVirtual() bool {
	return len(u.Username) >= len(VirtualUserPrefix) && u.Username[:len(VirtualUserPrefix)] == VirtualUserPrefix
}

// IsGuest reports whether this is the sentinel unauthenticated user.
func (u *User) IsGuest() bool {
	return u == nil || u.ID == GuestUserID
}

// GuestUser returns the sentinel guest identity.
func GuestUser() *User {
	return &User{ID: GuestUserID, Username: "", DefaultPerm: PermPrivate}
}

// PeerAccess is a single (src, dst, level) grant: src's access to dst's subtree.
type PeerAccess struct {
	SrcUserID int
	DstUserID int
	Level     AccessLevel
}

// FileRecord is the metadata row for one stored blob at a URL.
type FileRecord struct {
	URL        string
	OwnerID    int
	FileID     string
	Size       int64
	CreateTime time.Time
	AccessTime time.Time
	Permission ReadPermission
	External   bool
	MimeType   string
}

// DirectoryRecord is the aggregate projection returned for a URL prefix;
// directories have no row of their own.
type DirectoryRecord struct {
	URL       string
	Size      int64
	NFiles    int
	MinCreate time.Time
	MaxCreate time.Time
	MaxAccess time.Time
}

// DirConfig is the optional `.lfssdir.json` descriptor for a directory.
type DirConfig struct {
	Index         string                 `json:"index,omitempty"`
	AccessControl map[string]AccessLevel `json:"access_control,omitempty"`
}

// DirConfigFileName is the basename of the directory config file.
const DirConfigFileName = ".lfssdir.json"

// KeepFileName is the placeholder file MKCOL creates to make an otherwise
// empty directory queryable.
const KeepFileName = ".lfss_keep"

// OrderKey is a closed set of file-listing sort keys.
type OrderKey string

const (
	OrderURL        OrderKey = "url"
	OrderFileSize   OrderKey = "file_size"
	OrderCreateTime OrderKey = "create_time"
	OrderAccessTime OrderKey = "access_time"
	OrderMimeType   OrderKey = "mime_type"
)

// ValidOrderKeys enumerates the acceptable list-files sort keys.
var ValidOrderKeys = map[OrderKey]bool{
	OrderURL:        true,
	OrderFileSize:   true,
	OrderCreateTime: true,
	OrderAccessTime: true,
	OrderMimeType:   true,
}

// ConflictPolicy governs PUT behaviour when the target URL already exists.
type ConflictPolicy string

const (
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictSkip      ConflictPolicy = "skip"
	ConflictAbort     ConflictPolicy = "abort"
)
