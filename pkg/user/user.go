// Package user implements user-facing account management: creation of
// real and virtual (expiring) users, credential verification, peer-access
// grants, and quota/usage reporting. Deletion delegates to pkg/fileops,
// which owns the cross-subtree re-homing and blob-cleanup cascade.
package user

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/menxli/lfss-go/pkg/fileops"
	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
)

// Service manages user accounts over the metadata store.
type Service struct {
	pool  *storage.Pool
	files *fileops.Service
}

// New constructs a user Service.
func New(pool *storage.Pool, files *fileops.Service) *Service {
	return &Service{pool: pool, files: files}
}

// HashCredential derives the stored credential (and bearer token) from a
// username/password pair: SHA-256 of "<username>:<password>", hex-encoded.
func HashCredential(username, password string) string {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return hex.EncodeToString(sum[:])
}

// CreateUser registers a new real (non-virtual) account.
func (s *Service) CreateUser(ctx context.Context, username, password string, isAdmin bool, maxStorageBytes int64, defaultPerm types.ReadPermission) (*types.User, error) {
	if err := storage.ValidateUsername(username); err != nil {
		return nil, err
	}
	credential := HashCredential(username, password)
	var u *types.User
	err := s.pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		var err error
		u, err = storage.CreateUser(ctx, c, username, credential, isAdmin, maxStorageBytes, defaultPerm)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateVirtualUser registers a `.v-`-prefixed account, optionally with a
// soft expiration after which authentication stops recognizing it.
func (s *Service) CreateVirtualUser(ctx context.Context, username, password string, maxStorageBytes int64, defaultPerm types.ReadPermission, expiresAt time.Time) (*types.User, error) {
	if err := storage.ValidateVirtualUsername(username); err != nil {
		return nil, err
	}
	credential := HashCredential(username, password)
	var u *types.User
	err := s.pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		var err error
		u, err = storage.CreateUser(ctx, c, username, credential, false, maxStorageBytes, defaultPerm)
		if err != nil {
			return err
		}
		if !expiresAt.IsZero() {
			return storage.SetUserExpiration(ctx, c, u.ID, expiresAt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateOptions carries the fields an UpdateUser call may change; a nil
// field leaves the current value untouched.
type UpdateOptions struct {
	Password        *string
	MaxStorageBytes *int64
	DefaultPerm     *types.ReadPermission
	IsAdmin         *bool
	ExpiresAt       *time.Time
}

// UpdateUser applies in-place field changes to an existing account.
func (s *Service) UpdateUser(ctx context.Context, username string, opts UpdateOptions) (*types.User, error) {
	var u *types.User
	err := s.pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		existing, err := storage.GetUserByUsername(ctx, c, username)
		if err != nil {
			return err
		}
		if opts.Password != nil {
			existing.CredentialHash = HashCredential(username, *opts.Password)
		}
		if opts.MaxStorageBytes != nil {
			existing.MaxStorageBytes = *opts.MaxStorageBytes
		}
		if opts.DefaultPerm != nil {
			existing.DefaultPerm = *opts.DefaultPerm
		}
		if opts.IsAdmin != nil {
			existing.IsAdmin = *opts.IsAdmin
		}
		if err := storage.UpdateUser(ctx, c, existing); err != nil {
			return err
		}
		if opts.ExpiresAt != nil {
			if err := storage.SetUserExpiration(ctx, c, existing.ID, *opts.ExpiresAt); err != nil {
				return err
			}
		}
		u = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteUser removes an account and re-homes or unlinks its files. The
// heavy lifting (cross-subtree ownership transfer, blob cleanup) lives in
// pkg/fileops, which is the only layer that touches both the metadata
// store and the blob store inside one transaction.
func (s *Service) DeleteUser(ctx context.Context, username string) error {
	return s.files.DeleteUser(ctx, username)
}

// Authenticate resolves a bearer token (the credential hash itself) to a
// user, returning the guest user for an empty token.
func (s *Service) Authenticate(ctx context.Context, token string) (*types.User, error) {
	if token == "" {
		return types.GuestUser(), nil
	}
	var u *types.User
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		var err error
		u, err = storage.GetUserByCredential(ctx, c, token)
		return err
	})
	if err != nil {
		if lfsserr.Is(err, lfsserr.KindUserNotFound) {
			return nil, lfsserr.New(lfsserr.KindUserNotFound, "invalid credential")
		}
		return nil, err
	}
	return u, nil
}

// AuthenticateBasic resolves HTTP Basic credentials (username/password)
// to a user, for the WebDAV surface where bearer tokens are awkward.
func (s *Service) AuthenticateBasic(ctx context.Context, username, password string) (*types.User, error) {
	var u *types.User
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		existing, err := storage.GetUserByUsername(ctx, c, username)
		if err != nil {
			return err
		}
		if existing.CredentialHash != HashCredential(username, password) {
			return lfsserr.New(lfsserr.KindUserNotFound, "invalid credential")
		}
		u = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetByUsername looks up a user record by name.
func (s *Service) GetByUsername(ctx context.Context, username string) (*types.User, error) {
	var u *types.User
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		var err error
		u, err = storage.GetUserByUsername(ctx, c, username)
		return err
	})
	return u, err
}

// StorageUsage reports how many bytes a user currently occupies against
// their quota (0 means unlimited).
func (s *Service) StorageUsage(ctx context.Context, username string) (used int64, quota int64, err error) {
	err = s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		u, err := storage.GetUserByUsername(ctx, c, username)
		if err != nil {
			return err
		}
		quota = u.MaxStorageBytes
		used, err = storage.GetUserSize(ctx, c, u.ID)
		return err
	})
	return used, quota, err
}

// SetPeerAccess grants (or revokes, with AccessNone) srcUsername's access
// level over dstUsername's subtree.
func (s *Service) SetPeerAccess(ctx context.Context, srcUsername, dstUsername string, level types.AccessLevel) error {
	return s.pool.WithTransaction(ctx, nil, func(c *storage.WriteCursor) error {
		src, err := storage.GetUserByUsername(ctx, c, srcUsername)
		if err != nil {
			return err
		}
		dst, err := storage.GetUserByUsername(ctx, c, dstUsername)
		if err != nil {
			return err
		}
		return storage.SetPeerAccess(ctx, c, src.ID, dst.ID, level)
	})
}

// ListPeers returns every grant where username is the grantee.
func (s *Service) ListPeers(ctx context.Context, username string) ([]types.PeerAccess, error) {
	var out []types.PeerAccess
	err := s.pool.WithReader(ctx, func(c *storage.ReadCursor) error {
		u, err := storage.GetUserByUsername(ctx, c, username)
		if err != nil {
			return err
		}
		out, err = storage.ListPeersOf(ctx, c, u.ID)
		return err
	})
	return out, err
}
