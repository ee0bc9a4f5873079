package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/types"
)

// Querier is satisfied by both ReadCursor and WriteCursor, so read-only
// metadata queries can run on either.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// querier is kept as an internal alias so the rest of this package's
// signatures don't need touching.
type querier = Querier

func scanUser(row *sql.Row) (*types.User, error) {
	var u types.User
	var isAdmin int
	if err := row.Scan(&u.ID, &u.Username, &u.CredentialHash, &isAdmin, &u.CreatedAt, &u.LastActive, &u.MaxStorageBytes, &u.DefaultPerm); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lfsserr.New(lfsserr.KindUserNotFound, "user not found")
		}
		return nil, err
	}
	u.IsAdmin = isAdmin != 0
	return &u, nil
}

// GetUserByUsername fetches a user by username. Returns a KindUserNotFound error if
// absent, or if the user is a virtual user whose expiration has passed.
func GetUserByUsername(ctx context.Context, q querier, username string) (*types.User, error) {
	row := q.QueryRowContext(ctx, `SELECT id, username, credential, is_admin, created_at, last_active, max_storage_bytes, default_perm FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	if u.IsVirtual() {
		expired, err := isExpired(ctx, q, u.ID)
		if err != nil {
			return nil, err
		}
		if expired {
			return nil, lfsserr.New(lfsserr.KindUserNotFound, "virtual user expired")
		}
	}
	return u, nil
}

// GetUserByID fetches a user by id, applying the same expiration check.
func GetUserByID(ctx context.Context, q querier, id int) (*types.User, error) {
	if id == types.GuestUserID {
		return types.GuestUser(), nil
	}
	row := q.QueryRowContext(ctx, `SELECT id, username, credential, is_admin, created_at, last_active, max_storage_bytes, default_perm FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	if u.IsVirtual() {
		expired, err := isExpired(ctx, q, u.ID)
		if err != nil {
			return nil, err
		}
		if expired {
			return nil, lfsserr.New(lfsserr.KindUserNotFound, "virtual user expired")
		}
	}
	return u, nil
}

// GetUserByCredential resolves a bearer token (== stored credential hash)
// to a user, honoring virtual-user expiration.
func GetUserByCredential(ctx context.Context, q querier, credential string) (*types.User, error) {
	row := q.QueryRowContext(ctx, `SELECT id, username, credential, is_admin, created_at, last_active, max_storage_bytes, default_perm FROM users WHERE credential = ?`, credential)
	u, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	if u.IsVirtual() {
		expired, err := isExpired(ctx, q, u.ID)
		if err != nil {
			return nil, err
		}
		if expired {
			return nil, lfsserr.New(lfsserr.KindUserNotFound, "virtual user expired")
		}
	}
	return u, nil
}

func isExpired(ctx context.Context, q querier, userID int) (bool, error) {
	row := q.QueryRowContext(ctx, `SELECT expires_at FROM user_expirations WHERE user_id = ?`, userID)
	var expiresAt time.Time
	if err := row.Scan(&expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return time.Now().After(expiresAt), nil
}

// CreateUser inserts a new user row and its zeroed size counter.
func CreateUser(ctx context.Context, c *WriteCursor, username, credentialHash string, isAdmin bool, maxStorageBytes int64, defaultPerm types.ReadPermission) (*types.User, error) {
	now := time.Now()
	res, err := c.ExecContext(ctx, `INSERT INTO users (username, credential, is_admin, created_at, last_active, max_storage_bytes, default_perm) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		username, credentialHash, boolToInt(isAdmin), now, now, maxStorageBytes, defaultPerm)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := c.ExecContext(ctx, `INSERT INTO user_size (user_id, total_bytes) VALUES (?, 0)`, id); err != nil {
		return nil, err
	}
	return &types.User{
		ID: int(id), Username: username, CredentialHash: credentialHash, IsAdmin: isAdmin,
		CreatedAt: now, LastActive: now, MaxStorageBytes: maxStorageBytes, DefaultPerm: defaultPerm,
	}, nil
}

// SetUserExpiration sets (or clears, if zero) a virtual user's expiration.
func SetUserExpiration(ctx context.Context, c *WriteCursor, userID int, expiresAt time.Time) error {
	if expiresAt.IsZero() {
		_, err := c.ExecContext(ctx, `DELETE FROM user_expirations WHERE user_id = ?`, userID)
		return err
	}
	_, err := c.ExecContext(ctx, `INSERT INTO user_expirations (user_id, expires_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET expires_at = excluded.expires_at`, userID, expiresAt)
	return err
}

// UpdateUser applies in-place field changes.
func UpdateUser(ctx context.Context, c *WriteCursor, u *types.User) error {
	_, err := c.ExecContext(ctx, `UPDATE users SET credential = ?, is_admin = ?, max_storage_bytes = ?, default_perm = ? WHERE id = ?`,
		u.CredentialHash, boolToInt(u.IsAdmin), u.MaxStorageBytes, u.DefaultPerm, u.ID)
	return err
}

// TouchLastActive writes last_active immediately; the debounced path in
// debounce.go coalesces touches and calls this from its flush.
func TouchLastActive(ctx context.Context, c *WriteCursor, userID int, at time.Time) error {
	_, err := c.ExecContext(ctx, `UPDATE users SET last_active = ? WHERE id = ?`, at, userID)
	return err
}

// DeleteUser removes the user row. Cascades (file re-homing, blob cleanup)
// are orchestrated by pkg/fileops; this only removes the row itself.
func DeleteUser(ctx context.Context, c *WriteCursor, userID int) error {
	if _, err := c.ExecContext(ctx, `DELETE FROM user_expirations WHERE user_id = ?`, userID); err != nil {
		return err
	}
	if _, err := c.ExecContext(ctx, `DELETE FROM user_size WHERE user_id = ?`, userID); err != nil {
		return err
	}
	if _, err := c.ExecContext(ctx, `DELETE FROM peer_access WHERE src_user_id = ? OR dst_user_id = ?`, userID, userID); err != nil {
		return err
	}
	res, err := c.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return lfsserr.New(lfsserr.KindUserNotFound, "user not found")
	}
	return nil
}

// GetUserSize returns the materialized per-user byte counter.
func GetUserSize(ctx context.Context, q querier, userID int) (int64, error) {
	row := q.QueryRowContext(ctx, `SELECT total_bytes FROM user_size WHERE user_id = ?`, userID)
	var total int64
	if err := row.Scan(&total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return total, nil
}

// AddUserSize adjusts the per-user byte counter by delta (may be negative).
func AddUserSize(ctx context.Context, c *WriteCursor, userID int, delta int64) error {
	_, err := c.ExecContext(ctx, `INSERT INTO user_size (user_id, total_bytes) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET total_bytes = total_bytes + excluded.total_bytes`, userID, delta)
	return err
}

// GetPeerAccess returns the access level src holds over dst's subtree,
// defaulting to AccessNone when no grant exists.
func GetPeerAccess(ctx context.Context, q querier, srcUserID, dstUserID int) (types.AccessLevel, error) {
	row := q.QueryRowContext(ctx, `SELECT access_level FROM peer_access WHERE src_user_id = ? AND dst_user_id = ?`, srcUserID, dstUserID)
	var level int
	if err := row.Scan(&level); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.AccessNone, nil
		}
		return types.AccessNone, err
	}
	return types.AccessLevel(level), nil
}

// SetPeerAccess upserts (or, for AccessNone, deletes) the grant.
func SetPeerAccess(ctx context.Context, c *WriteCursor, srcUserID, dstUserID int, level types.AccessLevel) error {
	if level == types.AccessNone {
		_, err := c.ExecContext(ctx, `DELETE FROM peer_access WHERE src_user_id = ? AND dst_user_id = ?`, srcUserID, dstUserID)
		return err
	}
	_, err := c.ExecContext(ctx, `INSERT INTO peer_access (src_user_id, dst_user_id, access_level) VALUES (?, ?, ?)
		ON CONFLICT(src_user_id, dst_user_id) DO UPDATE SET access_level = excluded.access_level`, srcUserID, dstUserID, int(level))
	return err
}

// ListPeersOf returns every grant where srcUserID is the grantee.
func ListPeersOf(ctx context.Context, q querier, srcUserID int) ([]types.PeerAccess, error) {
	rows, err := q.QueryContext(ctx, `SELECT src_user_id, dst_user_id, access_level FROM peer_access WHERE src_user_id = ?`, srcUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.PeerAccess
	for rows.Next() {
		var pa types.PeerAccess
		var level int
		if err := rows.Scan(&pa.SrcUserID, &pa.DstUserID, &level); err != nil {
			return nil, err
		}
		pa.Level = types.AccessLevel(level)
		out = append(out, pa)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
