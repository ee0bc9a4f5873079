package webdav

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/net/webdav"
)

var bucketLocks = []byte("locks")

// lockRecord is the persisted shape of one outstanding WebDAV lock.
// x/net/webdav.LockSystem.Create and Unlock never receive the caller
// identity, so Owner is never filled in and stays empty — matching is by
// token alone, as the stdlib dispatch requires.
type lockRecord struct {
	Token    string    `json:"token"`
	Root     string    `json:"root"`
	Zero     bool      `json:"zero_depth"`
	Owner    string    `json:"owner"`
	OwnerXML string    `json:"owner_xml"`
	Expiry   time.Time `json:"expiry"`
}

// LockSystem implements golang.org/x/net/webdav.LockSystem on a bbolt file,
// recreated empty on every startup: outstanding locks don't need to survive
// a restart, and starting empty avoids resurrecting a lock nobody can
// explain.
type LockSystem struct {
	db  *bolt.DB
	mu  sync.Mutex
	ttl time.Duration
}

// NewLockSystem opens (recreating) the bbolt lock database at path.
func NewLockSystem(path string, timeout time.Duration) (*LockSystem, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening lock database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketLocks); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketLocks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("resetting lock bucket: %w", err)
	}
	return &LockSystem{db: db, ttl: timeout}, nil
}

// Close releases the underlying bbolt handle.
func (ls *LockSystem) Close() error {
	return ls.db.Close()
}

var _ webdav.LockSystem = (*LockSystem)(nil)

// Confirm implements webdav.LockSystem. It takes the system's own mutex in
// addition to bbolt's own locking, since the check-then-act sequence
// (conflict scan, then a second Create call from the caller) must be
// atomic across the whole LockSystem, not just within one bbolt write.
func (ls *LockSystem) Confirm(now time.Time, name0, name1 string, conditions ...webdav.Condition) (func(), error) {
	ls.mu.Lock()
	release, err := ls.confirmLocked(now, name0, name1, conditions...)
	if err != nil {
		ls.mu.Unlock()
		return nil, err
	}
	return func() {
		release()
		ls.mu.Unlock()
	}, nil
}

func (ls *LockSystem) confirmLocked(now time.Time, name0, name1 string, conditions ...webdav.Condition) (func(), error) {
	names := []string{name0}
	if name1 != "" {
		names = append(names, name1)
	}
	tokenOf := func(conds []webdav.Condition) string {
		for _, c := range conds {
			if c.Token != "" {
				return c.Token
			}
		}
		return ""
	}
	token := tokenOf(conditions)

	err := ls.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		return b.ForEach(func(_, v []byte) error {
			var rec lockRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if rec.Expiry.Before(now) {
				return nil
			}
			if rec.Token == token {
				return nil
			}
			for _, n := range names {
				if pathsConflict(rec.Root, rec.Zero, n) {
					return webdav.ErrLocked
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return func() {}, nil
}

func pathsConflict(lockedRoot string, zeroDepth bool, candidate string) bool {
	if candidate == lockedRoot {
		return true
	}
	if zeroDepth {
		return false
	}
	return hasPathPrefix(candidate, lockedRoot) || hasPathPrefix(lockedRoot, candidate)
}

func hasPathPrefix(p, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if len(p) < len(prefix) {
		return false
	}
	return p[:len(prefix)] == prefix
}

// Create implements webdav.LockSystem, minting a new token for a lock
// request and persisting it with the configured timeout (capped by the
// caller-requested duration when it's shorter).
func (ls *LockSystem) Create(now time.Time, details webdav.LockDetails) (string, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if _, err := ls.confirmLocked(now, details.Root, "", webdav.Condition{}); err != nil {
		return "", err
	}

	d := ls.ttl
	if details.Duration > 0 && details.Duration < d {
		d = details.Duration
	}
	token := "opaquelocktoken:" + uuid.New().String()
	rec := lockRecord{
		Token:    token,
		Root:     details.Root,
		Zero:     details.ZeroDepth,
		OwnerXML: details.OwnerXML,
		Expiry:   now.Add(d),
	}
	if err := ls.put(rec); err != nil {
		return "", err
	}
	return token, nil
}

// Refresh implements webdav.LockSystem, extending an existing token's
// expiry without changing its root or depth.
func (ls *LockSystem) Refresh(now time.Time, token string, duration time.Duration) (webdav.LockDetails, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	rec, err := ls.get(token)
	if err != nil {
		return webdav.LockDetails{}, err
	}
	if rec.Expiry.Before(now) {
		return webdav.LockDetails{}, webdav.ErrNoSuchLock
	}
	d := ls.ttl
	if duration > 0 && duration < d {
		d = duration
	}
	rec.Expiry = now.Add(d)
	if err := ls.put(*rec); err != nil {
		return webdav.LockDetails{}, err
	}
	return webdav.LockDetails{
		Root:      rec.Root,
		Duration:  d,
		OwnerXML:  rec.OwnerXML,
		ZeroDepth: rec.Zero,
	}, nil
}

// Unlock implements webdav.LockSystem. The interface gives no caller
// identity to check, so this only verifies token possession.
func (ls *LockSystem) Unlock(now time.Time, token string) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	rec, err := ls.get(token)
	if err != nil {
		return err
	}
	if rec.Expiry.Before(now) {
		return webdav.ErrNoSuchLock
	}
	return ls.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).Delete([]byte(token))
	})
}

func (ls *LockSystem) get(token string) (*lockRecord, error) {
	var rec lockRecord
	err := ls.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLocks).Get([]byte(token))
		if data == nil {
			return webdav.ErrNoSuchLock
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (ls *LockSystem) put(rec lockRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return ls.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).Put([]byte(rec.Token), data)
	})
}
