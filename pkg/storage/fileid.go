package storage

import "github.com/google/uuid"

// NewFileID mints a fresh opaque content identifier. File identity is
// assigned at save time and is otherwise unrelated to file content —
// content-based deduplication is not part of the design; only explicit
// copy operations share a file-id (see IncrementDedupCount).
func NewFileID() string {
	return uuid.New().String()
}
