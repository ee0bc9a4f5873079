package storage

import (
	"net/url"
	"strings"

	"github.com/menxli/lfss-go/pkg/lfsserr"
)

// invalidURLChars are the characters forbidden in a decoded path segment.
const invalidURLChars = `'"\*`

// ValidateURL checks a file URL against the invariants in the data model:
// no leading/trailing slash, no empty or lone-dot segment, no forbidden
// characters, and a first segment (the path owner) that does not start
// with `_` or `.`; later segments may start with `.`.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return lfsserr.New(lfsserr.KindInvalidPath, "empty url")
	}
	if strings.HasPrefix(rawURL, "/") {
		return lfsserr.New(lfsserr.KindInvalidPath, "url must not start with /")
	}
	if strings.HasSuffix(rawURL, "/") {
		return lfsserr.New(lfsserr.KindInvalidPath, "file url must not end with /")
	}
	decoded, err := url.PathUnescape(rawURL)
	if err != nil {
		return lfsserr.Wrap(lfsserr.KindInvalidPath, "invalid percent-encoding", err)
	}
	segments := strings.Split(decoded, "/")
	for i, seg := range segments {
		if seg == "" {
			return lfsserr.New(lfsserr.KindInvalidPath, "empty path segment")
		}
		if i == 0 && (strings.HasPrefix(seg, "_") || strings.HasPrefix(seg, ".")) {
			return lfsserr.New(lfsserr.KindInvalidPath, "first segment must be a username")
		}
		if seg == "." || seg == ".." {
			return lfsserr.New(lfsserr.KindInvalidPath, "lone dot segment not allowed")
		}
		if strings.ContainsAny(seg, invalidURLChars) {
			return lfsserr.New(lfsserr.KindInvalidPath, "segment contains forbidden characters")
		}
	}
	return nil
}

// ValidateDirURL checks a directory URL: same rules as ValidateURL but it
// must end with a single trailing slash.
func ValidateDirURL(rawURL string) error {
	if !strings.HasSuffix(rawURL, "/") {
		return lfsserr.New(lfsserr.KindInvalidPath, "directory url must end with /")
	}
	if rawURL == "/" {
		return lfsserr.New(lfsserr.KindInvalidPath, "directory url must not be bare /")
	}
	return ValidateURL(strings.TrimSuffix(rawURL, "/"))
}

// PathOwnerUsername returns the first path segment (the owning username).
func PathOwnerUsername(rawURL string) string {
	trimmed := strings.TrimSuffix(rawURL, "/")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// ValidateUsername checks the username invariants from the data model.
// Virtual users carry the reserved ".v-" marker and are validated with
// ValidateVirtualUsername instead.
func ValidateUsername(username string) error {
	if username == "" || len(username) > 255 {
		return lfsserr.New(lfsserr.KindInvalidInput, "username length out of range")
	}
	if strings.HasPrefix(username, "/") || strings.HasPrefix(username, "_") || strings.HasPrefix(username, ".") {
		return lfsserr.New(lfsserr.KindInvalidInput, "username must not start with /, _ or .")
	}
	if strings.ContainsAny(username, invalidURLChars) {
		return lfsserr.New(lfsserr.KindInvalidInput, "username contains forbidden characters")
	}
	return nil
}

// ValidateVirtualUsername checks a virtual username: must carry the
// reserved ".v-" marker followed by a normal username.
func ValidateVirtualUsername(username string) error {
	if len(username) <= 3 || username[:3] != ".v-" {
		return lfsserr.New(lfsserr.KindInvalidInput, "virtual username must start with .v-")
	}
	if len(username) > 255 {
		return lfsserr.New(lfsserr.KindInvalidInput, "username length out of range")
	}
	if strings.ContainsAny(username[3:], invalidURLChars) {
		return lfsserr.New(lfsserr.KindInvalidInput, "username contains forbidden characters")
	}
	return nil
}

// escapeLike escapes the LIKE metacharacters in a prefix for use with ESCAPE '\'.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
