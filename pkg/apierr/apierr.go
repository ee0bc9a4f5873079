// Package apierr maps the typed error kinds raised by the storage engine
// onto the HTTP status code taxonomy the native and WebDAV surfaces use.
package apierr

import (
	"errors"
	"net/http"

	"github.com/menxli/lfss-go/pkg/lfsserr"
)

// StatusFor returns the HTTP status code an error should surface as. A
// nil error maps to 200; an error with no typed Kind maps to 500.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	kind, ok := lfsserr.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case lfsserr.KindInvalidPath, lfsserr.KindInvalidInput, lfsserr.KindInvalidOptions, lfsserr.KindInvalidData:
		return http.StatusBadRequest
	case lfsserr.KindPathNotFound, lfsserr.KindFileNotFound, lfsserr.KindUserNotFound:
		return http.StatusNotFound
	case lfsserr.KindPermissionDenied:
		return http.StatusForbidden
	case lfsserr.KindFileExists, lfsserr.KindFileDuplicate:
		return http.StatusConflict
	case lfsserr.KindStorageExceeded:
		return http.StatusRequestEntityTooLarge
	case lfsserr.KindTooManyItems:
		return http.StatusBadRequest
	case lfsserr.KindFileLocked:
		return http.StatusLocked
	case lfsserr.KindDatabaseLocked, lfsserr.KindDatabaseTransaction:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text that is safe to show a client for err: the
// typed message when available, a generic fallback otherwise. Internal
// paths, credentials, and wrapped driver errors are never included.
func Message(err error) string {
	var e *lfsserr.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
