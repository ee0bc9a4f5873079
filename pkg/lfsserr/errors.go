// Package lfsserr defines the typed error kinds raised by the storage
// engine, so that adapters (HTTP, WebDAV) can map them onto the correct
// status codes without string-matching error messages.
package lfsserr

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories named in the engine's error design.
type Kind int

const (
	KindInvalidPath Kind = iota
	KindInvalidInput
	KindInvalidOptions
	KindInvalidData
	KindPathNotFound
	KindFileNotFound
	KindUserNotFound
	KindPermissionDenied
	KindFileExists
	KindFileDuplicate
	KindFileLocked
	KindStorageExceeded
	KindTooManyItems
	KindDatabaseLocked
	KindDatabaseTransaction
)

func (k Kind) String() string {
	switch k {
	case KindInvalidPath:
		return "InvalidPath"
	case KindInvalidInput:
		return "InvalidInput"
	case KindInvalidOptions:
		return "InvalidOptions"
	case KindInvalidData:
		return "InvalidData"
	case KindPathNotFound:
		return "PathNotFound"
	case KindFileNotFound:
		return "FileNotFound"
	case KindUserNotFound:
		return "UserNotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindFileExists:
		return "FileExists"
	case KindFileDuplicate:
		return "FileDuplicate"
	case KindFileLocked:
		return "FileLocked"
	case KindStorageExceeded:
		return "StorageExceeded"
	case KindTooManyItems:
		return "TooManyItems"
	case KindDatabaseLocked:
		return "DatabaseLocked"
	case KindDatabaseTransaction:
		return "DatabaseTransaction"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind the adapters can switch on.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or false if err is not a typed Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
