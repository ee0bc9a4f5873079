package apierr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/stretchr/testify/assert"
)

func TestStatusForMapsKnownKinds(t *testing.T) {
	tests := []struct {
		kind lfsserr.Kind
		want int
	}{
		{lfsserr.KindInvalidPath, http.StatusBadRequest},
		{lfsserr.KindInvalidInput, http.StatusBadRequest},
		{lfsserr.KindPathNotFound, http.StatusNotFound},
		{lfsserr.KindFileNotFound, http.StatusNotFound},
		{lfsserr.KindUserNotFound, http.StatusNotFound},
		{lfsserr.KindPermissionDenied, http.StatusForbidden},
		{lfsserr.KindFileExists, http.StatusConflict},
		{lfsserr.KindFileDuplicate, http.StatusConflict},
		{lfsserr.KindStorageExceeded, http.StatusRequestEntityTooLarge},
		{lfsserr.KindFileLocked, http.StatusLocked},
		{lfsserr.KindDatabaseLocked, http.StatusServiceUnavailable},
		{lfsserr.KindDatabaseTransaction, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			err := lfsserr.New(tc.kind, "boom")
			assert.Equal(t, tc.want, StatusFor(err))
		})
	}
}

func TestStatusForUntypedErrorIsInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(fmt.Errorf("plain")))
}

func TestStatusForNilIsOK(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(nil))
}

func TestMessageUnwrapsWrappedError(t *testing.T) {
	wrapped := lfsserr.Wrap(lfsserr.KindInvalidData, "bad json", fmt.Errorf("underlying"))
	assert.Equal(t, "bad json", Message(wrapped))
}

func TestMessageFallsBackForUntyped(t *testing.T) {
	assert.Equal(t, "internal error", Message(fmt.Errorf("plain")))
}
