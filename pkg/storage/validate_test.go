package storage

import (
	"testing"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid nested path", "alice/docs/report.pdf", false},
		{"empty", "", true},
		{"leading slash", "/alice/a.txt", true},
		{"trailing slash", "alice/a.txt/", true},
		{"hidden first segment", "_alice/a.txt", true},
		{"dot first segment", ".alice/a.txt", true},
		{"lone dot segment", "alice/./a.txt", true},
		{"lone dotdot segment", "alice/../a.txt", true},
		{"forbidden char", "alice/a*.txt", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateURL(tc.url)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	err := ValidateURL("alice/a*.txt")
	assert.True(t, lfsserr.Is(err, lfsserr.KindInvalidPath))
}

func TestValidateDirURL(t *testing.T) {
	assert.NoError(t, ValidateDirURL("alice/docs/"))
	assert.Error(t, ValidateDirURL("alice/docs"))
	assert.Error(t, ValidateDirURL("/"))
}

func TestPathOwnerUsername(t *testing.T) {
	assert.Equal(t, "alice", PathOwnerUsername("alice/docs/report.pdf"))
	assert.Equal(t, "alice", PathOwnerUsername("alice/"))
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("alice"))
	assert.Error(t, ValidateUsername(""))
	assert.Error(t, ValidateUsername("_alice"))
	assert.Error(t, ValidateUsername(".alice"))
}

func TestValidateVirtualUsername(t *testing.T) {
	assert.NoError(t, ValidateVirtualUsername(".v-alice"))
	assert.Error(t, ValidateVirtualUsername("alice"))
}
