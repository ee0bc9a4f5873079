// Package api implements the native HTTP/JSON surface: file bytes on
// path-mapped routes plus an admin/query namespace mounted at both
// `/_api` and `/.api`.
package api

import (
	"github.com/gorilla/mux"

	"github.com/menxli/lfss-go/pkg/config"
	"github.com/menxli/lfss-go/pkg/directory"
	"github.com/menxli/lfss-go/pkg/fileops"
	"github.com/menxli/lfss-go/pkg/permission"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/user"
)

// Deps are the services the HTTP handlers are wired against.
type Deps struct {
	Pool  *storage.Pool
	Blobs *storage.BlobStore
	Files *fileops.Service
	Dirs  *directory.Service
	Users *user.Service
	Perm  *permission.Engine
	Cfg   *config.Config
}

// NewRouter builds the full route table: the admin namespace mounted at
// both prefixes, then the path-mapped file/directory catch-all.
func NewRouter(deps *Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(recoveryMiddleware, loggingMiddleware, metricsMiddleware, authMiddleware(deps))

	for _, prefix := range []string{"/_api", "/.api"} {
		admin := r.PathPrefix(prefix).Subrouter()
		registerAdminRoutes(admin, deps)
	}

	registerFileRoutes(r, deps)
	return r
}
