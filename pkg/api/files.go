package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
)

func registerFileRoutes(r *mux.Router, deps *Deps) {
	h := &fileHandlers{deps: deps}
	r.PathPrefix("/").HandlerFunc(h.dispatch)
}

type fileHandlers struct {
	deps *Deps
}

func (h *fileHandlers) dispatch(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	isDir := strings.HasSuffix(path, "/")

	switch r.Method {
	case http.MethodGet:
		if isDir {
			h.getDirectory(w, r, path)
		} else {
			h.getFile(w, r, path)
		}
	case http.MethodHead:
		if isDir {
			writeError(w, lfsserr.New(lfsserr.KindInvalidOptions, "HEAD not supported on directories"))
			return
		}
		h.headFile(w, r, path)
	case http.MethodPut:
		h.putFile(w, r, path)
	case http.MethodPost:
		h.postFile(w, r, path)
	case http.MethodDelete:
		h.deleteFile(w, r, path)
	default:
		writeError(w, lfsserr.New(lfsserr.KindInvalidOptions, "method not allowed"))
	}
}

func parseRange(header string, size int64) (start, end int64, ok bool) {
	if header == "" || !strings.HasPrefix(header, "bytes=") {
		return 0, -1, false
	}
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, -1, false
	}
	if parts[0] == "" {
		// suffix range: last N bytes
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, -1, false
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		return start, -1, true
	}
	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || s < 0 || s >= size {
		return 0, -1, false
	}
	if parts[1] == "" {
		return s, -1, true
	}
	e, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || e < s {
		return 0, -1, false
	}
	return s, e + 1, true
}

func (h *fileHandlers) getFile(w http.ResponseWriter, r *http.Request, path string) {
	user := userFromRequest(r)

	var rec *types.FileRecord
	err := h.deps.Pool.WithReader(r.Context(), func(c *storage.ReadCursor) error {
		var err error
		rec, err = storage.GetFileRecord(r.Context(), c, path)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	ownerName := storage.PathOwnerUsername(path)
	var owner *types.User
	err = h.deps.Pool.WithReader(r.Context(), func(c *storage.ReadCursor) error {
		var err error
		owner, err = storage.GetUserByUsername(r.Context(), c, ownerName)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}

	allowed, err := h.checkReadAllowed(r, user, rec, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	if !allowed {
		writeError(w, lfsserr.New(lfsserr.KindPermissionDenied, "not permitted to read this file"))
		return
	}

	if r.URL.Query().Get("thumb") != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		_, _ = w.Write([]byte(`{"error":"thumbnails not supported"}`))
		return
	}

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Last-Modified", rec.AccessTime.UTC().Format(http.TimeFormat))
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filenameOf(path)))
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		start, end, ok := parseRange(rangeHeader, rec.Size)
		if !ok {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		lastByte := end
		if lastByte < 0 {
			lastByte = rec.Size
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, lastByte-1, rec.Size))
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = h.deps.Files.ReadFile(r.Context(), path, start, end, w)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	_, _ = h.deps.Files.ReadFile(r.Context(), path, 0, -1, w)
}

func filenameOf(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func (h *fileHandlers) checkReadAllowed(r *http.Request, user *types.User, rec *types.FileRecord, owner *types.User) (bool, error) {
	var level types.AccessLevel
	err := h.deps.Pool.WithReader(r.Context(), func(c *storage.ReadCursor) error {
		var err error
		level, err = h.deps.Perm.CheckPathPermission(r.Context(), c, rec.URL, user)
		return err
	})
	if err != nil {
		return false, err
	}
	if level >= types.AccessRead {
		return true, nil
	}
	var ok bool
	err = h.deps.Pool.WithReader(r.Context(), func(c *storage.ReadCursor) error {
		var err error
		ok, err = h.deps.Perm.CheckFileReadPermission(r.Context(), c, user, rec, owner)
		return err
	})
	return ok, err
}

func (h *fileHandlers) headFile(w http.ResponseWriter, r *http.Request, path string) {
	user := userFromRequest(r)
	var rec *types.FileRecord
	err := h.deps.Pool.WithReader(r.Context(), func(c *storage.ReadCursor) error {
		var err error
		rec, err = storage.GetFileRecord(r.Context(), c, path)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	ownerName := storage.PathOwnerUsername(path)
	var owner *types.User
	err = h.deps.Pool.WithReader(r.Context(), func(c *storage.ReadCursor) error {
		var err error
		owner, err = storage.GetUserByUsername(r.Context(), c, ownerName)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	allowed, err := h.checkReadAllowed(r, user, rec, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	if !allowed {
		writeError(w, lfsserr.New(lfsserr.KindPermissionDenied, "not permitted to read this file"))
		return
	}
	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)
}

func (h *fileHandlers) putFile(w http.ResponseWriter, r *http.Request, path string) {
	user := userFromRequest(r)

	perm := types.PermUnset
	if v := r.URL.Query().Get("permission"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, lfsserr.New(lfsserr.KindInvalidOptions, "invalid permission value"))
			return
		}
		perm = types.ReadPermission(n)
	}
	conflict := types.ConflictAbort
	switch r.URL.Query().Get("conflict") {
	case "overwrite":
		conflict = types.ConflictOverwrite
	case "skip":
		conflict = types.ConflictSkip
	case "abort", "":
		conflict = types.ConflictAbort
	default:
		writeError(w, lfsserr.New(lfsserr.KindInvalidOptions, "invalid conflict policy"))
		return
	}

	existedBefore := false
	err := h.deps.Pool.WithReader(r.Context(), func(c *storage.ReadCursor) error {
		_, err := storage.GetFileRecord(r.Context(), c, path)
		existedBefore = err == nil
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.deps.Files.SaveFile(r.Context(), user, path, r.Body, r.ContentLength, perm, r.Header.Get("Content-Type"), conflict)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if existedBefore {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(fileRecordDTO(rec))
}

func (h *fileHandlers) postFile(w http.ResponseWriter, r *http.Request, path string) {
	user := userFromRequest(r)

	if err := r.ParseMultipartForm(h.deps.Cfg.MemoryFileCapBytes); err != nil {
		writeError(w, lfsserr.Wrap(lfsserr.KindInvalidData, "invalid multipart body", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, lfsserr.Wrap(lfsserr.KindInvalidData, "missing form field \"file\"", err))
		return
	}
	defer file.Close()

	conflict := types.ConflictAbort
	switch r.URL.Query().Get("conflict") {
	case "overwrite":
		conflict = types.ConflictOverwrite
	case "skip":
		conflict = types.ConflictSkip
	}

	rec, err := h.deps.Files.SaveFile(r.Context(), user, path, file, header.Size, types.PermUnset, header.Header.Get("Content-Type"), conflict)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(fileRecordDTO(rec))
}

func (h *fileHandlers) deleteFile(w http.ResponseWriter, r *http.Request, path string) {
	user := userFromRequest(r)
	if strings.HasSuffix(path, "/") {
		records, err := h.deps.Files.DeleteDir(r.Context(), user, path)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]int{"deleted": len(records)})
		return
	}
	rec, err := h.deps.Files.DeleteFile(r.Context(), user, path)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(fileRecordDTO(rec))
}

func (h *fileHandlers) getDirectory(w http.ResponseWriter, r *http.Request, path string) {
	user := userFromRequest(r)
	recursive := r.URL.Query().Get("recursive") == "1"

	files, err := h.deps.Dirs.ListFiles(r.Context(), user, path, recursive, storage.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	dirs, err := h.deps.Dirs.ListDirs(r.Context(), user, path, storage.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := directoryListingDTO{Files: make([]fileRecordResponse, 0, len(files)), Dirs: make([]dirRecordResponse, 0, len(dirs))}
	for _, f := range files {
		resp.Files = append(resp.Files, fileRecordDTO(&f))
	}
	for _, d := range dirs {
		resp.Dirs = append(resp.Dirs, dirRecordDTO(&d))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

