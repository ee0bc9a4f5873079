package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
	userpkg "github.com/menxli/lfss-go/pkg/user"
)

// registerAdminRoutes wires the query/management namespace mounted at
// both `/_api` and `/.api` onto admin, sharing one handler set.
func registerAdminRoutes(admin *mux.Router, deps *Deps) {
	h := &adminHandlers{deps: deps}

	admin.HandleFunc("/meta", h.meta).Methods(http.MethodGet)
	admin.HandleFunc("/set-perm", h.setPerm).Methods(http.MethodPost)
	admin.HandleFunc("/move", h.move).Methods(http.MethodPost)
	admin.HandleFunc("/copy", h.copy).Methods(http.MethodPost)
	admin.HandleFunc("/bundle", h.bundle).Methods(http.MethodGet)
	admin.HandleFunc("/count-files", h.countFiles).Methods(http.MethodGet)
	admin.HandleFunc("/list-files", h.listFiles).Methods(http.MethodGet)
	admin.HandleFunc("/count-dirs", h.countDirs).Methods(http.MethodGet)
	admin.HandleFunc("/list-dirs", h.listDirs).Methods(http.MethodGet)
	admin.HandleFunc("/get-multiple", h.getMultiple).Methods(http.MethodPost)

	admin.HandleFunc("/user/whoami", h.userWhoami).Methods(http.MethodGet)
	admin.HandleFunc("/user/storage", h.userStorage).Methods(http.MethodGet)
	admin.HandleFunc("/user/list-peers", h.userListPeers).Methods(http.MethodGet)
	admin.HandleFunc("/user/query", h.userQuery).Methods(http.MethodGet)
	admin.HandleFunc("/user/add", h.userAdd).Methods(http.MethodPost)
	admin.HandleFunc("/user/add-virtual", h.userAddVirtual).Methods(http.MethodPost)
	admin.HandleFunc("/user/update", h.userUpdate).Methods(http.MethodPost)
	admin.HandleFunc("/user/delete", h.userDelete).Methods(http.MethodPost)
	admin.HandleFunc("/user/set-peer", h.userSetPeer).Methods(http.MethodPost)
}

type adminHandlers struct {
	deps *Deps
}

func requireAdmin(user *types.User) error {
	if user.IsGuest() || !user.IsAdmin {
		return lfsserr.New(lfsserr.KindPermissionDenied, "admin privileges required")
	}
	return nil
}

func queryBool(r *http.Request, key string) bool {
	v := r.URL.Query().Get(key)
	return v == "1" || v == "true"
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func listOptionsFromQuery(r *http.Request) storage.ListOptions {
	order := types.OrderKey(r.URL.Query().Get("order_by"))
	if order == "" {
		order = types.OrderURL
	}
	return storage.ListOptions{
		Offset:  queryInt(r, "offset", 0),
		Limit:   queryInt(r, "limit", 0),
		OrderBy: order,
		Desc:    queryBool(r, "desc"),
	}
}

// meta returns either a file record or a directory aggregate for path,
// depending on whether it names a file or ends in "/".
func (h *adminHandlers) meta(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	path := r.URL.Query().Get("path")
	if path == "" || path[len(path)-1] == '/' {
		rec, err := h.deps.Dirs.GetDirRecord(r.Context(), user, path)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dirRecordDTO(rec))
		return
	}
	var rec *types.FileRecord
	err := h.deps.Pool.WithReader(r.Context(), func(c *storage.ReadCursor) error {
		level, err := h.deps.Perm.CheckPathPermission(r.Context(), c, path, user)
		if err != nil {
			return err
		}
		if level < types.AccessRead {
			return lfsserr.New(lfsserr.KindPermissionDenied, "not permitted to read this path")
		}
		rec, err = storage.GetFileRecord(r.Context(), c, path)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileRecordDTO(rec))
}

func (h *adminHandlers) setPerm(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	path := r.URL.Query().Get("path")
	n, err := strconv.Atoi(r.URL.Query().Get("permission"))
	if err != nil {
		writeError(w, lfsserr.New(lfsserr.KindInvalidOptions, "invalid permission value"))
		return
	}
	err = h.deps.Pool.WithTransaction(r.Context(), nil, func(c *storage.WriteCursor) error {
		level, err := h.deps.Perm.CheckPathPermission(r.Context(), c, path, user)
		if err != nil {
			return err
		}
		if level < types.AccessWrite {
			return lfsserr.New(lfsserr.KindPermissionDenied, "not permitted to change this path's permission")
		}
		return storage.UpdateFilePermission(r.Context(), c, path, types.ReadPermission(n))
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *adminHandlers) move(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	src := r.URL.Query().Get("src")
	dst := r.URL.Query().Get("dst")
	if src == "" || dst == "" {
		writeError(w, lfsserr.New(lfsserr.KindInvalidOptions, "src and dst are required"))
		return
	}
	var err error
	if src[len(src)-1] == '/' {
		err = h.deps.Files.MoveDir(r.Context(), user, user, src, dst)
	} else {
		err = h.deps.Files.MoveFile(r.Context(), user, user, src, dst)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *adminHandlers) copy(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	src := r.URL.Query().Get("src")
	dst := r.URL.Query().Get("dst")
	if src == "" || dst == "" {
		writeError(w, lfsserr.New(lfsserr.KindInvalidOptions, "src and dst are required"))
		return
	}
	var err error
	if src[len(src)-1] == '/' {
		err = h.deps.Files.CopyDir(r.Context(), user, src, dst)
	} else {
		err = h.deps.Files.CopyFile(r.Context(), user, src, dst)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *adminHandlers) bundle(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, lfsserr.New(lfsserr.KindInvalidOptions, "path is required"))
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="bundle.zip"`)
	if err := h.deps.Dirs.Bundle(r.Context(), user, path, h.deps.Cfg.MemoryFileCapBytes, w); err != nil {
		writeError(w, err)
		return
	}
}

func (h *adminHandlers) countFiles(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	path := r.URL.Query().Get("path")
	n, err := h.deps.Dirs.CountFiles(r.Context(), user, path, queryBool(r, "flat"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *adminHandlers) listFiles(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	path := r.URL.Query().Get("path")
	opts := listOptionsFromQuery(r)
	if !types.ValidOrderKeys[opts.OrderBy] {
		writeError(w, lfsserr.New(lfsserr.KindInvalidOptions, "unknown order_by key"))
		return
	}
	files, err := h.deps.Dirs.ListFiles(r.Context(), user, path, queryBool(r, "flat"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]fileRecordResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, fileRecordDTO(&f))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *adminHandlers) countDirs(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	path := r.URL.Query().Get("path")
	n, err := h.deps.Dirs.CountDirs(r.Context(), user, path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *adminHandlers) listDirs(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	path := r.URL.Query().Get("path")
	opts := storage.ListOptions{
		Offset:  queryInt(r, "offset", 0),
		Limit:   queryInt(r, "limit", 0),
		OrderBy: types.OrderURL,
		Desc:    queryBool(r, "desc"),
	}
	dirs, err := h.deps.Dirs.ListDirs(r.Context(), user, path, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]dirRecordResponse, 0, len(dirs))
	for _, d := range dirs {
		resp = append(resp, dirRecordDTO(&d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *adminHandlers) getMultiple(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	var req struct {
		URLs        []string `json:"urls"`
		SkipContent bool     `json:"skip_content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lfsserr.New(lfsserr.KindInvalidData, "invalid request body"))
		return
	}
	recs, err := h.deps.Files.ReadFilesBulk(r.Context(), user, req.URLs, req.SkipContent, h.deps.Cfg.MemoryFileCapBytes)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]*fileRecordResponse, len(recs))
	for i, rec := range recs {
		if rec == nil {
			continue
		}
		dto := fileRecordDTO(rec)
		resp[i] = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *adminHandlers) userWhoami(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	writeJSON(w, http.StatusOK, userDTO(user))
}

func (h *adminHandlers) userStorage(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	used, quota, err := h.deps.Users.StorageUsage(r.Context(), user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"used": used, "quota": quota})
}

func (h *adminHandlers) userListPeers(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	peers, err := h.deps.Users.ListPeers(r.Context(), user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]peerAccessResponse, 0, len(peers))
	for _, p := range peers {
		resp = append(resp, peerAccessDTO(&p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *adminHandlers) userQuery(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	if err := requireAdmin(user); err != nil {
		writeError(w, err)
		return
	}
	target, err := h.deps.Users.GetByUsername(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userDTO(target))
}

func (h *adminHandlers) userAdd(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	if err := requireAdmin(user); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Username        string `json:"username"`
		Password        string `json:"password"`
		IsAdmin         bool   `json:"is_admin"`
		MaxStorageBytes int64  `json:"max_storage_bytes"`
		DefaultPerm     int    `json:"default_permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lfsserr.New(lfsserr.KindInvalidData, "invalid request body"))
		return
	}
	created, err := h.deps.Users.CreateUser(r.Context(), req.Username, req.Password, req.IsAdmin, req.MaxStorageBytes, types.ReadPermission(req.DefaultPerm))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userDTO(created))
}

func (h *adminHandlers) userAddVirtual(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	if err := requireAdmin(user); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Username        string    `json:"username"`
		Password        string    `json:"password"`
		MaxStorageBytes int64     `json:"max_storage_bytes"`
		DefaultPerm     int       `json:"default_permission"`
		ExpiresAt       time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lfsserr.New(lfsserr.KindInvalidData, "invalid request body"))
		return
	}
	created, err := h.deps.Users.CreateVirtualUser(r.Context(), req.Username, req.Password, req.MaxStorageBytes, types.ReadPermission(req.DefaultPerm), req.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userDTO(created))
}

func (h *adminHandlers) userUpdate(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	if err := requireAdmin(user); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Username        string  `json:"username"`
		Password        *string `json:"password"`
		MaxStorageBytes *int64  `json:"max_storage_bytes"`
		DefaultPerm     *int    `json:"default_permission"`
		IsAdmin         *bool   `json:"is_admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, lfsserr.New(lfsserr.KindInvalidData, "invalid request body"))
		return
	}
	opts := userpkg.UpdateOptions{
		Password:        req.Password,
		MaxStorageBytes: req.MaxStorageBytes,
		IsAdmin:         req.IsAdmin,
	}
	if req.DefaultPerm != nil {
		perm := types.ReadPermission(*req.DefaultPerm)
		opts.DefaultPerm = &perm
	}
	updated, err := h.deps.Users.UpdateUser(r.Context(), req.Username, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userDTO(updated))
}

func (h *adminHandlers) userDelete(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	if err := requireAdmin(user); err != nil {
		writeError(w, err)
		return
	}
	username := r.URL.Query().Get("username")
	if err := h.deps.Users.DeleteUser(r.Context(), username); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *adminHandlers) userSetPeer(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	src := r.URL.Query().Get("src")
	dst := r.URL.Query().Get("dst")
	level := r.URL.Query().Get("level")
	if user.Username != src {
		if err := requireAdmin(user); err != nil {
			writeError(w, err)
			return
		}
	}
	lvl, ok := parseAccessLevel(level)
	if !ok {
		writeError(w, lfsserr.New(lfsserr.KindInvalidOptions, "invalid access level"))
		return
	}
	if err := h.deps.Users.SetPeerAccess(r.Context(), src, dst, lvl); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func parseAccessLevel(s string) (types.AccessLevel, bool) {
	switch s {
	case "GUEST":
		return types.AccessGuest, true
	case "NONE":
		return types.AccessNone, true
	case "READ":
		return types.AccessRead, true
	case "WRITE":
		return types.AccessWrite, true
	case "ALL":
		return types.AccessAll, true
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
