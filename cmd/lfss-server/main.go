package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/webdav"

	"github.com/menxli/lfss-go/pkg/api"
	"github.com/menxli/lfss-go/pkg/config"
	"github.com/menxli/lfss-go/pkg/directory"
	"github.com/menxli/lfss-go/pkg/fileops"
	"github.com/menxli/lfss-go/pkg/log"
	"github.com/menxli/lfss-go/pkg/metrics"
	"github.com/menxli/lfss-go/pkg/permission"
	"github.com/menxli/lfss-go/pkg/storage"
	"github.com/menxli/lfss-go/pkg/types"
	"github.com/menxli/lfss-go/pkg/user"
	lfssdav "github.com/menxli/lfss-go/pkg/webdav"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "lfss-server",
	Short:   "LFSS - multi-tenant file storage service",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("lfss-server version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(userCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// services bundles everything the serve and user commands both need,
// opened once against a shared data directory.
type services struct {
	pool  *storage.Pool
	blobs *storage.BlobStore
	perm  *permission.Engine
	files *fileops.Service
	dirs  *directory.Service
	users *user.Service
}

func openServices(cfg *config.Config) (*services, error) {
	if err := os.MkdirAll(cfg.DataHome, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	pool, err := storage.Open(cfg.DataHome, cfg.ReaderPoolSize)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	blobs, err := storage.NewBlobStore(
		filepath.Join(cfg.DataHome, cfg.ExternalDir),
		cfg.BlobLargeThresholdBytes,
		cfg.MemoryFileCapBytes,
		cfg.StreamChunkBytes,
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	perm := permission.New(blobs)
	files := fileops.New(pool, blobs, perm)
	dirs := directory.New(pool, blobs, perm)
	users := user.New(pool, files)

	return &services{pool: pool, blobs: blobs, perm: perm, files: files, dirs: dirs, users: users}, nil
}

func (s *services) Close() {
	s.pool.Close()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP (and optional WebDAV) server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		svc, err := openServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		mux := http.NewServeMux()

		router := api.NewRouter(&api.Deps{
			Pool:  svc.pool,
			Blobs: svc.blobs,
			Files: svc.files,
			Dirs:  svc.dirs,
			Users: svc.users,
			Perm:  svc.perm,
			Cfg:   cfg,
		})
		mux.Handle("/", router)
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", metrics.HealthHandler())
		mux.HandleFunc("/readyz", metrics.ReadyHandler())
		mux.HandleFunc("/livez", metrics.LivenessHandler())

		metrics.SetVersion(Version)
		metrics.RegisterComponent("storage", true, "sqlite metadata store and blob store open")
		metrics.RegisterComponent("api", true, "route table mounted")

		var lockSys *lfssdav.LockSystem
		if cfg.WebdavEnabled {
			lockSys, err = lfssdav.NewLockSystem(
				filepath.Join(cfg.DataHome, cfg.LockDBPath),
				time.Duration(cfg.LockTimeoutSeconds)*time.Second,
			)
			if err != nil {
				return fmt.Errorf("opening lock database: %w", err)
			}
			defer lockSys.Close()

			davFS := lfssdav.NewFileSystem(svc.files, svc.dirs, svc.pool, svc.perm)
			davHandler := &webdav.Handler{
				Prefix:     cfg.WebdavPrefix,
				FileSystem: davFS,
				LockSystem: lockSys,
				Logger: func(r *http.Request, err error) {
					if err != nil {
						log.Logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("webdav request failed")
					}
				},
			}
			mux.Handle(cfg.WebdavPrefix, davAuthMiddleware(svc, davHandler))
		}

		server := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: mux,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Logger.Info().Str("addr", cfg.HTTPAddr).Bool("webdav", cfg.WebdavEnabled).Msg("lfss-server listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Logger.Info().Msg("shutting down")
		case err := <-errCh:
			return fmt.Errorf("server error: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

// davAuthMiddleware resolves the caller the same way the native HTTP
// surface does (Basic, since WebDAV clients don't speak bearer tokens)
// and attaches it to the request context the FileSystem/LockSystem
// methods recover it from.
func davAuthMiddleware(svc *services, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="lfss"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		u, err := svc.users.AuthenticateBasic(r.Context(), username, password)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="lfss"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ctx := lfssdav.WithUser(r.Context(), u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

func init() {
	userAddCmd.Flags().Bool("admin", false, "Grant administrator privileges")
	userAddCmd.Flags().Int64("quota", 1<<30, "Storage quota in bytes")
	userAddCmd.Flags().String("default-perm", "private", "Default read permission (public, protected, private)")

	userAddVirtualCmd.Flags().Int64("quota", 1<<30, "Storage quota in bytes")
	userAddVirtualCmd.Flags().String("default-perm", "private", "Default read permission (public, protected, private)")
	userAddVirtualCmd.Flags().Duration("ttl", 24*time.Hour, "How long the virtual user's credential remains valid")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userAddVirtualCmd)
	userCmd.AddCommand(userDeleteCmd)
}

func parseDefaultPerm(s string) types.ReadPermission {
	switch s {
	case "public":
		return types.PermPublic
	case "protected":
		return types.PermProtected
	default:
		return types.PermPrivate
	}
}

var userAddCmd = &cobra.Command{
	Use:   "add <username> <password>",
	Short: "Create a new user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := openServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		isAdmin, _ := cmd.Flags().GetBool("admin")
		quota, _ := cmd.Flags().GetInt64("quota")
		defaultPerm, _ := cmd.Flags().GetString("default-perm")

		u, err := svc.users.CreateUser(context.Background(), args[0], args[1], isAdmin, quota, parseDefaultPerm(defaultPerm))
		if err != nil {
			return err
		}
		fmt.Printf("created user %q (id=%d, admin=%v)\n", u.Username, u.ID, u.IsAdmin)
		return nil
	},
}

var userAddVirtualCmd = &cobra.Command{
	Use:   "add-virtual <username> <password>",
	Short: "Create a short-lived virtual user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := openServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		quota, _ := cmd.Flags().GetInt64("quota")
		defaultPerm, _ := cmd.Flags().GetString("default-perm")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		expiresAt := time.Now().Add(ttl)
		u, err := svc.users.CreateVirtualUser(context.Background(), args[0], args[1], quota, parseDefaultPerm(defaultPerm), expiresAt)
		if err != nil {
			return err
		}
		fmt.Printf("created virtual user %q (id=%d, expires=%s)\n", u.Username, u.ID, expiresAt.Format(time.RFC3339))
		return nil
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a user and everything under their subtree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := openServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.files.DeleteUser(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted user %q\n", args[0])
		return nil
	},
}
