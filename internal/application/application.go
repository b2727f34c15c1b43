package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/eugenenazirov/stoic-cms/internal/api"
	"github.com/eugenenazirov/stoic-cms/internal/config"
	"github.com/eugenenazirov/stoic-cms/internal/database"
	"github.com/eugenenazirov/stoic-cms/internal/mongoauth"
	"github.com/eugenenazirov/stoic-cms/internal/storage"
)

const publicDir = "public"

// App encapsulates the application dependencies and HTTP server.
type App struct {
	db      *bun.DB
	mongo   *mongoauth.MongoStore
	users   *storage.BunUsers
	service *mongoauth.Service
	handler *api.Handler
	router  http.Handler
	logger  *zap.Logger
	server  *http.Server
}

// New initializes the application with all dependencies from the provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := storage.CreateSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare user schema: %w", err)
	}
	users := storage.NewBunUsers(db)

	app := &App{
		db:     db,
		users:  users,
		logger: logger,
	}

	handlerOpts := []api.HandlerOption{
		api.WithEnvironment(cfg.Environment),
		api.WithHealthCheck("database", db.PingContext),
	}

	var store mongoauth.Store
	if cfg.Mongo.Enabled() {
		mongo, err := mongoauth.Connect(ctx, cfg.Mongo, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		app.mongo = mongo
		store = mongo
		handlerOpts = append(handlerOpts, api.WithHealthCheck("mongo", mongo.Ping))
	} else {
		logger.Warn("MONGODB_URI is not set; mongo-auth routes will respond with 503")
	}

	app.service = mongoauth.NewService(store, logger.Named("mongo-auth"), mongoauth.WithLocalUsers(users))
	app.handler = api.NewHandler(app.service, handlerOpts...)
	routerOpts := []api.RouterOption{
		api.WithMiddleware(cfg.Middleware),
		api.WithTrustProxy(cfg.Server.Proxy),
		api.WithAuthSecrets(cfg.Auth.JWTSecret, cfg.Admin.JWTSecret),
	}
	app.router = api.NewRouter(app.handler, logger, routerOpts...)

	app.server = NewServer(cfg, BuildRootHandler(app.router, logger, routerOpts...))
	return app, nil
}

// BuildRootHandler mounts the API under /api/ and serves the public
// directory when the project has one. Static responses pass through the same
// header, CORS and logging middleware as the API, configured by opts.
func BuildRootHandler(apiHandler http.Handler, logger *zap.Logger, opts ...api.RouterOption) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)

	publicPath, err := resolveProjectPath(publicDir)
	if err != nil {
		logger.Debug("no public directory found, static files disabled")
		return mux
	}

	files := http.FileServer(noDirListing{root: http.Dir(publicPath)})
	mux.Handle("/", api.WrapStatic(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/favicon.ico" {
			if _, err := os.Stat(filepath.Join(publicPath, "favicon.ico")); err != nil {
				http.NotFound(w, r)
				return
			}
		}
		files.ServeHTTP(w, r)
	}), logger, opts...))

	return mux
}

// noDirListing hides directories that have no index.html so the file
// server never renders a listing.
type noDirListing struct {
	root http.FileSystem
}

func (n noDirListing) Open(name string) (http.File, error) {
	f, err := n.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !info.IsDir() {
		return f, nil
	}

	index, err := n.root.Open(path.Join(name, "index.html"))
	if err != nil {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	_ = index.Close()
	return f, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Close releases the document database client and the SQL connection pool.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.mongo != nil {
		if err := a.mongo.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close mongo client: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// resolveProjectPath locates a file or directory relative to the project root by walking up the directory tree.
func resolveProjectPath(relative string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("unable to locate %s", relative)
}
