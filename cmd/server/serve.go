package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/api/handlers"
	"github.com/remote-agent-terminal/tabmux/internal/backend"
	"github.com/remote-agent-terminal/tabmux/internal/backend/local"
	"github.com/remote-agent-terminal/tabmux/internal/backend/sshremote"
	"github.com/remote-agent-terminal/tabmux/internal/config"
	"github.com/remote-agent-terminal/tabmux/internal/db"
	"github.com/remote-agent-terminal/tabmux/internal/eventbus"
	"github.com/remote-agent-terminal/tabmux/internal/logging"
	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/registry"
	"github.com/remote-agent-terminal/tabmux/internal/repository"
	"github.com/remote-agent-terminal/tabmux/internal/session"
	"github.com/remote-agent-terminal/tabmux/internal/transfer"
	"github.com/remote-agent-terminal/tabmux/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var listen, logLevel, backendKind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.HTTP.Listen = listen
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if backendKind != "" {
				cfg.Backend.Kind = backendKind
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override http.listen")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override log.level")
	cmd.Flags().StringVar(&backendKind, "backend", "", "override backend.kind (ssh or local)")
	return cmd
}

// app holds every long-lived component of a running server.
type app struct {
	log     *zap.Logger
	backend backend.Backend
	manager *session.Manager
	ws      *ws.Service
	router  *gin.Engine
	closeDB func() error
}

func newBackend(cfg config.Config, bus *eventbus.Adapter, reporter *transfer.Reporter, log *zap.Logger) backend.Backend {
	if cfg.Backend.Kind == config.BackendLocal {
		return local.New(bus, reporter, local.Options{Shell: cfg.Backend.Shell}, log)
	}
	return sshremote.New(bus, reporter, sshremote.Options{
		DialTimeout: cfg.Backend.DialTimeout,
		KnownHosts:  cfg.Backend.KnownHosts,
	}, log)
}

func buildApp(cfg config.Config, log *zap.Logger) (*app, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	repo := repository.NewSessionRepository(database)

	bus := eventbus.NewAdapter(eventbus.New(log), log)
	reporter := transfer.NewReporter(bus, cfg.Transfer.ProgressInterval, log)
	be := newBackend(cfg, bus, reporter, log)

	reg := registry.New(cfg.Terminal.DefaultTabName, log)
	sessCfg := session.Config{
		BackendName:     cfg.Backend.Kind,
		Geometry:        model.Geometry{Cols: cfg.Terminal.Cols, Rows: cfg.Terminal.Rows},
		ScrollbackBytes: cfg.Terminal.ScrollbackBytes,
		ResizeDebounce:  cfg.Terminal.ResizeDebounce,
	}
	if cfg.Record.Enabled {
		sessCfg.RecordDir = cfg.Record.Dir
	}
	manager := session.NewManager(reg, be, bus, repo, sessCfg, log)

	origins := ws.NewOriginPolicy(cfg.HTTP.AllowedOrigins)
	wsService := ws.NewService(manager, origins, log)
	manager.SetObserver(wsService)

	return &app{
		log:     log,
		backend: be,
		manager: manager,
		ws:      wsService,
		router:  handlers.NewRouter(manager, wsService, origins, log),
		closeDB: database.Close,
	}, nil
}

// Close releases components in reverse order of construction.
func (a *app) Close() {
	a.ws.Close()
	if err := a.manager.Close(); err != nil {
		a.log.Warn("close session manager", zap.Error(err))
	}
	if c, ok := a.backend.(backend.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("close backend", zap.Error(err))
		}
	}
	if err := a.closeDB(); err != nil {
		a.log.Warn("close database", zap.Error(err))
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	log, _, err := logging.New(logging.Options{File: cfg.Log.File, Level: cfg.Log.Level})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("listen", cfg.HTTP.Listen),
			zap.String("backend", cfg.Backend.Kind),
			zap.String("db", cfg.DBPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	return nil
}
