package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CTAG07/markovchain/pkg/markovdb"
	"github.com/CTAG07/markovchain/pkg/text"
)

// Server bundles the API handlers behind a single authenticated mux.
type Server struct {
	cm        *ConfigManager
	logger    *slog.Logger
	authAPI   *AuthAPI
	markovAPI *MarkovAPI
	statsAPI  *StatsAPI
	serverAPI *ServerAPI
	apiMux    *http.ServeMux
}

// NewServer wires every API onto a new mux. Requests reach the handlers only
// after passing authentication.
func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, store *markovdb.Store, actionChan chan string) *Server {
	s := &Server{
		cm:        cm,
		logger:    logger,
		authAPI:   NewAuthAPI(db, logger),
		markovAPI: NewMarkovAPI(store, cm, text.NewTokenizer(), logger),
		statsAPI:  NewStatsAPI(store, logger),
		serverAPI: NewServerAPI(cm, actionChan, logger),
		apiMux:    http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	s.authAPI.RegisterRoutes(apiMux)
	s.markovAPI.RegisterRoutes(apiMux)
	s.statsAPI.RegisterRoutes(apiMux)
	s.serverAPI.RegisterRoutes(apiMux)

	s.apiMux.Handle("/api/", s.authAPI.Authenticate(apiMux))
	return s
}

// ServeHTTP makes Server usable directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.apiMux.ServeHTTP(w, r)
}

// serve runs the API until an OS signal or the shutdown endpoint stops it,
// restarting with a freshly loaded config on request.
func serve(configPath string) error {
	baseLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := runServer(configPath, actionChan)
		if err != nil {
			return err
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}
	baseLogger.Info("markovchain server has shut down.")
	return nil
}

// runServer hosts the API for one server cycle and returns the action that ended it.
func runServer(configPath string, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := cm.Get()

	logLevel, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return "", err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...")

	db, store, err := initDB(cfg.DatabasePath, logger)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		store.Close()
		logger.Info("Closing database connection.")
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	server := NewServer(cm, logger, db, store, actionChan)
	apiHttpServer := &http.Server{
		Addr:              cfg.ApiAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
			actionChan <- actionShutdown
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")
	return action, nil
}
