// Package httpapi exposes the sync engine over REST. Every route lives
// under /sync and requires a bearer session token.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/larderapp/larder/internal/logging"
	"github.com/larderapp/larder/internal/server/archive"
	"github.com/larderapp/larder/internal/server/auth"
	"github.com/larderapp/larder/internal/server/sync"
)

type Server struct {
	address  string
	logger   logging.Logger
	sessions auth.Sessions
	engine   *sync.Service
	// archiver is optional; without it POST /sync/export?archive=true
	// falls back to the plain attachment response.
	archiver archive.Archiver
}

func NewServer(address string, logger logging.Logger, sessions auth.Sessions, engine *sync.Service, archiver archive.Archiver) *Server {
	return &Server{
		address:  address,
		logger:   logger.With("module", "http_server"),
		sessions: sessions,
		engine:   engine,
		archiver: archiver,
	}
}

// Router builds the full route table. Fixed paths are registered before
// the {entity} wildcard so mux resolves them first.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/sync").Subrouter()
	api.Use(s.withSession)

	api.HandleFunc("", s.handleDelta).Methods(http.MethodGet)
	api.HandleFunc("", s.handleBulkSync).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodPost)
	api.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)
	api.HandleFunc("/{entity}", s.handleEntityList).Methods(http.MethodGet)
	api.HandleFunc("/{entity}", s.handleEntityPost).Methods(http.MethodPost)
	api.HandleFunc("/{entity}", s.handleEntityPut).Methods(http.MethodPut)
	api.HandleFunc("/{entity}", s.handleEntityDelete).Methods(http.MethodDelete)

	return r
}

func (s *Server) Run(ctx context.Context) error {

	srv := &http.Server{
		Addr:    s.address,
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown error", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
