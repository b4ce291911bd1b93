package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"github.com/vmelnik/intraday_position_engine/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router    *mux.Router
	server    *http.Server
	engine    *usecase.Engine
	groups    domain.GroupRepository
	positions domain.PositionRepository
	logger    *zap.Logger
}

func NewServer(
	port int,
	engine *usecase.Engine,
	groups domain.GroupRepository,
	positions domain.PositionRepository,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		engine:    engine,
		groups:    groups,
		positions: positions,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)

	// Positions
	s.router.HandleFunc("/api/positions", s.handleActivePositions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/positions/{id:[0-9]+}", s.handlePosition).Methods(http.MethodGet)

	// Groups
	s.router.HandleFunc("/api/groups", s.handleGroups).Methods(http.MethodGet)
	s.router.HandleFunc("/api/groups/{no:[0-9]+}/positions", s.handleGroupPositions).Methods(http.MethodGet)

	// Metrics
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
