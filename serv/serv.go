// Package serv binds the query engine to an HTTP and WebSocket transport:
// fetch and execute over plain HTTP, subscriptions over a WebSocket that
// acts as the engine's channel handle.
package serv

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qbloq/livesql/core"
	"github.com/qbloq/livesql/serv/internal/util"
)

const serverName = "livesql"

// Service ties together the configuration, database pool, engine and HTTP
// server.
type Service struct {
	conf   *Config
	log    *zap.SugaredLogger
	zlog   *zap.Logger
	db     *sql.DB
	engine *core.Engine
	srv    *http.Server
}

// NewService creates the service: logger, database pool and engine.
func NewService(conf *Config) (*Service, error) {
	zlog := util.NewLogger(conf.Production)
	log := zlog.Sugar()

	db, err := NewDB(conf, log)
	if err != nil {
		return nil, err
	}

	engine, err := core.NewEngine(&conf.Core, db,
		core.OptionSetLogger(zap.NewStdLog(zlog)))
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}

	return &Service{
		conf:   conf,
		log:    log,
		zlog:   zlog,
		db:     db,
		engine: engine,
	}, nil
}

// Engine exposes the underlying engine, mainly for seeding and tests.
func (s *Service) Engine() *core.Engine { return s.engine }

// Start runs the HTTP server until the process receives SIGINT or SIGTERM,
// then shuts down gracefully.
func (s *Service) Start() error {
	r := chi.NewRouter()
	s.routes(r)

	co := cors.New(cors.Options{
		AllowedOrigins: s.conf.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.srv = &http.Server{
		Addr:              s.conf.hostPort,
		Handler:           co.Handler(r),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      0, // websocket connections stay open
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !s.conf.Production {
		initConfigWatcher(ctx, s.conf, s.log)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Infof("%s started, listening on %s (%s)",
			serverName, s.conf.hostPort, s.conf.DB.Type)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(sctx)
	})

	err := g.Wait()
	s.db.Close() //nolint:errcheck
	return err
}
