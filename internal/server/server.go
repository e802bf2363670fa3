package server

import (
	"ImagenStudio/internal/app/controller"
	"ImagenStudio/internal/config"
	"ImagenStudio/internal/imagegen"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Deps зависимости обработчиков.
type Deps struct {
	Generator    controller.Generator
	DefaultModel imagegen.Model
	KeyPolicy    imagegen.KeyPolicy
}

// Server отдаёт страницу, WebSocket-сессии и JSON API генерации.
type Server struct {
	cfg    config.HTTPConfig
	deps   Deps
	srv    *http.Server
	logger *zap.SugaredLogger

	running atomic.Bool
	addr    atomic.Value

	// sessionsCtx отменяется в Stop: Shutdown не закрывает захваченные WebSocket-соединения.
	// sessionsMu упорядочивает sessions.Add с закрытием: после closeSessions новых Add нет.
	sessionsCtx    context.Context
	cancelSessions context.CancelFunc
	sessionsMu     sync.Mutex
	sessions       sync.WaitGroup
}

func New(cfg config.HTTPConfig, deps Deps, logger *zap.SugaredLogger) *Server {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if !deps.DefaultModel.Supported() {
		deps.DefaultModel = imagegen.ModelImagen
	}
	if deps.KeyPolicy == "" {
		deps.KeyPolicy = imagegen.KeyPolicyEmbed
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.sessionsCtx, s.cancelSessions = context.WithCancel(context.Background())
	s.addr.Store(cfg.BindAddr)

	s.srv = &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// WriteTimeout не задаём: /api/generate ограничен таймаутом клиента генерации.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler маршруты сервера; используется и в тестах через httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start начинает слушать адрес и обслуживает запросы в отдельной горутине.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.addr.Store(ln.Addr().String())

	go func() {
		s.logger.Infow("Server listening", "addr", s.Addr())
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) && err != nil {
			s.logger.Errorw("Server stopped with error", "error", err)
		} else {
			s.logger.Infow("Server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.WithoutCancel(ctx))
	}()
	return nil
}

// Stop выполняет graceful shutdown и закрывает активные сессии.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeoutCause(ctx, s.cfg.ShutdownTimeout, errors.New("server shutdown timeout"))
	defer cancel()

	s.closeSessions()
	err := s.srv.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warnw("graceful shutdown error", "error", err)
		err = s.srv.Close()
	}
	s.sessions.Wait()
	return err
}

// acquireSession регистрирует новую сессию; false, если сервер уже останавливается.
func (s *Server) acquireSession() bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if s.sessionsCtx.Err() != nil {
		return false
	}
	s.sessions.Add(1)
	return true
}

func (s *Server) closeSessions() {
	s.sessionsMu.Lock()
	s.cancelSessions()
	s.sessionsMu.Unlock()
}

// Addr фактический адрес слушателя после Start.
func (s *Server) Addr() string { return s.addr.Load().(string) }
