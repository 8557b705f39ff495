package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"roomchat/internal/auth"
	"roomchat/internal/broker"
	"roomchat/internal/chat"
)

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
}

// NewServer wires the chat service, session manager and fan-out hub into an
// http.Server. Every JSON endpoint except "/users/add" sits behind the
// authenticate middleware; "/ws" authenticates the same way before upgrading.
func NewServer(logger *zap.SugaredLogger, sessions *auth.Manager, service *chat.Service, hub *broker.Hub, opts ...Option) (*Server, error) {
	h := &handler{
		logger:   logger,
		service:  service,
		sessions: sessions,
		hub:      hub,
	}

	authed := func(hf http.HandlerFunc) http.Handler {
		return authenticate(hf, logger, sessions)
	}

	c := &config{
		httpServer: &http.Server{Addr: "0.0.0.0:9000"},
		handlers: map[string]http.Handler{
			"/users/add":    http.HandlerFunc(h.createUser),
			"/rooms/get":    authed(h.userRooms),
			"/rooms/add":    authed(h.createRoom),
			"/rooms/update": authed(h.updateRoom),
			"/messages/get": authed(h.roomMessages),
			"/messages/add": authed(h.createMessage),
		},
		rawHandlers: map[string]http.Handler{
			"/ws": authed(h.serveWS),
		},
	}

	opts = append(opts, applyEnforcePostJson(), applyLog(logger.Desugar()), registerHandlers())
	for _, opt := range opts {
		opt.apply(c)
	}

	return &Server{
		logger:        logger,
		httpServer:    c.httpServer,
		afterShutdown: c.afterShutdown,
	}, nil
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
