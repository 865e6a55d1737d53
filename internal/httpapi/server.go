// Package httpapi serves the JSON command protocol. One Echo handler backs
// every listener: the root port plus one dedicated port per legacy backend.
// The listening port travels with each request so the root route can dispatch
// on it.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Warspoot/tlserver/internal/dispatch"
	"github.com/Warspoot/tlserver/internal/protocol"
	"github.com/Warspoot/tlserver/internal/session"
)

type Options struct {
	Host            string
	RootPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	registry *dispatch.Registry
	logger   zerolog.Logger
	opts     Options

	closeOnce sync.Once
	closed    chan struct{}
}

func NewServer(registry *dispatch.Registry, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		// Translations can sit on a slow engine for a while.
		writeTimeout = 180 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		registry: registry,
		logger:   logger,
		opts: Options{
			Host:            host,
			RootPort:        opts.RootPort,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
		closed: make(chan struct{}),
	}
}

type portKey struct{}

func portFromContext(ctx context.Context) int {
	port, _ := ctx.Value(portKey{}).(int)
	return port
}

// Start binds every listener and blocks until ctx is cancelled, a close
// command arrives, or a listener fails. In-flight requests are allowed to
// finish during shutdown.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	ports := []int{s.opts.RootPort}
	ports = append(ports, s.registry.Ports()...)

	servers := make([]*http.Server, 0, len(ports))
	for _, port := range ports {
		port := port
		servers = append(servers, &http.Server{
			Addr:         fmt.Sprintf("%s:%d", s.opts.Host, port),
			Handler:      handler,
			ReadTimeout:  s.opts.ReadTimeout,
			WriteTimeout: s.opts.WriteTimeout,
			IdleTimeout:  60 * time.Second,
			BaseContext: func(net.Listener) context.Context {
				return context.WithValue(context.Background(), portKey{}, port)
			},
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			s.logger.Info().Str("addr", srv.Addr).Msg("listener started")
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listener %s: %w", srv.Addr, err)
				return
			}
			errCh <- nil
		}()
	}

	var runErr error
	drained := 0
	select {
	case <-ctx.Done():
	case <-s.closed:
		s.logger.Info().Msg("close command received, shutting down")
	case err := <-errCh:
		drained++
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Str("addr", srv.Addr).Msg("listener shutdown failed")
		}
	}

	for ; drained < len(servers); drained++ {
		if err := <-errCh; err != nil && runErr == nil {
			runErr = err
		}
	}

	s.logger.Info().Msg("server stopped")
	return runErr
}

// Handler assembles the shared Echo handler: "/" dispatches by listening
// port, every registered path gets its own route.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.POST("/", s.handlePortDispatch)
	for _, path := range s.registry.Paths() {
		sess, _ := s.registry.ByPath(path)
		e.POST("/"+path, s.pathHandler(sess))
	}

	return e
}

// handlePortDispatch serves "/" on every listener, resolving the session
// from the port the request arrived on. A close command here is a per-session
// no-op; the legacy scheme has no teardown primitive.
func (s *Server) handlePortDispatch(c echo.Context) error {
	port := portFromContext(c.Request().Context())
	sess, ok := s.registry.ByPort(port)
	if !ok {
		return c.String(http.StatusNotFound, fmt.Sprintf("No plugin for port %d\n", port))
	}
	return s.execute(c, sess, func() {})
}

// pathHandler serves one registered backend path. A close command here shuts
// the whole process down.
func (s *Server) pathHandler(sess *session.Session) echo.HandlerFunc {
	return func(c echo.Context) error {
		return s.execute(c, sess, s.signalClose)
	}
}

func (s *Server) signalClose() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// execute decodes one command envelope and runs it against sess. Commands
// without a return value respond with JSON null.
func (s *Server) execute(c echo.Context, sess *session.Session, onClose func()) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}

	env, err := protocol.DecodeEnvelope(body)
	if err != nil {
		var envErr *protocol.EnvelopeError
		if errors.As(err, &envErr) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": envErr.Reason})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if env.Coerced {
		s.logger.Debug().Msg("list-valued translate request reinterpreted as batch")
	}

	ctx := c.Request().Context()
	switch env.Message {
	case protocol.CommandClose:
		onClose()
		return c.JSON(http.StatusOK, nil)
	case protocol.CommandReady:
		return c.JSON(http.StatusOK, sess.Ready())
	case protocol.CommandTranslate:
		result, err := sess.Translate(ctx, env.Text)
		if err != nil {
			return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, result)
	case protocol.CommandTranslateBatch:
		results, err := sess.TranslateBatch(ctx, env.Texts)
		if err != nil {
			return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, results)
	case protocol.CommandChangeInput:
		return c.JSON(http.StatusOK, sess.ChangeInputLanguage(env.Text))
	case protocol.CommandChangeOutput:
		return c.JSON(http.StatusOK, sess.ChangeOutputLanguage(env.Text))
	case protocol.CommandPause:
		sess.Pause()
		return c.JSON(http.StatusOK, nil)
	case protocol.CommandResume:
		sess.Resume()
		return c.JSON(http.StatusOK, nil)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unhandled command %q", env.Message)})
	}
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		if text, ok := httpErr.Message.(string); ok && strings.TrimSpace(text) != "" {
			message = text
		} else {
			message = http.StatusText(status)
		}
	} else if err != nil {
		message = err.Error()
	}

	if status == http.StatusNotFound {
		_ = c.String(status, fmt.Sprintf("No plugin for path %s\n", c.Request().URL.Path))
		return
	}
	_ = c.String(status, message)
}
