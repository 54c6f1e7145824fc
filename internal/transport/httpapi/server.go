// Package httpapi serves the status and command endpoints and pushes state
// snapshots to WebSocket viewers.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/yaml.v3"

	"onairsync/internal/apperr"
	"onairsync/internal/command"
	"onairsync/internal/dispatch"
	"onairsync/internal/logger"
	"onairsync/internal/metrics"
	"onairsync/internal/retry"
	"onairsync/internal/state"
)

// Dispatcher is what the HTTP surface needs from the core.
type Dispatcher interface {
	Submit(ctx context.Context, raw []byte, src command.Source) (dispatch.Result, error)
	Store() *state.Store
}

// Options tune the server. Zero values are usable.
type Options struct {
	// Metrics serves /metrics when set.
	Metrics         http.Handler
	Recorder        metrics.Recorder
	ShutdownTimeout time.Duration
	// Retry paces listener restarts; the zero value means retry.DefaultPolicy.
	Retry retry.Policy
}

// Server represents the HTTP API server.
type Server struct {
	addr   string
	router *chi.Mux
	disp   Dispatcher
	hub    *Hub
	log    *logger.Log
	opts   Options
	policy retry.Policy

	mu     sync.Mutex
	server *http.Server
	bound  net.Addr
	ready  chan struct{}
	once   sync.Once
}

// NewServer creates the server and its routes.
func NewServer(addr string, disp Dispatcher, log *logger.Log, opts Options) *Server {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	l := log.Module("http")
	s := &Server{
		addr:   addr,
		router: chi.NewRouter(),
		disp:   disp,
		hub:    NewHub(disp, l, opts.Recorder),
		log:    l,
		opts:   opts,
		policy: opts.Retry.OrDefault(),
		ready:  make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/command", s.handleCommand)
	s.router.Post("/api/command", s.handleCommand)
	s.router.Get("/api/ws", s.hub.ServeWS)
	if s.opts.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Ready is closed after the first successful listen.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address, nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Run serves until ctx is done, then shuts down gracefully. Listener errors
// are retried with backoff.
func (s *Server) Run(ctx context.Context) error {
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		s.hub.Run(ctx)
	}()
	defer func() { <-hubDone }()

	attempt := 0
	for {
		err := s.serveOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		attempt++
		s.log.With(logger.Fields{"error": fmt.Sprint(err), "attempt": attempt}).Error("http listener failed, restarting")
		if err := s.policy.Wait(ctx, attempt); err != nil {
			return nil
		}
	}
}

func (s *Server) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.server = srv
	s.bound = ln.Addr()
	s.mu.Unlock()
	s.once.Do(func() { close(s.ready) })
	s.log.With(logger.Fields{"addr": ln.Addr().String()}).Info("http server started")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
			return
		}
		sctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.log.With(logger.Fields{"error": err.Error()}).Warn("http shutdown")
		}
	}()

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.With(logger.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

// Response bodies.

type commandResponse struct {
	OK       bool        `json:"ok"`
	Revision uint64      `json:"revision"`
	Changed  bool        `json:"changed"`
	Value    interface{} `json:"value,omitempty"`
	State    state.View  `json:"state"`
}

type errorResponse struct {
	OK    bool      `json:"ok"`
	Error errorInfo `json:"error"`
}

type errorInfo struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func newErrorInfo(err error) errorInfo {
	if e, ok := apperr.As(err); ok {
		return errorInfo{Category: string(e.Category), Code: string(e.Code), Message: e.Error()}
	}
	return errorInfo{Category: "internal", Code: string(apperr.CodeFailed), Message: err.Error()}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"revision": s.disp.Store().Revision(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := s.disp.Store().Snapshot().View(time.Now())
	if wantsYAML(r) {
		writeYAML(w, http.StatusOK, view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	raw, err := commandFromRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.disp.Submit(r.Context(), []byte(raw), command.SourceHTTP)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := commandResponse{
		OK:       true,
		Revision: res.Revision,
		Changed:  res.Changed,
		Value:    res.Value,
		State:    res.State.View(time.Now()),
	}
	if wantsYAML(r) {
		writeYAML(w, http.StatusOK, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// commandFromRequest reads ?cmd=, a form field cmd, or a text body.
func commandFromRequest(w http.ResponseWriter, r *http.Request) (string, error) {
	if r.Method == http.MethodPost {
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
			r.Body = http.MaxBytesReader(w, r.Body, command.MaxPayload+1024)
			if err := r.ParseForm(); err != nil {
				return "", apperr.Malformed("invalid form: %v", err)
			}
			if v := r.PostForm.Get("cmd"); v != "" {
				return v, nil
			}
		}
	}
	if v := r.URL.Query().Get("cmd"); v != "" {
		return v, nil
	}
	if r.Method == http.MethodPost && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, command.MaxPayload+1))
		if err != nil {
			return "", apperr.Malformed("read body: %v", err)
		}
		if len(body) > 0 {
			return string(body), nil
		}
	}
	return "", apperr.Malformed("missing cmd parameter")
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := errorResponse{OK: false, Error: newErrorInfo(err)}
	if wantsYAML(r) {
		writeYAML(w, status, body)
		return
	}
	writeJSON(w, status, body)
}

func wantsYAML(r *http.Request) bool {
	f := strings.ToLower(r.URL.Query().Get("format"))
	return f == "yaml" || f == "yml"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeYAML(w http.ResponseWriter, status int, v interface{}) {
	out, err := yaml.Marshal(v)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: newErrorInfo(err)})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(status)
	_, _ = w.Write(out)
}
