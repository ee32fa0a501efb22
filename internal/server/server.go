// Package server exposes the application over HTTP: liveness and readiness
// probes, Prometheus metrics and a small JSON API for a browser or script
// front end.
//
// Routes:
//
//	GET  /healthz               liveness
//	GET  /readyz                readiness checks
//	GET  /metrics               Prometheus scrape endpoint
//	GET  /api/messages          conversation log
//	POST /api/chat              send a text message
//	POST /api/language          switch conversation language
//	GET  /api/dashboard         latest analysis results
//	POST /api/insight           request a clinical insight
//	GET  /api/live              voice session state and counters
//	POST /api/live/connect      start the voice session
//	POST /api/live/disconnect   end the voice session
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/genogram/internal/analysis"
	"github.com/MrWong99/genogram/internal/chat"
	"github.com/MrWong99/genogram/internal/conversation"
	"github.com/MrWong99/genogram/internal/observe"
	"github.com/MrWong99/genogram/internal/session"
)

const (
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 64 << 10
)

// Backend is the application surface the API drives.
type Backend interface {
	Messages() []conversation.Message
	Language() conversation.Language
	SetLanguage(lang conversation.Language)
	SendChat(ctx context.Context, text string) (conversation.Message, error)

	Dashboard() analysis.Snapshot
	Insight(ctx context.Context) *analysis.Insight

	LiveStats() (session.Stats, error)
	ConnectLive(ctx context.Context) error
	DisconnectLive()
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics recorded by the request middleware. Defaults
// to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCheckers adds readiness checks to /readyz.
func WithCheckers(checks ...Checker) Option {
	return func(s *Server) { s.checks = append(s.checks, checks...) }
}

// WithMetricsHandler replaces the /metrics handler. Defaults to
// promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithTLS serves HTTPS with the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// Server is the HTTP front end.
type Server struct {
	backend        Backend
	metrics        *observe.Metrics
	metricsHandler http.Handler
	checks         []Checker
	certFile       string
	keyFile        string

	handler http.Handler
	srv     *http.Server
}

// New builds a Server listening on addr.
func New(addr string, backend Backend, opts ...Option) *Server {
	s := &Server{backend: backend}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.Handle("GET /metrics", s.metricsHandler)

	mux.HandleFunc("GET /api/messages", s.messages)
	mux.HandleFunc("POST /api/chat", s.chat)
	mux.HandleFunc("POST /api/language", s.language)
	mux.HandleFunc("GET /api/dashboard", s.dashboard)
	mux.HandleFunc("POST /api/insight", s.insight)
	mux.HandleFunc("GET /api/live", s.liveStatus)
	mux.HandleFunc("POST /api/live/connect", s.liveConnect)
	mux.HandleFunc("POST /api/live/disconnect", s.liveDisconnect)

	s.handler = observe.Middleware(s.metrics)(mux)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.srv.Addr, err)
	}
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", s.certFile != "")

	errCh := make(chan error, 1)
	go func() {
		if s.certFile != "" {
			errCh <- s.srv.ServeTLS(ln, s.certFile, s.keyFile)
			return
		}
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// ── API handlers ──────────────────────────────────────────────────────────────

type liveStatus struct {
	State         string    `json:"state"`
	StartedAt     time.Time `json:"startedAt,omitzero"`
	FramesSent    int64     `json:"framesSent"`
	FramesDropped int64     `json:"framesDropped"`
	AudioChunks   int64     `json:"audioChunks"`
	Utterances    int64     `json:"utterances"`
}

func (s *Server) messages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"language": s.backend.Language(),
		"messages": s.backend.Messages(),
	})
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	reply, err := s.backend.SendChat(r.Context(), body.Text)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, chat.ErrLiveActive):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}

func (s *Server) language(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Language string `json:"language"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	lang, err := conversation.ParseLanguage(body.Language)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.backend.SetLanguage(lang)
	writeJSON(w, http.StatusOK, map[string]any{"language": lang})
}

func (s *Server) dashboard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Dashboard())
}

// insight answers 200 even when no insight could be produced; the dashboard
// then carries the prior insight, if any.
func (s *Server) insight(w http.ResponseWriter, r *http.Request) {
	s.backend.Insight(r.Context())
	writeJSON(w, http.StatusOK, s.backend.Dashboard())
}

func (s *Server) liveStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.currentLive())
}

func (s *Server) liveConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.ConnectLive(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.currentLive())
}

func (s *Server) liveDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.backend.DisconnectLive()
	writeJSON(w, http.StatusOK, s.currentLive())
}

func (s *Server) currentLive() liveStatus {
	st, _ := s.backend.LiveStats()
	return liveStatus{
		State:         st.State.String(),
		StartedAt:     st.StartedAt,
		FramesSent:    st.FramesSent,
		FramesDropped: st.FramesDropped,
		AudioChunks:   st.AudioChunks,
		Utterances:    st.Utterances,
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http: encode response", "err", err)
	}
}
