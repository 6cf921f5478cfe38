// Package console serves the HTTP control surface for a registry: REST
// commands, a websocket change feed and a Prometheus scrape endpoint.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torosent/gatesim/internal/registry"
	"github.com/torosent/gatesim/internal/runner"
)

const (
	writeWait       = 5 * time.Second
	defaultPingWait = 30 * time.Second
	shutdownWait    = 5 * time.Second
)

// Options configure a Server.
type Options struct {
	Logger       *zap.Logger
	PingInterval time.Duration
}

// Server exposes a registry over HTTP.
type Server struct {
	reg      *registry.Registry
	log      *zap.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	ping     time.Duration
}

func New(reg *registry.Registry, opt Options) *Server {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.PingInterval <= 0 {
		opt.PingInterval = defaultPingWait
	}
	s := &Server{
		reg:  reg,
		log:  opt.Logger,
		mux:  http.NewServeMux(),
		ping: opt.PingInterval,
		upgrader: websocket.Upgrader{CheckOrigin: sameOrigin},
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(newCollector(reg))

	s.mux.HandleFunc("GET /api/runs", s.handleList)
	s.mux.HandleFunc("POST /api/runs", s.handleCreate)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /api/runs/{id}", s.handleRemove)
	s.mux.HandleFunc("PATCH /api/runs/{id}/config", s.handleConfigure)
	s.mux.HandleFunc("POST /api/runs/{id}/{action}", s.handleAction)
	s.mux.HandleFunc("GET /api/totals", s.handleTotals)
	s.mux.HandleFunc("GET /api/stream", s.handleStream)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead && !sameOrigin(r) {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "cross-origin request rejected"})
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

// sameOrigin accepts requests without an Origin header (curl, the CLI)
// and browser requests whose origin host matches the served host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
// Request contexts derive from ctx so open streams end with it.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("console listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

type createRequest struct {
	Name   string      `json:"name"`
	Config configPatch `json:"config"`
}

// configPatch is the wire form of runner.ConfigPatch. Durations are
// milliseconds, matching how configurations are rendered.
type configPatch struct {
	Model             *string `json:"model"`
	PromptMode        *string `json:"prompt_mode"`
	Prompt            *string `json:"prompt"`
	RequestCount      *int    `json:"request_count"`
	Pacing            *string `json:"pacing"`
	RequestIntervalMs *int64  `json:"request_interval_ms"`
	BurstSize         *int    `json:"burst_size"`
	BurstIntervalMs   *int64  `json:"burst_interval_ms"`
	RateLimit         *int    `json:"rate_limit"`
	Token             *string `json:"token"`
}

func (p configPatch) toPatch() runner.ConfigPatch {
	out := runner.ConfigPatch{
		Model:        p.Model,
		Prompt:       p.Prompt,
		RequestCount: p.RequestCount,
		BurstSize:    p.BurstSize,
		RateLimit:    p.RateLimit,
		Token:        p.Token,
	}
	if p.PromptMode != nil {
		mode := runner.PromptMode(*p.PromptMode)
		out.PromptMode = &mode
	}
	if p.Pacing != nil {
		pacing := runner.Pacing(*p.Pacing)
		out.Pacing = &pacing
	}
	if p.RequestIntervalMs != nil {
		d := time.Duration(*p.RequestIntervalMs) * time.Millisecond
		out.RequestInterval = &d
	}
	if p.BurstIntervalMs != nil {
		d := time.Duration(*p.BurstIntervalMs) * time.Millisecond
		out.BurstInterval = &d
	}
	return out
}

type errorResponse struct {
	Error  string   `json:"error"`
	Issues []string `json:"issues,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List())
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	snap := s.reg.Create(req.Name)
	if patch := req.Config.toPatch(); !patch.IsZero() {
		if err := s.reg.Configure(snap.ID, patch); err != nil {
			_ = s.reg.Remove(snap.ID)
			s.writeError(w, err)
			return
		}
	}
	snap, err := s.reg.Summary(snap.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reg.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Remove(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var body configPatch
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	id := r.PathValue("id")
	if err := s.reg.Configure(id, body.toPatch()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSummary(w, id)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = s.reg.Start(id)
	case "pause":
		err = s.reg.Pause(id)
	case "resume":
		err = s.reg.Resume(id)
	case "stop":
		err = s.reg.Stop(id)
	default:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown action " + action})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Debug("console command", zap.String("run_id", id), zap.String("action", r.PathValue("action")))
	s.writeSummary(w, id)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Totals())
}

func (s *Server) writeSummary(w http.ResponseWriter, id string) {
	snap, err := s.reg.Summary(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr runner.ValidationError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, runner.ErrRunActive):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Issues: verr.Issues()})
	default:
		s.log.Error("console request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
