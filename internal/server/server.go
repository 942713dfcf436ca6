// Package server exposes the synthesis manager over a minimal HTTP
// boundary. It maps taxonomy kinds to transport statuses and never retries
// internally; all retry and fallback policy lives in the manager.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/nxkoi/vox-navigator/internal/synth"
)

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8000".
	Addr string

	// SynthPerMinute throttles synthesis requests. Zero disables the
	// limiter. Model inference monopolizes the device, so unthrottled
	// clients can pile requests onto a single engine.
	SynthPerMinute int
}

// Server wires HTTP routes to a synthesis manager.
type Server struct {
	cfg     Config
	manager *synth.Manager
	limiter *rate.Limiter
}

// New creates a Server for the given manager.
func New(cfg Config, manager *synth.Manager) *Server {
	var limiter *rate.Limiter
	if cfg.SynthPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.SynthPerMinute)/60.0), cfg.SynthPerMinute)
	}
	return &Server{cfg: cfg, manager: manager, limiter: limiter}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/tts", s.handleSynthesize)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/device", s.handleDevice)
	return mux
}

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("TTS server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("Shutting down TTS server")
		return srv.Shutdown(shutdownCtx)
	}
}

// ttsRequest is the POST /tts body.
type ttsRequest struct {
	Text string `json:"text"`
}

// handleSynthesize implements POST /tts: JSON {"text": "..."} in, a
// complete WAV file out. The output file is transient and removed after it
// is streamed.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text cannot be empty")
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "synthesis rate limit exceeded")
		return
	}

	path, err := s.manager.Synthesize(r.Context(), text, "")
	if err != nil {
		kind := synth.KindOf(err)
		log.Error("Synthesis request failed", "kind", kind, "error", err)
		writeError(w, statusForKind(kind), err.Error())
		return
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil {
			log.Debug("Could not remove transient audio file", "path", path, "error", rmErr)
		}
	}()

	fi, err := os.Stat(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audio file was not created")
		return
	}

	log.Info("Serving synthesized audio",
		"chars", len(text), "size", humanize.Bytes(uint64(fi.Size())))

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// handleHealth reports service and engine state. It never fails: detection
// and initialization problems show up in the body, not the status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/health" {
		http.NotFound(w, r)
		return
	}

	body := map[string]any{
		"status":             "healthy",
		"engine_initialized": s.manager.Initialized(),
	}
	if d, ok := s.manager.CurrentDevice(); ok {
		body["device"] = string(d.Kind)
		body["device_name"] = d.Name
	} else {
		body["device"] = nil
		body["device_name"] = nil
	}
	writeJSON(w, http.StatusOK, body)
}

// handleDevice triggers detection if it has not happened yet and reports
// the descriptor.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.manager.DeviceInfo(r.Context())
	if err != nil {
		writeError(w, statusForKind(synth.KindOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":    string(d.Kind),
		"name":    d.Name,
		"backend": d.Backend,
		"detail":  d.Detail,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "vox-navigator",
	})
}

// statusForKind maps the closed error taxonomy to transport statuses.
// Initialization-class failures are 503 so clients know the service may
// recover; everything else is a plain 500.
func statusForKind(kind synth.Kind) int {
	switch kind {
	case synth.KindDevice, synth.KindEngineLoad:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug("Could not encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
