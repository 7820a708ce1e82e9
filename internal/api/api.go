// Package api exposes a thin HTTP reporting surface over a Scanner: health,
// Prometheus-style metrics, and a JSON snapshot of the most recent pass.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/procwatch/internal/procmodel"
)

// Server holds the most recent scan pass and serves it over HTTP.
type Server struct {
	mu      sync.RWMutex
	lastRun procmodel.PassResult
	passes  int
}

// NewServer returns an empty Server; call Update after every scan pass.
func NewServer() *Server {
	return &Server{}
}

// Update replaces the snapshot the server reports with the full pass
// result — both the entire process population and the subset that met the
// configured minimum score.
func (s *Server) Update(result procmodel.PassResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = result
	s.passes++
}

func (s *Server) snapshot() (procmodel.PassResult, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.passes
}

// ListenAndServe registers the handlers and blocks serving on host:port. It
// returns the error http.ListenAndServe returns, rather than calling
// log.Fatal itself, so the caller decides how to treat a bind failure.
func (s *Server) ListenAndServe(host, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.HandleFunc("/snapshot", s.snapshotHandler)

	addr := net.JoinHostPort(host, port)
	log.Info().Str("addr", addr).Msg("api server starting")
	return http.ListenAndServe(addr, mux)
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	result, passes := s.snapshot()

	var critical, warning int
	for _, r := range result.Findings {
		switch r.Status {
		case procmodel.StatusCritical:
			critical++
		case procmodel.StatusWarning:
			warning++
		}
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	body := "# HELP procwatch_up Is the procwatch agent up and running.\n" +
		"# TYPE procwatch_up gauge\n" +
		"procwatch_up 1\n" +
		"# HELP procwatch_passes_total Number of completed scan passes.\n" +
		"# TYPE procwatch_passes_total counter\n"
	body += "procwatch_passes_total " + strconv.Itoa(passes) + "\n"
	body += "# HELP procwatch_flagged_processes Number of flagged processes in the most recent pass by status.\n" +
		"# TYPE procwatch_flagged_processes gauge\n"
	body += "procwatch_flagged_processes{status=\"critical\"} " + strconv.Itoa(critical) + "\n"
	body += "procwatch_flagged_processes{status=\"warning\"} " + strconv.Itoa(warning) + "\n"
	w.Write([]byte(body))
}

// snapshotResponse is the wire shape of /snapshot: the full per-pass
// process population for consumers that want everything, plus the subset
// that met the configured minimum score.
type snapshotResponse struct {
	All      []procmodel.ScoredRecord `json:"all"`
	Findings []procmodel.ScoredRecord `json:"findings"`
}

func (s *Server) snapshotHandler(w http.ResponseWriter, _ *http.Request) {
	result, _ := s.snapshot()
	w.Header().Set("Content-Type", "application/json")
	resp := snapshotResponse{All: result.All, Findings: result.Findings}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("encode snapshot")
		w.WriteHeader(http.StatusInternalServerError)
	}
}
