package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os/user"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thearyanahmed/share-tester/internal/metric"
	"github.com/thearyanahmed/share-tester/internal/share"
)

type server struct {
	cfg      *Config
	share    share.Share
	target   string
	hostname string
	logger   hclog.Logger
	reports  *ReportStore
	registry *prometheus.Registry
}

func newServer(cfg *Config, s share.Share, target string, reports *ReportStore, logger hclog.Logger) *server {
	reg := prometheus.NewRegistry()
	metric.InitializeCollectors(reg, "exclusive_lock", "concurrent_stress")
	return &server{
		cfg:      cfg,
		share:    s,
		target:   target,
		hostname: getHostname(),
		logger:   logger,
		reports:  reports,
		registry: reg,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	var paths []string
	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, h)
		paths = append(paths, pattern)
	}
	handle("/", http.HandlerFunc(s.handleIndex))
	handle("/health", http.HandlerFunc(handleHealth))
	handle("/api/v1/info", http.HandlerFunc(s.handleInfo))
	handle("/api/v1/test-suite", http.HandlerFunc(s.handleTestSuite))
	handle("/api/v1/scenarios/exclusive-lock", s.handleScenario("exclusive_lock"))
	handle("/api/v1/scenarios/exclusive-lock-repeat", s.handleScenario("exclusive_lock_repeat"))
	handle("/api/v1/scenarios/stress", s.handleScenario("concurrent_stress"))
	handle("/api/v1/runs", http.HandlerFunc(s.handleRuns))
	handle("/api/v1/runs/", http.HandlerFunc(s.handleRun))
	handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return metric.InstrumentHttpHandler(mux, paths)
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
  <title>Share Lock Tester</title>
  <style>
    body { font-family: monospace; max-width: 800px; margin: 40px auto; padding: 0 20px; background: #f8f9fa; color: #212529; }
    h1 { color: #0056b3; }
    .card { background: #fff; border: 1px solid #dee2e6; border-radius: 8px; padding: 20px; margin: 16px 0; }
    .served-by { color: #0056b3; font-weight: bold; }
    table { width: 100%%; border-collapse: collapse; }
    td, th { padding: 6px 12px; text-align: left; border-bottom: 1px solid #dee2e6; }
    a { color: #0056b3; }
  </style>
</head>
<body>
  <h1>Share Lock Tester</h1>
  <p>Served by: <span class="served-by">%s</span> | backend: %s | target: %s</p>
  <div class="card">
    <table>
      <tr><td>GET</td><td><a href="/health">/health</a></td><td>Health check</td></tr>
      <tr><td>GET</td><td><a href="/api/v1/info">/api/v1/info</a></td><td>Backend and mount info</td></tr>
      <tr><td>GET</td><td><a href="/api/v1/test-suite">/api/v1/test-suite</a></td><td>Run every scenario</td></tr>
      <tr><td>GET</td><td><a href="/api/v1/scenarios/exclusive-lock">/api/v1/scenarios/exclusive-lock</a></td><td>Holder/contender lock check</td></tr>
      <tr><td>GET</td><td><a href="/api/v1/scenarios/exclusive-lock-repeat">/api/v1/scenarios/exclusive-lock-repeat</a></td><td>Lock check, repeated (?repeat=N)</td></tr>
      <tr><td>GET</td><td><a href="/api/v1/scenarios/stress">/api/v1/scenarios/stress</a></td><td>Concurrent stress (?workers=N)</td></tr>
      <tr><td>GET</td><td><a href="/api/v1/runs">/api/v1/runs</a></td><td>Stored runs</td></tr>
      <tr><td>GET</td><td><a href="/metrics">/metrics</a></td><td>Prometheus metrics</td></tr>
    </table>
  </div>
</body>
</html>`, s.hostname, s.cfg.Backend, s.target)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"backend":   s.cfg.Backend,
		"target":    s.target,
		"served_by": s.hostname,
	}
	if u, err := user.Current(); err == nil {
		info["user"] = u.Username
		info["uid"] = u.Uid
		info["gid"] = u.Gid
	}
	if s.cfg.Backend == backendDir {
		info["mount_info"] = mountInfo(s.target)
	}
	writeJSON(w, info)
}

func (s *server) handleTestSuite(w http.ResponseWriter, r *http.Request) {
	s.runAndRespond(w, r)
}

func (s *server) handleScenario(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.runAndRespond(w, r, name)
	}
}

// runAndRespond runs the named scenarios with per-request overrides from the
// query string, stores the result and writes it back.
func (s *server) runAndRespond(w http.ResponseWriter, r *http.Request, names ...string) {
	cfg := s.cfg.suiteConfig()
	q := r.URL.Query()
	for key, target := range map[string]*int{"workers": &cfg.StressWorkers, "repeat": &cfg.Repeat} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("%s must be between 1 and 1000", key)})
			return
		}
		*target = n
	}

	result, err := RunSuite(r.Context(), s.share, s.cfg.Backend, s.target, s.logger, cfg, names...)
	switch {
	case errors.Is(err, errSuiteCancelled):
		// the client went away; nothing was stored or recorded
		s.logger.Info("run abandoned by client", "error", err)
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.reports.Create(result); err != nil {
		s.logger.Warn("could not store run", "run_id", result.RunID, "error", err)
	}

	writeJSON(w, map[string]interface{}{
		"result":    result,
		"served_by": s.hostname,
	})
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	list, err := s.reports.List()
	if err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, map[string]interface{}{
		"runs":      list,
		"count":     len(list),
		"served_by": s.hostname,
	})
}

// handleRun serves GET and DELETE on /api/v1/runs/<id>.
func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" {
		s.handleRuns(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		result, err := s.reports.Get(id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, result)
	case http.MethodDelete:
		if err := s.reports.Delete(id); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted", "run_id": id, "served_by": s.hostname})
	default:
		http.Error(w, "GET or DELETE only", http.StatusMethodNotAllowed)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errInvalidRunID):
		code = http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		code = http.StatusNotFound
	}
	writeJSONStatus(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
