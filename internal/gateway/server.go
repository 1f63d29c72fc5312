// Package gateway implements the narrow HTTP/RPC-bridge slice spec §6.4
// names: an RPC bridge at POST /api/command/{target} and HLS file serving
// for the camera's stream output. Full routing, templating, and
// basic-auth enforcement are out of scope — Mux returns a *http.ServeMux a
// real gateway would extend with those concerns.
package gateway

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// callTimeout is the default RPC budget (spec §5) for actions with no
// override in actionTimeouts.
const callTimeout = 5 * time.Second

// actionTimeouts overrides callTimeout for the action-specific budgets spec
// §5 names: start_camera gets 10s, scan_aranet4 and discover_cameras get
// 30s to cover their subprocess-backed discovery work.
var actionTimeouts = map[string]time.Duration{
	"start_camera":     10 * time.Second,
	"scan_aranet4":     30 * time.Second,
	"discover_cameras": 30 * time.Second,
}

// timeoutFor returns the RPC budget for action, falling back to callTimeout
// for anything not named in actionTimeouts.
func timeoutFor(action string) time.Duration {
	if d, ok := actionTimeouts[action]; ok {
		return d
	}
	return callTimeout
}

// validTargets is the closed set of RPC targets the gateway will bridge to
// (spec §6.4).
var validTargets = map[string]bool{
	"sensors":        true,
	"network_camera": true,
	"orchestrator":   true,
}

// Server wires the broker RPC bridge and HLS file server into an
// http.Handler.
type Server struct {
	br        broker.Interface
	streamDir string
	hub       *Hub
}

// New builds a Server. streamDir is the directory the camera worker writes
// its HLS playlist and segments into.
func New(br broker.Interface, streamDir string) *Server {
	return &Server{br: br, streamDir: streamDir, hub: NewHub(br)}
}

// Mux returns the gateway's HTTP routes. Named so a caller can mount
// additional routes (auth middleware, static file serving, the dashboard
// itself) around the returned mux without this package needing to know
// about them.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/command/", s.handleCommand)
	mux.HandleFunc("/api/stream/", s.handleStream)
	mux.HandleFunc("/ws", s.hub.ServeHTTP)
	return mux
}

// Hub returns the WebSocket push hub so the caller can start its
// broker-subscription pump alongside the HTTP server.
func (s *Server) Hub() *Hub { return s.hub }

type commandRequest struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// handleCommand implements POST /api/command/{target}, bridging an HTTP
// request into a broker.Call RPC round trip (spec §6.4).
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	target := strings.TrimPrefix(r.URL.Path, "/api/command/")
	if !validTargets[target] {
		http.Error(w, "unknown command target", http.StatusNotFound)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Action == "" {
		http.Error(w, "missing action", http.StatusBadRequest)
		return
	}

	resp, err := s.br.Call(r.Context(), target, req.Action, req.Params, timeoutFor(req.Action))
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != types.StatusOK {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStream serves the HLS playlist and segment files produced by the
// camera worker. filepath.Base collapses any "../" traversal attempt down
// to a bare filename before it ever reaches the filesystem (spec §6.4).
// The playlist and segment cases are handled separately per spec.md §6.4 /
// stream.py: a missing playlist is 503 (stream not up yet) with no-cache
// headers, and a present one is served with no-cache headers and the HLS
// media type; a missing segment is a plain 404, and a present one is
// served with the video/mp2t media type Go's extension-sniffing wouldn't
// guess.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := filepath.Base(strings.TrimPrefix(r.URL.Path, "/api/stream/"))
	if name == "." || name == "/" {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.streamDir, name)

	switch {
	case strings.HasSuffix(name, ".m3u8"):
		if _, err := os.Stat(path); err != nil {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			http.Error(w, "stream not available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		http.ServeFile(w, r, path)
	case strings.HasSuffix(name, ".ts"):
		if _, err := os.Stat(path); err != nil {
			http.Error(w, "segment not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "video/mp2t")
		http.ServeFile(w, r, path)
	default:
		http.Error(w, "unsupported stream file type", http.StatusBadRequest)
	}
}
