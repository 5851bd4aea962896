// Package web provides an HTTP status server for the gpio-hub daemon and
// accepts device commands.
package web

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/sweeney/gpio-hub/internal/status"
)

// Executor applies an action to a device, e.g. ("garage", "OPEN").
type Executor func(id, action string) error

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	exec       Executor
}

// New creates a Server that reads state from the given tracker. Commands
// posted to /devices/{id}/{action} go to exec; a nil exec disables them.
func New(addr string, tracker *status.Tracker, exec Executor) *Server {
	s := &Server{tracker: tracker, exec: exec}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/devices/", s.handleCommand)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's routes, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/devices/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeCommand(w, http.StatusMethodNotAllowed, parts[0], parts[1], "method not allowed")
		return
	}
	if s.exec == nil {
		writeCommand(w, http.StatusServiceUnavailable, parts[0], parts[1], "commands disabled")
		return
	}
	if err := s.exec(parts[0], parts[1]); err != nil {
		writeCommand(w, statusCode(err), parts[0], parts[1], err.Error())
		return
	}
	writeCommand(w, http.StatusOK, parts[0], parts[1], "")
}
