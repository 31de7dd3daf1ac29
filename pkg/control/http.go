package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/core-tools/hsu-multiserver/pkg/errors"
	"github.com/core-tools/hsu-multiserver/pkg/logging"
	"github.com/core-tools/hsu-multiserver/pkg/supervisor"
)

const mimeJSON = "application/json; charset=utf-8"

// StatusSource is implemented by *supervisor.Supervisor
type StatusSource interface {
	Snapshot() supervisor.Snapshot
	World(name string) (supervisor.ProcessStatus, bool)
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HTTPHandler serves read-only JSON status
type HTTPHandler struct {
	source StatusSource
	router *mux.Router
	logger logging.Logger
}

func NewHTTPHandler(source StatusSource, logger logging.Logger) *HTTPHandler {
	router := mux.NewRouter()
	h := &HTTPHandler{source: source, router: router, logger: logger}

	router.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)
	router.HandleFunc("/worlds", h.listWorlds).Methods(http.MethodGet)
	router.HandleFunc("/worlds/{name}", h.getWorld).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, &Error{Code: http.StatusNotFound, Message: "not found"})
	})

	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *HTTPHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.source.Snapshot())
}

func (h *HTTPHandler) listWorlds(w http.ResponseWriter, r *http.Request) {
	worlds := h.source.Snapshot().Worlds
	names := make([]string, 0, len(worlds))
	for _, world := range worlds {
		names = append(names, world.Name)
	}
	h.writeJSON(w, names)
}

func (h *HTTPHandler) getWorld(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	status, ok := h.source.World(name)
	if !ok {
		h.writeError(w, &Error{Code: http.StatusNotFound, Message: "world not found: " + name})
		return
	}
	h.writeJSON(w, status)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Errorf("Failed to encode status: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeJSON)
	w.Write(b)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, e *Error) {
	b, err := json.Marshal(e)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeJSON)
	w.WriteHeader(e.Code)
	w.Write(b)
}

// HTTPServer runs an HTTPHandler until its context is cancelled
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   logging.Logger
}

// ListenHTTP binds the port immediately so that bind errors surface at startup
func ListenHTTP(port int, handler http.Handler, logger logging.Logger) (*HTTPServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.NewIOError("failed to listen for HTTP status", err).WithContext("port", port)
	}

	return &HTTPServer{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

func (s *HTTPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve blocks until ctx is done, then shuts the server down
func (s *HTTPServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("HTTP status server listening, addr: %s", s.listener.Addr())
		errCh <- s.server.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.NewIOError("HTTP status server failed", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return errors.NewTimeoutError("HTTP status server shutdown", err)
	}
	s.logger.Infof("HTTP status server stopped")
	return nil
}
