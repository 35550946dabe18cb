package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler is one path the metrics server exposes.
type Handler struct {
	Handler     http.Handler
	Path        string
	Description string
}

// Server is Homu's dedicated metrics/profiling HTTP listener, separate
// from the webhook intake server, grounded on the teacher's own
// metrics/server.go split between the two.
type Server struct {
	server *http.Server
	logger *zap.Logger

	port     string
	handlers []Handler
}

func NewServer(port string, handler Handler, enablePprof bool, logger *zap.Logger) *Server {
	handlers := []Handler{handler}
	if enablePprof {
		handlers = append(handlers, pprofHandlers()...)
	}
	return &Server{port: port, handlers: handlers, logger: logger}
}

func (m *Server) Start() {
	const (
		readTimeout  = 30 * time.Second
		writeTimeout = 30 * time.Second
	)

	router := mux.NewRouter()
	router.HandleFunc("/", m.handleRoot)
	for _, h := range m.handlers {
		m.logger.Debug("adding metrics handler", zap.String("path", h.Path))
		router.Handle(h.Path, h.Handler)
	}

	m.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", m.port),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	go func() {
		m.logger.Info("metrics server started", zap.String("port", m.port))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server stopped unexpectedly", zap.Error(err))
		}
	}()
}

func (m *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Error("error shutting down metrics server", zap.Error(err))
	}
}

func (m *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	for _, h := range m.handlers {
		fmt.Fprintf(&b, "<div><a href=\"%s\">%s</a></div>\n", h.Path, h.Description)
	}
	fmt.Fprintf(w, "<html><body>%s</body></html>", b.String())
}

func pprofHandlers() []Handler {
	return []Handler{
		{Path: "/debug/pprof/", Description: "Profiling root", Handler: http.HandlerFunc(pprof.Index)},
		{Path: "/debug/pprof/cmdline", Description: "Profiling command line", Handler: http.HandlerFunc(pprof.Cmdline)},
		{Path: "/debug/pprof/symbol", Description: "Profiling symbols", Handler: http.HandlerFunc(pprof.Symbol)},
		{Path: "/debug/pprof/goroutine", Description: "Profiling goroutines", Handler: pprof.Handler("goroutine")},
		{Path: "/debug/pprof/heap", Description: "Profiling heap", Handler: pprof.Handler("heap")},
	}
}
