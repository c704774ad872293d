package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sunbk201/speedreader/internal/config"
	applog "github.com/sunbk201/speedreader/internal/log"
	"github.com/sunbk201/speedreader/internal/metrics"
	"github.com/sunbk201/speedreader/internal/speedreader"
	"github.com/sunbk201/speedreader/internal/statistics"
)

type APIServer struct {
	version        string
	cfg            *config.Config
	addr           string
	sr             *speedreader.SpeedReader
	recorder       *statistics.Recorder
	metrics        *metrics.Metrics
	httpServer     *http.Server
	listener       net.Listener
	logBroadcaster *applog.Broadcaster
}

// Deps are the components the API reports on. Metrics and Logs may be nil.
type Deps struct {
	SpeedReader *speedreader.SpeedReader
	Recorder    *statistics.Recorder
	Metrics     *metrics.Metrics
	Logs        *applog.Broadcaster
}

func New(addr string, version string, cfg *config.Config, deps Deps) *APIServer {
	return &APIServer{
		version:        version,
		cfg:            cfg,
		addr:           addr,
		sr:             deps.SpeedReader,
		recorder:       deps.Recorder,
		metrics:        deps.Metrics,
		logBroadcaster: deps.Logs,
	}
}

func (s *APIServer) Start() error {
	r := s.router()

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           r,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api-server listen failed: %w", err)
	}
	s.listener = ln

	slog.Info("api-server started", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("api-server error", slog.Any("error", err))
		}
	}()

	return nil
}

// Addr is the address the API listens on once started.
func (s *APIServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *APIServer) router() chi.Router {
	r := chi.NewRouter()

	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if s.cfg.APIServerSecret != "" {
		r.Use(s.authMiddleware)
	}

	// api routes
	r.Get("/version", s.handleVersion)
	r.Get("/config", s.handleConfig)

	r.Route("/whitelist", func(r chi.Router) {
		r.Get("/", s.handleWhitelist)
		r.Get("/check", s.handleWhitelistCheck)
	})
	r.Get("/stats", s.handleStats)

	if s.logBroadcaster != nil {
		r.Get("/logs", s.handleLogs)
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	// pprof routes
	r.Route("/debug/pprof", func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		r.Handle("/goroutine", pprof.Handler("goroutine"))
		r.Handle("/heap", pprof.Handler("heap"))
		r.Handle("/allocs", pprof.Handler("allocs"))
		r.Handle("/threadcreate", pprof.Handler("threadcreate"))
		r.Handle("/block", pprof.Handler("block"))
		r.Handle("/mutex", pprof.Handler("mutex"))
	})
	return r
}

func (s *APIServer) Close() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("api-server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func slogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("api-server request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.String("user-agent", r.UserAgent()),
		)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
	})
}

func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if auth := r.Header.Get("Authorization"); auth != "" {
			if len(auth) > 7 && auth[:7] == "Bearer " {
				token = auth[7:]
			} else {
				token = auth
			}
		}
		if token == "" {
			token = r.URL.Query().Get("secret")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIServerSecret)) != 1 {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
