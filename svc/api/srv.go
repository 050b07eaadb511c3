package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"binpastes/cfg"
	"binpastes/metrics"
	"binpastes/svc/lim"
	"binpastes/svc/policy"
	"binpastes/svc/svc"
	"binpastes/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	store      Pinger
	rdb        Pinger
	httpServer *http.Server
}

// Deps are the collaborators the HTTP layer needs. Redis may be nil.
type Deps struct {
	Paste         *svc.Paste
	Policy        *policy.Policy
	Limiter       *lim.Limiter
	Fingerprinter *util.Fingerprinter
	Store         Pinger
	Redis         Pinger
}

func NewServer(c *cfg.Cfg, d Deps) *Server {
	s := &Server{cfg: c, store: d.Store, rdb: d.Redis}
	r := chi.NewRouter()
	mw := NewMw(d.Limiter, c)
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	if c.Environment == "development" {
		r.Mount("/debug", middleware.Profiler())
	}

	hdl := &Hdl{
		paste:   d.Paste,
		pol:     d.Policy,
		fp:      d.Fingerprinter,
		proxies: d.Limiter.Proxies(),
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(accessLog))
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(mw.JSONContentType)
		r.Use(mw.AnomalyDetection)

		read := mw.RateLimit("read")
		r.With(read).Get("/paste", hdl.ListPastes)
		r.With(read).Get("/paste/", hdl.ListPastes)
		r.With(mw.RateLimit("search")).Get("/paste/search", hdl.SearchPastes)
		r.With(read).Get("/paste/{id}", hdl.GetPaste)
		create := mw.RateLimit("create")
		r.With(create).Post("/paste", hdl.CreatePaste)
		r.With(create).Post("/paste/", hdl.CreatePaste)
		r.With(mw.RateLimit("delete")).Delete("/paste/{id}", hdl.DeletePaste)
	})
	s.router = r
	s.httpServer = &http.Server{
		Addr:           ":" + c.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	return s
}
func accessLog(req *http.Request, status, size int, dur time.Duration) {
	endpoint := req.URL.Path
	if rctx := chi.RouteContext(req.Context()); rctx != nil && rctx.RoutePattern() != "" {
		endpoint = rctx.RoutePattern()
	}
	metrics.RequestDuration.
		WithLabelValues(req.Method, endpoint, strconv.Itoa(status)).
		Observe(dur.Seconds())
	hlog.FromRequest(req).Info().
		Str("method", req.Method).
		Str("route", endpoint).
		Int("status", status).
		Int("size", size).
		Dur("duration", dur).
		Str("request_id", util.GetRequestID(req.Context())).
		Msg("http request")
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
