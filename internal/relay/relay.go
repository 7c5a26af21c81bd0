// Package relay implements the forwarding layer between studio clients and
// the upstream generation engines. It rewrites the credential carried in each
// request body into the auth header the target engine expects and streams the
// upstream response back verbatim; it holds no state and interprets no
// payloads.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/middleware"
)

// Options configures a relay Server.
type Options struct {
	Config     *infra.Config
	Logger     *infra.Logger
	HTTPClient *http.Client
}

// Server forwards generation calls to the configured engine upstreams.
type Server struct {
	cfg       *infra.Config
	upstreams map[domain.Provider]string
	client    *http.Client
	logger    *infra.Logger
}

// NewServer validates the upstream configuration and builds a Server.
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("relay: config is required")
	}
	if err := opts.Config.RequireUpstreams(); err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Config.HTTPTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		discard := infra.Logger(zerolog.New(io.Discard))
		logger = &discard
	}
	return &Server{
		cfg: opts.Config,
		upstreams: map[domain.Provider]string{
			domain.ProviderNavy: strings.TrimRight(opts.Config.NavyUpstreamURL, "/"),
			domain.ProviderIris: strings.TrimRight(opts.Config.IrisUpstreamURL, "/"),
			domain.ProviderOnyx: strings.TrimRight(opts.Config.OnyxUpstreamURL, "/"),
		},
		client: client,
		logger: logger,
	}, nil
}

// Handler builds the relay router. Every generation route is a POST carrying
// a JSON body with the caller's engine credential under "apiKey".
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(*s.logger))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(s.cfg.CORSOrigins))
	}
	if s.cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(s.cfg.RateLimit, s.cfg.RateLimitWindow))
	}

	r.Get("/v1/healthz", s.health)
	r.Route("/v1/{provider}", func(r chi.Router) {
		r.Post("/image", s.proxy("image"))
		r.Post("/video", s.proxy("video"))
		r.Post("/video/poll", s.proxy("video/poll"))
		r.Post("/video/download", s.proxy("video/download"))
		r.Post("/tts", s.proxy("tts"))
		r.Post("/models", s.proxy("models"))
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) error(w http.ResponseWriter, code int, msg string) {
	s.json(w, code, map[string]string{"error": msg})
}
