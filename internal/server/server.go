package server

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sendrec/cueplayer/internal/auth"
	"github.com/sendrec/cueplayer/internal/geoip"
	"github.com/sendrec/cueplayer/internal/httputil"
	"github.com/sendrec/cueplayer/internal/player"
	"github.com/sendrec/cueplayer/internal/ratelimit"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Pinger        Pinger
	Manager       *player.Manager
	Transcripts   player.TranscriptStore
	Geo           *geoip.Resolver
	SessionSecret string
	SessionTTL    time.Duration
	UploadToken   string
	BaseURL       string
	MediaEndpoint string
}

type Server struct {
	router        chi.Router
	pinger        Pinger
	auth          *auth.Authenticator
	playerHandler *player.Handler
	transcripts   player.TranscriptStore
	uploadToken   string
	limiters      []*ratelimit.Limiter
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:       cfg.BaseURL,
		MediaEndpoint: cfg.MediaEndpoint,
	}))

	s := &Server{
		router:      r,
		pinger:      cfg.Pinger,
		transcripts: cfg.Transcripts,
		uploadToken: cfg.UploadToken,
	}

	if cfg.Manager != nil {
		if cfg.SessionSecret == "" {
			log.Fatal("SESSION_SECRET is required; set the environment variable")
		}
		s.auth = auth.New(cfg.SessionSecret, cfg.SessionTTL)
		s.playerHandler = player.NewHandler(cfg.Manager, s.auth, cfg.Transcripts, cfg.Geo)
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) newLimiter(requestsPerSecond float64, burst int) *ratelimit.Limiter {
	l := ratelimit.NewLimiter(requestsPerSecond, burst)
	s.limiters = append(s.limiters, l)
	return l
}

// StartCleanup evicts idle rate limit buckets until ctx is done.
func (s *Server) StartCleanup(ctx context.Context) {
	for _, l := range s.limiters {
		l.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	if s.playerHandler == nil {
		return
	}
	h := s.playerHandler

	s.router.Get("/api/languages", h.Languages)
	s.router.Get("/api/limits", h.Limits)

	createLimiter := s.newLimiter(0.5, 5)
	s.router.With(createLimiter.Middleware).Post("/api/sessions", h.CreateSession)

	// Position reports and key presses arrive several times a second, so
	// they are budgeted per session rather than per address.
	tickLimiter := s.newLimiter(20, 40).WithKey(func(r *http.Request) string {
		return chi.URLParam(r, "id")
	})
	editLimiter := s.newLimiter(2, 20)

	s.router.Route("/api/sessions/{id}", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/", h.GetSession)
		r.Delete("/", h.DeleteSession)

		r.Group(func(r chi.Router) {
			r.Use(tickLimiter.Middleware)
			r.Post("/tick", h.Tick)
			r.Post("/keys", h.Key)
			r.Post("/controls", h.Control)
		})

		r.Route("/cuepoints", func(r chi.Router) {
			r.Get("/", h.ListCuepoints)
			r.Post("/{cuepointId}/seek", h.SeekToCuepoint)
			r.Group(func(r chi.Router) {
				r.Use(editLimiter.Middleware)
				r.Post("/", h.AddCuepoint)
				r.Patch("/{cuepointId}", h.EditCuepoint)
				r.Delete("/{cuepointId}", h.DeleteCuepoint)
				r.Delete("/at/{position}", h.DeleteCuepointAt)
			})
		})

		r.Put("/language", h.SetLanguage)
		r.Get("/transcript", h.GetTranscript)
		r.Post("/transcript/reload", h.ReloadTranscript)
		r.Post("/transcript/visibility", h.SetTranscriptVisibility)
		r.Post("/transcript/{index}/seek", h.SeekToCue)
	})

	if s.transcripts != nil {
		s.router.Get("/api/transcripts/{language}", h.TrackURL)
		if s.uploadToken != "" {
			uploadLimiter := s.newLimiter(0.2, 3)
			s.router.Group(func(r chi.Router) {
				r.Use(uploadLimiter.Middleware, s.requireUploadToken)
				r.Put("/api/transcripts/{language}", h.UploadTranscript)
				r.Delete("/api/transcripts/{language}", h.DeleteTranscript)
			})
		}
	}
}

func (s *Server) requireUploadToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(token), []byte(s.uploadToken)) != 1 {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid upload token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
