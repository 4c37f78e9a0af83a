package web

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"image-studio/internal/clock"
	"image-studio/internal/infra/logging"
	"image-studio/internal/infra/metrics"
	"image-studio/internal/usecase"
)

// maxBodyBytes bounds JSON bodies; reference images travel inline.
const maxBodyBytes = 32 << 20

type Server struct {
	genUC      usecase.GenerationUseCase
	settingsUC usecase.SettingsUseCase
	relay      http.Handler
	apiKey     string
	clock      clock.Clock
	log        *zerolog.Logger

	// baseCtx outlives requests; generations run under it.
	baseCtx context.Context
}

func NewServer(
	baseCtx context.Context,
	genUC usecase.GenerationUseCase,
	settingsUC usecase.SettingsUseCase,
	relay http.Handler,
	apiKey string,
	clk clock.Clock,
	logger *zerolog.Logger,
) *Server {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	l := logger.With().Str("component", "web").Logger()
	return &Server{
		genUC:      genUC,
		settingsUC: settingsUC,
		relay:      relay,
		apiKey:     apiKey,
		clock:      clk,
		log:        &l,
		baseCtx:    baseCtx,
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/blobs/{id}", s.handleBlob)

	if s.relay != nil {
		r.Mount("/proxy/replicate", s.relay)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/models", s.handleListModels)
		r.Get("/models/enabled", s.handleListEnabledModels)
		r.Post("/models/replicate", s.handleAddReplicateModel)
		r.Post("/models/refresh/*", s.handleRefreshModel)
		r.Patch("/models/*", s.handleUpdateModel)
		r.Delete("/models/*", s.handleRemoveModel)

		r.Get("/keys", s.handleListKeys)
		r.Put("/keys/{provider}", s.handleSetKey)
		r.Delete("/keys/{provider}", s.handleClearKey)

		r.Get("/gallery", s.handleGallery)
		r.Get("/gallery/groups", s.handleGalleryGroups)
		r.Get("/gallery/{id}/neighbor", s.handleNeighbor)

		r.Post("/generations", s.handleSubmit)
		r.Post("/items/{id}/retry", s.handleRetry)
		r.Post("/items/{id}/dismiss", s.handleDismiss)
		r.Delete("/items/{id}", s.handleDelete)

		r.Get("/events", s.handleEvents)
	})
	return r
}

// authMiddleware checks the bearer API key. An empty key disables the check.
// The key may also arrive as ?access_token= for EventSource clients.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.URL.Query().Get("access_token")
		if token == "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Malformed token")
				return
			}
			token = tokenParts[1]
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			writeJSONError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe records request metrics by route pattern and logs at debug.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(logging.WithTraceID(r.Context(), middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(route, r.Method, status, elapsed.Seconds())
		logging.With(r.Context(), s.log).Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("http request")
	})
}
