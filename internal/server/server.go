package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/rssfetcher/internal/server/api"
	"reddot-watch/rssfetcher/internal/server/storage"
)

const shutdownTimeout = 30 * time.Second

// Header and query parameter carrying the API key.
const (
	APIKeyHeader = "x-key"
	APIKeyQuery  = "api_key"
)

// apiKeyMiddleware accepts the key from either the x-key header or the
// api_key query parameter. If key is empty, it allows all requests.
func apiKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			fromHeader := r.Header.Get(APIKeyHeader)
			fromQuery := r.URL.Query().Get(APIKeyQuery)
			if fromHeader == "" && fromQuery == "" {
				api.WriteError(w, r, http.StatusForbidden, "Not authenticated")
				return
			}
			if !keyEqual(fromHeader, key) && !keyEqual(fromQuery, key) {
				hlog.FromRequest(r).Warn().Msg("Rejected request with invalid API key")
				api.WriteError(w, r, http.StatusForbidden, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func keyEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// NewRouter builds the read API. /ping is never protected.
func NewRouter(repo storage.ItemRepository, logger zerolog.Logger, apiKey string) http.Handler {
	logger = logger.With().Str("service", "rssfetcher-api").Logger()
	h := api.NewItemsHandler(repo)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.GetHead)

	// Set up middleware chain for logging and request tracking
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.MethodHandler("method"))
	r.Use(hlog.URLHandler("url"))
	r.Use(hlog.RemoteAddrHandler("remote_addr"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("HTTP Request")
	}))

	r.Get("/ping", api.Ping)

	r.Group(func(r chi.Router) {
		r.Use(apiKeyMiddleware(apiKey))
		r.Get("/items", h.GetItems)
		r.Get("/status", h.GetStatus)
	})

	if apiKey != "" {
		logger.Info().Msg("API key authentication enabled")
	} else {
		logger.Info().Msg("API key authentication disabled")
	}
	return r
}

// Run serves handler on listenAddr until ctx is done, then shuts the
// server down gracefully.
func Run(ctx context.Context, listenAddr string, handler http.Handler, logger zerolog.Logger) error {
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		if err := httpServer.Close(); err != nil {
			logger.Error().Err(err).Msg("HTTP server force close error")
		}
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
	if err := <-serverErr; err != nil {
		return err
	}
	return nil
}
