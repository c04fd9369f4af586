package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SetupRouter creates and configures the HTTP router
func SetupRouter(handler *Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	// Apply middleware
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware())
	router.Use(recoveryMiddleware(logger))

	// Health check endpoint
	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Quotes and routing
	api.HandleFunc("/quotes", handler.HandleGetQuotes).Methods(http.MethodPost)
	api.HandleFunc("/quotes/compare", handler.HandleCompareQuotes).Methods(http.MethodPost)
	api.HandleFunc("/routes/optimal", handler.HandleOptimalRoute).Methods(http.MethodPost)
	api.HandleFunc("/transactions", handler.HandleBuildTransaction).Methods(http.MethodPost)
	api.HandleFunc("/bridge/status", handler.HandleBridgeStatus).Methods(http.MethodGet)

	// Consolidation lifecycle
	api.HandleFunc("/consolidations", handler.HandleCreateConsolidation).Methods(http.MethodPost)
	api.HandleFunc("/consolidations/{id}", handler.HandleGetConsolidation).Methods(http.MethodGet)
	api.HandleFunc("/consolidations/{id}/events", handler.HandleGetEvents).Methods(http.MethodGet)
	api.HandleFunc("/consolidations/{id}/abort", handler.HandleAbortConsolidation).Methods(http.MethodPost)
	api.HandleFunc("/consolidations/{id}/chains/{chain}/swap-started", handler.HandleSwapStarted).Methods(http.MethodPost)
	api.HandleFunc("/consolidations/{id}/chains/{chain}/swap-completed", handler.HandleSwapCompleted).Methods(http.MethodPost)
	api.HandleFunc("/consolidations/{id}/chains/{chain}/bridge-started", handler.HandleBridgeStarted).Methods(http.MethodPost)
	api.HandleFunc("/consolidations/{id}/chains/{chain}/bridge-completed", handler.HandleBridgeCompleted).Methods(http.MethodPost)
	api.HandleFunc("/consolidations/{id}/chains/{chain}/completed", handler.HandleSameChainCompleted).Methods(http.MethodPost)
	api.HandleFunc("/consolidations/{id}/chains/{chain}/failed", handler.HandleChainFailed).Methods(http.MethodPost)

	// User history
	api.HandleFunc("/users/{userId}/consolidations", handler.HandleGetUserHistory).Methods(http.MethodGet)

	return router
}

// ==================== Middleware ====================

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers
func corsMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Allow all origins for now (can be restricted later)
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// recoveryMiddleware recovers from panics and logs them
func recoveryMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)

					// Send error response
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"Internal server error","message":"An unexpected error occurred"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
