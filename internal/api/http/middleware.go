package http

import (
	"net/http"
	"strings"
	"time"

	"car-rental-backend/internal/config"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/security"

	"github.com/gorilla/mux"
)

type AuthMiddleware struct {
	tokenManager security.TokenManager
}

func NewAuthMiddleware(tm security.TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokenManager: tm}
}

// Handler authenticates requests according to the security level of the
// matched route and puts the caller on the context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		level := config.SecurityAccess
		if route := mux.CurrentRoute(r); route != nil {
			level = config.GetSecurityLevel(route.GetName())
		}

		// Public and webhook endpoints - skip token auth
		if level != config.SecurityAccess {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := extractToken(r)
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "authorization token is not provided")
			return
		}

		claims, err := m.tokenManager.ValidateToken(token)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), claims.Caller())))
	})
}

func extractToken(r *http.Request) (string, bool) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return "", false
	}
	// Remove Bearer prefix if present
	if len(token) > 7 && strings.ToUpper(token[0:7]) == "BEARER " {
		token = token[7:]
	}
	return token, token != ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := ""
		if cr := mux.CurrentRoute(r); cr != nil {
			route = cr.GetName()
		}
		logger.InfoContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
