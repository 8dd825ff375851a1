package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ggnet/ggboot/internal/controlplane/api/auth"
	"github.com/ggnet/ggboot/internal/controlplane/api/handlers"
	apiMiddleware "github.com/ggnet/ggboot/internal/controlplane/api/middleware"
	"github.com/ggnet/ggboot/internal/logger"
)

// requestTimeout bounds every request except image uploads, which stream
// multi-gigabyte files and are bounded by the server's ReadTimeout instead.
const requestTimeout = 30 * time.Second

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /health/subsystems - Detailed subsystem health
//   - POST /api/v1/auth/login - User authentication
//   - POST /api/v1/auth/refresh - Token refresh
//   - GET /api/v1/auth/me - Current user info
//   - GET /api/v1/boot/{mac}/script - iPXE boot script (unauthenticated, used by firmware)
//   - POST /api/v1/machines/report - Client agent keep-alive (unauthenticated)
//   - /api/v1/machines/* - Machine management (writes require operator)
//   - /api/v1/images/* - Image management (writes require operator)
//   - /api/v1/sessions/* - Boot session management (writes require operator)
//   - /api/v1/users/* - User management (admin only, self-read allowed)
//   - GET /api/v1/audit - Audit log (admin only)
func NewRouter(deps Deps, jwtService *auth.JWTService) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	cpStore := deps.Store

	healthHandler := handlers.NewHealthHandler(cpStore, deps.TFTP, deps.DHCP)
	authHandler := handlers.NewAuthHandler(cpStore, jwtService)
	userHandler := handlers.NewUserHandler(cpStore)
	machineHandler := handlers.NewMachineHandler(cpStore, deps.Orchestrator)
	imageHandler := handlers.NewImageHandler(cpStore, deps.Images)
	sessionHandler := handlers.NewSessionHandler(deps.Orchestrator)
	bootHandler := handlers.NewBootHandler(deps.Orchestrator)
	auditHandler := handlers.NewAuditHandler(cpStore)

	// Image upload streams outside the request timeout. Everything else
	// goes through the timeout group below.
	r.Group(func(r chi.Router) {
		r.Use(apiMiddleware.JWTAuth(jwtService))
		r.Use(apiMiddleware.RequireOperator())
		r.Post("/api/v1/images", imageHandler.Upload)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		// Health routes - unauthenticated
		r.Route("/health", func(r chi.Router) {
			r.Get("/", healthHandler.Liveness)
			r.Get("/ready", healthHandler.Readiness)
			r.Get("/subsystems", healthHandler.Subsystems)
		})

		// Root redirect to health for convenience
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
		})

		r.Route("/api/v1", func(r chi.Router) {
			// Boot script - unauthenticated, fetched by iPXE firmware
			// which cannot hold credentials.
			r.Get("/boot/{mac}/script", bootHandler.Script)

			// Client report - unauthenticated, posted by the in-OS agent
			// as a keep-alive and for first-boot discovery.
			r.Post("/machines/report", machineHandler.Report)

			// Auth routes - mostly unauthenticated
			r.Route("/auth", func(r chi.Router) {
				r.Post("/login", authHandler.Login)
				r.Post("/refresh", authHandler.Refresh)

				r.Group(func(r chi.Router) {
					r.Use(apiMiddleware.JWTAuth(jwtService))
					r.Get("/me", authHandler.Me)
				})
			})

			// Protected routes - require authentication
			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.JWTAuth(jwtService))

				// User management
				r.Route("/users", func(r chi.Router) {
					// Password change and self-access allowed for any
					// authenticated user; the handlers do their own checks.
					r.Post("/me/password", userHandler.ChangeOwnPassword)
					r.Get("/{username}", userHandler.Get)

					r.Group(func(r chi.Router) {
						r.Use(apiMiddleware.RequireAdmin())

						r.Post("/", userHandler.Create)
						r.Get("/", userHandler.List)
						r.Put("/{username}", userHandler.Update)
						r.Delete("/{username}", userHandler.Delete)
						r.Post("/{username}/password", userHandler.ResetPassword)
					})
				})

				// Machine management
				r.Route("/machines", func(r chi.Router) {
					r.Get("/", machineHandler.List)
					r.Get("/{id}", machineHandler.Get)
					r.Get("/{id}/session", machineHandler.ActiveSession)

					r.Group(func(r chi.Router) {
						r.Use(apiMiddleware.RequireOperator())

						r.Post("/", machineHandler.Create)
						r.Patch("/{id}", machineHandler.Update)
						r.Delete("/{id}", machineHandler.Delete)
					})
				})

				// Image management (upload is wired above, outside the timeout)
				r.Route("/images", func(r chi.Router) {
					r.Get("/", imageHandler.List)
					r.Get("/{id}", imageHandler.Get)
					r.Get("/{id}/integrity", imageHandler.Integrity)

					r.Group(func(r chi.Router) {
						r.Use(apiMiddleware.RequireOperator())

						r.Patch("/{id}", imageHandler.Update)
						r.Delete("/{id}", imageHandler.Delete)
					})
				})

				// Boot session management
				r.Route("/sessions", func(r chi.Router) {
					r.Get("/", sessionHandler.List)
					r.Get("/stats", sessionHandler.Stats)
					r.Get("/{session_id}", sessionHandler.Get)

					r.Group(func(r chi.Router) {
						r.Use(apiMiddleware.RequireOperator())

						r.Post("/", sessionHandler.Start)
						r.Delete("/{session_id}", sessionHandler.Stop)
					})
				})

				// Audit log (admin only)
				r.Route("/audit", func(r chi.Router) {
					r.Use(apiMiddleware.RequireAdmin())
					r.Get("/", auditHandler.List)
				})
			})
		})
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// clientIP strips the port from the remote address. RealIP middleware has
// already substituted the forwarded address when present.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// requestLogger installs the request-scoped log context (correlation id and
// client IP, picked up by the *Ctx log variants and the audit trail), echoes
// the correlation id in the response header, and logs requests.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())

		lc := logger.NewLogContext(clientIP(r.RemoteAddr)).WithTrace(requestID)
		r = r.WithContext(logger.WithContext(r.Context(), lc))

		// Echoed so clients can quote the id, and read back by the problem
		// writer to tag 500-class responses.
		w.Header().Set(handlers.HeaderRequestID, requestID)

		logger.DebugCtx(r.Context(), "API request started",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", lc.DurationMs(),
		}

		// Log healthcheck requests at DEBUG to keep logs readable
		if isHealthPath(r.URL.Path) {
			logger.DebugCtx(r.Context(), "API request completed", logArgs...)
		} else {
			logger.InfoCtx(r.Context(), "API request completed", logArgs...)
		}
	})
}
