/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. logRequest: One zap line per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/healthz                 Liveness (public)
  /api/auth/*                  Login (public), logout
  /api/benefits/flash/callback Provider webhook (HMAC signature, no session)
  /api/benefits/*              Benefit records, statistics, calendar
  /api/employees/*             Employee directory
  /api/holidays/*              Holiday calendar maintenance
  /api/scenarios/*             Demo scenarios (dev mode only)
  /uploads/*                   Schedules stored by the local file store

AUTHENTICATION:
  Every route except healthz, login and the provider callback requires
  "Authorization: Bearer <token>". See requireSession.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// DefaultCORSOrigins is used when no origins are configured.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// RouterOptions tunes NewRouter.
type RouterOptions struct {
	CORSOrigins []string

	// UploadsDir, when set, is served under /uploads.
	UploadsDir string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequest(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", h.Health)
		r.Post("/auth/login", h.Login)
		r.Post("/benefits/flash/callback", h.FlashCallback)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSession)

			r.Post("/auth/logout", h.Logout)

			// Benefit routes
			r.Route("/benefits", func(r chi.Router) {
				r.Get("/", h.ListBenefits)
				r.Post("/", h.CreateBenefit)
				r.Post("/calculate", h.CalculateBenefit)
				r.Post("/deduction", h.AddDeduction)
				r.Post("/approve", h.ApproveBenefits)
				r.Post("/cancel", h.CancelBenefits)
				r.Post("/send-to-flash", h.SendToFlash)
				r.Get("/statistics/{month}/{year}", h.GetStatistics)
				r.Get("/calendar/{month}/{year}", h.GetCalendar)
				r.Get("/{employeeId}/{year}/{month}", h.GetBenefit)
				r.Get("/{employeeId}/{year}/{month}/history", h.GetHistory)
				r.Post("/{employeeId}/{year}/{month}/schedule", h.UploadSchedule)
			})

			// Employee routes
			r.Route("/employees", func(r chi.Router) {
				r.Get("/", h.ListEmployees)
				r.Post("/", h.CreateEmployee)
				r.Get("/{id}", h.GetEmployee)
			})

			// Holiday routes
			r.Route("/holidays", func(r chi.Router) {
				r.Get("/", h.ListHolidays)
				r.Post("/", h.CreateHoliday)
				r.Delete("/{id}", h.DeleteHoliday)
			})

			// Scenario routes
			if h.DevMode {
				r.Route("/scenarios", func(r chi.Router) {
					r.Get("/", h.ListScenarios)
					r.Get("/current", h.GetCurrentScenario)
					r.Post("/load", h.LoadScenario)
				})
			}
		})
	})

	if opts.UploadsDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(opts.UploadsDir))))
	}

	return r
}

// logRequest writes one structured line per request once it completes.
func logRequest(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			if status >= 500 {
				logger.Error("request", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}
