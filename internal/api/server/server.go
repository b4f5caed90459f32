package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/xela07ax/medrecord-gateway/internal/api/handler"
	"github.com/xela07ax/medrecord-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

type Server struct {
	router   *chi.Mux
	logger   *zap.Logger
	origins  []string
	sessions *auth.SessionManager

	// Обработчики бизнес-доменов
	authHandler   *handler.AuthHandler   // /api/login, /api/logout, /api/auth/session
	recordHandler *handler.RecordHandler // /api/records
	healthHandler *handler.HealthHandler // /health
}

// New инициализирует HTTP API шлюза со всеми зависимостями.
func New(
	logger *zap.Logger,
	allowedOrigins []string,
	sessions *auth.SessionManager,
	authH *handler.AuthHandler,
	recordH *handler.RecordHandler,
	healthH *handler.HealthHandler,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		logger:        logger.Named("http"),
		origins:       allowedOrigins,
		sessions:      sessions,
		authHandler:   authH,
		recordHandler: recordH,
		healthHandler: healthH,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true, // сессия живет в cookie
		MaxAge:           300,
	}))
	// Identity кладется в контекст, если сессия валидна; анонимы идут дальше
	r.Use(s.sessions.Middleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", s.healthHandler.Health)
	r.Post("/api/login", s.authHandler.Login)
	r.Post("/api/logout", s.authHandler.Logout)
	r.Get("/api/auth/session", s.authHandler.Session)

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (нужна сессия) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireIdentity)

		r.Route("/api/records", func(r chi.Router) {
			r.Get("/", s.recordHandler.List)
			r.Post("/", s.recordHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.recordHandler.Get)
				r.Put("/", s.recordHandler.Update)
				r.Delete("/", s.recordHandler.Delete)
			})
		})
	})
}

// accessLog — аналог middleware.Logger, но пишет в zap.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		}()
		next.ServeHTTP(ww, r)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
