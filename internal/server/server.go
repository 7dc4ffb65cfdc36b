package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/medremind/apiserver/config"
	"github.com/medremind/apiserver/internal/db"
	"github.com/medremind/apiserver/internal/handlers"
	"github.com/medremind/apiserver/internal/observability/metrics"
	"github.com/medremind/apiserver/internal/services"
	"github.com/medremind/apiserver/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	userRepo := store.NewUserRepository(dbConn)
	medicineRepo := store.NewMedicineRepository(dbConn)

	identityService := services.NewIdentityService(userRepo, logger)
	medicineService := services.NewMedicineService(medicineRepo, services.MedicineOptions{
		StrictSlots:  cfg.Medicine.StrictSlots,
		AutoComplete: cfg.Medicine.AutoComplete,
	}, logger)

	optionalAuth := handlers.OptionalAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.StripSlashes,
		metrics.HTTPMetricsMiddleware,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, identityService, jwtSecret)
	})
	router.Route("/medicines", func(r chi.Router) {
		handlers.MedicineRouter(r, medicineService, optionalAuth)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
