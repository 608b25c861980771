package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/autohost/internal/hub"
	"github.com/DoyleJ11/autohost/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Deps struct {
	Orchestrator Orchestrator
	Hub          *hub.Hub
	JWTSecret    []byte
	Logger       *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLog(logger))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/api/status", GetStatus(d.Hub))
	r.Get("/ws", ws.Handler(d.Hub, logger))

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(RequireOperator(d.JWTSecret, logger))
		r.Post("/api/commands", PostCommand(d.Orchestrator, logger))
	})
	return r
}
