package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/zhouzirui/kyc-shield/backend/internal/feed"
	"github.com/zhouzirui/kyc-shield/backend/internal/handler/auth"
	"github.com/zhouzirui/kyc-shield/backend/internal/handler/chat"
	"github.com/zhouzirui/kyc-shield/backend/internal/handler/history"
	"github.com/zhouzirui/kyc-shield/backend/internal/handler/persona"
	"github.com/zhouzirui/kyc-shield/backend/internal/handler/verification"
	"github.com/zhouzirui/kyc-shield/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/kyc-shield/backend/internal/middleware"
	personaModel "github.com/zhouzirui/kyc-shield/backend/internal/model/persona"
	chatService "github.com/zhouzirui/kyc-shield/backend/internal/service/chat"
	historyService "github.com/zhouzirui/kyc-shield/backend/internal/service/history"
	identityService "github.com/zhouzirui/kyc-shield/backend/internal/service/identity"
	verificationService "github.com/zhouzirui/kyc-shield/backend/internal/service/verification"
)

// Deps are the services the router exposes.
type Deps struct {
	Personas       personaModel.Store
	AIAvailable    bool
	Registry       *verificationService.Registry
	Chat           *chatService.Service
	History        *historyService.Service
	Identity       *identityService.Service
	Hub            *feed.Hub
	Metrics        *metrics.Collectors
	DB             *gorm.DB
	Redis          *redis.Client
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(d.AllowedOrigins))
	r.Use(middlewarePkg.Metrics(d.Metrics))

	health := NewHealthHandler(d.DB, d.Redis)
	r.Get("/healthz", health.Ready)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.Principal(d.Identity))

		persona.New(d.Personas, d.AIAvailable).RegisterRoutes(api)
		verification.New(d.Registry).RegisterRoutes(api)
		history.New(d.History, d.Hub).RegisterRoutes(api)
		chat.New(d.Chat, d.Hub).RegisterRoutes(api)
		auth.New(d.Identity).RegisterRoutes(api)
	})

	return r
}
