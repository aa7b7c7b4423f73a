package http

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"cvadapt/internal/billing/app/ledger"
	"cvadapt/internal/billing/app/settlement"
	"cvadapt/internal/observability"
	"cvadapt/internal/resume"
	"cvadapt/internal/server/app"
)

// RouterDeps collects what the HTTP surface translates requests into.
type RouterDeps struct {
	Ledger        *ledger.Service
	Settlement    *settlement.Service
	Analyzer      *resume.Analyzer
	Generation    *app.GenerationCoordinator
	Health        *app.HealthChecker
	Observability *observability.Observability
	RateLimit     RateLimitConfig
	MaxBodyBytes  int64
	Debug         bool
}

// NewRouter builds the gin engine with every API route.
func NewRouter(deps RouterDeps) *gin.Engine {
	if !deps.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	obs := deps.Observability
	if obs == nil {
		obs = observability.NewNop()
	}
	logger := observability.OrNop(obs.Logger).With("component", "http")

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "panic recovered", "route", c.FullPath(), "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: errorInternalFallback})
	}))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With", headerRequestID}
	corsConfig.ExposeHeaders = []string{headerRequestID}
	engine.Use(cors.New(corsConfig))

	engine.Use(RequestIDMiddleware())
	engine.Use(BodyLimitMiddleware(deps.MaxBodyBytes))
	engine.Use(ObservabilityMiddleware(obs))

	h := &apiHandler{
		ledger:     deps.Ledger,
		settlement: deps.Settlement,
		analyzer:   deps.Analyzer,
		generation: deps.Generation,
		health:     deps.Health,
		logger:     logger,
	}

	allowed := map[string][]string{}
	register := func(group *gin.RouterGroup, method, path string, handler gin.HandlerFunc) {
		group.Handle(method, path, handler)
		full := strings.TrimRight(group.BasePath(), "/") + path
		allowed[full] = append(allowed[full], method)
	}

	api := engine.Group("/api")
	register(api, http.MethodGet, "/health", h.handleHealth)
	register(api, http.MethodGet, "/credits", h.handleGetCredits)
	register(api, http.MethodPost, "/credits/checkout-session", h.handleCheckoutSession)
	register(api, http.MethodPost, "/credits/confirm", h.handleConfirm)

	limited := api.Group("", RateLimitMiddleware(deps.RateLimit))
	register(limited, http.MethodPost, "/cv/analyze", h.handleAnalyzeCV)
	register(limited, http.MethodPost, "/cv/generate", h.handleGenerate)
	register(limited, http.MethodPost, "/offer/analyze", h.handleAnalyzeOffer)

	engine.NoMethod(func(c *gin.Context) {
		if methods := allowed[c.Request.URL.Path]; len(methods) > 0 {
			sorted := append([]string(nil), methods...)
			sort.Strings(sorted)
			c.Header("Allow", strings.Join(sorted, ", "))
		}
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, errorResponse{Error: errorMethodNotAllowed})
	})
	engine.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: errorRouteNotFound})
	})

	return engine
}
