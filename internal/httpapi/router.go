// Package httpapi implements the HTTP+SSE control surface described in
// spec §6: queue endpoints, runner/supervisor controls, and live executor
// output streaming. Grounded on the teacher's
// internal/delivery/server/http package shape (a RouterDeps struct wired
// into NewRouter, handlers grouped by concern into sibling files, a
// mapDomainError-style error classifier) even though the teacher's own
// router is built on net/http.ServeMux rather than gin: go.mod already
// commits this pack's HTTP surface to gin/gin-contrib/cors/gin-contrib/sse
// (declared, if unexercised, in the teacher's own go.mod), so the router
// itself is gin-native while its structural idioms follow the teacher.
package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskrunner/runner/internal/activity"
	"github.com/taskrunner/runner/internal/apikeys"
	"github.com/taskrunner/runner/internal/config"
	"github.com/taskrunner/runner/internal/dispatcher"
	"github.com/taskrunner/runner/internal/logging"
	"github.com/taskrunner/runner/internal/metrics"
	"github.com/taskrunner/runner/internal/queue"
	"github.com/taskrunner/runner/internal/skills"
	"github.com/taskrunner/runner/internal/supervisor"
)

// RouterDeps holds every service dependency the HTTP surface needs,
// mirroring the teacher's RouterDeps dependency-injection struct.
type RouterDeps struct {
	Store       queue.Store
	Dispatcher  *dispatcher.Dispatcher
	Supervisors map[string]*supervisor.Supervisor // keyed by namespace
	Config      *config.Store
	APIKeys     *apikeys.Store
	Skills      *skills.Registry
	Activity    activity.Store
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

func (d RouterDeps) supervisorFor(namespace string) *supervisor.Supervisor {
	return d.Supervisors[namespace]
}

// RouterConfig holds configuration values for the HTTP router, mirroring
// the teacher's RouterConfig sibling struct.
type RouterConfig struct {
	AllowedOrigins  []string
	ConversationTTL time.Duration
}

func (c *RouterConfig) applyDefaults() {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.ConversationTTL <= 0 {
		c.ConversationTTL = 2 * time.Second
	}
}

// NewRouter builds the gin engine serving every spec §6 route.
func NewRouter(deps RouterDeps, cfg RouterConfig) *gin.Engine {
	cfg.applyDefaults()
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), loggingMiddleware(deps.Logger))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.AllowedOrigins
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", logIDHeader}
	engine.Use(cors.New(corsCfg))

	h := &handlers{
		deps:      deps,
		logger:    logging.Component(deps.Logger, "httpapi"),
		convCache: newConversationCache(256, cfg.ConversationTTL),
	}

	api := engine.Group("/api")
	{
		projects := api.Group("/projects/:pid")
		projects.POST("/chat", h.postChat)
		projects.POST("/respond", h.postRespond)
		projects.GET("/conversation", h.getConversation)

		runner := api.Group("/runner")
		runner.GET("/status", h.getRunnerStatus)
		runner.POST("/stop", h.postRunnerStop)
		runner.POST("/build", h.postRunnerBuild)
		runner.POST("/restart", h.postRunnerRestart)
		runner.GET("/preflight", h.getRunnerPreflight)

		sup := api.Group("/supervisor")
		sup.GET("/global", h.getSupervisorGlobal)
		sup.PUT("/global", h.putSupervisorGlobal)
		sup.GET("/projects/:pid", h.getSupervisorProject)
		sup.PUT("/projects/:pid", h.putSupervisorProject)
		sup.GET("/timeout-profiles", h.getTimeoutProfiles)
		sup.GET("/status", h.getSupervisorStatus)
		sup.POST("/toggle", h.postSupervisorToggle)
		sup.GET("/logs", h.getSupervisorLogs)
		sup.GET("/logs/stream", h.streamSupervisorLogs)

		exec := api.Group("/executor")
		exec.GET("/logs", h.getExecutorLogs)
		exec.GET("/logs/task/:taskId", h.getExecutorLogsForTask)
		exec.GET("/logs/stream", h.streamExecutorLogs)
		exec.GET("/summary", h.getExecutorSummary)

		keys := api.Group("/api-keys")
		keys.GET("/:provider", h.getAPIKey)
		keys.PUT("/:provider", h.putAPIKey)
		keys.DELETE("/:provider", h.deleteAPIKey)

		api.GET("/skills", h.getSkills)
	}

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return engine
}

// handlers holds the receiver every route method hangs off, matching the
// teacher's APIHandler/SSEHandler pattern of one struct per concern group
// collapsed here into one struct since this surface is much smaller.
type handlers struct {
	deps      RouterDeps
	logger    *slog.Logger
	convCache *conversationCache
}

func (h *handlers) namespaceForProject(pid string) string {
	if h.deps.Config == nil {
		return "default"
	}
	return h.deps.Config.NamespaceFor(pid)
}
