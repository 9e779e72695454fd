package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/orchestrion/internal/common/config"
	"github.com/kandev/orchestrion/internal/common/httpmw"
	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator"
)

// NewRouter builds the gin engine serving spec.md §6's surface: health and
// status probes, chat SSE, the orchestrator REST+SSE surface, and
// workspaces, guarded by the RFC1918-only filter and a per-remote rate
// limiter.
func NewRouter(cfg *config.Config, service *orchestrator.Service, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmw.RequestLogger(log, "orchestrator-api"))
	r.Use(httpmw.OtelTracing("orchestrator-api"))
	r.Use(LocalOnly(cfg.Server.AllowedCIDRs))
	r.Use(RateLimit(20, 40))

	h := NewHandler(service, log)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", h.GetHealth)
		apiGroup.GET("/status", h.GetStatus)
		apiGroup.POST("/chat", h.PostChat)

		apiGroup.GET("/workspaces", h.GetWorkspaces)
		apiGroup.GET("/workspaces/recent", h.GetRecentWorkspaces)
		apiGroup.POST("/workspaces", h.PostWorkspace)

		orch := apiGroup.Group("/orchestrator")
		{
			orch.GET("/plans", h.ListPlans)
			orch.POST("/plans", h.CreatePlan)
			orch.GET("/plans/:id", h.GetPlan)
			orch.POST("/plans/:id/start", h.StartPlan)
			orch.POST("/plans/:id/pause", h.PausePlan)
			orch.POST("/plans/:id/resume", h.ResumePlan)

			orch.GET("/tasks", h.ListTasks)
			orch.POST("/tasks", h.CreateTask)
			orch.GET("/tasks/:id", h.GetTask)
			orch.POST("/tasks/:id/deploy", h.DeployTask)
			orch.POST("/tasks/:id/cancel", h.CancelTask)

			orch.GET("/workers", h.ListWorkers)
			orch.GET("/workers/:id", h.GetWorker)
			orch.POST("/workers/:id/message", h.PostWorkerMessage)
			orch.POST("/workers/:id/approve", h.PostWorkerApprove)
			orch.POST("/workers/:id/interrupt", h.PostWorkerInterrupt)
			orch.POST("/workers/:id/complete", h.PostWorkerComplete)
			orch.POST("/workers/:id/resolve-conflicts", h.PostWorkerResolveConflicts)
			orch.GET("/workers/:id/stream", h.GetWorkerStream)

			orch.GET("/inbox", h.ListInbox)
			orch.POST("/inbox/:id/process", h.ProcessInbox)

			orch.GET("/events", h.GetEvents)
		}
	}
	return r
}
