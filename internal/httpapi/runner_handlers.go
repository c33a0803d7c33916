package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskrunner/runner/internal/supervisor"
)

type runnerStatusResponse struct {
	IsRunning      bool   `json:"isRunning"`
	PID            int    `json:"pid"`
	UptimeMS       int64  `json:"uptime_ms"`
	BuildSHA       string `json:"build_sha"`
	BuildTimestamp string `json:"build_timestamp"`
}

func (h *handlers) runnerNamespace(c *gin.Context) string {
	if ns := c.Query("namespace"); ns != "" {
		return ns
	}
	if h.deps.Config != nil {
		return h.deps.Config.Global().DefaultNamespace
	}
	return "default"
}

func (h *handlers) supervisorOrNotFound(c *gin.Context) *supervisor.Supervisor {
	ns := h.runnerNamespace(c)
	sup := h.deps.supervisorFor(ns)
	if sup == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "validation", Message: "no supervisor configured for namespace " + ns})
	}
	return sup
}

// getRunnerStatus handles GET /api/runner/status.
func (h *handlers) getRunnerStatus(c *gin.Context) {
	sup := h.supervisorOrNotFound(c)
	if sup == nil {
		return
	}
	report := sup.Status()
	c.JSON(http.StatusOK, runnerStatusResponse{
		IsRunning:      report.State == supervisor.StateRunning,
		PID:            report.PID,
		UptimeMS:       report.UptimeMS,
		BuildSHA:       report.BuildSHA,
		BuildTimestamp: report.BuildTimestamp.UTC().Format(timestampLayout),
	})
}

const timestampLayout = "2006-01-02T15:04:05.000Z"

// postRunnerStop handles POST /api/runner/stop.
func (h *handlers) postRunnerStop(c *gin.Context) {
	sup := h.supervisorOrNotFound(c)
	if sup == nil {
		return
	}
	if err := sup.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// postRunnerBuild handles POST /api/runner/build.
func (h *handlers) postRunnerBuild(c *gin.Context) {
	sup := h.supervisorOrNotFound(c)
	if sup == nil {
		return
	}
	if err := sup.Build(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type restartRequest struct {
	Build bool `json:"build"`
}

// postRunnerRestart handles POST /api/runner/restart (spec §4.3 "restart"
// failures report {success:false,error,oldPid,newPid?}).
func (h *handlers) postRunnerRestart(c *gin.Context) {
	sup := h.supervisorOrNotFound(c)
	if sup == nil {
		return
	}
	var req restartRequest
	_ = c.ShouldBindJSON(&req)
	result := sup.Restart(c.Request.Context(), req.Build)
	h.deps.Metrics.IncRestart(h.runnerNamespace(c), result.Success)
	c.JSON(http.StatusOK, gin.H{
		"success": result.Success,
		"error":   result.Error,
		"oldPid":  result.OldPID,
		"newPid":  result.NewPID,
	})
}

type preflightCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// getRunnerPreflight handles GET /api/runner/preflight: a best-effort
// readiness report over the subsystems a task actually needs (queue
// storage, a configured executor, a usable API key).
func (h *handlers) getRunnerPreflight(c *gin.Context) {
	ns := h.runnerNamespace(c)
	var checks []preflightCheck

	storeOK := true
	if err := h.deps.Store.EnsureSchema(c.Request.Context()); err != nil {
		storeOK = false
		checks = append(checks, preflightCheck{Name: "queue_store", OK: false, Detail: err.Error()})
	} else {
		checks = append(checks, preflightCheck{Name: "queue_store", OK: true})
	}

	sup := h.deps.supervisorFor(ns)
	checks = append(checks, preflightCheck{Name: "supervisor_configured", OK: sup != nil, Detail: ns})

	apiKeyOK := false
	if h.deps.APIKeys != nil {
		if pub, ok := h.deps.APIKeys.Get("anthropic"); ok {
			apiKeyOK = pub.Configured
		}
	}
	checks = append(checks, preflightCheck{Name: "api_key_configured", OK: apiKeyOK})

	ok := storeOK && sup != nil && apiKeyOK
	c.JSON(http.StatusOK, gin.H{"ok": ok, "checks": checks})
}
