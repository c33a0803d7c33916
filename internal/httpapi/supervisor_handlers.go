package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskrunner/runner/internal/config"
	"github.com/taskrunner/runner/internal/supervisor"
)

// getSupervisorGlobal handles GET /api/supervisor/global.
func (h *handlers) getSupervisorGlobal(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Config.Global())
}

// putSupervisorGlobal handles PUT /api/supervisor/global.
func (h *handlers) putSupervisorGlobal(c *gin.Context) {
	var g config.GlobalConfig
	if !requireJSON(c, &g) {
		return
	}
	h.deps.Config.SetGlobal(g)
	c.JSON(http.StatusOK, g)
}

// getSupervisorProject handles GET /api/supervisor/projects/{pid}.
func (h *handlers) getSupervisorProject(c *gin.Context) {
	pid := c.Param("pid")
	c.JSON(http.StatusOK, h.deps.Config.Project(pid))
}

// putSupervisorProject handles PUT /api/supervisor/projects/{pid}.
func (h *handlers) putSupervisorProject(c *gin.Context) {
	pid := c.Param("pid")
	var p config.ProjectConfig
	if !requireJSON(c, &p) {
		return
	}
	p.ProjectID = pid
	h.deps.Config.SetProject(p)
	c.JSON(http.StatusOK, h.deps.Config.Project(pid))
}

// getTimeoutProfiles handles GET /api/supervisor/timeout-profiles.
func (h *handlers) getTimeoutProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": h.deps.Config.TimeoutProfiles()})
}

type namespaceStatus struct {
	Namespace string                  `json:"namespace"`
	Status    supervisor.StatusReport `json:"status"`
}

// getSupervisorStatus handles GET /api/supervisor/status, aggregating
// every registered namespace's supervisor report in one read.
func (h *handlers) getSupervisorStatus(c *gin.Context) {
	out := make([]namespaceStatus, 0, len(h.deps.Supervisors))
	for ns, sup := range h.deps.Supervisors {
		out = append(out, namespaceStatus{Namespace: ns, Status: sup.Status()})
	}
	c.JSON(http.StatusOK, gin.H{"namespaces": out})
}

type toggleRequest struct {
	ProjectID string `json:"projectId"`
	Enabled   bool   `json:"enabled"`
}

// postSupervisorToggle handles POST /api/supervisor/toggle: flips the
// global enabled flag, or a single project's override when projectId is
// given.
func (h *handlers) postSupervisorToggle(c *gin.Context) {
	var req toggleRequest
	if !requireJSON(c, &req) {
		return
	}
	if req.ProjectID == "" {
		g := h.deps.Config.Global()
		g.Enabled = req.Enabled
		h.deps.Config.SetGlobal(g)
		c.JSON(http.StatusOK, g)
		return
	}
	enabled := req.Enabled
	h.deps.Config.MutateProject(req.ProjectID, func(p *config.ProjectConfig) { p.Enabled = &enabled })
	c.JSON(http.StatusOK, h.deps.Config.Project(req.ProjectID))
}
