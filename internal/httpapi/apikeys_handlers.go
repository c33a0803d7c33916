package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type setAPIKeyRequest struct {
	Key string `json:"key" binding:"required"`
}

// getAPIKey handles GET /api/api-keys/{provider}, returning only the
// masked view (spec §6 "Persisted layout" api-keys.json shape).
func (h *handlers) getAPIKey(c *gin.Context) {
	provider := c.Param("provider")
	pub, ok := h.deps.APIKeys.Get(provider)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"configured": false})
		return
	}
	c.JSON(http.StatusOK, pub)
}

// putAPIKey handles PUT /api/api-keys/{provider}.
func (h *handlers) putAPIKey(c *gin.Context) {
	provider := c.Param("provider")
	var req setAPIKeyRequest
	if !requireJSON(c, &req) {
		return
	}
	pub, err := h.deps.APIKeys.Set(provider, req.Key)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "failed to save api key")
		return
	}
	c.JSON(http.StatusOK, pub)
}

// deleteAPIKey handles DELETE /api/api-keys/{provider}.
func (h *handlers) deleteAPIKey(c *gin.Context) {
	provider := c.Param("provider")
	if err := h.deps.APIKeys.Delete(provider); err != nil {
		writeError(c, err, http.StatusInternalServerError, "failed to delete api key")
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": false})
}

// getSkills handles GET /api/skills, optionally filtered by task type
// (spec §9 "Markdown skill front-matter").
func (h *handlers) getSkills(c *gin.Context) {
	if h.deps.Skills == nil {
		c.JSON(http.StatusOK, gin.H{"skills": []any{}})
		return
	}
	defs, err := h.deps.Skills.All()
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "failed to list skills")
		return
	}
	c.JSON(http.StatusOK, gin.H{"skills": defs})
}
