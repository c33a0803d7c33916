package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskrunner/runner/internal/activity"
	"github.com/taskrunner/runner/internal/stream"
)

func (h *handlers) namespaceBundle(c *gin.Context, namespace string) bool {
	if h.deps.Dispatcher == nil || h.deps.Dispatcher.Namespace(namespace) == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "validation", Message: "unknown namespace " + namespace})
		return false
	}
	return true
}

// getExecutorLogs handles GET /api/executor/logs?taskId&since&limit.
func (h *handlers) getExecutorLogs(c *gin.Context) {
	namespace := h.runnerNamespace(c)
	if !h.namespaceBundle(c, namespace) {
		return
	}
	ns := h.deps.Dispatcher.Namespace(namespace)
	since := queryInt64(c, "since", 0)
	var chunks []stream.OutputChunk
	if taskID := c.Query("taskId"); taskID != "" {
		chunks = sinceFilter(ns.Log.GetByTaskID(taskID), since)
	} else {
		chunks = ns.Log.GetSince(since)
	}
	chunks = limitChunks(chunks, queryInt(c, "limit", 500))
	c.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

func sinceFilter(chunks []stream.OutputChunk, since int64) []stream.OutputChunk {
	out := chunks[:0:0]
	for _, ch := range chunks {
		if ch.Sequence > since {
			out = append(out, ch)
		}
	}
	return out
}

func limitChunks(chunks []stream.OutputChunk, limit int) []stream.OutputChunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[len(chunks)-limit:]
}

// getExecutorLogsForTask handles GET /api/executor/logs/task/{taskId},
// applying the stale-chunk fail-closed filter from spec §4.4.
func (h *handlers) getExecutorLogsForTask(c *gin.Context) {
	namespace := h.runnerNamespace(c)
	if !h.namespaceBundle(c, namespace) {
		return
	}
	ns := h.deps.Dispatcher.Namespace(namespace)
	taskID := c.Param("taskId")
	createdAt := time.Now().UTC()
	if task, err := h.deps.Store.GetItem(c.Request.Context(), namespace, taskID); err == nil {
		createdAt = task.CreatedAt
	}
	if raw := c.Query("taskCreatedAt"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			createdAt = parsed
		}
	}
	chunks := ns.Log.GetByTaskIDFiltered(taskID, createdAt, 0)
	chunks = limitChunks(chunks, queryInt(c, "limit", 500))
	c.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

// streamExecutorLogs handles GET /api/executor/logs/stream?taskId&since
// (spec §6 "SSE protocol"): replay-since-sequence with the stale filter,
// then live subscription via the namespace's Broadcaster.
func (h *handlers) streamExecutorLogs(c *gin.Context) {
	namespace := h.runnerNamespace(c)
	if !h.namespaceBundle(c, namespace) {
		return
	}
	ns := h.deps.Dispatcher.Namespace(namespace)
	taskID := c.Query("taskId")
	sessionID := c.Query("sessionId")
	since := queryInt64(c, "since", 0)

	openSSE(c)
	sendSSE(c, "connected", gin.H{"namespace": namespace})

	var replay []stream.OutputChunk
	if taskID != "" {
		createdAt := time.Now().UTC()
		if task, err := h.deps.Store.GetItem(c.Request.Context(), namespace, taskID); err == nil {
			createdAt = task.CreatedAt
		}
		replay = ns.Log.GetByTaskIDFiltered(taskID, createdAt, since)
	} else {
		replay = ns.Log.GetSince(since)
	}
	for _, chunk := range replay {
		if !sendSSE(c, "output", chunk) {
			return
		}
	}

	if sessionID == "" {
		sessionID = taskID
	}
	sub, unsubscribe := ns.Stream.Subscribe(sessionID, 32)
	defer unsubscribe()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-sub.Channel():
			if taskID != "" && chunk.TaskID != taskID {
				continue
			}
			if !sendSSE(c, "output", chunk) {
				return
			}
		case <-ticker.C:
			if !sendSSE(c, "heartbeat", gin.H{"ts": time.Now().UTC()}) {
				return
			}
		}
	}
}

// getExecutorSummary handles GET /api/executor/summary.
func (h *handlers) getExecutorSummary(c *gin.Context) {
	namespace := h.runnerNamespace(c)
	if !h.namespaceBundle(c, namespace) {
		return
	}
	ns := h.deps.Dispatcher.Namespace(namespace)
	streamMetrics := ns.Stream.GetMetrics()
	h.deps.Metrics.SetDroppedEvents(namespace, streamMetrics.DroppedEvents)
	resp := gin.H{
		"droppedEvents":   streamMetrics.DroppedEvents,
		"dropsPerSession": streamMetrics.DropsPerSession,
		"activeTasks":     ns.Log.GetActiveTasks(),
	}
	if sessionID := c.Query("sessionId"); sessionID != "" {
		resp["subscribers"] = ns.Stream.GetSubscriberCount(sessionID)
	}
	c.JSON(http.StatusOK, resp)
}

// supervisorLogCategories enumerates spec §6's supervisor log categories.
var supervisorLogCategories = map[string]bool{
	"TASK_TYPE_DETECTION": true,
	"WRITE_PERMISSION":    true,
	"GUARD_DECISION":      true,
	"RETRY_RESUME":        true,
	"TEMPLATE_SELECTION":  true,
	"EXECUTION_START":     true,
	"EXECUTION_END":       true,
	"VALIDATION":          true,
	"ERROR":               true,
}

// getSupervisorLogs handles GET /api/supervisor/logs?category&limit,
// analogous to the executor logs endpoints but backed by the activity
// store (spec §6 "Supervisor logs: analogous to executor logs").
func (h *handlers) getSupervisorLogs(c *gin.Context) {
	namespace := h.runnerNamespace(c)
	limit := queryInt(c, "limit", 200)
	events, err := h.deps.Activity.List(c.Request.Context(), namespace, activity.Filter{}, limit)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "failed to list supervisor logs")
		return
	}
	category := c.Query("category")
	out := make([]activity.Event, 0, len(events))
	for _, e := range events {
		if !supervisorLogCategories[e.Type] {
			continue
		}
		if category != "" && e.Type != category {
			continue
		}
		out = append(out, e)
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

const supervisorLogPollInterval = 2 * time.Second

// streamSupervisorLogs handles GET /api/supervisor/logs/stream: the
// activity store has no native pub-sub, so this polls for newly appended
// matching events on a short interval alongside the spec-mandated 30s
// heartbeat.
func (h *handlers) streamSupervisorLogs(c *gin.Context) {
	namespace := h.runnerNamespace(c)
	openSSE(c)
	sendSSE(c, "connected", gin.H{"namespace": namespace})

	var lastSeen time.Time
	poll := time.NewTicker(supervisorLogPollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if !sendSSE(c, "heartbeat", gin.H{"ts": time.Now().UTC()}) {
				return
			}
		case <-poll.C:
			events, err := h.deps.Activity.List(ctx, namespace, activity.Filter{}, 50)
			if err != nil {
				continue
			}
			for i := len(events) - 1; i >= 0; i-- {
				e := events[i]
				if !supervisorLogCategories[e.Type] || !e.Timestamp.After(lastSeen) {
					continue
				}
				if !sendSSE(c, "output", e) {
					return
				}
			}
			if len(events) > 0 && events[0].Timestamp.After(lastSeen) {
				lastSeen = events[0].Timestamp
			}
		}
	}
}
