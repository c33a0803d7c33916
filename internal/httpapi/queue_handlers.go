package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/taskrunner/runner/internal/activity"
	"github.com/taskrunner/runner/internal/queue"
)

// conversationMessage is the flattened, UI-facing view of a task's prompt,
// conversation history, and output, matching the teacher's convention of
// a response shape distinct from the internal domain type.
type conversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	TaskID    string    `json:"taskId,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type chatRequest struct {
	Content   string         `json:"content" binding:"required"`
	SessionID string         `json:"sessionId"`
	TaskType  queue.TaskType `json:"taskType"`
}

type chatResponse struct {
	UserMessage      conversationMessage `json:"userMessage"`
	AssistantMessage conversationMessage `json:"assistantMessage"`
	RunID            string              `json:"runId"`
	TaskGroupID      string              `json:"taskGroupId"`
}

// postChat handles POST /api/projects/{pid}/chat (spec §6 "Queue").
func (h *handlers) postChat(c *gin.Context) {
	pid := c.Param("pid")
	var req chatRequest
	if !requireJSON(c, &req) {
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	taskType := req.TaskType
	if taskType == "" {
		taskType = queue.TaskTypeReadInfo
	}

	namespace := h.namespaceForProject(pid)
	task, err := h.deps.Store.Enqueue(c.Request.Context(), namespace, sessionID, "", req.Content, taskType)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "failed to enqueue task")
		return
	}
	h.convCache.invalidate(namespace + "/" + sessionID)
	h.recordActivity(c, namespace, activity.TypeTaskEnqueued, pid, sessionID, "task enqueued", map[string]any{"taskId": task.TaskID})

	c.JSON(http.StatusOK, chatResponse{
		UserMessage:      conversationMessage{Role: "user", Content: req.Content, TaskID: task.TaskID, Timestamp: task.CreatedAt},
		AssistantMessage: conversationMessage{Role: "assistant", Status: string(task.Status), TaskID: task.TaskID, Timestamp: task.CreatedAt},
		RunID:            task.TaskID,
		TaskGroupID:      task.TaskGroupID,
	})
}

type respondRequest struct {
	TaskID  string `json:"taskId" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// postRespond handles POST /api/projects/{pid}/respond, resolving a task
// stuck in AWAITING_RESPONSE (spec §4.1).
func (h *handlers) postRespond(c *gin.Context) {
	pid := c.Param("pid")
	var req respondRequest
	if !requireJSON(c, &req) {
		return
	}
	namespace := h.namespaceForProject(pid)
	if err := h.deps.Store.ResumeWithResponse(c.Request.Context(), namespace, req.TaskID, req.Content); err != nil {
		writeError(c, err, http.StatusInternalServerError, "failed to resume task")
		return
	}
	task, err := h.deps.Store.GetItem(c.Request.Context(), namespace, req.TaskID)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "failed to reload task")
		return
	}
	h.recordActivity(c, namespace, activity.TypeTaskResumed, pid, task.SessionID, "task resumed with user response", map[string]any{"taskId": task.TaskID})
	c.JSON(http.StatusOK, taskToMessages(task))
}

// getConversation handles GET /api/projects/{pid}/conversation.
func (h *handlers) getConversation(c *gin.Context) {
	pid := c.Param("pid")
	sessionID := c.Query("sessionId")
	namespace := h.namespaceForProject(pid)

	cacheKey := namespace + "/" + sessionID
	if cached, ok := h.convCache.get(cacheKey); ok {
		c.JSON(http.StatusOK, gin.H{"messages": cached})
		return
	}

	limit := queryInt(c, "limit", 100)
	tasks, err := h.deps.Store.ListByNamespace(c.Request.Context(), namespace, limit)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError, "failed to list conversation")
		return
	}

	var messages []conversationMessage
	for _, t := range tasks {
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		messages = append(messages, taskToMessages(t)...)
	}
	h.convCache.set(cacheKey, messages)
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func taskToMessages(t *queue.Task) []conversationMessage {
	messages := []conversationMessage{{Role: "user", Content: t.Prompt, TaskID: t.TaskID, Timestamp: t.CreatedAt}}
	for _, m := range t.ConversationHistory {
		messages = append(messages, conversationMessage{Role: m.Role, Content: m.Content, TaskID: t.TaskID, Timestamp: m.Timestamp})
	}
	if t.Output != "" {
		messages = append(messages, conversationMessage{Role: "assistant", Content: t.Output, TaskID: t.TaskID, Status: string(t.Status), Timestamp: t.UpdatedAt})
	}
	return messages
}

func (h *handlers) recordActivity(c *gin.Context, orgID, eventType, projectID, sessionID, summary string, details map[string]any) {
	if h.deps.Activity == nil {
		return
	}
	_, err := h.deps.Activity.Append(c.Request.Context(), activity.Event{
		OrgID:      orgID,
		Type:       eventType,
		ProjectID:  projectID,
		SessionID:  sessionID,
		Summary:    summary,
		Importance: activity.ImportanceNormal,
		Details:    details,
	})
	if err != nil {
		h.logger.Warn("failed to record activity event", "type", eventType, "error", err)
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func queryInt64(c *gin.Context, key string, fallback int64) int64 {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
