package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// client is a thin wrapper over runnerd's HTTP API. Grounded on the
// teacher's pattern of a small typed client struct wrapping net/http
// rather than a generated SDK, since no HTTP client library appears
// anywhere in the example pack.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type chatResponse struct {
	UserMessage struct {
		TaskID string `json:"taskId"`
	} `json:"userMessage"`
	RunID       string `json:"runId"`
	TaskGroupID string `json:"taskGroupId"`
}

type conversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	TaskID    string    `json:"taskId,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *client) submit(projectID, content string, taskType string) (chatResponse, error) {
	var resp chatResponse
	body := map[string]string{"content": content}
	if taskType != "" {
		body["taskType"] = taskType
	}
	err := c.do(http.MethodPost, "/api/projects/"+projectID+"/chat", body, &resp)
	return resp, err
}

func (c *client) conversation(projectID, sessionID string) ([]conversationMessage, error) {
	var out struct {
		Messages []conversationMessage `json:"messages"`
	}
	path := "/api/projects/" + projectID + "/conversation"
	if sessionID != "" {
		path += "?sessionId=" + sessionID
	}
	err := c.do(http.MethodGet, path, nil, &out)
	return out.Messages, err
}

type runnerStatusResponse struct {
	IsRunning      bool   `json:"isRunning"`
	PID            int    `json:"pid"`
	UptimeMS       int64  `json:"uptime_ms"`
	BuildSHA       string `json:"build_sha"`
	BuildTimestamp string `json:"build_timestamp"`
}

func (c *client) runnerStatus(namespace string) (runnerStatusResponse, error) {
	var out runnerStatusResponse
	err := c.do(http.MethodGet, "/api/runner/status?namespace="+namespace, nil, &out)
	return out, err
}

type restartResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	OldPID  int    `json:"oldPid"`
	NewPID  int    `json:"newPid"`
}

func (c *client) runnerRestart(namespace string, build bool) (restartResponse, error) {
	var out restartResponse
	err := c.do(http.MethodPost, "/api/runner/restart?namespace="+namespace, map[string]bool{"build": build}, &out)
	return out, err
}

func (c *client) runnerStop(namespace string) (restartResponse, error) {
	var out restartResponse
	err := c.do(http.MethodPost, "/api/runner/stop?namespace="+namespace, nil, &out)
	return out, err
}
