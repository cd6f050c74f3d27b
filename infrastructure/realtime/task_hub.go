package realtime

import (
	"encoding/json"
	"net/http"
	"sync"

	"crosspost/domain/model"

	"github.com/gin-gonic/gin"
)

// TaskStatusEvent is the SSE payload for publish task status changes.
type TaskStatusEvent struct {
	Type         string           `json:"type"`
	TaskID       string           `json:"task_id"`
	AccountID    string           `json:"account_id"`
	Platform     string           `json:"platform"`
	Status       model.TaskStatus `json:"status"`
	ExternalID   string           `json:"external_id,omitempty"`
	ExternalLink string           `json:"external_link,omitempty"`
	ErrorCode    string           `json:"error_code,omitempty"`
	Error        string           `json:"error,omitempty"`
	Retryable    bool             `json:"retryable,omitempty"`
}

// Hub fans task status events out to the owning user's SSE subscribers.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[chan TaskStatusEvent]struct{}
}

func NewTaskHub() *Hub {
	return &Hub{users: make(map[string]map[chan TaskStatusEvent]struct{})}
}

// Serve registers an SSE stream for the authenticated user (user_id set by middleware).
func (h *Hub) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // disable nginx buffering

	ch := make(chan TaskStatusEvent, 8)
	h.addSubscriber(userID, ch)
	defer h.removeSubscriber(userID, ch)

	_, _ = c.Writer.Write([]byte(":ok\n\n"))
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt := <-ch:
			data, _ := json.Marshal(evt)
			_, _ = c.Writer.Write([]byte("event: task_status\n"))
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write(data)
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *Hub) addSubscriber(userID string, ch chan TaskStatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[chan TaskStatusEvent]struct{})
	}
	h.users[userID][ch] = struct{}{}
}

func (h *Hub) removeSubscriber(userID string, ch chan TaskStatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.users[userID]; subs != nil {
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.users, userID)
		}
	}
}

func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// BroadcastTaskStatus never blocks; slow subscribers miss events.
func (h *Hub) BroadcastTaskStatus(task *model.PublishTask) {
	if task == nil {
		return
	}
	evt := TaskStatusEvent{
		Type:         "task_status",
		TaskID:       task.ID,
		AccountID:    task.AccountID,
		Platform:     task.Platform,
		Status:       task.Status,
		ExternalID:   task.ExternalID,
		ExternalLink: task.ExternalLink,
		ErrorCode:    task.ErrorCode,
		Error:        task.ErrorMessage,
		Retryable:    task.Retryable,
	}
	h.mu.RLock()
	for ch := range h.users[task.UserID] {
		select {
		case ch <- evt:
		default:
		}
	}
	h.mu.RUnlock()
}
