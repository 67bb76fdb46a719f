package realtime

import (
	"io"
	"time"

	"loyalty-checkin/pkg/errutil"
	"loyalty-checkin/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const keepAliveInterval = 20 * time.Second

// Handler streams session updates to the browser as Server-Sent Events.
type Handler struct {
	manager   *Manager
	keepAlive time.Duration
}

func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m, keepAlive: keepAliveInterval}
}

func (h *Handler) Stream(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		middleware.Abort(c, errutil.Unauthorized("authorization is required", nil))
		return
	}

	_, listenerID, updates, err := h.manager.Attach(c.Request.Context(), userID)
	if err != nil {
		middleware.Abort(c, errutil.Unavailable("realtime is shutting down", err))
		return
	}
	defer h.manager.Detach(userID, listenerID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	zap.L().Debug("realtime stream opened", zap.String("user_id", userID), zap.String("listener_id", listenerID))

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case u, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent(string(u.Type), u.Data)
			return true
		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}
