package ginserver

import (
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"

	"tradeup/internal/app/dto"
	msgsvc "tradeup/internal/app/services/messaging"
	domainuser "tradeup/internal/domain/user"
)

type EventsHTTP interface {
	StreamUpdates(c *gin.Context)
}

// EventsHandler streams per-user unread summaries over server-sent events,
// re-querying the aggregate on every tick.
type EventsHandler struct {
	Service      *msgsvc.Service
	PollInterval time.Duration
	Logger       *slog.Logger
}

func (h EventsHandler) StreamUpdates(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	userID := domainuser.ID(p.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(h.pollInterval())
	defer ticker.Stop()

	ctx := c.Request.Context()
	emit := func() {
		unread, err := h.Service.UnreadTotal(ctx, userID)
		if err != nil {
			if h.Logger != nil {
				h.Logger.Warn("unread poll failed", "user_id", userID, "error", err)
			}
			return
		}
		c.SSEvent("unread", dto.UnreadSummary{UnreadCount: unread, At: time.Now().UTC()})
		c.Writer.Flush()
	}

	// initial snapshot before the first tick
	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit()
		}
	}
}

func (h EventsHandler) pollInterval() time.Duration {
	if h.PollInterval > 0 {
		return h.PollInterval
	}
	return 5 * time.Second
}

var _ EventsHTTP = (*EventsHandler)(nil)
