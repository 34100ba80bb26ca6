package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/proconnect/backend/internal/realtime"
	"go.uber.org/zap"
)

const streamHeartbeatInterval = 25 * time.Second

type streamFramePayload struct {
	Event     string `json:"event"`
	EntityID  string `json:"entity_id,omitempty"`
	Body      any    `json:"body,omitempty"`
	Timestamp int64  `json:"timestamp_s"`
}

// handleStream holds a server-sent-events connection open for the caller.
// The connection doubles as the caller's presence session: opening it marks
// the user online and closing it releases the session.
func (h *httpHandler) handleStream(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}

	flusher, supported := c.Writer.(http.Flusher)
	if !supported {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	events, cancel := h.dispatcher.Subscribe(
		c.Request.Context(),
		realtime.InboxTopic(callerID),
		realtime.ReceiptTopic(callerID),
		realtime.PresenceTopic(),
	)
	defer cancel()

	h.presence.Connect(callerID)
	defer h.presence.Disconnect(callerID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case envelope, open := <-events:
			if !open {
				return
			}
			if err := writeStreamFrame(c.Writer, envelope); err != nil {
				h.logger.Debug("stream write failed",
					zap.String("user_id", callerID),
					zap.Error(err))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeStreamFrame(w http.ResponseWriter, envelope realtime.Envelope) error {
	payload := streamFramePayload{
		Event:     envelope.Event,
		EntityID:  envelope.EntityID,
		Body:      envelope.Body,
		Timestamp: envelope.Timestamp.Unix(),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", envelope.Event, encoded)
	return err
}
