package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/proconnect/backend/internal/connections"
	"github.com/proconnect/backend/internal/notifications"
)

type userPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Profession string `json:"profession,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

type connectionPayload struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Requester userPayload `json:"requester"`
	Receiver  userPayload `json:"receiver"`
	CreatedAt int64       `json:"created_at_s"`
}

func (h *httpHandler) toConnectionPayload(c *gin.Context, connection connections.Connection) connectionPayload {
	payload := connectionPayload{
		ID:        connection.ID,
		Status:    string(connection.Status),
		Requester: userPayload{ID: connection.RequesterID},
		Receiver:  userPayload{ID: connection.ReceiverID},
		CreatedAt: connection.CreatedAt.Unix(),
	}
	if requester, err := h.directory.UserByID(c.Request.Context(), connection.RequesterID); err == nil {
		payload.Requester = userPayload{
			ID:         requester.ID,
			Name:       requester.Name,
			Email:      requester.Email,
			Profession: requester.Profession,
			AvatarURL:  requester.AvatarURL,
		}
	}
	if receiver, err := h.directory.UserByID(c.Request.Context(), connection.ReceiverID); err == nil {
		payload.Receiver = userPayload{
			ID:         receiver.ID,
			Name:       receiver.Name,
			Email:      receiver.Email,
			Profession: receiver.Profession,
			AvatarURL:  receiver.AvatarURL,
		}
	}
	return payload
}

func (h *httpHandler) toConnectionPayloads(c *gin.Context, records []connections.Connection) []connectionPayload {
	payloads := make([]connectionPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, h.toConnectionPayload(c, record))
	}
	return payloads
}

type sendRequestPayload struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
}

func (h *httpHandler) handleSendRequest(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	var request sendRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	connection, err := h.connections.SendRequest(c.Request.Context(), callerID, request.ReceiverID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.toConnectionPayload(c, connection))
}

func (h *httpHandler) handleAcceptRequest(c *gin.Context) {
	if _, ok := h.callerID(c); !ok {
		return
	}
	connection, err := h.connections.AcceptRequest(c.Request.Context(), c.Param("connectionID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toConnectionPayload(c, connection))
}

func (h *httpHandler) handleDeclineRequest(c *gin.Context) {
	if _, ok := h.callerID(c); !ok {
		return
	}
	if err := h.connections.DeclineRequest(c.Request.Context(), c.Param("connectionID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListAccepted(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	records, err := h.connections.ListAccepted(c.Request.Context(), callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	count, err := h.connections.CountAccepted(c.Request.Context(), callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connections": h.toConnectionPayloads(c, records),
		"count":       count,
	})
}

func (h *httpHandler) handleListPendingIncoming(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	records, err := h.connections.ListPendingIncoming(c.Request.Context(), callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	count, err := h.connections.CountPendingIncoming(c.Request.Context(), callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requests": h.toConnectionPayloads(c, records),
		"count":    count,
	})
}

func (h *httpHandler) handleListPendingOutgoing(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	records, err := h.connections.ListPendingOutgoing(c.Request.Context(), callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": h.toConnectionPayloads(c, records)})
}

type sendMessagePayload struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	message, err := h.messaging.SendMessage(c.Request.Context(), callerID, request.ReceiverID, request.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *httpHandler) handleConversation(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	messages, err := h.messaging.GetConversation(c.Request.Context(), callerID, c.Param("peerID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *httpHandler) handleConversationList(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	summaries, err := h.messaging.ConversationList(c.Request.Context(), callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

func (h *httpHandler) handleMarkConversationRead(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	updated, err := h.messaging.MarkAsRead(c.Request.Context(), callerID, c.Param("peerID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *httpHandler) handleUnreadMessageCount(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	count, err := h.messaging.UnreadCount(c.Request.Context(), callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *httpHandler) handlePresenceSnapshot(c *gin.Context) {
	if _, ok := h.callerID(c); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": h.presence.Snapshot()})
}

func (h *httpHandler) handlePresenceQuery(c *gin.Context) {
	if _, ok := h.callerID(c); !ok {
		return
	}
	userID := c.Param("userID")
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"online":  h.presence.IsOnline(userID),
	})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	views, err := h.notifications.List(c.Request.Context(), callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": views})
}

func (h *httpHandler) handleUnreadNotificationCount(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	count, err := h.notifications.UnreadCount(c.Request.Context(), callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	if _, ok := h.callerID(c); !ok {
		return
	}
	notification, err := h.notifications.MarkRead(c.Request.Context(), c.Param("notificationID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, notification)
}

func (h *httpHandler) handleMarkAllNotificationsRead(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *httpHandler) handleDeleteNotification(c *gin.Context) {
	if _, ok := h.callerID(c); !ok {
		return
	}
	if err := h.notifications.Delete(c.Request.Context(), c.Param("notificationID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type externalEventPayload struct {
	Type            string `json:"type" binding:"required"`
	TargetUserID    string `json:"target_user_id" binding:"required"`
	RelatedEntityID string `json:"related_entity_id"`
}

// handleExternalEvent is the fan-in surface for collaborator services (posts,
// comments, likes). The acting user is the authenticated caller.
func (h *httpHandler) handleExternalEvent(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	var request externalEventPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	notification, err := h.notifications.Create(
		c.Request.Context(),
		notifications.Type(request.Type),
		request.TargetUserID,
		callerID,
		request.RelatedEntityID,
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if notification == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, notification)
}
