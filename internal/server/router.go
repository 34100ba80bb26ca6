package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/proconnect/backend/internal/connections"
	"github.com/proconnect/backend/internal/faults"
	"github.com/proconnect/backend/internal/messaging"
	"github.com/proconnect/backend/internal/notifications"
	"github.com/proconnect/backend/internal/presence"
	"github.com/proconnect/backend/internal/realtime"
	"github.com/proconnect/backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "proconnect_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingConnections   = errors.New("connections service dependency required")
	errMissingMessaging     = errors.New("messaging service dependency required")
	errMissingPresence      = errors.New("presence tracker dependency required")
	errMissingNotifications = errors.New("notifications service dependency required")
	errMissingDirectory     = errors.New("user directory dependency required")
	errMissingDispatcher    = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the session tokens that establish the
// caller identity assumed by the core services.
type TokenManager interface {
	IssueSessionToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the communication core into the HTTP surface.
type Dependencies struct {
	TokenManager  TokenManager
	Connections   *connections.Service
	Messaging     *messaging.Service
	Presence      *presence.Tracker
	Notifications *notifications.Service
	Directory     *users.Directory
	Dispatcher    *realtime.Dispatcher
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the core's operations.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Connections == nil {
		return nil, errMissingConnections
	}
	if deps.Messaging == nil {
		return nil, errMissingMessaging
	}
	if deps.Presence == nil {
		return nil, errMissingPresence
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Directory == nil {
		return nil, errMissingDirectory
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		connections:   deps.Connections,
		messaging:     deps.Messaging,
		presence:      deps.Presence,
		notifications: deps.Notifications,
		directory:     deps.Directory,
		dispatcher:    deps.Dispatcher,
		logger:        logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/connections/requests", handler.handleSendRequest)
	protected.POST("/connections/:connectionID/accept", handler.handleAcceptRequest)
	protected.POST("/connections/:connectionID/decline", handler.handleDeclineRequest)
	protected.GET("/connections", handler.handleListAccepted)
	protected.GET("/connections/pending", handler.handleListPendingIncoming)
	protected.GET("/connections/sent", handler.handleListPendingOutgoing)

	protected.POST("/messages", handler.handleSendMessage)
	protected.GET("/messages/unread-count", handler.handleUnreadMessageCount)
	protected.GET("/conversations", handler.handleConversationList)
	protected.GET("/conversations/:peerID", handler.handleConversation)
	protected.POST("/conversations/:peerID/read", handler.handleMarkConversationRead)

	protected.GET("/presence", handler.handlePresenceSnapshot)
	protected.GET("/presence/:userID", handler.handlePresenceQuery)

	protected.GET("/notifications", handler.handleListNotifications)
	protected.GET("/notifications/unread-count", handler.handleUnreadNotificationCount)
	protected.PUT("/notifications/:notificationID/read", handler.handleMarkNotificationRead)
	protected.POST("/notifications/read-all", handler.handleMarkAllNotificationsRead)
	protected.DELETE("/notifications/:notificationID", handler.handleDeleteNotification)

	protected.POST("/events", handler.handleExternalEvent)

	protected.GET("/stream", handler.handleStream)

	return router, nil
}

type httpHandler struct {
	tokens        TokenManager
	connections   *connections.Service
	messaging     *messaging.Service
	presence      *presence.Tracker
	notifications *notifications.Service
	directory     *users.Directory
	dispatcher    *realtime.Dispatcher
	logger        *zap.Logger
}

type tokenRequestPayload struct {
	UserID string `json:"user_id" binding:"required"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	known, err := h.directory.Exists(c.Request.Context(), request.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_user"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), request.UserID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) callerID(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

// respondError maps the failure taxonomy onto HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := faults.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case faults.KindValidation:
		status = http.StatusBadRequest
	case faults.KindUnauthorized:
		status = http.StatusForbidden
	case faults.KindNotFound:
		status = http.StatusNotFound
	case faults.KindConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": string(kind)})
}
