package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/proconnect/backend/internal/auth"
	"github.com/proconnect/backend/internal/connections"
	"github.com/proconnect/backend/internal/ids"
	"github.com/proconnect/backend/internal/messaging"
	"github.com/proconnect/backend/internal/notifications"
	"github.com/proconnect/backend/internal/presence"
	"github.com/proconnect/backend/internal/realtime"
	"github.com/proconnect/backend/internal/server"
	"github.com/proconnect/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionSigningSecret = "integration-secret"
	jsonContentType      = "application/json"
	requesterUserID      = "user-alice"
	receiverUserID       = "user-bob"
)

func TestConnectAndMessageFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := db.AutoMigrate(&users.User{}, &connections.Connection{}, &messaging.Message{}, &notifications.Notification{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	seeded := []users.User{
		{ID: requesterUserID, Name: "Alice Chen", Email: "alice@example.com", Profession: "Engineer"},
		{ID: receiverUserID, Name: "Bob Novak", Email: "bob@example.com", Profession: "Designer"},
	}
	for _, user := range seeded {
		if err := db.Create(&user).Error; err != nil {
			testContext.Fatalf("failed to seed user %s: %v", user.ID, err)
		}
	}

	directory, err := users.NewDirectory(users.DirectoryConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build directory: %v", err)
	}

	dispatcher := realtime.NewDispatcher()
	tracker := presence.NewTracker(presence.TrackerConfig{Publisher: dispatcher})
	idProvider := ids.NewUUIDProvider()

	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		Directory:  directory,
		IDProvider: idProvider,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build notification service: %v", err)
	}

	connectionService, err := connections.NewService(connections.ServiceConfig{
		Database:   db,
		Directory:  directory,
		Events:     notificationService,
		IDProvider: idProvider,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build connection service: %v", err)
	}

	messagingService, err := messaging.NewService(messaging.ServiceConfig{
		Database:   db,
		Graph:      connectionService,
		Directory:  directory,
		Publisher:  dispatcher,
		Presence:   tracker,
		IDProvider: idProvider,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build messaging service: %v", err)
	}

	tokenManager := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        "proconnect-auth",
		Audience:      "proconnect-api",
		TokenTTL:      time.Hour,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		Connections:   connectionService,
		Messaging:     messagingService,
		Presence:      tracker,
		Notifications: notificationService,
		Directory:     directory,
		Dispatcher:    dispatcher,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build http handler: %v", err)
	}

	requesterToken := issueToken(testContext, handler, requesterUserID)
	receiverToken := issueToken(testContext, handler, receiverUserID)

	// The requester's read-receipt stream is watched out of band so the
	// receipt published during mark-as-read can be asserted on.
	receiptCtx, cancelReceipts := context.WithCancel(context.Background())
	defer cancelReceipts()
	receipts, unsubscribe := dispatcher.Subscribe(receiptCtx, realtime.ReceiptTopic(requesterUserID))
	defer unsubscribe()

	// Request, observe the notification, accept.
	response := doJSON(testContext, handler, http.MethodPost, "/connections/requests", requesterToken,
		map[string]string{"receiver_id": receiverUserID})
	if response.Code != http.StatusCreated {
		testContext.Fatalf("send request: expected 201, got %d body %s", response.Code, response.Body.String())
	}
	var createdConnection struct {
		ID string `json:"id"`
	}
	mustDecode(testContext, response, &createdConnection)

	response = doJSON(testContext, handler, http.MethodGet, "/notifications", receiverToken, nil)
	var receiverInbox struct {
		Notifications []notifications.View `json:"notifications"`
	}
	mustDecode(testContext, response, &receiverInbox)
	if len(receiverInbox.Notifications) != 1 || receiverInbox.Notifications[0].Type != notifications.TypeConnectionRequest {
		testContext.Fatalf("expected one connection-request notification, got %+v", receiverInbox.Notifications)
	}

	response = doJSON(testContext, handler, http.MethodPost,
		fmt.Sprintf("/connections/%s/accept", createdConnection.ID), receiverToken, nil)
	if response.Code != http.StatusOK {
		testContext.Fatalf("accept request: expected 200, got %d body %s", response.Code, response.Body.String())
	}

	response = doJSON(testContext, handler, http.MethodGet, "/notifications", requesterToken, nil)
	var requesterInbox struct {
		Notifications []notifications.View `json:"notifications"`
	}
	mustDecode(testContext, response, &requesterInbox)
	if len(requesterInbox.Notifications) != 1 || requesterInbox.Notifications[0].Type != notifications.TypeConnectionAccepted {
		testContext.Fatalf("expected one connection-accepted notification, got %+v", requesterInbox.Notifications)
	}

	// Message over the established connection.
	response = doJSON(testContext, handler, http.MethodPost, "/messages", requesterToken,
		map[string]string{"receiver_id": receiverUserID, "content": "welcome aboard"})
	if response.Code != http.StatusCreated {
		testContext.Fatalf("send message: expected 201, got %d body %s", response.Code, response.Body.String())
	}

	response = doJSON(testContext, handler, http.MethodGet, "/conversations", receiverToken, nil)
	var conversationList struct {
		Conversations []messaging.ConversationSummary `json:"conversations"`
	}
	mustDecode(testContext, response, &conversationList)
	if len(conversationList.Conversations) != 1 {
		testContext.Fatalf("expected one conversation, got %d", len(conversationList.Conversations))
	}
	summary := conversationList.Conversations[0]
	if summary.Peer.ID != requesterUserID || summary.UnreadCount != 1 || summary.LastMessage == nil {
		testContext.Fatalf("unexpected conversation summary: %+v", summary)
	}

	// Mark as read and assert the receipt reaches the sender's stream.
	response = doJSON(testContext, handler, http.MethodPost,
		fmt.Sprintf("/conversations/%s/read", requesterUserID), receiverToken, nil)
	var marked struct {
		Updated int64 `json:"updated"`
	}
	mustDecode(testContext, response, &marked)
	if marked.Updated != 1 {
		testContext.Fatalf("expected one message flipped, got %d", marked.Updated)
	}

	select {
	case envelope := <-receipts:
		if envelope.Event != realtime.EventReadReceipt {
			testContext.Fatalf("expected read-receipt envelope, got %s", envelope.Event)
		}
	case <-time.After(2 * time.Second):
		testContext.Fatal("timed out waiting for the read receipt")
	}

	// A second mark is a no-op and stays silent.
	response = doJSON(testContext, handler, http.MethodPost,
		fmt.Sprintf("/conversations/%s/read", requesterUserID), receiverToken, nil)
	mustDecode(testContext, response, &marked)
	if marked.Updated != 0 {
		testContext.Fatalf("expected idempotent mark, got %d flips", marked.Updated)
	}
	select {
	case envelope := <-receipts:
		testContext.Fatalf("unexpected envelope after idempotent mark: %+v", envelope)
	case <-time.After(100 * time.Millisecond):
	}

	response = doJSON(testContext, handler, http.MethodGet, "/messages/unread-count", receiverToken, nil)
	var unread struct {
		Count int64 `json:"count"`
	}
	mustDecode(testContext, response, &unread)
	if unread.Count != 0 {
		testContext.Fatalf("expected zero unread messages, got %d", unread.Count)
	}
}

func issueToken(testContext *testing.T, handler http.Handler, userID string) string {
	testContext.Helper()
	response := doJSON(testContext, handler, http.MethodPost, "/auth/token", "", map[string]string{"user_id": userID})
	if response.Code != http.StatusOK {
		testContext.Fatalf("issue token for %s: expected 200, got %d body %s", userID, response.Code, response.Body.String())
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	mustDecode(testContext, response, &payload)
	return payload.AccessToken
}

func mustDecode(testContext *testing.T, response *httptest.ResponseRecorder, target any) {
	testContext.Helper()
	if err := json.Unmarshal(response.Body.Bytes(), target); err != nil {
		testContext.Fatalf("failed to decode response body %q: %v", response.Body.String(), err)
	}
}

func doJSON(testContext *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	testContext.Helper()
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			testContext.Fatalf("failed to encode body: %v", err)
		}
		payload = encoded
	}
	request := httptest.NewRequest(method, path, bytes.NewReader(payload))
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}
