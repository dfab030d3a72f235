package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"todochat/internal/agent"
	"todochat/internal/auth"
	"todochat/internal/config"
	"todochat/internal/service/chat"
	"todochat/internal/service/conversation"
	"todochat/internal/service/task"
	"todochat/internal/storage"
)

func newTestServer(t *testing.T) (*gin.Engine, *sql.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	authSvc := auth.NewService(db, nil, time.Hour)
	conversations := conversation.NewService(db)
	tasks := task.NewService(db)
	orchestrator := chat.NewOrchestrator(conversations, chat.NewDispatcher(tasks), agent.NewFallback())
	handler := NewHandler(authSvc, conversations, tasks, orchestrator)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func registerAndLogin(t *testing.T, router *gin.Engine) (string, map[string]string) {
	t.Helper()
	username := fmt.Sprintf("tester_%d", time.Now().UnixNano())
	password := "pass123"
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID string `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)
	if regBody.ID == "" {
		t.Fatalf("expected user id in register response")
	}

	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatalf("expected auth token after login")
	}
	return regBody.ID, map[string]string{"Authorization": "Bearer " + loginBody.AuthToken}
}

func TestHandlersEndToEndFlow(t *testing.T) {
	router, _ := newTestServer(t)
	userID, headers := registerAndLogin(t, router)

	// One chat turn that creates a task.
	chatResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%s/chat", userID),
		map[string]any{"message": "add a task to buy milk"},
		headers)
	assertStatus(t, chatResp, http.StatusOK)
	var turn struct {
		ConversationID string `json:"conversation_id"`
		MessageID      string `json:"message_id"`
		Response       string `json:"response"`
		Intent         struct {
			Type        string  `json:"type"`
			Confidence  float64 `json:"confidence"`
			ActionTaken string  `json:"action_taken"`
		} `json:"intent"`
	}
	decodeJSON(t, chatResp.Body.Bytes(), &turn)
	if turn.Response != "Task created successfully: buy milk" {
		t.Fatalf("unexpected chat response: %q", turn.Response)
	}
	if turn.Intent.Type != "create_task" || turn.Intent.ActionTaken != "task_operation_performed" {
		t.Fatalf("unexpected intent block: %+v", turn.Intent)
	}
	if turn.ConversationID == "" || turn.MessageID == "" {
		t.Fatalf("missing identifiers: %+v", turn)
	}

	// Second turn in the same conversation.
	chatResp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%s/chat", userID),
		map[string]any{"message": "show my tasks", "conversation_id": turn.ConversationID},
		headers)
	assertStatus(t, chatResp, http.StatusOK)
	var second struct {
		ConversationID string `json:"conversation_id"`
		Response       string `json:"response"`
	}
	decodeJSON(t, chatResp.Body.Bytes(), &second)
	if second.ConversationID != turn.ConversationID {
		t.Fatalf("second turn switched conversations")
	}
	if second.Response != "Tasks retrieved: buy milk" {
		t.Fatalf("unexpected view response: %q", second.Response)
	}

	// Conversation listing carries message counts and pagination.
	listResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%s/conversations", userID), nil, headers)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Conversations []struct {
			ID           string `json:"id"`
			Title        string `json:"title"`
			MessageCount int    `json:"message_count"`
		} `json:"conversations"`
		Pagination struct {
			Page  int `json:"page"`
			Total int `json:"total"`
		} `json:"pagination"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Conversations) != 1 || listBody.Pagination.Total != 1 {
		t.Fatalf("unexpected conversation list: %s", listResp.Body.String())
	}
	if listBody.Conversations[0].MessageCount != 4 {
		t.Fatalf("expected 4 messages after two turns, got %d", listBody.Conversations[0].MessageCount)
	}
	if listBody.Conversations[0].Title != "add a task to buy milk" {
		t.Fatalf("unexpected title: %q", listBody.Conversations[0].Title)
	}

	// Message history in order.
	msgResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%s/conversations/%s/messages", userID, turn.ConversationID), nil, headers)
	assertStatus(t, msgResp, http.StatusOK)
	var msgBody struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	decodeJSON(t, msgResp.Body.Bytes(), &msgBody)
	if len(msgBody.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgBody.Messages))
	}
	if msgBody.Messages[0].Role != "user" || msgBody.Messages[1].Role != "assistant" {
		t.Fatalf("unexpected message order: %+v", msgBody.Messages)
	}

	// The task is visible over the REST surface too.
	tasksResp := doJSONRequest(t, router, http.MethodGet, "/api/tasks", nil, headers)
	assertStatus(t, tasksResp, http.StatusOK)
	var tasksBody struct {
		Tasks []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"tasks"`
	}
	decodeJSON(t, tasksResp.Body.Bytes(), &tasksBody)
	if len(tasksBody.Tasks) != 1 || tasksBody.Tasks[0].Title != "buy milk" {
		t.Fatalf("unexpected tasks: %s", tasksResp.Body.String())
	}

	// Archive the conversation; afterwards it is gone from reads.
	archiveResp := doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/users/%s/conversations/%s", userID, turn.ConversationID), nil, headers)
	assertStatus(t, archiveResp, http.StatusNoContent)
	msgResp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%s/conversations/%s/messages", userID, turn.ConversationID), nil, headers)
	assertStatus(t, msgResp, http.StatusNotFound)

	// Logout revokes the token.
	logoutResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%s/logout", userID), nil, headers)
	assertStatus(t, logoutResp, http.StatusNoContent)
	afterLogout := doJSONRequest(t, router, http.MethodGet, "/api/tasks", nil, headers)
	assertStatus(t, afterLogout, http.StatusUnauthorized)
}

func TestCSRFProtectionForCookieAuth(t *testing.T) {
	router, _ := newTestServer(t)

	username := fmt.Sprintf("cookie_%d", time.Now().UnixNano())
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"password": "pass123",
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID string `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)

	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": "pass123",
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	cookies := loginResp.Result().Cookies()
	var csrfToken string
	for _, ck := range cookies {
		if ck.Name == "csrf_token" {
			csrfToken = ck.Value
		}
	}
	if csrfToken == "" {
		t.Fatalf("login did not set a csrf cookie")
	}

	// Mutating request authenticated by cookie only, varying the csrf header.
	sendChat := func(csrfHeader string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(map[string]any{"message": "add a task to water plants"}); err != nil {
			t.Fatalf("encode body: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/users/%s/chat", regBody.ID), &buf)
		req.Header.Set("Content-Type", "application/json")
		for _, ck := range cookies {
			req.AddCookie(ck)
		}
		if csrfHeader != "" {
			req.Header.Set("X-CSRF-Token", csrfHeader)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assertStatus(t, sendChat(""), http.StatusForbidden)
	assertStatus(t, sendChat("not-the-token"), http.StatusForbidden)
	assertStatus(t, sendChat(csrfToken), http.StatusOK)

	// Read-only methods are exempt.
	readReq := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/users/%s/conversations", regBody.ID), nil)
	for _, ck := range cookies {
		readReq.AddCookie(ck)
	}
	readRec := httptest.NewRecorder()
	router.ServeHTTP(readRec, readReq)
	assertStatus(t, readRec, http.StatusOK)
}

func TestChatRejectsMismatchedPathUser(t *testing.T) {
	router, _ := newTestServer(t)
	_, headersA := registerAndLogin(t, router)
	userB, _ := registerAndLogin(t, router)

	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%s/chat", userB),
		map[string]any{"message": "hello"},
		headersA)
	assertStatus(t, resp, http.StatusForbidden)
}

func TestChatValidation(t *testing.T) {
	router, _ := newTestServer(t)
	userID, headers := registerAndLogin(t, router)

	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%s/chat", userID),
		map[string]any{"message": "   "},
		headers)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%s/chat", userID),
		map[string]any{"message": "hello", "conversation_id": "no-such-id"},
		headers)
	assertStatus(t, resp, http.StatusNotFound)

	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%s/chat", userID),
		map[string]any{"message": "hello"},
		nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestConversationIsolationBetweenUsers(t *testing.T) {
	router, _ := newTestServer(t)
	userA, headersA := registerAndLogin(t, router)
	userB, headersB := registerAndLogin(t, router)

	chatResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%s/chat", userA),
		map[string]any{"message": "add a task to buy milk"},
		headersA)
	assertStatus(t, chatResp, http.StatusOK)
	var turn struct {
		ConversationID string `json:"conversation_id"`
	}
	decodeJSON(t, chatResp.Body.Bytes(), &turn)

	// B cannot read A's conversation even through B's own path.
	resp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%s/conversations/%s/messages", userB, turn.ConversationID), nil, headersB)
	assertStatus(t, resp, http.StatusForbidden)

	// B cannot continue A's conversation.
	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%s/chat", userB),
		map[string]any{"message": "show my tasks", "conversation_id": turn.ConversationID},
		headersB)
	assertStatus(t, resp, http.StatusForbidden)

	// B's own listings are empty.
	listResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%s/conversations", userB), nil, headersB)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if listBody.Pagination.Total != 0 {
		t.Fatalf("user B should see no conversations, got %d", listBody.Pagination.Total)
	}
}

func TestTaskCRUDOverHTTP(t *testing.T) {
	router, _ := newTestServer(t)
	_, headers := registerAndLogin(t, router)

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/tasks", map[string]any{
		"title":    "write report",
		"priority": "high",
		"due_date": "2026-09-30",
		"category": "work",
	}, headers)
	assertStatus(t, createResp, http.StatusCreated)
	var created struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Priority  string `json:"priority"`
		Completed bool   `json:"completed"`
	}
	decodeJSON(t, createResp.Body.Bytes(), &created)
	if created.ID == "" || created.Priority != "high" || created.Completed {
		t.Fatalf("unexpected created task: %s", createResp.Body.String())
	}

	badResp := doJSONRequest(t, router, http.MethodPost, "/api/tasks", map[string]any{
		"title":    "x",
		"priority": "urgent",
	}, headers)
	assertStatus(t, badResp, http.StatusBadRequest)

	updateResp := doJSONRequest(t, router, http.MethodPut, "/api/tasks/"+created.ID, map[string]any{
		"description": "quarterly numbers",
	}, headers)
	assertStatus(t, updateResp, http.StatusOK)

	toggleResp := doJSONRequest(t, router, http.MethodPatch, "/api/tasks/"+created.ID+"/toggle", nil, headers)
	assertStatus(t, toggleResp, http.StatusOK)
	var toggled struct {
		Completed bool `json:"completed"`
	}
	decodeJSON(t, toggleResp.Body.Bytes(), &toggled)
	if !toggled.Completed {
		t.Fatalf("toggle did not complete the task")
	}

	deleteResp := doJSONRequest(t, router, http.MethodDelete, "/api/tasks/"+created.ID, nil, headers)
	assertStatus(t, deleteResp, http.StatusNoContent)
	getResp := doJSONRequest(t, router, http.MethodGet, "/api/tasks/"+created.ID, nil, headers)
	assertStatus(t, getResp, http.StatusNotFound)
}

func TestTaskOwnershipOverHTTP(t *testing.T) {
	router, _ := newTestServer(t)
	_, headersA := registerAndLogin(t, router)
	_, headersB := registerAndLogin(t, router)

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/tasks", map[string]any{
		"title": "private task",
	}, headersA)
	assertStatus(t, createResp, http.StatusCreated)
	var created struct {
		ID string `json:"id"`
	}
	decodeJSON(t, createResp.Body.Bytes(), &created)

	getResp := doJSONRequest(t, router, http.MethodGet, "/api/tasks/"+created.ID, nil, headersB)
	assertStatus(t, getResp, http.StatusForbidden)
	deleteResp := doJSONRequest(t, router, http.MethodDelete, "/api/tasks/"+created.ID, nil, headersB)
	assertStatus(t, deleteResp, http.StatusForbidden)
}
