package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/lobby/internal/cache"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/encryption"
	"github.com/vedran77/lobby/internal/logging"
	"github.com/vedran77/lobby/internal/pubsub"
	"github.com/vedran77/lobby/internal/repository/memory"
	"github.com/vedran77/lobby/internal/service"
	"github.com/vedran77/lobby/internal/session"
	"github.com/vedran77/lobby/internal/transport/http/middleware"
)

type api struct {
	srv   *httptest.Server
	store *memory.Store
}

func newAPI(t *testing.T) *api {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	box, err := encryption.NewBox(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	store := memory.NewStore()
	applier := service.NewApplier(store, cache.New(rdb), session.NewRegistry(), pubsub.NewBus(0, nil), logging.Discard(), nil)
	messages := service.NewMessageService(applier, box)
	channels := service.NewChannelService(applier, messages)
	auth := service.NewAuthService(applier, "secret", func(name string) bool { return name == "admin" }, nil, nil)

	limiter := middleware.NewRateLimiter(3)
	t.Cleanup(limiter.Stop)

	mux := http.NewServeMux()
	Routes{
		Auth:        NewAuthHandler(auth),
		Channels:    NewChannelHandler(channels),
		Messages:    NewMessageHandler(messages),
		RequireAuth: middleware.Auth(auth),
		PostLimit:   limiter.Middleware,
	}.Register(mux)

	srv := httptest.NewServer(middleware.Loaders(store)(mux))
	t.Cleanup(srv.Close)
	return &api{srv: srv, store: store}
}

func (a *api) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if m, ok := out.(map[string]any); ok {
		return resp, m
	}
	return resp, map[string]any{"items": out}
}

func (a *api) register(t *testing.T, name string) string {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":        name + "@example.com",
		"username":     name,
		"display_name": name,
		"password":     "Password1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["access_token"].(string)
}

func (a *api) createChannel(t *testing.T, token, name string) string {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/api/v1/channels", token, map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["id"].(string)
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestChatFlow(t *testing.T) {
	a := newAPI(t)
	admin := a.register(t, "admin")
	ana := a.register(t, "ana")
	general := a.createChannel(t, admin, "general")
	random := a.createChannel(t, admin, "random")

	resp, _ := a.do(t, http.MethodPost, "/api/v1/channels/"+general+"/join", ana, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := a.do(t, http.MethodPost, "/api/v1/channels/"+random+"/join", ana, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "one channel at a time", body["error"].(map[string]any)["message"])

	resp, body = a.do(t, http.MethodPost, "/api/v1/channels/"+general+"/messages", ana, map[string]string{"content": "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "hello", body["content"])
	assert.Equal(t, "ana", body["sender_username"])
	assert.NotContains(t, body, "ContentEncrypted")

	resp, body = a.do(t, http.MethodGet, "/api/v1/channels/"+general+"/messages", ana, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "hello", items[0].(map[string]any)["content"])

	resp, body = a.do(t, http.MethodGet, "/api/v1/channels/"+general+"?expand=users,messages", ana, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "general", body["name"])
	assert.Len(t, body["users"], 1)
	assert.Len(t, body["messages"], 1)

	resp, body = a.do(t, http.MethodGet, "/api/v1/channels/mine", ana, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, general, body["id"])

	resp, body = a.do(t, http.MethodGet, "/api/v1/channels/"+general+"/members", ana, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 1)

	resp, _ = a.do(t, http.MethodPost, "/api/v1/channels/"+general+"/leave", ana, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = a.do(t, http.MethodGet, "/api/v1/channels/mine", ana, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID", errorCode(body))

	resp, body = a.do(t, http.MethodGet, "/api/v1/channels", ana, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 2)
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	admin := a.register(t, "admin")
	ana := a.register(t, "ana")
	general := a.createChannel(t, admin, "general")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/api/v1/channels", "", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bad id", http.MethodGet, "/api/v1/channels/nope", ana, nil, http.StatusBadRequest, "INVALID_ID"},
		{"missing channel", http.MethodGet, "/api/v1/channels/00000000-0000-0000-0000-000000000001", ana, nil, http.StatusNotFound, "NOT_FOUND"},
		{"not admin", http.MethodPost, "/api/v1/channels", ana, map[string]string{"name": "mine"}, http.StatusForbidden, "FORBIDDEN"},
		{"name taken", http.MethodPost, "/api/v1/channels", admin, map[string]string{"name": "general"}, http.StatusConflict, "CONFLICT"},
		{"invalid name", http.MethodPost, "/api/v1/channels", admin, map[string]string{"name": "No Spaces"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not joined", http.MethodGet, "/api/v1/channels/" + general + "/messages", ana, nil, http.StatusBadRequest, "INVALID"},
		{"empty message", http.MethodPost, "/api/v1/channels/" + general + "/messages", ana, map[string]string{"content": " "}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad login", http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ana@example.com", "password": "nope"}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"duplicate user", http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "ana@example.com", "username": "ana2", "display_name": "Ana", "password": "Password1"}, http.StatusConflict, "CONFLICT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := a.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}
}

func TestStorageFailureIsRetryable(t *testing.T) {
	a := newAPI(t)
	admin := a.register(t, "admin")
	general := a.createChannel(t, admin, "general")

	a.store.FailCommit = errors.New("connection reset")
	resp, body := a.do(t, http.MethodPost, "/api/v1/channels/"+general+"/join", admin, nil)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "UNAVAILABLE", errorCode(body))
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestPostingIsRateLimited(t *testing.T) {
	a := newAPI(t)
	admin := a.register(t, "admin")
	general := a.createChannel(t, admin, "general")
	resp, _ := a.do(t, http.MethodPost, "/api/v1/channels/"+general+"/join", admin, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	for range 3 {
		resp, _ := a.do(t, http.MethodPost, "/api/v1/channels/"+general+"/messages", admin, map[string]string{"content": "hi"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp, body := a.do(t, http.MethodPost, "/api/v1/channels/"+general+"/messages", admin, map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", errorCode(body))

	resp, _ = a.do(t, http.MethodGet, "/api/v1/channels/"+general+"/messages", admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads are not limited")
}

func TestAccountLifecycle(t *testing.T) {
	a := newAPI(t)
	admin := a.register(t, "admin")
	ana := a.register(t, "ana")
	general := a.createChannel(t, admin, "general")

	resp, body := a.do(t, http.MethodGet, "/api/v1/auth/me", ana, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ana", body["username"])
	assert.Equal(t, domain.RoleUser, body["role"])
	assert.NotContains(t, body, "password_hash")

	resp, _ = a.do(t, http.MethodPost, "/api/v1/channels/"+general+"/join", ana, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, "/api/v1/auth/logout", ana, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/api/v1/auth/me", ana, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "token of a closed session")

	resp, body = a.do(t, http.MethodGet, "/api/v1/channels/"+general, admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["user_ids"], "logout leaves the channel")

	resp, body = a.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ana@example.com", "password": "Password1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ana = body["access_token"].(string)

	resp, _ = a.do(t, http.MethodDelete, "/api/v1/auth/me", ana, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ana@example.com", "password": "Password1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = a.do(t, http.MethodDelete, "/api/v1/channels/"+general, admin, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestUsers(t *testing.T) {
	a := newAPI(t)
	admin := a.register(t, "admin")
	ana := a.register(t, "ana")

	resp, body := a.do(t, http.MethodGet, "/api/v1/users", ana, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.NotContains(t, it.(map[string]any), "password_hash")
	}

	resp, body = a.do(t, http.MethodGet, "/api/v1/auth/me", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	adminID := body["id"].(string)

	resp, body = a.do(t, http.MethodGet, "/api/v1/users/"+adminID, ana, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin", body["username"])

	resp, body = a.do(t, http.MethodGet, "/api/v1/users/00000000-0000-0000-0000-000000000001", ana, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	resp, body = a.do(t, http.MethodGet, "/api/v1/users/nope", ana, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_ID", errorCode(body))

	resp, _ = a.do(t, http.MethodGet, "/api/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestParseExpand(t *testing.T) {
	users, messages := parseExpand("users, messages")
	assert.True(t, users)
	assert.True(t, messages)

	users, messages = parseExpand("")
	assert.False(t, users)
	assert.False(t, messages)
}
