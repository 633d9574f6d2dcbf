package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/planetary/buffy/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatched struct {
	userID string
	text   string
}

type fakeDispatcher struct {
	mu       sync.Mutex
	payloads []*models.TrelloWebhookPayload
	messages chan dispatched
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{messages: make(chan dispatched, 16)}
}

func (d *fakeDispatcher) HandleMessage(_ context.Context, userID, text string) {
	d.messages <- dispatched{userID: userID, text: text}
}

func (d *fakeDispatcher) HandleCommentCard(_ context.Context, payload *models.TrelloWebhookPayload) {
	d.mu.Lock()
	d.payloads = append(d.payloads, payload)
	d.mu.Unlock()
}

func newTestRouter() (*gin.Engine, *fakeDispatcher) {
	gin.SetMode(gin.TestMode)
	dispatcher := newFakeDispatcher()
	handler := &Handler{Bot: dispatcher}

	router := gin.New()
	router.POST("/trello/webhook", handler.TrelloWebhookHandler)
	router.GET("/trello/webhook", handler.TrelloWebhookHandler)
	router.HEAD("/trello/webhook", handler.TrelloWebhookHandler)
	router.POST("/slack/events", handler.SlackEventsHandler)
	router.GET("/health", handler.HealthCheckHandler)
	return router, dispatcher
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTrelloWebhookVerificationPings(t *testing.T) {
	router, dispatcher := newTestRouter()

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		w := doRequest(router, method, "/trello/webhook", "")
		assert.Equal(t, http.StatusOK, w.Code, method)
	}
	assert.Empty(t, dispatcher.payloads)
}

func TestTrelloWebhookMalformedBodyStillOK(t *testing.T) {
	router, dispatcher := newTestRouter()

	w := doRequest(router, http.MethodPost, "/trello/webhook", "{not json")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Empty(t, dispatcher.payloads)
}

func TestTrelloWebhookCommentCardForwarded(t *testing.T) {
	router, dispatcher := newTestRouter()

	body := `{
		"action": {
			"type": "commentCard",
			"memberCreator": {"username": "bob"},
			"data": {
				"text": "nice work",
				"card": {"shortLink": "abc123", "name": "Fix the thing"},
				"board": {"name": "Board1"}
			}
		},
		"model": {"username": "alice"}
	}`
	w := doRequest(router, http.MethodPost, "/trello/webhook", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	require.Len(t, dispatcher.payloads, 1)
	payload := dispatcher.payloads[0]
	assert.Equal(t, "commentCard", payload.Action.Type)
	assert.Equal(t, "bob", payload.Action.MemberCreator.Username)
	assert.Equal(t, "nice work", payload.Action.Data.Text)
	assert.Equal(t, "abc123", payload.Action.Data.Card.ShortLink)
	assert.Equal(t, "alice", payload.Model.Username)
}

func TestTrelloWebhookPingReturnsOK(t *testing.T) {
	router, _ := newTestRouter()

	w := doRequest(router, http.MethodPost, "/trello/webhook", `{"action": {"type": "ping"}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestSlackURLVerificationEchoesChallenge(t *testing.T) {
	router, _ := newTestRouter()

	body := `{"type": "url_verification", "token": "tok", "challenge": "xyzzy"}`
	w := doRequest(router, http.MethodPost, "/slack/events", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "xyzzy", w.Body.String())
}

func TestSlackDirectMessageDispatched(t *testing.T) {
	router, dispatcher := newTestRouter()

	body := `{
		"type": "event_callback",
		"event": {
			"type": "message",
			"channel": "D123",
			"channel_type": "im",
			"user": "U1",
			"text": "late"
		}
	}`
	w := doRequest(router, http.MethodPost, "/slack/events", body)
	assert.Equal(t, http.StatusOK, w.Code)

	select {
	case msg := <-dispatcher.messages:
		assert.Equal(t, "U1", msg.userID)
		assert.Equal(t, "late", msg.text)
	case <-time.After(time.Second):
		t.Fatal("message event was not dispatched")
	}
}

func TestSlackBotMessageIgnored(t *testing.T) {
	router, dispatcher := newTestRouter()

	body := `{
		"type": "event_callback",
		"event": {
			"type": "message",
			"channel": "D123",
			"channel_type": "im",
			"user": "U1",
			"bot_id": "B9",
			"text": "late"
		}
	}`
	w := doRequest(router, http.MethodPost, "/slack/events", body)
	assert.Equal(t, http.StatusOK, w.Code)

	select {
	case <-dispatcher.messages:
		t.Fatal("bot message must not be dispatched")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSlackChannelMessageIgnored(t *testing.T) {
	router, dispatcher := newTestRouter()

	body := `{
		"type": "event_callback",
		"event": {
			"type": "message",
			"channel": "C123",
			"channel_type": "channel",
			"user": "U1",
			"text": "late"
		}
	}`
	w := doRequest(router, http.MethodPost, "/slack/events", body)
	assert.Equal(t, http.StatusOK, w.Code)

	select {
	case <-dispatcher.messages:
		t.Fatal("channel message must not be dispatched")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter()

	w := doRequest(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())
}
