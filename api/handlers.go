package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/planetary/buffy/internal/models"
	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"
)

// Dispatcher is the bot surface the HTTP layer drives.
type Dispatcher interface {
	HandleMessage(ctx context.Context, userID, text string)
	HandleCommentCard(ctx context.Context, payload *models.TrelloWebhookPayload)
}

type Handler struct {
	Bot Dispatcher
}

// TrelloWebhookHandler accepts Trello webhook callbacks. Trello sends HEAD
// and GET verification pings as well as POSTed events, and expects a 200
// back in every case, so the response is always "ok" no matter what the
// payload looked like.
func (h *Handler) TrelloWebhookHandler(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.String(http.StatusOK, "ok")
		return
	}

	var payload models.TrelloWebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		// Trello sends an empty POST when verifying a new webhook.
		zap.L().Debug("Ignoring unparseable webhook payload", zap.Error(err))
		c.String(http.StatusOK, "ok")
		return
	}

	h.Bot.HandleCommentCard(c.Request.Context(), &payload)

	c.String(http.StatusOK, "ok")
}

// SlackEventsHandler receives Slack Events API callbacks: the one-time
// url_verification challenge, and message events from direct-message
// channels, which are handed to the bot off the request goroutine so Slack
// gets its acknowledgement within the deadline.
func (h *Handler) SlackEventsHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		zap.L().Debug("Ignoring unparseable Slack event", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.String(http.StatusOK, challenge.Challenge)
	case slackevents.CallbackEvent:
		if msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			// Only plain human DMs; edits, joins and our own bot messages
			// all carry a subtype or bot ID.
			if msg.ChannelType == "im" && msg.BotID == "" && msg.SubType == "" {
				go h.Bot.HandleMessage(context.Background(), msg.User, msg.Text)
			}
		}
		c.Status(http.StatusOK)
	default:
		c.Status(http.StatusOK)
	}
}

func (h *Handler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
