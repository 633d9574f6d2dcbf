// Package bot wires Slack direct messages and Trello webhook events to the
// verification flow and the late-task pipeline.
package bot

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/planetary/buffy/internal/models"
	"github.com/planetary/buffy/internal/verify"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

const attachmentColor = "#838C91"

// Chat is the Slack surface the bot drives.
type Chat interface {
	Teammates(ctx context.Context) ([]slack.User, error)
	DirectMessage(ctx context.Context, userID, text string, attachments ...slack.Attachment) error
}

// TrelloAPI is the slice of the Trello client the command handlers need.
type TrelloAPI interface {
	MemberCards(ctx context.Context, username string) ([]models.TrelloCard, error)
	Member(ctx context.Context, username string) (*models.TrelloMember, error)
	CreateWebhook(ctx context.Context, callbackURL, idModel string) (string, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// Directory is the persistent user-record store.
type Directory interface {
	Get(id string) (*models.UserRecord, error)
	Save(rec *models.UserRecord) error
	All() ([]models.UserRecord, error)
}

// Runner triggers a late-task aggregation pass.
type Runner interface {
	Run(ctx context.Context, targetUser string)
}

// Bot dispatches direct-message commands, tracks in-flight verification
// conversations, and forwards Trello comment events.
type Bot struct {
	chat      Chat
	trello    TrelloAPI
	directory Directory
	pipeline  Runner
	hostname  string // externally visible, used for webhook callback URLs

	debugUserNames []string // when set, the sweep covers only these Slack names

	mu       sync.Mutex
	sessions map[string]*verify.Flow
}

func New(chat Chat, trello TrelloAPI, directory Directory, pipeline Runner, hostname string) *Bot {
	return &Bot{
		chat:      chat,
		trello:    trello,
		directory: directory,
		pipeline:  pipeline,
		hostname:  hostname,
		sessions:  make(map[string]*verify.Flow),
	}
}

// SetDebugUsers narrows the verification sweep to the given Slack usernames.
func (b *Bot) SetDebugUsers(names []string) {
	b.debugUserNames = names
}

// HandleMessage dispatches one direct message. A user with an active
// verification conversation has every reply routed into it; everyone else
// gets command matching. Unrecognised messages are ignored.
func (b *Bot) HandleMessage(ctx context.Context, userID, text string) {
	b.mu.Lock()
	flow := b.sessions[userID]
	b.mu.Unlock()

	if flow != nil {
		b.advanceFlow(ctx, userID, flow, text)
		return
	}

	switch strings.TrimSpace(strings.ToLower(text)) {
	case "notifications on":
		b.notificationsOn(ctx, userID)
	case "notifications off":
		b.notificationsOff(ctx, userID)
	case "check users":
		b.CheckUsers(ctx)
	case "late":
		b.pipeline.Run(ctx, userID)
	case "announce":
		b.pipeline.Run(ctx, "")
	}
}

func (b *Bot) advanceFlow(ctx context.Context, userID string, flow *verify.Flow, text string) {
	step, err := flow.Next(ctx, text)
	if err != nil {
		zap.L().Error("Could not save verified username", zap.String("user", userID), zap.Error(err))
	}

	for _, line := range step.Say {
		b.say(ctx, userID, line)
	}

	if step.State == verify.Done {
		b.mu.Lock()
		delete(b.sessions, userID)
		b.mu.Unlock()
	}
}

// CheckUsers walks the roster and opens a verification conversation with
// everyone who has no Trello username on file yet.
func (b *Bot) CheckUsers(ctx context.Context) {
	teammates, err := b.chat.Teammates(ctx)
	if err != nil {
		zap.L().Error("Couldn't retrieve user list", zap.Error(err))
		return
	}

	for _, user := range teammates {
		if len(b.debugUserNames) > 0 && !slices.Contains(b.debugUserNames, user.Name) {
			continue
		}

		rec, err := b.directory.Get(user.ID)
		if err != nil {
			// Treat the record as absent and ask anyway.
			zap.L().Warn("Could not read user record", zap.String("user", user.ID), zap.Error(err))
		}
		if rec != nil && rec.Trello != "" {
			continue
		}

		zap.L().Info("No Trello username on file", zap.String("user", user.Name))
		b.startVerification(ctx, user.ID)
	}
}

func (b *Bot) startVerification(ctx context.Context, userID string) {
	b.mu.Lock()
	if _, active := b.sessions[userID]; active {
		b.mu.Unlock()
		return
	}
	flow := verify.NewFlow(userID, trelloProber{b.trello}, directorySaver{b.directory})
	b.sessions[userID] = flow
	b.mu.Unlock()

	if err := b.chat.DirectMessage(ctx, userID, flow.Prompt()); err != nil {
		zap.L().Error("Couldn't send a Trello username request", zap.String("user", userID), zap.Error(err))
		b.mu.Lock()
		delete(b.sessions, userID)
		b.mu.Unlock()
	}
}

func (b *Bot) notificationsOn(ctx context.Context, userID string) {
	rec, err := b.directory.Get(userID)
	if err != nil {
		zap.L().Error("Could not find user data", zap.String("user", userID), zap.Error(err))
		return
	}
	if rec == nil || rec.Trello == "" {
		zap.L().Warn("No Trello username on file, cannot enable notifications", zap.String("user", userID))
		return
	}

	member, err := b.trello.Member(ctx, rec.Trello)
	if err != nil {
		zap.L().Error("Could not resolve Trello member", zap.String("trello", rec.Trello), zap.Error(err))
		return
	}

	callbackURL := fmt.Sprintf("http://%s/trello/webhook", b.hostname)
	webhookID, err := b.trello.CreateWebhook(ctx, callbackURL, member.ID)
	if err != nil {
		zap.L().Error("Error creating webhook", zap.String("user", userID), zap.Error(err))
		return
	}

	rec.TrelloWebhook = webhookID
	if err := b.directory.Save(rec); err != nil {
		zap.L().Error("Could not save webhook ID", zap.String("user", userID), zap.Error(err))
	}

	b.say(ctx, userID, "Trello notifications have been turned *on*.")
}

func (b *Bot) notificationsOff(ctx context.Context, userID string) {
	rec, err := b.directory.Get(userID)
	if err != nil {
		zap.L().Error("Could not find user data", zap.String("user", userID), zap.Error(err))
		return
	}
	if rec == nil || rec.TrelloWebhook == "" {
		zap.L().Warn("No webhook on file, nothing to turn off", zap.String("user", userID))
		return
	}

	if err := b.trello.DeleteWebhook(ctx, rec.TrelloWebhook); err != nil {
		zap.L().Error("Error deleting webhook", zap.String("user", userID), zap.Error(err))
		return
	}

	rec.TrelloWebhook = ""
	if err := b.directory.Save(rec); err != nil {
		zap.L().Error("Could not clear webhook ID", zap.String("user", userID), zap.Error(err))
	}

	b.say(ctx, userID, "Trello notifications have been turned *off*.")
}

// HandleCommentCard forwards a Trello commentCard event to the Slack user
// whose Trello username owns the model, unless that user wrote the comment
// themselves. Anything else is ignored.
func (b *Bot) HandleCommentCard(ctx context.Context, payload *models.TrelloWebhookPayload) {
	if payload.Action.Type != "commentCard" {
		return
	}

	commenter := payload.Action.MemberCreator.Username
	owner := payload.Model.Username
	if owner == "" || commenter == owner {
		return
	}

	users, err := b.directory.All()
	if err != nil {
		zap.L().Error("Couldn't retrieve users", zap.Error(err))
		return
	}

	for _, user := range users {
		if user.Trello != owner {
			continue
		}

		cardURL := fmt.Sprintf("https://trello.com/c/%s", payload.Action.Data.Card.ShortLink)
		attachment := slack.Attachment{
			Fallback: fmt.Sprintf("*%s* commented: %s", commenter, cardURL),
			Text:     payload.Action.Data.Text,
			Color:    attachmentColor,
			Fields: []slack.AttachmentField{
				{Title: "Card", Value: payload.Action.Data.Card.Name, Short: true},
				{Title: "Board", Value: payload.Action.Data.Board.Name, Short: true},
			},
		}

		text := fmt.Sprintf("*%s* <%s|commented>", commenter, cardURL)
		if err := b.chat.DirectMessage(ctx, user.ID, text, attachment); err != nil {
			zap.L().Error("Couldn't send comment notification", zap.String("user", user.ID), zap.Error(err))
		}
		return
	}
}

func (b *Bot) say(ctx context.Context, userID, text string) {
	if err := b.chat.DirectMessage(ctx, userID, text); err != nil {
		zap.L().Error("Could not reply to user", zap.String("user", userID), zap.Error(err))
	}
}

// trelloProber validates a candidate username by fetching its cards, which
// is the same call the pipeline makes later.
type trelloProber struct {
	trello TrelloAPI
}

func (p trelloProber) ProbeUsername(ctx context.Context, username string) error {
	_, err := p.trello.MemberCards(ctx, username)
	return err
}

type directorySaver struct {
	directory Directory
}

func (s directorySaver) SaveUsername(userID, trelloUsername string) error {
	return s.directory.Save(&models.UserRecord{ID: userID, Trello: trelloUsername})
}
