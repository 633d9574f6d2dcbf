package integrations

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackClient wraps the Slack Web API with the two operations the bot
// needs: reading the roster and sending direct messages.
type SlackClient struct {
	API *slack.Client
}

func NewSlackClient(token string, opts ...slack.Option) *SlackClient {
	return &SlackClient{API: slack.New(token, opts...)}
}

// Teammates returns the active human members of the workspace: bots,
// restricted guests and deactivated accounts are filtered out.
func (sc *SlackClient) Teammates(ctx context.Context) ([]slack.User, error) {
	users, err := sc.API.GetUsersContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching user list: %w", err)
	}

	teammates := make([]slack.User, 0, len(users))
	for _, user := range users {
		// is_bot is false for slackbot. really?
		if user.IsBot || user.IsRestricted || user.IsUltraRestricted || user.Deleted || user.Name == "slackbot" {
			continue
		}
		teammates = append(teammates, user)
	}

	return teammates, nil
}

// DirectMessage opens (or reuses) the IM channel with the given user and
// posts one message there. A failure to open the conversation is returned
// to the caller, who logs it and moves on; nothing is retried.
func (sc *SlackClient) DirectMessage(ctx context.Context, userID, text string, attachments ...slack.Attachment) error {
	channel, _, _, err := sc.API.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		return fmt.Errorf("opening conversation with %s: %w", userID, err)
	}

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(attachments) > 0 {
		opts = append(opts, slack.MsgOptionAttachments(attachments...))
	}

	if _, _, err := sc.API.PostMessageContext(ctx, channel.ID, opts...); err != nil {
		return fmt.Errorf("posting message to %s: %w", userID, err)
	}

	return nil
}
