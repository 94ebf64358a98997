package slack

import (
	"context"
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"

	logx "relaybot/pkg/logx"
)

// Directory resolves Slack ids through the Web API. It implements
// relay.Directory.
type Directory struct {
	api *slackapi.Client
	log logx.Logger
}

func NewDirectory(api *slackapi.Client, log logx.Logger) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{api: api, log: log}
}

func (d *Directory) ResolveActor(ctx context.Context, actorID string) (string, error) {
	u, err := d.api.GetUserInfoContext(ctx, actorID)
	if err != nil {
		return "", fmt.Errorf("resolve actor %q: %w", actorID, err)
	}
	name := actorName(u)
	if name == "" {
		return "", fmt.Errorf("resolve actor %q: user has no name", actorID)
	}
	return name, nil
}

func (d *Directory) ResolveChannel(ctx context.Context, channelID string) (string, error) {
	ch, err := d.api.GetConversationInfoContext(ctx, &slackapi.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return "", fmt.Errorf("resolve channel %q: %w", channelID, err)
	}
	if ch == nil || strings.TrimSpace(ch.Name) == "" {
		return "", fmt.Errorf("resolve channel %q: conversation has no name", channelID)
	}
	return ch.Name, nil
}

// WhoAmI returns the user id behind the user token. On failure it logs a
// warning and returns "", which disables relaying rather than startup.
func (d *Directory) WhoAmI(ctx context.Context) string {
	resp, err := d.api.AuthTestContext(ctx)
	if err != nil {
		d.log.Warn("slack auth.test failed; mention filter disabled", logx.Err(err))
		return ""
	}
	d.log.Info("slack identity resolved", logx.String("user_id", resp.UserID), logx.String("team", resp.Team))
	return resp.UserID
}

// actorName prefers the real name, then the profile display name, then the
// handle.
func actorName(u *slackapi.User) string {
	if u == nil {
		return ""
	}
	for _, s := range []string{u.RealName, u.Profile.RealName, u.Profile.DisplayName, u.Name} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
