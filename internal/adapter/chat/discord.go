// Package chat delivers formatted pipeline messages to a chat channel.
package chat

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/feedloom/curator/internal/domain"
)

// Discord implements domain.Publisher against one named text channel. The
// channel name is resolved to an id on the first send and cached; Discord
// channel ids are stable for the life of the channel.
type Discord struct {
	session     *discordgo.Session
	channelName string

	mu        sync.Mutex
	channelID string
}

// NewDiscord opens a gateway session for the given bot token. The session
// stays open for the process lifetime; Close shuts it down.
func NewDiscord(token, channelName string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("op=chat.discord: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("op=chat.discord: open: %w", err)
	}
	return &Discord{session: session, channelName: channelName}, nil
}

// Close shuts the gateway session down.
func (d *Discord) Close() error { return d.session.Close() }

// Send posts the message to the configured channel. Rate-limit responses are
// wrapped with ErrRateLimited so the publishing dispatcher can back off on a
// typed signal instead of string matching.
func (d *Discord) Send(_ domain.Context, message string) error {
	id, err := d.resolveChannel()
	if err != nil {
		return err
	}
	if _, err := d.session.ChannelMessageSend(id, message); err != nil {
		return mapSendErr(err)
	}
	return nil
}

// resolveChannel finds the text channel with the configured name across the
// guilds the bot is in.
func (d *Discord) resolveChannel() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channelID != "" {
		return d.channelID, nil
	}
	for _, guild := range d.session.State.Guilds {
		channels, err := d.session.GuildChannels(guild.ID)
		if err != nil {
			return "", mapSendErr(err)
		}
		for _, ch := range channels {
			if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == d.channelName {
				d.channelID = ch.ID
				return d.channelID, nil
			}
		}
	}
	return "", fmt.Errorf("op=chat.discord: channel #%s not found", d.channelName)
}

// mapSendErr attaches the rate-limit sentinel to Discord 429 responses and
// passes everything else through untouched.
func mapSendErr(err error) error {
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return fmt.Errorf("op=chat.discord: %w: retry after %s", domain.ErrRateLimited, rl.RetryAfter)
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == 429 {
		return fmt.Errorf("op=chat.discord: %w", domain.ErrRateLimited)
	}
	return fmt.Errorf("op=chat.discord: %w", err)
}
