package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"metro_alerts/internal/dispatch"
	"metro_alerts/internal/model"
)

// maxHistory is the largest page Discord returns for channel history.
const maxHistory = 100

// SendDirect sends body to the user's DM channel.
func (b *Bot) SendDirect(ctx context.Context, userID, body string) error {
	chID, err := b.dmChannel(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := b.api.ChannelMessageSend(chID, body, discordgo.WithContext(ctx)); err != nil {
		return classify(fmt.Errorf("send dm: %w", err))
	}
	return nil
}

// SendToSurface sends body to the private channel named key.
func (b *Bot) SendToSurface(ctx context.Context, key, body string) error {
	chID, err := b.surfaceChannel(ctx, key)
	if err != nil {
		return err
	}
	if _, err := b.api.ChannelMessageSend(chID, body, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send to %s: %w", key, err)
	}
	return nil
}

// EnsureSurface creates the private channel named key unless it exists.
// Only the owner and the bot can view it.
func (b *Bot) EnsureSurface(ctx context.Context, key, ownerID string) error {
	if _, ok := b.cachedChannel(key); ok {
		return nil
	}

	existing, err := b.findGuildChannel(ctx, key)
	if err != nil {
		return err
	}
	if existing != "" {
		b.cacheChannel(key, existing)
		return nil
	}

	overwrites := []*discordgo.PermissionOverwrite{
		// The @everyone role shares the guild's ID.
		{ID: b.cfg.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: ownerID, Type: discordgo.PermissionOverwriteTypeMember, Allow: discordgo.PermissionViewChannel},
	}
	if b.selfID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID: b.selfID, Type: discordgo.PermissionOverwriteTypeMember, Allow: discordgo.PermissionViewChannel,
		})
	}

	ch, err := b.api.GuildChannelCreateComplex(b.cfg.GuildID, discordgo.GuildChannelCreateData{
		Name:                 key,
		Type:                 discordgo.ChannelTypeGuildText,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create channel %s: %w", key, err)
	}

	b.cacheChannel(key, ch.ID)
	b.log.Info("created delivery channel", "channel", key, "channel_id", ch.ID, "user_id", ownerID)
	return nil
}

// RecentMessages returns up to limit messages of the surface, newest first.
func (b *Bot) RecentMessages(ctx context.Context, s dispatch.Surface, limit int) ([]dispatch.Message, error) {
	var (
		chID string
		err  error
	)
	if s.Method == model.DeliveryChannel {
		chID, err = b.surfaceChannel(ctx, s.Key)
	} else {
		chID, err = b.dmChannel(ctx, s.Key)
	}
	if err != nil {
		return nil, err
	}

	if limit > maxHistory {
		limit = maxHistory
	}
	msgs, err := b.api.ChannelMessages(chID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("channel history: %w", err)
	}

	out := make([]dispatch.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, dispatch.Message{
			FromSystem: b.isSelf(m),
			Content:    m.Content,
		})
	}
	return out, nil
}

func (b *Bot) isSelf(m *discordgo.Message) bool {
	return m.Author != nil && b.selfID != "" && m.Author.ID == b.selfID
}

func (b *Bot) dmChannel(ctx context.Context, userID string) (string, error) {
	b.mu.Lock()
	id, ok := b.dms[userID]
	b.mu.Unlock()
	if ok {
		return id, nil
	}

	ch, err := b.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(fmt.Errorf("open dm channel: %w", err))
	}

	b.mu.Lock()
	b.dms[userID] = ch.ID
	b.mu.Unlock()
	return ch.ID, nil
}

func (b *Bot) surfaceChannel(ctx context.Context, key string) (string, error) {
	if id, ok := b.cachedChannel(key); ok {
		return id, nil
	}
	id, err := b.findGuildChannel(ctx, key)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("channel %s does not exist", key)
	}
	b.cacheChannel(key, id)
	return id, nil
}

func (b *Bot) findGuildChannel(ctx context.Context, name string) (string, error) {
	chans, err := b.api.GuildChannels(b.cfg.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("list guild channels: %w", err)
	}
	for _, ch := range chans {
		if ch.Name == name {
			return ch.ID, nil
		}
	}
	return "", nil
}

func (b *Bot) cachedChannel(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.channels[key]
	return id, ok
}

func (b *Bot) cacheChannel(key, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[key] = id
}

// classify marks errors that mean the user does not accept direct messages.
func classify(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	forbidden := restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser {
		forbidden = true
	}
	if forbidden {
		return fmt.Errorf("%w: %w", dispatch.ErrForbidden, err)
	}
	return err
}
