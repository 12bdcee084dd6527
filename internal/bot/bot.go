// Package bot implements the Discord side of the service: message delivery,
// the standing prompt and the interactive commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"metro_alerts/internal/config"
	"metro_alerts/internal/storage"
)

const readyTimeout = 30 * time.Second

type discordAPI interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// Bot is the Discord bot that handles user interactions and delivers notifications.
type Bot struct {
	api     discordAPI
	session *discordgo.Session
	store   storage.Storage
	cfg     *config.Config
	log     *slog.Logger

	selfID string
	appID  string

	mu       sync.Mutex
	channels map[string]string // surface key -> guild channel ID
	dms      map[string]string // user ID -> DM channel ID
}

// New creates a Bot with the configured Discord token, storage, and config.
func New(cfg *config.Config, store storage.Storage, log *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	b := newBot(session, store, cfg, log)
	b.session = session
	return b, nil
}

func newBot(api discordAPI, store storage.Storage, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		store:    store,
		cfg:      cfg,
		log:      log,
		channels: make(map[string]string),
		dms:      make(map[string]string),
	}
}

// Start connects to the gateway, waits for the session to become ready and
// registers the slash commands in the configured guild.
func (b *Bot) Start(ctx context.Context) error {
	ready := make(chan *discordgo.Ready, 1)
	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		select {
		case ready <- r:
		default:
		}
	})
	b.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handleInteraction(ctx, i.Interaction)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	select {
	case r := <-ready:
		b.selfID = r.User.ID
		b.appID = r.User.ID
		if r.Application != nil && r.Application.ID != "" {
			b.appID = r.Application.ID
		}
	case <-time.After(readyTimeout):
		_ = b.session.Close()
		return fmt.Errorf("discord session not ready after %s", readyTimeout)
	case <-ctx.Done():
		_ = b.session.Close()
		return ctx.Err()
	}

	if err := b.registerCommands(ctx); err != nil {
		_ = b.session.Close()
		return err
	}

	b.log.Info("discord session ready", "user_id", b.selfID, "guild_id", b.cfg.GuildID)
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

func (b *Bot) registerCommands(ctx context.Context) error {
	if _, err := b.api.ApplicationCommandBulkOverwrite(b.appID, b.cfg.GuildID, commands, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}
