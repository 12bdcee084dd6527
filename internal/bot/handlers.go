package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"metro_alerts/internal/model"
)

const (
	cmdAlerts      = "alerts"
	cmdDeleteAlert = "delete_alert"
	cmdDelivery    = "delivery"
)

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        cmdAlerts,
		Description: "Show your alerts.",
	},
	{
		Name:        cmdDeleteAlert,
		Description: "Delete one of your alerts.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "alert_id",
				Description: "The ID of the alert you want to delete.",
				Required:    true,
			},
		},
	},
	{
		Name:        cmdDelivery,
		Description: "Choose how alerts reach you.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "method",
				Description: "Delivery method.",
				Required:    true,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "Discord DM", Value: string(model.DeliveryDirect)},
					{Name: "Discord channel", Value: string(model.DeliveryChannel)},
				},
			},
		},
	},
}

func (b *Bot) handleInteraction(ctx context.Context, i *discordgo.Interaction) {
	userID := interactionUserID(i)
	if userID == "" {
		return
	}
	if !b.cfg.IsUserAllowed(userID) {
		b.respond(ctx, i, msgAccessDenied, nil)
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(ctx, i, userID)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, i, userID)
	case discordgo.InteractionModalSubmit:
		b.handleModal(ctx, i, userID)
	}
}

func (b *Bot) handleCommand(ctx context.Context, i *discordgo.Interaction, userID string) {
	data := i.ApplicationCommandData()
	b.log.Debug("command", "cmd", data.Name, "user_id", userID)

	switch data.Name {
	case cmdAlerts:
		b.replyAlerts(ctx, i, userID, "")
	case cmdDeleteAlert:
		opt := findOption(data.Options, "alert_id")
		if opt == nil || opt.Type != discordgo.ApplicationCommandOptionInteger {
			b.respond(ctx, i, "Usage: /delete_alert <alert_id>", nil)
			return
		}
		b.handleDeleteAlert(ctx, i, userID, opt.IntValue())
	case cmdDelivery:
		opt := findOption(data.Options, "method")
		if opt == nil || opt.Type != discordgo.ApplicationCommandOptionString {
			b.respond(ctx, i, "Usage: /delivery <method>", nil)
			return
		}
		method, ok := model.ParseDeliveryMethod(opt.StringValue())
		if !ok {
			b.respond(ctx, i, fmt.Sprintf("Unknown delivery method %q.", opt.StringValue()), nil)
			return
		}
		b.setDelivery(ctx, i, userID, method)
	default:
		b.respond(ctx, i, "Unknown command.", nil)
	}
}

func (b *Bot) handleDeleteAlert(ctx context.Context, i *discordgo.Interaction, userID string, id int64) {
	deleted, err := b.store.DeleteAlert(ctx, userID, id)
	if err != nil {
		b.log.Error("delete alert", "alert_id", id, "user_id", userID, "error", err)
		b.respond(ctx, i, msgSomethingWrong, nil)
		return
	}

	header := fmt.Sprintf("Alert with ID %d does not exist.", id)
	if deleted {
		header = fmt.Sprintf("Alert with ID %d has been deleted.", id)
		b.log.Info("alert deleted", "alert_id", id, "user_id", userID)
	}
	b.replyAlerts(ctx, i, userID, header)
}

// replyAlerts answers with the user's alerts below an optional header.
func (b *Bot) replyAlerts(ctx context.Context, i *discordgo.Interaction, userID, header string) {
	alerts, err := b.store.ListAlerts(ctx, userID)
	if err != nil {
		b.log.Error("list alerts", "user_id", userID, "error", err)
		b.respond(ctx, i, msgSomethingWrong, nil)
		return
	}

	content := FormatAlertList(alerts)
	if header != "" {
		content = header + "\n\n" + content
	}
	b.respond(ctx, i, content, promptView.Components())
}

func (b *Bot) setDelivery(ctx context.Context, i *discordgo.Interaction, userID string, method model.DeliveryMethod) {
	if err := b.store.SetPreference(ctx, userID, model.PrefDeliveryMethod, string(method)); err != nil {
		b.log.Error("set delivery method", "user_id", userID, "error", err)
		b.respond(ctx, i, msgSomethingWrong, nil)
		return
	}

	text := FormatDeliveryChanged(method)
	notice := model.Notification{
		Hash:      model.FreshHash(),
		Heading:   deliveryHeading,
		Text:      text,
		Recipient: userID,
	}
	if _, err := b.store.Enqueue(ctx, &notice); err != nil {
		b.log.Error("enqueue delivery confirmation", "user_id", userID, "error", err)
	}

	b.log.Info("delivery method changed", "user_id", userID, "method", method)
	b.respond(ctx, i, text, nil)
}

func (b *Bot) respond(ctx context.Context, i *discordgo.Interaction, content string, components []discordgo.MessageComponent) {
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: components,
			Flags:      discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		b.log.Error("respond to interaction", "interaction_id", i.ID, "error", err)
	}
}

func findOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, o := range opts {
		if o.Name == name {
			return o
		}
	}
	return nil
}

func isInputError(err error) bool {
	return errors.Is(err, model.ErrInvalidAlert)
}
