package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// promptLookback is how many recent prompt channel messages are searched for the bot's own prompt.
const promptLookback = 10

// Custom IDs of the buttons and modal.
const (
	actionCreateAlert     = "create_alert"
	actionViewAlerts      = "view_alerts"
	actionTestAlert       = "test_alert"
	actionChangeDelivery  = "change_delivery"
	actionDeliveryDirect  = "delivery_dm"
	actionDeliveryChannel = "delivery_channel"

	modalNewAlert  = "new_alert"
	fieldRoute     = "route"
	fieldTime      = "time"
	fieldDirection = "direction"
)

// action is a named button of a view.
type action struct {
	ID    string
	Label string
	Style discordgo.ButtonStyle
}

// view is a set of actions rendered as one row of buttons.
type view []action

var (
	promptView = view{
		{ID: actionCreateAlert, Label: "Create Alert", Style: discordgo.SuccessButton},
		{ID: actionViewAlerts, Label: "View Alerts", Style: discordgo.PrimaryButton},
		{ID: actionTestAlert, Label: "Send test alert", Style: discordgo.SecondaryButton},
		{ID: actionChangeDelivery, Label: "Change delivery method", Style: discordgo.SecondaryButton},
	}
	deliveryView = view{
		{ID: actionDeliveryDirect, Label: "Discord DM", Style: discordgo.SecondaryButton},
		{ID: actionDeliveryChannel, Label: "Discord Channel", Style: discordgo.SecondaryButton},
	}
)

// Components renders the view. Discord allows at most five buttons per row.
func (v view) Components() []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(v); start += 5 {
		end := min(start+5, len(v))
		row := discordgo.ActionsRow{}
		for _, a := range v[start:end] {
			row.Components = append(row.Components, discordgo.Button{
				Label:    a.Label,
				Style:    a.Style,
				CustomID: a.ID,
			})
		}
		rows = append(rows, row)
	}
	return rows
}

// RefreshPrompt posts the standing prompt in the prompt channel, or edits the
// bot's existing prompt among the most recent messages.
func (b *Bot) RefreshPrompt(ctx context.Context) error {
	chID := b.cfg.PromptChannelID
	content := FormatPrompt(time.Now())
	components := promptView.Components()

	msgs, err := b.api.ChannelMessages(chID, promptLookback, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("prompt channel history: %w", err)
	}

	for _, m := range msgs {
		if !b.isSelf(m) {
			continue
		}
		edit := discordgo.NewMessageEdit(chID, m.ID).SetContent(content)
		edit.Components = &components
		if _, err := b.api.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("edit prompt: %w", err)
		}
		return nil
	}

	if _, err := b.api.ChannelMessageSendComplex(chID, &discordgo.MessageSend{
		Content:    content,
		Components: components,
	}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}
	b.log.Info("posted prompt", "channel_id", chID)
	return nil
}

func newAlertModal() *discordgo.InteractionResponse {
	input := func(id, label, placeholder string) discordgo.MessageComponent {
		return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.TextInput{
				CustomID:    id,
				Label:       label,
				Style:       discordgo.TextInputShort,
				Placeholder: placeholder,
				MaxLength:   32,
			},
		}}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: modalNewAlert,
			Title:    "New Alert",
			Components: []discordgo.MessageComponent{
				input(fieldRoute, "Route Number", `E.G. "X50", "502"`),
				input(fieldTime, "Origin Departure Time (24-hour time)", `E.G. "13:12", "21:27"`),
				input(fieldDirection, "Direction", `Write "IN" or "OUT"`),
			},
		},
	}
}
