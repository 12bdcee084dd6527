package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"metro_alerts/internal/model"
)

func (b *Bot) handleComponent(ctx context.Context, i *discordgo.Interaction, userID string) {
	action := i.MessageComponentData().CustomID

	b.log.Info("callback", "action", action, "user_id", userID)

	switch action {
	case actionCreateAlert:
		if err := b.api.InteractionRespond(i, newAlertModal(), discordgo.WithContext(ctx)); err != nil {
			b.log.Error("open alert modal", "error", err)
		}
	case actionViewAlerts:
		b.replyAlerts(ctx, i, userID, "")
	case actionTestAlert:
		b.handleTestAlert(ctx, i, userID)
	case actionChangeDelivery:
		b.respond(ctx, i, msgChooseDelivery, deliveryView.Components())
	case actionDeliveryDirect:
		b.setDelivery(ctx, i, userID, model.DeliveryDirect)
	case actionDeliveryChannel:
		b.setDelivery(ctx, i, userID, model.DeliveryChannel)
	}
}

func (b *Bot) handleTestAlert(ctx context.Context, i *discordgo.Interaction, userID string) {
	n := model.Notification{
		Hash:      model.FreshHash(),
		Heading:   testHeading,
		Text:      testText,
		Recipient: userID,
	}
	if _, err := b.store.Enqueue(ctx, &n); err != nil {
		b.log.Error("enqueue test alert", "user_id", userID, "error", err)
		b.respond(ctx, i, msgSomethingWrong, nil)
		return
	}
	b.replyAlerts(ctx, i, userID, msgTestSent)
}

func (b *Bot) handleModal(ctx context.Context, i *discordgo.Interaction, userID string) {
	data := i.ModalSubmitData()
	if data.CustomID != modalNewAlert {
		return
	}

	values := modalValues(data.Components)
	alert, err := ParseAlertInput(userID, values[fieldRoute], values[fieldTime], values[fieldDirection])
	if err != nil {
		b.respond(ctx, i, inputErrorMessage(err), nil)
		return
	}

	if err := b.store.CreateAlert(ctx, &alert); err != nil {
		if isInputError(err) {
			b.respond(ctx, i, inputErrorMessage(err), nil)
			return
		}
		b.log.Error("create alert", "user_id", userID, "error", err)
		b.respond(ctx, i, msgSomethingWrong, nil)
		return
	}
	b.log.Info("alert created", "alert_id", alert.ID, "user_id", userID)

	header := fmt.Sprintf("Your alert has been created: %s.", FormatAlert(alert))
	if alert.Route != nil && isSchoolRoute(*alert.Route) {
		header += "\n" + msgSchoolRoute
	}
	b.replyAlerts(ctx, i, userID, header)
}
