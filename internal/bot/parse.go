package bot

import (
	"errors"
	"strings"

	"github.com/bwmarrin/discordgo"

	"metro_alerts/internal/model"
)

// ParseAlertInput builds a validated alert from the modal fields.
// Blank fields are left empty and match anything.
func ParseAlertInput(userID, route, departure, direction string) (model.Alert, error) {
	a := model.Alert{UserID: userID}

	if route = strings.TrimSpace(route); route != "" {
		a.Route = &route
	}
	if departure = strings.TrimSpace(departure); departure != "" {
		a.Time = &departure
	}
	if direction = strings.TrimSpace(direction); direction != "" {
		d, err := model.ParseDirection(direction)
		if err != nil {
			return model.Alert{}, err
		}
		a.Direction = &d
	}

	if err := model.ValidateAlert(a); err != nil {
		return model.Alert{}, err
	}
	return a, nil
}

// inputErrorMessage turns an alert validation error into a reply for the user.
func inputErrorMessage(err error) string {
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		return msgSomethingWrong
	}
	switch ve.Field {
	case "time":
		return "Please write the origin departure time in the 24-hour format HH:MM."
	case "direction":
		return `Please write "IN" or "OUT" for the direction.`
	case "route":
		return "Please write a route number of at most 32 characters on one line."
	}
	return msgSomethingWrong
}

// modalValues collects text input values of a submitted modal by custom ID.
func modalValues(components []discordgo.MessageComponent) map[string]string {
	values := make(map[string]string)
	var walk func(cs []discordgo.MessageComponent)
	walk = func(cs []discordgo.MessageComponent) {
		for _, c := range cs {
			switch v := c.(type) {
			case *discordgo.ActionsRow:
				walk(v.Components)
			case discordgo.ActionsRow:
				walk(v.Components)
			case *discordgo.TextInput:
				values[v.CustomID] = v.Value
			case discordgo.TextInput:
				values[v.CustomID] = v.Value
			}
		}
	}
	walk(components)
	return values
}

func interactionUserID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
