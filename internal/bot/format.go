package bot

import (
	"fmt"
	"strings"
	"time"

	"metro_alerts/internal/model"
)

const (
	msgSomethingWrong = "Oops! Something went wrong."
	msgAccessDenied   = "Access denied."
	msgTestSent       = "Test alert sent. If you do not receive it, check that you can receive DMs from mutual server members."
	msgChooseDelivery = "Please select your preferred delivery method."
	msgSchoolRoute    = "School routes are extremely unlikely to be listed in the cancellations list on Metro's site, expect this alert to be inaccurate."

	testHeading     = "Test Alert"
	testText        = "This is a test alert. Alerts matching your filters will arrive here."
	deliveryHeading = "Delivery Method Changed"
)

// FormatPrompt renders the standing prompt text.
func FormatPrompt(now time.Time) string {
	return "Welcome to the Metro Cancellations Bot! This bot will send you a " +
		"DM or a message in a channel when your bus is cancelled. To get " +
		"started, click the button below to create an alert.\n\n" +
		"**TO DELETE AN ALERT USE THE /delete_alert COMMAND.**\n" +
		"Updated at " + now.Format("2006-01-02 15:04:05 MST")
}

// FormatAlert describes an alert in one line.
func FormatAlert(a model.Alert) string {
	route := "Any route"
	if a.Route != nil {
		route = "The " + *a.Route + " bus"
	}
	at := "at any time"
	if a.Time != nil {
		at = "at " + *a.Time
	}
	dir := "in either direction"
	if a.Direction != nil {
		dir = fmt.Sprintf("in the %s direction", *a.Direction)
	}
	return fmt.Sprintf("%s %s %s", route, at, dir)
}

// FormatAlertList formats a user's alerts for display.
func FormatAlertList(alerts []model.Alert) string {
	if len(alerts) == 0 {
		return "You have no alerts yet. Use Create Alert to add one."
	}
	var b strings.Builder
	b.WriteString("Your alerts:\n")
	for _, a := range alerts {
		fmt.Fprintf(&b, "\nID %d: %s", a.ID, FormatAlert(a))
	}
	return b.String()
}

// FormatDeliveryChanged is the confirmation for a delivery method change.
func FormatDeliveryChanged(m model.DeliveryMethod) string {
	label := "Discord DM"
	if m == model.DeliveryChannel {
		label = "Discord channel"
	}
	return "Your preferred delivery method has been set to " + label + "."
}

func isSchoolRoute(route string) bool {
	return strings.HasPrefix(route, "2")
}
