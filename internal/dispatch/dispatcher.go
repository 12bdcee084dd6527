// Package dispatch delivers pending notifications to their recipients.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"metro_alerts/internal/metrics"
	"metro_alerts/internal/model"
	"metro_alerts/internal/storage"
)

// ErrForbidden is returned by Transport.SendDirect when the recipient does not accept direct messages.
var ErrForbidden = errors.New("direct messages forbidden")

// HistoryWindow is how many recent messages are inspected for heading suppression.
const HistoryWindow = 100

const (
	fallbackHeading = "Delivery Method Changed"
	fallbackText    = "Your preferred delivery method has been set to Discord channel because you could not receive DMs from mutual server members."
)

// Surface identifies where a recipient's messages land.
type Surface struct {
	Method model.DeliveryMethod
	Key    string
}

// Message is one entry of a surface's history.
type Message struct {
	FromSystem bool
	Content    string
}

// Transport is the message delivery backend.
type Transport interface {
	SendDirect(ctx context.Context, userID, body string) error
	SendToSurface(ctx context.Context, key, body string) error
	// EnsureSurface creates the private surface if missing, readable only by ownerID.
	EnsureSurface(ctx context.Context, key, ownerID string) error
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, s Surface, limit int) ([]Message, error)
}

// Store is the persistence the dispatcher needs.
type Store interface {
	storage.PreferenceStore
	storage.NotificationStore
}

// ChannelKey returns the private surface key of a recipient.
func ChannelKey(userID string) string {
	return "notification_delivery_" + userID
}

// HeadingBlock renders the heading prefix placed before a notification body.
func HeadingBlock(heading string) string {
	return "***" + heading + "***\n"
}

// Dispatcher sends pending notifications through a Transport.
type Dispatcher struct {
	store     Store
	transport Transport
	log       *slog.Logger
	limiter   *rate.Limiter
}

// New creates a Dispatcher with unlimited delivery rate.
func New(store Store, transport Transport, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		transport: transport,
		log:       log,
		limiter:   rate.NewLimiter(rate.Inf, 1),
	}
}

// SetRate limits deliveries to perSecond messages. Zero or less removes the limit.
func (d *Dispatcher) SetRate(perSecond float64) {
	if perSecond <= 0 {
		d.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// DispatchPending attempts delivery of every pending notification once.
// Per-notification failures are logged and leave the notification pending;
// only storage.ErrUnavailable and context cancellation abort the run.
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	pending, err := d.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	d.log.Debug("dispatching notifications", "count", len(pending))

	sent := 0
	for _, n := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := d.deliver(ctx, n)
		if errors.Is(err, storage.ErrUnavailable) {
			return err
		}
		if err != nil {
			d.log.Error("deliver notification", "notification_id", n.ID, "recipient", n.Recipient, "error", err)
			continue
		}
		if ok {
			sent++
		}
	}

	if sent > 0 {
		d.log.Info("delivered notifications", "count", sent, "pending", len(pending)-sent)
	}
	return nil
}

// deliver sends one notification and reports whether it was marked sent.
func (d *Dispatcher) deliver(ctx context.Context, n model.Notification) (bool, error) {
	surface, err := d.route(ctx, n.Recipient)
	if err != nil {
		return false, err
	}

	if surface.Method == model.DeliveryChannel {
		if err := d.transport.EnsureSurface(ctx, surface.Key, n.Recipient); err != nil {
			metrics.DeliveryFailures.WithLabelValues(string(surface.Method), "surface").Inc()
			return false, fmt.Errorf("ensure surface %s: %w", surface.Key, err)
		}
	}

	body := n.Text
	if d.needsHeading(ctx, surface, n.Heading) {
		body = HeadingBlock(n.Heading) + n.Text
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return false, err
	}

	if surface.Method == model.DeliveryChannel {
		err = d.transport.SendToSurface(ctx, surface.Key, body)
	} else {
		err = d.transport.SendDirect(ctx, n.Recipient, body)
	}

	switch {
	case err == nil:
	case surface.Method == model.DeliveryDirect && errors.Is(err, ErrForbidden):
		metrics.DeliveryFailures.WithLabelValues(string(surface.Method), "forbidden").Inc()
		return false, d.fallback(ctx, n.Recipient)
	default:
		metrics.DeliveryFailures.WithLabelValues(string(surface.Method), "error").Inc()
		return false, fmt.Errorf("send: %w", err)
	}

	if err := d.store.MarkSent(ctx, n.ID); err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	metrics.NotificationsDelivered.WithLabelValues(string(surface.Method)).Inc()
	return true, nil
}

func (d *Dispatcher) route(ctx context.Context, recipient string) (Surface, error) {
	value, found, err := d.store.GetPreference(ctx, recipient, model.PrefDeliveryMethod)
	if err != nil {
		return Surface{}, fmt.Errorf("get delivery method: %w", err)
	}

	method, known := model.ParseDeliveryMethod(value)
	if found && !known {
		d.log.Warn("unknown delivery method, using direct messages", "recipient", recipient, "value", value)
	}

	if method == model.DeliveryChannel {
		return Surface{Method: method, Key: ChannelKey(recipient)}, nil
	}
	return Surface{Method: method, Key: recipient}, nil
}

// needsHeading reports whether the heading must be sent. A failed history
// lookup errs on the side of repeating the heading.
func (d *Dispatcher) needsHeading(ctx context.Context, s Surface, heading string) bool {
	history, err := d.transport.RecentMessages(ctx, s, HistoryWindow)
	if err != nil {
		d.log.Warn("read surface history", "surface", s.Key, "error", err)
		return true
	}
	return NeedsHeading(history, heading)
}

// NeedsHeading walks history newest first. The heading is omitted only when the
// first message carrying a heading block is system-authored and carries this heading.
func NeedsHeading(history []Message, heading string) bool {
	want := HeadingBlock(heading)
	for _, m := range history {
		block, ok := leadingHeading(m.Content)
		if !ok {
			continue
		}
		return !m.FromSystem || block != want
	}
	return true
}

func leadingHeading(content string) (string, bool) {
	if !strings.HasPrefix(content, "***") {
		return "", false
	}
	end := strings.Index(content[3:], "***\n")
	if end < 0 {
		return "", false
	}
	return content[:3+end+4], true
}

// fallback switches the recipient to channel delivery and queues a notice
// about the change. The failed notification stays pending.
func (d *Dispatcher) fallback(ctx context.Context, recipient string) error {
	if err := d.store.SetPreference(ctx, recipient, model.PrefDeliveryMethod, string(model.DeliveryChannel)); err != nil {
		return fmt.Errorf("set delivery method: %w", err)
	}

	notice := model.Notification{
		Hash:      model.FreshHash(),
		Heading:   fallbackHeading,
		Text:      fallbackText,
		Recipient: recipient,
	}
	if _, err := d.store.Enqueue(ctx, &notice); err != nil {
		return fmt.Errorf("enqueue fallback notice: %w", err)
	}

	metrics.DeliveryFallbacks.Inc()
	d.log.Info("direct messages forbidden, switched to channel delivery", "recipient", recipient)
	return nil
}
