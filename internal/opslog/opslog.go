// Package opslog forwards error logs to an operator Telegram chat.
package opslog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const (
	defaultQueueSize = 64
	// Telegram rejects messages longer than this.
	maxMessageLen = 4096
)

// Sender delivers a message to Telegram.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type forwarder struct {
	sender  Sender
	chatID  int64
	queue   chan string
	limiter *rate.Limiter
	dropped atomic.Int64
}

// Handler is a slog.Handler that passes every record to the wrapped handler
// and queues ERROR records for the operator chat.
type Handler struct {
	next   slog.Handler
	fwd    *forwarder
	attrs  []string
	prefix string
}

// NewTelegram connects to the Bot API with token and forwards errors to chatID.
func NewTelegram(token string, chatID int64, next slog.Handler) (*Handler, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram api: %w", err)
	}
	return New(next, api, chatID), nil
}

// New wraps next and forwards errors through sender.
func New(next slog.Handler, sender Sender, chatID int64) *Handler {
	return newHandler(next, sender, chatID, defaultQueueSize)
}

func newHandler(next slog.Handler, sender Sender, chatID int64, queueSize int) *Handler {
	return &Handler{
		next: next,
		fwd: &forwarder{
			sender:  sender,
			chatID:  chatID,
			queue:   make(chan string, queueSize),
			limiter: rate.NewLimiter(rate.Every(3*time.Second), 5),
		},
	}
}

// Dropped returns how many records were discarded because the queue was full.
func (h *Handler) Dropped() int64 {
	return h.fwd.dropped.Load()
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelError || h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if r.Level >= slog.LevelError {
		select {
		case h.fwd.queue <- h.format(r):
		default:
			h.fwd.dropped.Add(1)
		}
	}
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	c.next = h.next.WithAttrs(attrs)
	for _, a := range attrs {
		c.attrs = appendAttr(c.attrs, h.prefix, a)
	}
	return c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.next = h.next.WithGroup(name)
	c.prefix = h.prefix + name + "."
	return c
}

func (h *Handler) clone() *Handler {
	return &Handler{
		next:   h.next,
		fwd:    h.fwd,
		attrs:  append([]string(nil), h.attrs...),
		prefix: h.prefix,
	}
}

func (h *Handler) format(r slog.Record) string {
	lines := []string{r.Level.String() + ": " + r.Message}
	lines = append(lines, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		lines = appendAttr(lines, h.prefix, a)
		return true
	})
	text := strings.Join(lines, "\n")
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen]
	}
	return text
}

func appendAttr(lines []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return lines
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			lines = appendAttr(lines, prefix, ga)
		}
		return lines
	}
	return append(lines, prefix+a.Key+"="+a.Value.String())
}

// Run sends queued records until ctx is cancelled. Send failures are
// reported through the wrapped handler only.
func (h *Handler) Run(ctx context.Context) {
	log := slog.New(h.next)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-h.fwd.queue:
			if err := h.fwd.limiter.Wait(ctx); err != nil {
				return
			}
			if _, err := h.fwd.sender.Send(tgbotapi.NewMessage(h.fwd.chatID, text)); err != nil {
				log.Warn("forward error log to telegram", "error", err)
			}
		}
	}
}
