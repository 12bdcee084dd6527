package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"metro_alerts/internal/matcher"
	"metro_alerts/internal/model"
	"metro_alerts/internal/storage"
)

// DefaultMarker selects the announcements worth resolving.
const DefaultMarker = "Service Update"

// Source provides announcements and their content.
type Source interface {
	FetchAnnouncements(ctx context.Context) ([]model.Announcement, error)
	FetchParagraphs(ctx context.Context, url string) ([]string, error)
}

// ScrapeStore is the persistence the scrape job needs.
type ScrapeStore interface {
	storage.AlertStore
	storage.NotificationStore
}

// Scraper fetches announcements, matches them against alerts and queues notifications.
type Scraper struct {
	source Source
	store  ScrapeStore
	marker string
	log    *slog.Logger
}

// NewScraper creates a Scraper that only resolves announcements whose title contains marker.
func NewScraper(source Source, store ScrapeStore, marker string, log *slog.Logger) *Scraper {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Scraper{
		source: source,
		store:  store,
		marker: marker,
		log:    log,
	}
}

// Run performs one scrape-and-match cycle.
func (s *Scraper) Run(ctx context.Context) error {
	announcements, err := s.source.FetchAnnouncements(ctx)
	if err != nil {
		return fmt.Errorf("fetch announcements: %w", err)
	}

	var relevant []model.Announcement
	for _, a := range announcements {
		if s.isRelevant(a.Title) {
			relevant = append(relevant, a)
		}
	}
	if len(relevant) == 0 {
		s.log.Debug("no relevant announcements", "total", len(announcements))
		return nil
	}

	alerts, err := s.store.ListAlerts(ctx, "")
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil
	}

	created := 0
	for _, a := range relevant {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := s.processAnnouncement(ctx, a, alerts)
		created += n
		if errors.Is(err, storage.ErrUnavailable) {
			return err
		}
		if err != nil {
			s.log.Error("process announcement", "url", a.URL, "error", err)
		}
	}

	if created > 0 {
		s.log.Info("queued notifications", "count", created)
	}
	return nil
}

func (s *Scraper) isRelevant(title string) bool {
	return strings.Contains(strings.ToLower(title), strings.ToLower(s.marker))
}

func (s *Scraper) processAnnouncement(ctx context.Context, a model.Announcement, alerts []model.Alert) (int, error) {
	paragraphs, err := s.source.FetchParagraphs(ctx, a.URL)
	if err != nil {
		return 0, fmt.Errorf("fetch paragraphs: %w", err)
	}

	created := 0
	for _, p := range paragraphs {
		for _, alert := range matcher.Match(p, alerts) {
			n := model.Notification{
				Hash:      model.ContentHash(alert.UserID, a.URL, p),
				Heading:   a.Title,
				Text:      p,
				Recipient: alert.UserID,
			}
			res, err := s.store.Enqueue(ctx, &n)
			if err != nil {
				return created, fmt.Errorf("enqueue: %w", err)
			}
			if res.Status == storage.EnqueueDuplicate {
				s.log.Debug("notification already queued", "recipient", alert.UserID, "alert_id", alert.ID)
				continue
			}
			created++
		}
	}
	return created, nil
}
