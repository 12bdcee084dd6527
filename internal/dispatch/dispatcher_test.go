package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"

	"metro_alerts/internal/model"
	"metro_alerts/internal/storage"
)

type sentMessage struct {
	Key  string
	Body string
}

// mockTransport keeps per-surface history newest first and records every send.
type mockTransport struct {
	mu         sync.Mutex
	history    map[string][]Message
	sent       []sentMessage
	ensured    []string
	directErr  error
	surfaceErr error
	historyErr error
}

func newMockTransport() *mockTransport {
	return &mockTransport{history: make(map[string][]Message)}
}

func (m *mockTransport) SendDirect(_ context.Context, userID, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.directErr != nil {
		return m.directErr
	}
	m.record(userID, body)
	return nil
}

func (m *mockTransport) SendToSurface(_ context.Context, key, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.surfaceErr != nil {
		return m.surfaceErr
	}
	m.record(key, body)
	return nil
}

func (m *mockTransport) EnsureSurface(_ context.Context, key, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured = append(m.ensured, key+"/"+ownerID)
	return nil
}

func (m *mockTransport) RecentMessages(_ context.Context, s Surface, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	h := m.history[s.Key]
	if len(h) > limit {
		h = h[:limit]
	}
	return append([]Message(nil), h...), nil
}

func (m *mockTransport) record(key, body string) {
	m.sent = append(m.sent, sentMessage{Key: key, Body: body})
	m.history[key] = append([]Message{{FromSystem: true, Content: body}}, m.history[key]...)
}

func (m *mockTransport) getSent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func newTestStore(t *testing.T) *storage.DB {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enqueue(t *testing.T, s *storage.DB, n model.Notification) model.Notification {
	t.Helper()
	if _, err := s.Enqueue(context.Background(), &n); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return n
}

func TestDispatchDirect(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := newMockTransport()
	n := enqueue(t, store, model.Notification{Recipient: "42", Heading: "Cancellations", Text: "X50 cancelled", Hash: "h1"})

	if err := New(store, tr, newLogger()).DispatchPending(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	want := []sentMessage{{Key: "42", Body: "***Cancellations***\nX50 cancelled"}}
	if diff := cmp.Diff(want, tr.getSent()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}

	got, err := store.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Sent || got.SentAt == nil {
		t.Errorf("expected notification marked sent, got %+v", got)
	}
}

func TestDispatchChannelRoute(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := newMockTransport()
	if err := store.SetPreference(ctx, "42", model.PrefDeliveryMethod, string(model.DeliveryChannel)); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	enqueue(t, store, model.Notification{Recipient: "42", Heading: "Cancellations", Text: "X50 cancelled", Hash: "h1"})

	if err := New(store, tr, newLogger()).DispatchPending(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if diff := cmp.Diff([]string{"notification_delivery_42/42"}, tr.ensured); diff != "" {
		t.Errorf("ensured surfaces mismatch (-want +got):\n%s", diff)
	}
	want := []sentMessage{{Key: "notification_delivery_42", Body: "***Cancellations***\nX50 cancelled"}}
	if diff := cmp.Diff(want, tr.getSent()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected nothing pending, got %d", len(pending))
	}
}

func TestDispatchForbiddenFallsBackToChannel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := newMockTransport()
	tr.directErr = ErrForbidden
	original := enqueue(t, store, model.Notification{Recipient: "42", Heading: "Cancellations", Text: "X50 cancelled", Hash: "h1"})

	if err := New(store, tr, newLogger()).DispatchPending(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := store.GetNotification(ctx, original.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Sent {
		t.Error("original notification must stay pending")
	}

	value, ok, err := store.GetPreference(ctx, "42", model.PrefDeliveryMethod)
	if err != nil || !ok {
		t.Fatalf("get preference: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(string(model.DeliveryChannel), value); diff != "" {
		t.Errorf("delivery method mismatch (-want +got):\n%s", diff)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if diff := cmp.Diff(2, len(pending)); diff != "" {
		t.Fatalf("pending count mismatch (-want +got):\n%s", diff)
	}
	notice := pending[1]
	if notice.Hash == original.Hash {
		t.Errorf("notice reused the original hash %q", notice.Hash)
	}
	if diff := cmp.Diff("42", notice.Recipient); diff != "" {
		t.Errorf("notice recipient mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(fallbackHeading, notice.Heading); diff != "" {
		t.Errorf("notice heading mismatch (-want +got):\n%s", diff)
	}
	if len(tr.getSent()) != 0 {
		t.Errorf("nothing should have been delivered, got %+v", tr.getSent())
	}

	// The next cycle delivers both through the private channel.
	tr.directErr = nil
	if err := New(store, tr, newLogger()).DispatchPending(ctx); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	for _, m := range tr.getSent() {
		if m.Key != ChannelKey("42") {
			t.Errorf("expected delivery to %s, got %s", ChannelKey("42"), m.Key)
		}
	}
	if diff := cmp.Diff(2, len(tr.getSent())); diff != "" {
		t.Errorf("second cycle send count mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchOtherErrorStaysPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := newMockTransport()
	tr.directErr = errors.New("gateway timeout")
	enqueue(t, store, model.Notification{Recipient: "42", Text: "X50 cancelled", Hash: "h1"})

	if err := New(store, tr, newLogger()).DispatchPending(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if diff := cmp.Diff(1, len(pending)); diff != "" {
		t.Errorf("pending count mismatch (-want +got):\n%s", diff)
	}
	if _, ok, _ := store.GetPreference(ctx, "42", model.PrefDeliveryMethod); ok {
		t.Error("delivery method must not change on a non-forbidden error")
	}
}

func TestDispatchForbiddenOnChannelIsNotFallback(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := newMockTransport()
	tr.surfaceErr = ErrForbidden
	if err := store.SetPreference(ctx, "42", model.PrefDeliveryMethod, string(model.DeliveryChannel)); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	enqueue(t, store, model.Notification{Recipient: "42", Text: "X50 cancelled", Hash: "h1"})

	if err := New(store, tr, newLogger()).DispatchPending(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if diff := cmp.Diff(1, len(pending)); diff != "" {
		t.Errorf("pending count mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchSuppressesRepeatedHeading(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := newMockTransport()
	tr.history["42"] = []Message{{FromSystem: true, Content: "***Delays***\nBus A late"}}

	enqueue(t, store, model.Notification{Recipient: "42", Heading: "Delays", Text: "Bus B late", Hash: "b"})
	enqueue(t, store, model.Notification{Recipient: "42", Heading: "Alerts", Text: "Bus C cancelled", Hash: "c"})

	if err := New(store, tr, newLogger()).DispatchPending(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	want := []sentMessage{
		{Key: "42", Body: "Bus B late"},
		{Key: "42", Body: "***Alerts***\nBus C cancelled"},
	}
	if diff := cmp.Diff(want, tr.getSent()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchHistoryErrorKeepsHeading(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := newMockTransport()
	tr.historyErr = errors.New("missing access")
	enqueue(t, store, model.Notification{Recipient: "42", Heading: "Delays", Text: "Bus B late", Hash: "b"})

	if err := New(store, tr, newLogger()).DispatchPending(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	want := []sentMessage{{Key: "42", Body: "***Delays***\nBus B late"}}
	if diff := cmp.Diff(want, tr.getSent()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchUnavailableStoreIsFatal(t *testing.T) {
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	_ = store.Close()

	err = New(store, newMockTransport(), newLogger()).DispatchPending(context.Background())
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestNeedsHeading(t *testing.T) {
	tests := []struct {
		name    string
		history []Message
		heading string
		want    bool
	}{
		{
			name:    "empty history",
			heading: "Delays",
			want:    true,
		},
		{
			name:    "same heading from system",
			history: []Message{{FromSystem: true, Content: "***Delays***\nBus A late"}},
			heading: "Delays",
			want:    false,
		},
		{
			name: "body-only messages are skipped",
			history: []Message{
				{FromSystem: true, Content: "Bus B late"},
				{FromSystem: false, Content: "thanks"},
				{FromSystem: true, Content: "***Delays***\nBus A late"},
			},
			heading: "Delays",
			want:    false,
		},
		{
			name: "different heading interleaved",
			history: []Message{
				{FromSystem: true, Content: "***Alerts***\nBus C cancelled"},
				{FromSystem: true, Content: "***Delays***\nBus A late"},
			},
			heading: "Delays",
			want:    true,
		},
		{
			name:    "heading written by someone else",
			history: []Message{{FromSystem: false, Content: "***Delays***\nfake"}},
			heading: "Delays",
			want:    true,
		},
		{
			name:    "heading only as a prefix of a longer heading",
			history: []Message{{FromSystem: true, Content: "***Delays today***\nBus A late"}},
			heading: "Delays",
			want:    true,
		},
		{
			name:    "unterminated heading marker is plain text",
			history: []Message{{FromSystem: true, Content: "***Delays"}},
			heading: "Delays",
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NeedsHeading(tt.history, tt.heading)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("NeedsHeading() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetRate(t *testing.T) {
	d := New(newTestStore(t), newMockTransport(), newLogger())
	d.SetRate(5)
	if diff := cmp.Diff(5.0, float64(d.limiter.Limit())); diff != "" {
		t.Errorf("limit mismatch (-want +got):\n%s", diff)
	}
	d.SetRate(0)
	if d.limiter.Limit() != rate.Inf {
		t.Errorf("expected unlimited rate, got %v", d.limiter.Limit())
	}
}
