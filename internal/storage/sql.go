package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver registration.
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"metro_alerts/internal/metrics"
	"metro_alerts/internal/model"
	"metro_alerts/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// DB implements Storage on top of SQLite or Postgres.
type DB struct {
	db *sqlx.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*DB, error) {
	return Open("sqlite", dsn)
}

// Open connects to the database selected by driver ("sqlite" or "postgres")
// and runs pending migrations.
func Open(driverName, dsn string) (*DB, error) {
	sqlDriver, err := sqlDriverName(driverName)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}

	if sqlDriver == "sqlite" {
		// SQLite prefers a single writer; this also keeps ":memory:" on one connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=OFF",
		} {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
			}
		}
	} else if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driverName, err)
	}

	if err := migrations.Run(db.DB, driverName); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{db: db}, nil
}

func sqlDriverName(name string) (string, error) {
	switch name {
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "postgres", "pgx":
		return "pgx", nil
	}
	return "", fmt.Errorf("unsupported database driver %q", name)
}

// Close closes the underlying database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

type alertRow struct {
	ID        int64          `db:"id"`
	UserID    string         `db:"user_id"`
	Route     sql.NullString `db:"route"`
	Time      sql.NullString `db:"time"`
	Direction sql.NullString `db:"direction"`
	CreatedAt string         `db:"created_at"`
}

func (r alertRow) toModel() model.Alert {
	a := model.Alert{ID: r.ID, UserID: r.UserID}
	if r.Route.Valid {
		a.Route = &r.Route.String
	}
	if r.Time.Valid {
		a.Time = &r.Time.String
	}
	if r.Direction.Valid {
		d := model.Direction(r.Direction.String)
		a.Direction = &d
	}
	a.CreatedAt, _ = time.Parse(timeLayout, r.CreatedAt)
	return a
}

type notificationRow struct {
	ID        int64          `db:"id"`
	Hash      string         `db:"hash"`
	Heading   string         `db:"heading"`
	Text      string         `db:"text"`
	Recipient string         `db:"recipient"`
	Sent      int            `db:"sent"`
	CreatedAt string         `db:"time_created"`
	SentAt    sql.NullString `db:"time_sent"`
}

func (r notificationRow) toModel() model.Notification {
	n := model.Notification{
		ID:        r.ID,
		Hash:      r.Hash,
		Heading:   r.Heading,
		Text:      r.Text,
		Recipient: r.Recipient,
		Sent:      r.Sent == 1,
	}
	n.CreatedAt, _ = time.Parse(timeLayout, r.CreatedAt)
	if r.SentAt.Valid {
		t, _ := time.Parse(timeLayout, r.SentAt.String)
		n.SentAt = &t
	}
	return n
}

const (
	alertColumns        = `id, user_id, route, time, direction, created_at`
	notificationColumns = `id, hash, heading, text, recipient, sent, time_created, time_sent`
)

// CreateAlert validates and inserts a new alert, populating its ID and CreatedAt.
func (s *DB) CreateAlert(ctx context.Context, a *model.Alert) error {
	if err := model.ValidateAlert(*a); err != nil {
		return err
	}

	now := time.Now().UTC().Format(timeLayout)
	var direction *string
	if a.Direction != nil {
		d := string(*a.Direction)
		direction = &d
	}

	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(
		`INSERT INTO alerts (user_id, route, time, direction, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		a.UserID, a.Route, a.Time, direction, now,
	).Scan(&id)
	if err != nil {
		return wrapErr("insert alert", err)
	}
	a.ID = id
	a.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetAlert returns a single alert by its ID.
func (s *DB) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	var row alertRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+alertColumns+` FROM alerts WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get alert", err)
	}
	a := row.toModel()
	return &a, nil
}

// DeleteAlert removes an alert only if it belongs to userID. It reports whether a row was deleted.
func (s *DB) DeleteAlert(ctx context.Context, userID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM alerts WHERE user_id = ? AND id = ?`), userID, id)
	if err != nil {
		return false, wrapErr("delete alert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("rows affected", err)
	}
	return n > 0, nil
}

// ListAlerts returns the alerts of userID, or every alert when userID is empty.
func (s *DB) ListAlerts(ctx context.Context, userID string) ([]model.Alert, error) {
	var rows []alertRow
	var err error
	if userID == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+alertColumns+` FROM alerts ORDER BY id`)
	} else {
		err = s.db.SelectContext(ctx, &rows, s.db.Rebind(
			`SELECT `+alertColumns+` FROM alerts WHERE user_id = ? ORDER BY id`), userID)
	}
	if err != nil {
		return nil, wrapErr("query alerts", err)
	}

	alerts := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, r.toModel())
	}
	return alerts, nil
}

// GetPreference returns the value stored for (userID, key) and whether it exists.
func (s *DB) GetPreference(ctx context.Context, userID, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(
		`SELECT value FROM preferences WHERE user_id = ? AND key = ?`), userID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get preference", err)
	}
	return value, true, nil
}

// SetPreference inserts or overwrites the value for (userID, key).
func (s *DB) SetPreference(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO preferences (user_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value`),
		userID, key, value,
	)
	if err != nil {
		return wrapErr("upsert preference", err)
	}
	return nil
}

// Enqueue inserts a pending notification unless one with the same hash exists.
// A missing hash is replaced with a fresh one and a missing heading with model.DefaultHeading.
func (s *DB) Enqueue(ctx context.Context, n *model.Notification) (EnqueueResult, error) {
	if n.Hash == "" {
		n.Hash = model.FreshHash()
	}
	if n.Heading == "" {
		n.Heading = model.DefaultHeading
	}
	now := time.Now().UTC().Format(timeLayout)

	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(
		`INSERT INTO notifications (hash, heading, text, recipient, sent, time_created)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT (hash) DO NOTHING
		 RETURNING id`),
		n.Hash, n.Heading, n.Text, n.Recipient, now,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.NotificationsEnqueued.WithLabelValues(EnqueueDuplicate.String()).Inc()
		return EnqueueResult{Status: EnqueueDuplicate}, nil
	}
	if err != nil {
		return EnqueueResult{}, wrapErr("insert notification", err)
	}

	metrics.NotificationsEnqueued.WithLabelValues(EnqueueCreated.String()).Inc()
	n.ID = id
	n.Sent = false
	n.SentAt = nil
	n.CreatedAt, _ = time.Parse(timeLayout, now)
	return EnqueueResult{Status: EnqueueCreated, ID: id}, nil
}

// GetNotification returns a single notification by its ID.
func (s *DB) GetNotification(ctx context.Context, id int64) (*model.Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get notification", err)
	}
	n := row.toModel()
	return &n, nil
}

// ListPending returns every notification not yet sent, oldest first.
func (s *DB) ListPending(ctx context.Context) ([]model.Notification, error) {
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+notificationColumns+` FROM notifications WHERE sent = 0 ORDER BY id`)
	if err != nil {
		return nil, wrapErr("query pending notifications", err)
	}

	pending := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		pending = append(pending, r.toModel())
	}
	return pending, nil
}

// MarkSent flips a notification to sent and stamps time_sent.
// Marking an already sent notification is a no-op.
func (s *DB) MarkSent(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE notifications SET sent = 1, time_sent = ? WHERE id = ? AND sent = 0`), now, id)
	if err != nil {
		return wrapErr("mark sent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("rows affected", err)
	}
	if n > 0 {
		return nil
	}

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(
		`SELECT COUNT(*) FROM notifications WHERE id = ?`), id); err != nil {
		return wrapErr("check notification", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func wrapErr(op string, err error) error {
	if isConnErr(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnErr(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
