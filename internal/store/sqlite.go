package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

// SQLite handles SQLite database operations. Timestamps are stored as
// unix milliseconds so ordering does not depend on text formatting.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatlet.db"
func NewSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	if dbPath == "" {
		dbPath = "./data/chatlet.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLite{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLite) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id         TEXT PRIMARY KEY,
		slug       TEXT UNIQUE NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		room_id     TEXT NOT NULL,
		nickname    TEXT NOT NULL,
		content     TEXT NOT NULL,
		font_family TEXT NOT NULL DEFAULT 'sans-serif',
		text_color  TEXT NOT NULL DEFAULT '#ffffff',
		avatar      TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLite) Driver() string { return "sqlite" }

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Append(ctx context.Context, msg *protocol.ChatMessage) error {
	defer observe("sqlite", "append", time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, nickname, content, font_family, text_color, avatar, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, msg.Nickname, msg.Content, msg.FontFamily, msg.TextColor, msg.Avatar, msg.CreatedAt.UnixMilli())
	return err
}

func (s *SQLite) Recent(ctx context.Context, roomID string, limit int) ([]protocol.ChatMessage, error) {
	defer observe("sqlite", "recent", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, nickname, content, font_family, text_color, avatar, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, roomID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []protocol.ChatMessage
	for rows.Next() {
		var m protocol.ChatMessage
		var created int64
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Nickname, &m.Content, &m.FontFamily, &m.TextColor, &m.Avatar, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(msgs)
	return msgs, nil
}

func (s *SQLite) Prune(ctx context.Context, before time.Time) (int64, error) {
	defer observe("sqlite", "prune", time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLite) EnsureRoom(ctx context.Context, slug string) (*Room, error) {
	slug, err := NormalizeSlug(slug)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rooms (id, slug, created_at) VALUES (?, ?, ?)
	`, ulid.Make().String(), slug, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, slug)
}

func (s *SQLite) GetRoom(ctx context.Context, slug string) (*Room, error) {
	slug, err := NormalizeSlug(slug)
	if err != nil {
		return nil, err
	}

	room := &Room{}
	var created int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id, slug, created_at FROM rooms WHERE slug = ?
	`, slug).Scan(&room.ID, &room.Slug, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	room.CreatedAt = time.UnixMilli(created).UTC()
	return room, nil
}
