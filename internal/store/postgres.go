package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	slug       TEXT UNIQUE NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	room_id     TEXT NOT NULL,
	nickname    TEXT NOT NULL,
	content     TEXT NOT NULL,
	font_family TEXT NOT NULL DEFAULT 'sans-serif',
	text_color  TEXT NOT NULL DEFAULT '#ffffff',
	avatar      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages (created_at);
`

// Postgres handles PostgreSQL database operations.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a new PostgreSQL store with a connection pool and
// makes sure the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Driver() string { return "postgres" }

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) Append(ctx context.Context, msg *protocol.ChatMessage) error {
	defer observe("postgres", "append", time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, nickname, content, font_family, text_color, avatar, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.RoomID, msg.Nickname, msg.Content, msg.FontFamily, msg.TextColor, msg.Avatar, msg.CreatedAt)
	return err
}

func (s *Postgres) Recent(ctx context.Context, roomID string, limit int) ([]protocol.ChatMessage, error) {
	defer observe("postgres", "recent", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, nickname, content, font_family, text_color, avatar, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, roomID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []protocol.ChatMessage
	for rows.Next() {
		var m protocol.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Nickname, &m.Content, &m.FontFamily, &m.TextColor, &m.Avatar, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(msgs)
	return msgs, nil
}

func (s *Postgres) Prune(ctx context.Context, before time.Time) (int64, error) {
	defer observe("postgres", "prune", time.Now())

	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) EnsureRoom(ctx context.Context, slug string) (*Room, error) {
	defer observe("postgres", "ensure_room", time.Now())

	slug, err := NormalizeSlug(slug)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rooms (id, slug) VALUES ($1, $2)
		ON CONFLICT (slug) DO NOTHING
	`, ulid.Make().String(), slug)
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, slug)
}

func (s *Postgres) GetRoom(ctx context.Context, slug string) (*Room, error) {
	slug, err := NormalizeSlug(slug)
	if err != nil {
		return nil, err
	}

	room := &Room{}
	err = s.pool.QueryRow(ctx, `
		SELECT id, slug, created_at FROM rooms WHERE slug = $1
	`, slug).Scan(&room.ID, &room.Slug, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	room.CreatedAt = room.CreatedAt.UTC()
	return room, nil
}
