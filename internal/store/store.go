// Package store persists chat messages and room records. Every backend
// keeps messages keyed by room and ordered by their server timestamp.
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/Medal-OF-Owner/Chatlet/internal/metrics"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

// MaxHistory is the largest window Recent will return.
const MaxHistory = 50

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidSlug = errors.New("invalid room slug")
)

// Room is the persisted record that maps a slug to a room identifier.
type Room struct {
	ID        string    `json:"id" msgpack:"id"`
	Slug      string    `json:"slug" msgpack:"slug"`
	CreatedAt time.Time `json:"createdAt" msgpack:"created_at"`
}

// MessageLog is the durable message log used by fan-out and join.
type MessageLog interface {
	// Append persists msg. msg.ID and msg.CreatedAt are assigned by the caller.
	Append(ctx context.Context, msg *protocol.ChatMessage) error

	// Recent returns up to limit of the newest messages in a room, oldest first.
	Recent(ctx context.Context, roomID string, limit int) ([]protocol.ChatMessage, error)

	// Prune removes messages created before the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// RoomStore resolves slugs to room records.
type RoomStore interface {
	EnsureRoom(ctx context.Context, slug string) (*Room, error)
	GetRoom(ctx context.Context, slug string) (*Room, error)
}

// Store is implemented by every backend.
type Store interface {
	MessageLog
	RoomStore

	Driver() string
	Ping(ctx context.Context) error
	Close() error
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// NormalizeSlug lowercases and validates a room slug.
func NormalizeSlug(slug string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(slug))
	if !slugPattern.MatchString(s) {
		return "", ErrInvalidSlug
	}
	return s, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxHistory {
		return MaxHistory
	}
	return limit
}

// reverse flips newest-first rows into oldest-first order.
func reverse(msgs []protocol.ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func observe(driver, op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(driver, op).Observe(time.Since(start).Seconds())
}
