package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	sqlite, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "chatlet.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	mr := miniredis.RunT(t)
	rs := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
	t.Cleanup(func() { rs.Close() })

	return map[string]Store{
		"memory": NewMemory(0),
		"sqlite": sqlite,
		"redis":  rs,
	}
}

func message(roomID, content string, at time.Time) *protocol.ChatMessage {
	return &protocol.ChatMessage{
		ID:         ulid.Make().String(),
		RoomID:     roomID,
		Nickname:   "alice",
		Content:    content,
		FontFamily: protocol.DefaultFontFamily,
		TextColor:  protocol.DefaultTextColor,
		CreatedAt:  at,
	}
}

func TestMessageLog(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

			for i := 0; i < MaxHistory+10; i++ {
				if err := s.Append(ctx, message("demo", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))); err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
			}
			if err := s.Append(ctx, message("other", "elsewhere", base)); err != nil {
				t.Fatalf("append other: %v", err)
			}

			got, err := s.Recent(ctx, "demo", 0)
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(got) != MaxHistory {
				t.Fatalf("recent returned %d messages, want %d", len(got), MaxHistory)
			}
			if got[0].Content != "m10" || got[len(got)-1].Content != fmt.Sprintf("m%d", MaxHistory+9) {
				t.Fatalf("window = %s..%s, want m10..m%d oldest first", got[0].Content, got[len(got)-1].Content, MaxHistory+9)
			}
			for i := 1; i < len(got); i++ {
				if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
					t.Fatalf("message %d out of order", i)
				}
			}

			few, _ := s.Recent(ctx, "demo", 3)
			if len(few) != 3 || few[2].Content != fmt.Sprintf("m%d", MaxHistory+9) {
				t.Fatalf("limit 3 returned %+v", few)
			}

			// Same millisecond: history keeps the order the IDs were assigned in.
			tie := base.Add(time.Hour)
			first := message("tie", "first", tie)
			first.Avatar = "https://example.com/a.png"
			second := message("tie", "second", tie)
			for _, m := range []*protocol.ChatMessage{first, second} {
				if err := s.Append(ctx, m); err != nil {
					t.Fatalf("append %s: %v", m.Content, err)
				}
			}
			tied, err := s.Recent(ctx, "tie", 0)
			if err != nil || len(tied) != 2 || tied[0].Content != "first" || tied[1].Content != "second" {
				t.Fatalf("same-millisecond history = %+v, %v", tied, err)
			}

			removed, err := s.Prune(ctx, base.Add(30*time.Second))
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			if removed < 30 {
				t.Fatalf("prune removed %d, want at least 30", removed)
			}
			after, _ := s.Recent(ctx, "demo", 0)
			if len(after) != MaxHistory+10-30 {
				t.Fatalf("after prune %d messages left, want %d", len(after), MaxHistory+10-30)
			}
		})
	}
}

func TestRoomRecords(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.GetRoom(ctx, "demo"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetRoom before create = %v, want ErrNotFound", err)
			}

			first, err := s.EnsureRoom(ctx, "Demo")
			if err != nil {
				t.Fatalf("ensure: %v", err)
			}
			second, err := s.EnsureRoom(ctx, "demo")
			if err != nil {
				t.Fatalf("ensure again: %v", err)
			}
			if first.ID != second.ID || first.Slug != "demo" {
				t.Fatalf("EnsureRoom not idempotent: %+v vs %+v", first, second)
			}

			got, err := s.GetRoom(ctx, "demo")
			if err != nil || got.ID != first.ID {
				t.Fatalf("GetRoom = %+v, %v", got, err)
			}

			if _, err := s.EnsureRoom(ctx, "bad slug!"); !errors.Is(err, ErrInvalidSlug) {
				t.Fatalf("EnsureRoom(bad) = %v, want ErrInvalidSlug", err)
			}
		})
	}
}

func TestMemoryRetain(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)
	now := time.Now()
	for i := 0; i < 5; i++ {
		m.Append(ctx, message("r", fmt.Sprintf("m%d", i), now.Add(time.Duration(i)*time.Millisecond)))
	}
	got, _ := m.Recent(ctx, "r", 10)
	if len(got) != 3 || got[0].Content != "m2" {
		t.Fatalf("retained %+v, want m2..m4", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "cassandra"}); err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
}

func TestJanitorSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	m := NewMemory(0)
	for i, age := range []time.Duration{3 * time.Hour, 2 * time.Hour, 10 * time.Minute} {
		m.Append(ctx, &protocol.ChatMessage{
			ID:        fmt.Sprintf("m%d", i),
			RoomID:    "r",
			Content:   "x",
			CreatedAt: now.Add(-age),
		})
	}

	j := NewJanitor(m, time.Hour, time.Minute)
	j.now = func() time.Time { return now }

	if removed := j.Sweep(ctx); removed != 2 {
		t.Fatalf("removed %d, want 2", removed)
	}
	left, _ := m.Recent(ctx, "r", 50)
	if len(left) != 1 || left[0].ID != "m2" {
		t.Fatalf("left = %+v", left)
	}
	if removed := j.Sweep(ctx); removed != 0 {
		t.Fatalf("second sweep removed %d", removed)
	}
}

func TestRedisSkipsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs := NewRedisWithClient(client, 0)
	t.Cleanup(func() { rs.Close() })

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := rs.Append(ctx, message("demo", "kept", at)); err != nil {
		t.Fatal(err)
	}
	for _, junk := range []string{"no-prefix", "01HBAD\n\xc1garbage"} {
		if err := client.ZAdd(ctx, roomMessagesKey("demo"), redis.Z{Score: float64(at.UnixMilli()), Member: junk}).Err(); err != nil {
			t.Fatal(err)
		}
	}

	got, err := rs.Recent(ctx, "demo", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Content != "kept" {
		t.Fatalf("recent = %+v", got)
	}
}
