package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

const (
	messageTTL     = 24 * time.Hour
	roomsKey       = "chatlet:rooms"
	activeRoomsKey = "chatlet:rooms:with-messages"
)

// Redis keeps each room's log in a sorted set scored by creation time in
// milliseconds. Members are the message ID, a newline and the msgpack
// encoding, so equal scores fall back to ID order.
type Redis struct {
	client *redis.Client
	retain int
}

// NewRedis creates a new Redis store from a redis:// URL.
func NewRedis(ctx context.Context, redisURL string, retain int) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisWithClient(client, retain), nil
}

// NewRedisWithClient wraps an existing client, sharing it with other users
// such as the nickname registry.
func NewRedisWithClient(client *redis.Client, retain int) *Redis {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Redis{client: client, retain: retain}
}

// Client exposes the underlying connection.
func (s *Redis) Client() *redis.Client {
	return s.client
}

func (s *Redis) Driver() string { return "redis" }

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}

// roomMessagesKey returns the key for a room's message sorted set.
func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("chatlet:room:%s:messages", roomID)
}

func (s *Redis) Append(ctx context.Context, msg *protocol.ChatMessage) error {
	defer observe("redis", "append", time.Now())

	data, err := msgpack.Marshal(msg)
	if err != nil {
		return err
	}
	if strings.ContainsRune(msg.ID, '\n') {
		return fmt.Errorf("message id %q contains a newline", msg.ID)
	}

	key := roomMessagesKey(msg.RoomID)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.CreatedAt.UnixMilli()),
		Member: msg.ID + "\n" + string(data),
	})
	pipe.ZRemRangeByRank(ctx, key, 0, -int64(s.retain)-1)
	pipe.Expire(ctx, key, messageTTL)
	pipe.SAdd(ctx, activeRoomsKey, msg.RoomID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Redis) Recent(ctx context.Context, roomID string, limit int) ([]protocol.ChatMessage, error) {
	defer observe("redis", "recent", time.Now())

	results, err := s.client.ZRevRange(ctx, roomMessagesKey(roomID), 0, int64(clampLimit(limit))-1).Result()
	if err != nil {
		return nil, err
	}

	msgs := make([]protocol.ChatMessage, 0, len(results))
	for _, member := range results {
		_, data, ok := strings.Cut(member, "\n")
		var m protocol.ChatMessage
		if !ok {
			log.Warn().Str("room", roomID).Msg("skipping history entry without id prefix")
			continue
		}
		if err := msgpack.Unmarshal([]byte(data), &m); err != nil {
			log.Warn().Err(err).Str("room", roomID).Msg("skipping undecodable history entry")
			continue
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}

	reverse(msgs)
	return msgs, nil
}

func (s *Redis) Prune(ctx context.Context, before time.Time) (int64, error) {
	defer observe("redis", "prune", time.Now())

	roomIDs, err := s.client.SMembers(ctx, activeRoomsKey).Result()
	if err != nil {
		return 0, err
	}

	max := "(" + strconv.FormatInt(before.UnixMilli(), 10)

	var removed int64
	for _, roomID := range roomIDs {
		key := roomMessagesKey(roomID)
		n, err := s.client.ZRemRangeByScore(ctx, key, "-inf", max).Result()
		if err != nil {
			return removed, err
		}
		removed += n

		left, err := s.client.ZCard(ctx, key).Result()
		if err == nil && left == 0 {
			s.client.SRem(ctx, activeRoomsKey, roomID)
		}
	}
	return removed, nil
}

func (s *Redis) EnsureRoom(ctx context.Context, slug string) (*Room, error) {
	defer observe("redis", "ensure_room", time.Now())

	slug, err := NormalizeSlug(slug)
	if err != nil {
		return nil, err
	}

	data, err := msgpack.Marshal(&Room{ID: ulid.Make().String(), Slug: slug, CreatedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	if err := s.client.HSetNX(ctx, roomsKey, slug, data).Err(); err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, slug)
}

func (s *Redis) GetRoom(ctx context.Context, slug string) (*Room, error) {
	slug, err := NormalizeSlug(slug)
	if err != nil {
		return nil, err
	}

	data, err := s.client.HGet(ctx, roomsKey, slug).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var room Room
	if err := msgpack.Unmarshal(data, &room); err != nil {
		return nil, err
	}
	room.CreatedAt = room.CreatedAt.UTC()
	return &room, nil
}
