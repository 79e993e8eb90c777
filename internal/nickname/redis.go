package nickname

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultTTL bounds how long a nickname outlives the process holding it.
const DefaultTTL = 2 * time.Minute

const keyPrefix = "chatlet:nickname:"

// releaseScript deletes the key only while it still belongs to this instance.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is the cross-process form of the registry. Each held nickname is a
// key owned by the instance that reserved it; Run refreshes the expiry of
// every key this instance holds so that keys of a crashed process disappear.
type Redis struct {
	client   *redis.Client
	instance string
	ttl      time.Duration

	mu   sync.Mutex
	held map[string]struct{}
}

// NewRedis wraps an existing client. A zero ttl selects DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client:   client,
		instance: uuid.NewString(),
		ttl:      ttl,
		held:     make(map[string]struct{}),
	}
}

func nicknameKey(nickname string) string {
	return keyPrefix + nickname
}

func (r *Redis) Reserve(ctx context.Context, nickname string) (bool, error) {
	ok, err := r.client.SetNX(ctx, nicknameKey(nickname), r.instance, r.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		r.mu.Lock()
		r.held[nickname] = struct{}{}
		r.mu.Unlock()
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, nickname string) error {
	r.mu.Lock()
	delete(r.held, nickname)
	r.mu.Unlock()

	return releaseScript.Run(ctx, r.client, []string{nicknameKey(nickname)}, r.instance).Err()
}

func (r *Redis) IsAvailable(ctx context.Context, nickname string) (bool, error) {
	n, err := r.client.Exists(ctx, nicknameKey(nickname)).Result()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Run refreshes held nicknames every third of the TTL until ctx is done.
func (r *Redis) Run(ctx context.Context) {
	logger := log.With().Str("component", "nickname").Logger()

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.refresh(ctx); err != nil {
				logger.Warn().Err(err).Msg("nickname keepalive failed")
			}
		}
	}
}

func (r *Redis) refresh(ctx context.Context) error {
	r.mu.Lock()
	names := make([]string, 0, len(r.held))
	for n := range r.held {
		names = append(names, n)
	}
	r.mu.Unlock()

	if len(names) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, n := range names {
		pipe.Expire(ctx, nicknameKey(n), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
