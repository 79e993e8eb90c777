package store

import (
	"context"
	"fmt"
)

// Options selects and configures a backend.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	Retain      int
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemory(opts.Retain), nil
	case "sqlite":
		return NewSQLite(ctx, opts.SQLitePath)
	case "postgres":
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres driver requires DATABASE_URL")
		}
		return NewPostgres(ctx, opts.DatabaseURL)
	case "redis":
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("redis driver requires REDIS_URL")
		}
		return NewRedis(ctx, opts.RedisURL, opts.Retain)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
