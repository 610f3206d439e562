package checkpoint

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Open creates a store from a driver name and DSN:
//
//	memory  (dsn ignored)
//	sqlite  file path or ":memory:"
//	redis   redis://[:password@]host:port/db
//	mongo   mongodb://host:port/database
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if dsn == "" {
			dsn = "agentgraph-checkpoints.db"
		}
		return NewSQLiteStore(dsn)
	case "redis":
		cfg, err := parseRedisDSN(dsn)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(cfg)
	case "mongo", "mongodb":
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mongo dsn: %w", err)
		}
		database := strings.TrimPrefix(u.Path, "/")
		if database == "" {
			database = "agentgraph"
		}
		return NewMongoStore(ctx, MongoConfig{URI: dsn, Database: database})
	default:
		return nil, fmt.Errorf("unknown checkpoint driver %q", driver)
	}
}

func parseRedisDSN(dsn string) (RedisConfig, error) {
	if dsn == "" {
		return RedisConfig{Addr: "localhost:6379"}, nil
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return RedisConfig{}, fmt.Errorf("parse redis dsn: %w", err)
	}
	return RedisConfig{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}, nil
}
