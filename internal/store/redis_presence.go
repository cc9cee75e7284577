package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineUsersKey = "online_users"
	statusTTL      = 24 * time.Hour
)

func userStatusKey(userID string) string {
	return fmt.Sprintf("user:%s:status", userID)
}

// RedisPresence mirrors the online set into redis so processes other than
// this server can read presence without querying the durable store. The
// wrapped Store stays authoritative for writes; reads prefer redis.
type RedisPresence struct {
	Store
	rdb *redis.Client
}

func NewRedisPresence(next Store, rdb *redis.Client) *RedisPresence {
	return &RedisPresence{Store: next, rdb: rdb}
}

// NewRedisClient connects and pings, the way the other redis users in this
// codebase family do it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func (r *RedisPresence) SetUserOnline(ctx context.Context, userID string, online bool) error {
	if err := r.Store.SetUserOnline(ctx, userID, online); err != nil {
		return err
	}

	ts := time.Now().Unix()
	pipe := r.rdb.TxPipeline()
	if online {
		pipe.SAdd(ctx, onlineUsersKey, userID)
		pipe.HSet(ctx, userStatusKey(userID), "status", "online", "updated_at", ts)
	} else {
		pipe.SRem(ctx, onlineUsersKey, userID)
		pipe.HSet(ctx, userStatusKey(userID), "status", "offline", "last_seen", ts, "updated_at", ts)
	}
	pipe.Expire(ctx, userStatusKey(userID), statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis presence mirror: %w", err)
	}
	return nil
}

func (r *RedisPresence) FindOnlineUsers(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, onlineUsersKey).Result()
	if err != nil {
		return r.Store.FindOnlineUsers(ctx)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RedisPresence) ResetPresence(ctx context.Context) error {
	if err := r.Store.ResetPresence(ctx); err != nil {
		return err
	}
	return r.rdb.Del(ctx, onlineUsersKey).Err()
}

func (r *RedisPresence) Close(ctx context.Context) error {
	err := r.Store.Close(ctx)
	if cerr := r.rdb.Close(); err == nil {
		err = cerr
	}
	return err
}
