package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
)

// RedisBackend stores each account as a hash under "account:<address>".
// Commits run in a MULTI/EXEC pipeline.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to addr. Keys are namespaced by prefix, which
// defaults to "account:".
func NewRedisBackend(addr, password string, db int, prefix string) *RedisBackend {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisBackendFromClient(rdb, prefix)
}

func NewRedisBackendFromClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "account:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) key(k solana.PublicKey) string { return r.prefix + k.String() }

func (r *RedisBackend) Get(ctx context.Context, key solana.PublicKey) (*contracts.Account, error) {
	fields, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	owner, err := solana.PublicKeyFromBase58(fields["owner"])
	if err != nil {
		return nil, fmt.Errorf("owner of %s: %w", key, err)
	}
	lamports, err := strconv.ParseUint(fields["lamports"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("lamports of %s: %w", key, err)
	}
	return &contracts.Account{Key: key, Owner: owner, Lamports: lamports, Data: []byte(fields["data"])}, nil
}

func (r *RedisBackend) Commit(ctx context.Context, writes []Write) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			k := r.key(w.Key)
			if w.Account == nil {
				pipe.Del(ctx, k)
				continue
			}
			pipe.HSet(ctx, k,
				"owner", w.Account.Owner.String(),
				"lamports", strconv.FormatUint(w.Account.Lamports, 10),
				"data", w.Account.Data,
			)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis commit: %w", err)
	}
	return nil
}

func (r *RedisBackend) Close() error { return r.client.Close() }
