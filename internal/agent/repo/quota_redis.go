package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chative-estimate/server/internal/agent/model"
	errx "github.com/chative-estimate/server/internal/core/error"
	logx "github.com/chative-estimate/server/pkg/logger"
)

// decrementScript lowers the counter but never below zero; -1 means the key is missing.
var decrementScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
local n = tonumber(v)
if n > 0 then n = redis.call('DECR', KEYS[1]) end
return n
`)

type RedisQuotaStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisQuotaStore(rdb redis.Cmdable, ttl time.Duration) *RedisQuotaStore {
	return &RedisQuotaStore{rdb: rdb, ttl: ttl}
}

func (r *RedisQuotaStore) key(clientID string) string {
	return fmt.Sprintf("chat:quota:%s", clientID)
}

func (r *RedisQuotaStore) Load(ctx context.Context, clientID string) (model.QuotaState, error) {
	n, err := r.rdb.Get(ctx, r.key(clientID)).Int()
	if errors.Is(err, redis.Nil) {
		return model.QuotaState{}, nil
	}
	if err != nil {
		logx.Error().Err(err).Str("client_id", clientID).Msg("failed to load quota")
		return model.QuotaState{}, errx.WrapRedis(err)
	}
	return model.QuotaState{Remaining: n, Initialized: true}, nil
}

func (r *RedisQuotaStore) Init(ctx context.Context, clientID string, limit int) (model.QuotaState, error) {
	if err := r.rdb.SetNX(ctx, r.key(clientID), limit, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("client_id", clientID).Msg("failed to initialise quota")
		return model.QuotaState{}, errx.WrapRedis(err)
	}
	return r.Load(ctx, clientID)
}

func (r *RedisQuotaStore) Decrement(ctx context.Context, clientID string) (model.QuotaState, error) {
	n, err := decrementScript.Run(ctx, r.rdb, []string{r.key(clientID)}).Int()
	if err != nil {
		logx.Error().Err(err).Str("client_id", clientID).Msg("failed to decrement quota")
		return model.QuotaState{}, errx.WrapRedis(err)
	}
	if n < 0 {
		return model.QuotaState{}, nil
	}
	return model.QuotaState{Remaining: n, Initialized: true}, nil
}

var _ model.QuotaStore = (*RedisQuotaStore)(nil)
