package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/chative-estimate/server/internal/agent/model"
	errx "github.com/chative-estimate/server/internal/core/error"
	logx "github.com/chative-estimate/server/pkg/logger"
)

const sessionSeqKey = "chat:session:seq"

// ErrSessionNotFound is returned when a turn targets an unknown session index.
var ErrSessionNotFound = errx.New(nil, http.StatusNotFound, "session not found")

type RedisSessionStore struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

func NewRedisSessionStore(rdb redis.Cmdable, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func (r *RedisSessionStore) metaKey(index int64) string {
	return fmt.Sprintf("chat:session:%d:meta", index)
}

func (r *RedisSessionStore) turnsKey(index int64) string {
	return fmt.Sprintf("chat:session:%d:turns", index)
}

func (r *RedisSessionStore) CreateOrAppendTurn(ctx context.Context, in model.TurnInput) (model.TurnOutput, error) {
	now := r.now().UTC()

	var index int64
	if in.SessionIndex == nil {
		n, err := r.rdb.Incr(ctx, sessionSeqKey).Result()
		if err != nil {
			logx.Error().Err(err).Str("key", sessionSeqKey).Msg("failed to allocate session index")
			return model.TurnOutput{}, errx.WrapRedis(err)
		}
		index = n
		if err := r.rdb.HSet(ctx, r.metaKey(index),
			"title", in.Title,
			"owner", in.UserID,
			"created_at", now.Format(time.RFC3339),
		).Err(); err != nil {
			logx.Error().Err(err).Int64("session_index", index).Msg("failed to write session meta")
			return model.TurnOutput{}, errx.WrapRedis(err)
		}
	} else {
		index = *in.SessionIndex
		if err := r.checkOwner(ctx, index, in.UserID); err != nil {
			return model.TurnOutput{}, fmt.Errorf("append to session %d: %w", index, err)
		}
	}

	b, err := sonic.Marshal(model.StoredTurn{
		Role:        in.Role,
		Content:     in.Content,
		Attachments: in.Attachments,
		Estimate:    in.Estimate,
		CreatedAt:   now.Format(time.RFC3339Nano),
	})
	if err != nil {
		logx.Error().Err(err).Int64("session_index", index).Msg("failed to marshal turn")
		return model.TurnOutput{}, fmt.Errorf("marshal turn: %w", err)
	}

	turnsKey := r.turnsKey(index)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, turnsKey, b)
		// extend TTL on touch
		if r.ttl > 0 {
			pipe.Expire(ctx, turnsKey, r.ttl)
			pipe.Expire(ctx, r.metaKey(index), r.ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", turnsKey).Msg("failed to push turn to redis")
		return model.TurnOutput{}, errx.WrapRedis(err)
	}

	return model.TurnOutput{ChatSession: &model.ChatSession{Index: index}}, nil
}

func (r *RedisSessionStore) LoadTurns(ctx context.Context, index int64, userID string) ([]model.StoredTurn, error) {
	if err := r.checkOwner(ctx, index, userID); err != nil {
		return nil, fmt.Errorf("load session %d: %w", index, err)
	}
	key := r.turnsKey(index)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to load turns from redis")
		return nil, errx.WrapRedis(err)
	}

	turns := make([]model.StoredTurn, 0, len(rows))
	for i, s := range rows {
		var t model.StoredTurn
		if err := sonic.UnmarshalString(s, &t); err != nil {
			logx.Error().Err(err).Int64("session_index", index).Int("index", i).Msg("failed to unmarshal turn")
			return nil, fmt.Errorf("unmarshal turn at index %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// checkOwner reports ErrSessionNotFound for missing sessions and for sessions
// owned by someone else.
func (r *RedisSessionStore) checkOwner(ctx context.Context, index int64, userID string) error {
	owner, err := r.rdb.HGet(ctx, r.metaKey(index), "owner").Result()
	if errors.Is(err, redis.Nil) {
		return ErrSessionNotFound
	}
	if err != nil {
		return errx.WrapRedis(err)
	}
	if owner != userID {
		logx.Warn().Int64("session_index", index).Str("user_id", userID).Msg("session owner mismatch")
		return ErrSessionNotFound
	}
	return nil
}

var _ model.SessionStore = (*RedisSessionStore)(nil)
