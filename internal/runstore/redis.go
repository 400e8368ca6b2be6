package runstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"matrixci/internal/core"
)

const (
	runKeyPrefix = "matrixci:run:"
	runIndexKey  = "matrixci:runs" // zset scored by start time
)

// Redis stores each run as a JSON string plus an index sorted by start time.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &Redis{client: c}, nil
}

func runKey(id uuid.UUID) string { return runKeyPrefix + id.String() }

func (s *Redis) Save(ctx context.Context, run *core.RunResult) error {
	if run == nil {
		return errors.New("nil run")
	}
	data, err := encode(run)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, runKey(run.ID), data, 0)
		p.ZAdd(ctx, runIndexKey, redis.Z{Score: float64(run.StartedAt.UnixNano()), Member: run.ID.String()})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, id uuid.UUID) (*core.RunResult, error) {
	data, err := s.client.Get(ctx, runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return decode(data)
}

func (s *Redis) List(ctx context.Context, limit int) ([]*core.RunResult, error) {
	ids, err := s.client.ZRevRange(ctx, runIndexKey, 0, int64(clampLimit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(ids) == 0 {
		return []*core.RunResult{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = runKeyPrefix + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*core.RunResult, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // index entry without a body
		}
		run, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *Redis) Close() error { return s.client.Close() }
