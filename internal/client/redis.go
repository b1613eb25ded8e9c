package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

type (
	// RedisTransport hands tasks to runners through a Redis list and reads
	// their results from a second list. Submitted envelopes are kept in a
	// pending hash until a result arrives, so queued tasks can be withdrawn
	RedisTransport struct {
		client      *redis.Client
		queue       string
		resultQueue string
		pending     string
		control     string
		pollTimeout time.Duration
	}

	// RedisConfig configures a RedisTransport
	RedisConfig struct {
		Addr        string
		Password    string
		DB          int
		Queue       string
		ResultQueue string
	}

	// ControlMessage is published when the engine gives up on a task
	ControlMessage struct {
		TaskID api.TaskID `json:"task_id"`
		Action string     `json:"action"`
	}
)

const (
	ActionAbort  = "abort"
	ActionExpire = "expire"

	defaultPollTimeout = time.Second
)

var _ Transport = (*RedisTransport)(nil)

// NewRedisTransport connects a transport to the configured Redis
func NewRedisTransport(cfg RedisConfig) *RedisTransport {
	return NewRedisTransportWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.Queue, cfg.ResultQueue)
}

// NewRedisTransportWithClient builds a transport over an existing client
func NewRedisTransportWithClient(
	client *redis.Client, queue, resultQueue string,
) *RedisTransport {
	return &RedisTransport{
		client:      client,
		queue:       queue,
		resultQueue: resultQueue,
		pending:     queue + ":pending",
		control:     queue + ":control",
		pollTimeout: defaultPollTimeout,
	}
}

// Submit pushes the task onto the work queue
func (t *RedisTransport) Submit(
	ctx context.Context, scope *api.Ambiance, req *api.TaskRequest,
) (api.TaskID, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	id := api.NewID[api.TaskID]()
	body, err := json.Marshal(TaskEnvelope{
		TaskID:  id,
		Scope:   scope,
		Request: req,
	})
	if err != nil {
		return "", err
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, t.pending, string(id), body)
		pipe.LPush(ctx, t.queue, body)
		return nil
	})
	if err != nil {
		slog.Error("Failed to enqueue task",
			slog.String("task_type", req.Type),
			log.Error(err))
		return "", err
	}
	return id, nil
}

// Abort withdraws a task that no runner has picked up yet and tells any
// runner holding it to stop. It reports false once the task has finished
func (t *RedisTransport) Abort(ctx context.Context, id api.TaskID) (bool, error) {
	found, err := t.withdraw(ctx, id)
	if err != nil || !found {
		return false, err
	}
	return true, t.publish(ctx, id, ActionAbort)
}

// Expire withdraws the task and notifies runners that the engine stopped
// waiting for it
func (t *RedisTransport) Expire(ctx context.Context, id api.TaskID) error {
	if _, err := t.withdraw(ctx, id); err != nil {
		return err
	}
	return t.publish(ctx, id, ActionExpire)
}

// Run consumes task results until the context is canceled, passing each
// to the handler. Handler failures are logged and the result dropped
func (t *RedisTransport) Run(ctx context.Context, handler ResultHandler) {
	for ctx.Err() == nil {
		res, err := t.client.BRPop(ctx, t.pollTimeout, t.resultQueue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Failed to read task result", log.Error(err))
				sleep(ctx, t.pollTimeout)
			}
			continue
		}

		var tr TaskResult
		if err := json.Unmarshal([]byte(res[1]), &tr); err != nil {
			slog.Warn("Malformed task result", log.Error(err))
			continue
		}
		if err := t.client.HDel(ctx, t.pending, string(tr.TaskID)).Err(); err != nil {
			slog.Warn("Failed to clear pending task",
				slog.String("task_id", string(tr.TaskID)),
				log.Error(err))
		}
		if err := handler(ctx, tr.TaskID, tr.Result); err != nil {
			slog.Error("Task result rejected",
				slog.String("task_id", string(tr.TaskID)),
				log.Error(err))
		}
	}
}

// Close releases the Redis connection
func (t *RedisTransport) Close() error {
	return t.client.Close()
}

func (t *RedisTransport) withdraw(
	ctx context.Context, id api.TaskID,
) (bool, error) {
	body, err := t.client.HGet(ctx, t.pending, string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, t.queue, 1, body)
		pipe.HDel(ctx, t.pending, string(id))
		return nil
	})
	return err == nil, err
}

func (t *RedisTransport) publish(
	ctx context.Context, id api.TaskID, action string,
) error {
	msg, err := json.Marshal(ControlMessage{TaskID: id, Action: action})
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, t.control, msg).Err()
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
