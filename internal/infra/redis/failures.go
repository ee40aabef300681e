package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

// failureTTL bounds how long any entry stays readable.
const failureTTL = 7 * 24 * time.Hour

// FailureRepo implements storage.FailureRepository using Redis.
//
// Pending ids live in a sorted set scored by last attempt time, mirrored in
// one set per source. Finished ids sit in a set scored by completion time.
// Payloads are JSON strings.
// A per-record key guards against queueing the same record twice.
type FailureRepo struct {
	rdb    *redis.Client
	prefix string
}

// NewFailureRepo creates a new Redis-backed failure repository.
func NewFailureRepo(client *Client, prefix string) *FailureRepo {
	if prefix == "" {
		prefix = "harvester"
	}
	return &FailureRepo{
		rdb:    client.rdb,
		prefix: prefix,
	}
}

// Key helpers
func (r *FailureRepo) queueKey() string {
	return fmt.Sprintf("%s:failures:pending", r.prefix)
}

func (r *FailureRepo) sourceQueueKey(source string) string {
	return fmt.Sprintf("%s:failures:pending:%s", r.prefix, source)
}

func (r *FailureRepo) finishedKey() string {
	return fmt.Sprintf("%s:failures:finished", r.prefix)
}

func (r *FailureRepo) failureKey(id string) string {
	return fmt.Sprintf("%s:failure:%s", r.prefix, id)
}

func (r *FailureRepo) recordKey(source, externalID string) string {
	return fmt.Sprintf("%s:failure_record:%s:%s", r.prefix, source, externalID)
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Add adds a failure to the queue.
func (r *FailureRepo) Add(ctx context.Context, f *domain.ImportFailure) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = domain.FailureStatusPending
	}
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.LastAttempt.IsZero() {
		f.LastAttempt = now
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal failure: %w", err)
	}

	ok, err := r.rdb.SetNX(ctx, r.recordKey(f.Source, f.ExternalID), f.ID, failureTTL).Result()
	if err != nil {
		return fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s/%s: %w", f.Source, f.ExternalID, storage.ErrDuplicateFailure)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		z := redis.Z{Score: score(f.LastAttempt), Member: f.ID}
		pipe.Set(ctx, r.failureKey(f.ID), data, failureTTL)
		pipe.ZAdd(ctx, r.queueKey(), z)
		pipe.ZAdd(ctx, r.sourceQueueKey(f.Source), z)
		return nil
	})
	if err != nil {
		// Undo everything so the record can be queued again.
		cleanup := context.WithoutCancel(ctx)
		_, undoErr := r.rdb.TxPipelined(cleanup, func(pipe redis.Pipeliner) error {
			pipe.Del(cleanup, r.recordKey(f.Source, f.ExternalID), r.failureKey(f.ID))
			pipe.ZRem(cleanup, r.queueKey(), f.ID)
			pipe.ZRem(cleanup, r.sourceQueueKey(f.Source), f.ID)
			return nil
		})
		return errors.Join(fmt.Errorf("failed to add failure: %w", err), undoErr)
	}
	return nil
}

// GetNext retrieves the pending failure attempted longest ago.
func (r *FailureRepo) GetNext(ctx context.Context, source string) (*domain.ImportFailure, error) {
	key := r.queueKey()
	if source != "" {
		key = r.sourceQueueKey(source)
	}

	ids, err := r.rdb.ZRange(ctx, key, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	f, err := r.load(ctx, ids[0])
	if errors.Is(err, storage.ErrFailureNotFound) {
		// Data expired but ID still in queue
		r.rdb.ZRem(ctx, key, ids[0])
		return nil, nil
	}
	return f, err
}

// IncrementRetry increments retry count and updates last attempt.
func (r *FailureRepo) IncrementRetry(ctx context.Context, id string, errMsg string) error {
	f, err := r.load(ctx, id)
	if err != nil {
		return err
	}

	f.RetryCount++
	f.LastAttempt = time.Now()
	if errMsg != "" {
		f.Error = errMsg
	}

	return r.store(ctx, f, func(pipe redis.Pipeliner) {
		z := redis.Z{Score: score(f.LastAttempt), Member: id}
		pipe.ZAdd(ctx, r.queueKey(), z)
		pipe.ZAdd(ctx, r.sourceQueueKey(f.Source), z)
	})
}

// MarkResolved marks a failure as successfully retried.
func (r *FailureRepo) MarkResolved(ctx context.Context, id string) error {
	return r.finish(ctx, id, domain.FailureStatusResolved)
}

// MarkIgnored marks a failure as given up.
func (r *FailureRepo) MarkIgnored(ctx context.Context, id string) error {
	return r.finish(ctx, id, domain.FailureStatusIgnored)
}

func (r *FailureRepo) finish(ctx context.Context, id string, status domain.FailureStatus) error {
	f, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	f.Status = status
	f.LastAttempt = time.Now()

	return r.store(ctx, f, func(pipe redis.Pipeliner) {
		pipe.ZRem(ctx, r.queueKey(), id)
		pipe.ZRem(ctx, r.sourceQueueKey(f.Source), id)
		pipe.ZAdd(ctx, r.finishedKey(), redis.Z{Score: score(f.LastAttempt), Member: id})
		pipe.Del(ctx, r.recordKey(f.Source, f.ExternalID))
	})
}

// Prune deletes failures finished before the given time.
func (r *FailureRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	upper := fmt.Sprintf("(%d", before.UnixMilli())
	ids, err := r.rdb.ZRangeByScore(ctx, r.finishedKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.failureKey(id))
		members = append(members, id)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, r.finishedKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune failures: %w", err)
	}
	return len(ids), nil
}

// GetAll retrieves all pending failures, oldest attempt first.
func (r *FailureRepo) GetAll(ctx context.Context, source string) ([]*domain.ImportFailure, error) {
	key := r.queueKey()
	if source != "" {
		key = r.sourceQueueKey(source)
	}

	ids, err := r.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	failures := make([]*domain.ImportFailure, 0, len(ids))
	for _, id := range ids {
		f, err := r.load(ctx, id)
		if errors.Is(err, storage.ErrFailureNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, nil
}

// Count returns the count of pending failures.
func (r *FailureRepo) Count(ctx context.Context, source string) (int, error) {
	key := r.queueKey()
	if source != "" {
		key = r.sourceQueueKey(source)
	}

	count, err := r.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}

func (r *FailureRepo) load(ctx context.Context, id string) (*domain.ImportFailure, error) {
	data, err := r.rdb.Get(ctx, r.failureKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrFailureNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failure: %w", err)
	}

	var f domain.ImportFailure
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failure: %w", err)
	}
	return &f, nil
}

func (r *FailureRepo) store(ctx context.Context, f *domain.ImportFailure, extra func(redis.Pipeliner)) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal failure: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.failureKey(f.ID), data, failureTTL)
		extra(pipe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update failure: %w", err)
	}
	return nil
}
