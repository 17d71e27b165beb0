package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/daniiell3/jobrunr/dlq"
	"github.com/daniiell3/jobrunr/id"
)

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	enc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("jobrunr/redis: encode dlq entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqKey(entry.ID.String()), enc, 0)
	pipe.SAdd(ctx, dlqIDsKey, entry.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobrunr/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, ordered by
// FailedAt ascending.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("jobrunr/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, idStr := range ids {
		e, getErr := s.getDLQ(ctx, idStr)
		if getErr != nil {
			continue
		}
		if opts.Queue != "" && e.Details.Queue != opts.Queue {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].FailedAt.Before(entries[k].FailedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	e, err := s.getDLQ(ctx, entryID.String())
	if err != nil {
		if isRedisNotFound(err) {
			return nil, dlq.ErrNotFound
		}
		return nil, fmt.Errorf("jobrunr/redis: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	e, err := s.getDLQ(ctx, entryID.String())
	if err != nil {
		if isRedisNotFound(err) {
			return dlq.ErrNotFound
		}
		return fmt.Errorf("jobrunr/redis: replay dlq get: %w", err)
	}

	now := time.Now().UTC()
	e.ReplayedAt = &now
	enc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("jobrunr/redis: encode dlq entry: %w", err)
	}
	if err := s.client.Set(ctx, dlqKey(entryID.String()), enc, 0).Err(); err != nil {
		return fmt.Errorf("jobrunr/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
// Returns the number of entries removed.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("jobrunr/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, idStr := range ids {
		e, getErr := s.getDLQ(ctx, idStr)
		if getErr != nil {
			continue
		}
		if !e.FailedAt.Before(before) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, dlqKey(idStr))
		pipe.SRem(ctx, dlqIDsKey, idStr)
		if _, execErr := pipe.Exec(ctx); execErr != nil {
			return purged, fmt.Errorf("jobrunr/redis: purge dlq del: %w", execErr)
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("jobrunr/redis: count dlq: %w", err)
	}
	return n, nil
}

func (s *Store) getDLQ(ctx context.Context, idStr string) (*dlq.Entry, error) {
	data, err := s.client.Get(ctx, dlqKey(idStr)).Result()
	if err != nil {
		return nil, err
	}
	var e dlq.Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("jobrunr/redis: decode dlq entry: %w", err)
	}
	return &e, nil
}
