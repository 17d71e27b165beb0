package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/roster"
)

// Announce persists a new server row, setting FirstHeartbeat.
func (s *Store) Announce(ctx context.Context, srv *roster.Status) error {
	return s.putServer(ctx, srv)
}

// Heartbeat refreshes LastHeartbeat and capacity metrics for an
// already-announced server. Redis holds no separate row to update in
// place, so this simply rewrites the blob.
func (s *Store) Heartbeat(ctx context.Context, srv *roster.Status) error {
	return s.putServer(ctx, srv)
}

func (s *Store) putServer(ctx context.Context, srv *roster.Status) error {
	enc, err := json.Marshal(srv)
	if err != nil {
		return fmt.Errorf("jobrunr/redis: encode server: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, serverKey(srv.ID.String()), enc, 0)
	pipe.SAdd(ctx, serverIDsKey, srv.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobrunr/redis: announce server: %w", err)
	}
	return nil
}

// ListServers returns every announced server, regardless of liveness,
// ordered by FirstHeartbeat ascending.
func (s *Store) ListServers(ctx context.Context) ([]*roster.Status, error) {
	ids, err := s.client.SMembers(ctx, serverIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("jobrunr/redis: list servers: %w", err)
	}

	servers := make([]*roster.Status, 0, len(ids))
	for _, idStr := range ids {
		srv, getErr := s.getServer(ctx, idStr)
		if getErr != nil {
			continue // blob and index briefly diverged; skip
		}
		servers = append(servers, srv)
	}
	sort.Slice(servers, func(i, k int) bool { return servers[i].FirstHeartbeat.Before(servers[k].FirstHeartbeat) })
	return servers, nil
}

// RemoveTimedOut deletes announced servers whose LastHeartbeat is before
// cutoff, returning how many were removed.
func (s *Store) RemoveTimedOut(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, serverIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("jobrunr/redis: remove timed out smembers: %w", err)
	}

	n := 0
	for _, idStr := range ids {
		srv, getErr := s.getServer(ctx, idStr)
		if getErr != nil {
			continue
		}
		if srv.LastHeartbeat.Before(cutoff) {
			if removeErr := s.removeServer(ctx, idStr); removeErr != nil {
				return n, removeErr
			}
			n++
		}
	}
	return n, nil
}

// Remove deregisters a server explicitly, on graceful shutdown.
func (s *Store) Remove(ctx context.Context, serverID id.ServerID) error {
	return s.removeServer(ctx, serverID.String())
}

func (s *Store) removeServer(ctx context.Context, idStr string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, serverKey(idStr))
	pipe.SRem(ctx, serverIDsKey, idStr)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobrunr/redis: remove server: %w", err)
	}
	return nil
}

func (s *Store) getServer(ctx context.Context, idStr string) (*roster.Status, error) {
	data, err := s.client.Get(ctx, serverKey(idStr)).Result()
	if err != nil {
		return nil, err
	}
	var srv roster.Status
	if err := json.Unmarshal([]byte(data), &srv); err != nil {
		return nil, fmt.Errorf("jobrunr/redis: decode server: %w", err)
	}
	return &srv, nil
}
