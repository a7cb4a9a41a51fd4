// Package coordstore wraps the external key-value coordinator: a
// redis-compatible store offering hash/set primitives
// and four atomic scripts — subOn, subOff, cleanNode, getState — all
// keyed by a single hash tag per (index, collection) so a cluster
// deployment can co-locate them on one shard.
package coordstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dreamware/clustermesh/internal/cluster"
	"github.com/dreamware/clustermesh/internal/clustererr"
)

const (
	discoveryKey   = "cluster:discovery"
	strategiesKey  = "cluster:strategies"
	collectionsKey = "cluster:collections"
)

// Client is the coordinator store handle. It holds a pooled
// redis.Cmdable (satisfied by both *redis.Client and
// *redis.ClusterClient) plus the parsed Lua scripts.
type Client struct {
	rdb     redis.Cmdable
	scripts *scriptSet
	log     *zap.Logger
}

// New wraps an already-constructed redis.Cmdable. Callers pick
// *redis.NewClient (single node) or *redis.NewClusterClient (sharded)
// per the config.Redis.Addrs length.
func New(rdb redis.Cmdable, log *zap.Logger) *Client {
	return &Client{rdb: rdb, scripts: newScriptSet(), log: log}
}

// NewFromConfig builds the appropriate redis.Cmdable for the given
// address list and wraps it.
func NewFromConfig(addrs []string, username, password string, db int, log *zap.Logger) *Client {
	if len(addrs) > 1 {
		rdb := redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Username: username,
			Password: password,
		})
		return New(rdb, log)
	}
	addr := "127.0.0.1:6379"
	if len(addrs) == 1 {
		addr = addrs[0]
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})
	return New(rdb, log)
}

// SubOn runs the subOn script for one (index, collection) tag. It
// returns the new version and the fleet-wide total for the room.
func (c *Client) SubOn(ctx context.Context, index, collection, nodeUUID, roomID, connectionID string, filter []byte) (version, total int64, err error) {
	tag := cluster.Tag(index, collection)
	f := "none"
	if len(filter) > 0 {
		f = string(filter)
	}
	res, err := c.scripts.subOn.Run(ctx, c.rdb, tagKeys(tag), nodeUUID, roomID, connectionID, f).Result()
	if err != nil {
		return 0, 0, clustererr.New(clustererr.KindTransientCoordinator, "coordstore.SubOn", err)
	}
	return unpackVersionTotal(res)
}

// SubOff runs the subOff script for one tag.
func (c *Client) SubOff(ctx context.Context, index, collection, nodeUUID, roomID, connectionID string) (version, total int64, err error) {
	tag := cluster.Tag(index, collection)
	res, err := c.scripts.subOff.Run(ctx, c.rdb, tagKeys(tag), nodeUUID, roomID, connectionID).Result()
	if err != nil {
		return 0, 0, clustererr.New(clustererr.KindTransientCoordinator, "coordstore.SubOff", err)
	}
	return unpackVersionTotal(res)
}

// CleanNode removes every membership owned by nodeUUID under one tag.
// Safe to call more than once for the same node: subsequent calls
// find nothing left to remove.
func (c *Client) CleanNode(ctx context.Context, index, collection, nodeUUID string) error {
	tag := cluster.Tag(index, collection)
	_, err := c.scripts.cleanNode.Run(ctx, c.rdb, tagKeys(tag), nodeUUID).Result()
	if err != nil {
		return clustererr.New(clustererr.KindTransientCoordinator, "coordstore.CleanNode", err)
	}
	return nil
}

// GetState returns the authoritative snapshot for one tag: the
// current version and every room still alive under it.
func (c *Client) GetState(ctx context.Context, index, collection string) (cluster.StateSnapshot, error) {
	tag := cluster.Tag(index, collection)
	res, err := c.scripts.getState.Run(ctx, c.rdb, tagKeys(tag)).Result()
	if err != nil {
		return cluster.StateSnapshot{}, clustererr.New(clustererr.KindTransientCoordinator, "coordstore.GetState", err)
	}

	top, ok := res.([]interface{})
	if !ok || len(top) != 2 {
		return cluster.StateSnapshot{}, clustererr.New(clustererr.KindTransientCoordinator, "coordstore.GetState", fmt.Errorf("unexpected script reply shape: %#v", res))
	}

	version, err := toInt64(top[0])
	if err != nil {
		return cluster.StateSnapshot{}, clustererr.New(clustererr.KindTransientCoordinator, "coordstore.GetState", err)
	}

	rawRooms, _ := top[1].([]interface{})
	rooms := make([]cluster.Room, 0, len(rawRooms))
	for _, rr := range rawRooms {
		row, ok := rr.([]interface{})
		if !ok || len(row) != 3 {
			continue
		}
		roomID, _ := row[0].(string)
		count, err := toInt64(row[1])
		if err != nil {
			continue
		}
		var filter []byte
		if s, ok := row[2].(string); ok {
			filter = []byte(s)
		}
		rooms = append(rooms, cluster.Room{
			RoomID:     roomID,
			Index:      index,
			Collection: collection,
			Count:      count,
			Filter:     filter,
		})
	}

	return cluster.StateSnapshot{Version: version, Rooms: rooms}, nil
}

// AddDiscovery registers a node's bind addresses in the fleet-shared
// discovery set.
func (c *Client) AddDiscovery(ctx context.Context, nd cluster.NodeDescriptor) error {
	data, err := json.Marshal(nd)
	if err != nil {
		return clustererr.New(clustererr.KindInvalidInput, "coordstore.AddDiscovery", err)
	}
	if err := c.rdb.SAdd(ctx, discoveryKey, data).Err(); err != nil {
		return clustererr.New(clustererr.KindTransientCoordinator, "coordstore.AddDiscovery", err)
	}
	return nil
}

// RemoveDiscovery removes one node's entry from the discovery set.
// Idempotent: removing an absent member is a no-op.
func (c *Client) RemoveDiscovery(ctx context.Context, nd cluster.NodeDescriptor) error {
	data, err := json.Marshal(nd)
	if err != nil {
		return clustererr.New(clustererr.KindInvalidInput, "coordstore.RemoveDiscovery", err)
	}
	if err := c.rdb.SRem(ctx, discoveryKey, data).Err(); err != nil {
		return clustererr.New(clustererr.KindTransientCoordinator, "coordstore.RemoveDiscovery", err)
	}
	return nil
}

// Discovery returns every peer bind address currently registered.
func (c *Client) Discovery(ctx context.Context) ([]cluster.NodeDescriptor, error) {
	members, err := c.rdb.SMembers(ctx, discoveryKey).Result()
	if err != nil {
		return nil, clustererr.New(clustererr.KindTransientCoordinator, "coordstore.Discovery", err)
	}
	out := make([]cluster.NodeDescriptor, 0, len(members))
	for _, m := range members {
		var nd cluster.NodeDescriptor
		if err := json.Unmarshal([]byte(m), &nd); err != nil {
			c.log.Warn("discarding malformed discovery entry", zap.Error(err))
			continue
		}
		out = append(out, nd)
	}
	return out, nil
}

// SetStrategy registers or updates a strategy in the coordinator hash.
func (c *Client) SetStrategy(ctx context.Context, name string, plugin, strategy string) error {
	val, _ := json.Marshal(map[string]string{"plugin": plugin, "strategy": strategy})
	if err := c.rdb.HSet(ctx, strategiesKey, name, val).Err(); err != nil {
		return clustererr.New(clustererr.KindTransientCoordinator, "coordstore.SetStrategy", err)
	}
	return nil
}

// DeleteStrategy removes a strategy entry. Idempotent.
func (c *Client) DeleteStrategy(ctx context.Context, name string) error {
	if err := c.rdb.HDel(ctx, strategiesKey, name).Err(); err != nil {
		return clustererr.New(clustererr.KindTransientCoordinator, "coordstore.DeleteStrategy", err)
	}
	return nil
}

// Strategies returns the full authoritative strategy registry, used
// both to hydrate a newly-joined node and to diff against the local
// registration table on a `strategies` sync event.
func (c *Client) Strategies(ctx context.Context) (map[string]string, error) {
	m, err := c.rdb.HGetAll(ctx, strategiesKey).Result()
	if err != nil {
		return nil, clustererr.New(clustererr.KindTransientCoordinator, "coordstore.Strategies", err)
	}
	return m, nil
}

// AddCollection records an index/collection token so node cleanup
// knows which hash-tagged keyspaces to sweep.
func (c *Client) AddCollection(ctx context.Context, index, collection string) error {
	token := index + "/" + collection
	if err := c.rdb.SAdd(ctx, collectionsKey, token).Err(); err != nil {
		return clustererr.New(clustererr.KindTransientCoordinator, "coordstore.AddCollection", err)
	}
	return nil
}

// Collections enumerates every known index/collection token.
func (c *Client) Collections(ctx context.Context) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, collectionsKey).Result()
	if err != nil {
		return nil, clustererr.New(clustererr.KindTransientCoordinator, "coordstore.Collections", err)
	}
	return members, nil
}

func unpackVersionTotal(res interface{}) (int64, int64, error) {
	row, ok := res.([]interface{})
	if !ok || len(row) != 2 {
		return 0, 0, fmt.Errorf("unexpected script reply shape: %#v", res)
	}
	version, err := toInt64(row[0])
	if err != nil {
		return 0, 0, err
	}
	total, err := toInt64(row[1])
	if err != nil {
		return 0, 0, err
	}
	return version, total, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		var out int64
		_, err := fmt.Sscanf(n, "%d", &out)
		return out, err
	default:
		return 0, fmt.Errorf("unexpected numeric reply type %T", v)
	}
}
