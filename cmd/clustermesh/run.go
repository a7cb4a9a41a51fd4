package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dreamware/clustermesh/internal/cache"
	"github.com/dreamware/clustermesh/internal/cluster"
	"github.com/dreamware/clustermesh/internal/config"
	"github.com/dreamware/clustermesh/internal/coordstore"
	"github.com/dreamware/clustermesh/internal/hooks"
	"github.com/dreamware/clustermesh/internal/logging"
	"github.com/dreamware/clustermesh/internal/node"
	"github.com/dreamware/clustermesh/internal/realtime"
	"github.com/dreamware/clustermesh/internal/shutdown"
	"github.com/dreamware/clustermesh/internal/syncengine"
	"github.com/dreamware/clustermesh/internal/transport"
)

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Join the fleet and serve until a shutdown signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}

func run(ctx context.Context, configPath string) error {
	v, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := config.Unmarshal(v)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := zapcore.InfoLevel
	if cfg.Development {
		level = zapcore.DebugLevel
	}
	log := logging.New(level, cfg.Development)
	defer log.Sync() //nolint:errcheck

	pubAddr, err := transport.ResolveBindAddr(cfg.Bindings.Pub)
	if err != nil {
		return fmt.Errorf("bindings.pub: %w", err)
	}
	routerAddr, err := transport.ResolveBindAddr(cfg.Bindings.Router)
	if err != nil {
		return fmt.Errorf("bindings.router: %w", err)
	}

	store := coordstore.NewFromConfig(cfg.Redis.Addrs, cfg.Redis.Username, cfg.Redis.Password, cfg.Redis.DB, log.Logger)

	server := transport.NewServer(pubAddr, routerAddr, log.Logger)
	stopServer := make(chan struct{})
	defer close(stopServer)
	defer server.Shutdown(context.Background()) //nolint:errcheck
	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.ListenAndServe(stopServer) }()

	desc := cluster.NewNodeDescriptor(server.PubAddr(), server.RouterAddr())
	n := node.New(desc, store, server, cfg.Timers, log.Logger)

	hub := hooks.NewHub()

	indexCache := cache.NewIndexCache(hub, hooks.EventIndexCacheAdd, hooks.EventIndexCacheRemove)
	profiles := cache.NewRepository()
	roles := cache.NewRepository()
	validators := cache.NewValidators(nil)
	strategies := cache.NewStrategyRegistry()

	engine := syncengine.New(store, n.Replica, syncengine.Collaborators{
		Index:      indexCache,
		Profiles:   profiles,
		Roles:      roles,
		Validators: validators,
		Strategies: strategies,
	}, log.Logger)

	n.Handle(cluster.TopicSync, func(topic string, payload []byte) {
		_ = engine.Handle(ctx, payload)
	})
	for _, topic := range []string{cluster.TopicNotifyDocument, cluster.TopicNotifyUser, cluster.TopicAdminDump, cluster.TopicAdminResetSecurity, cluster.TopicAdminShutdown} {
		topic := topic
		n.Handle(topic, func(_ string, payload []byte) {
			// Standalone build: the host platform's controllers are the
			// real consumers; re-emit on the local bus for whatever the
			// deployment wired there.
			hub.Emit(topic, payload)
		})
	}

	bindings := &hooks.Bindings{
		Store:               store,
		Replica:             n.Replica,
		Node:                n,
		NodeUUID:            desc.UUID,
		Log:                 log.Logger,
		JoinAttemptInterval: cfg.Timers.JoinAttemptInterval,
	}
	bindings.Register(hub)

	overrides := realtime.New(n.Replica, cfg.Timers.WaitForMissingRooms, log.Logger)
	registerRealtimeRouters(server.Router, overrides, allowAllAuth{})

	sup := shutdown.New(n, store, n.Replica, desc.UUID, log.Logger)
	sup.Development = cfg.Development

	n.OnPeerStale(func(ctx context.Context, peer cluster.NodeDescriptor) {
		for _, index := range n.Replica.Indices() {
			for _, collection := range n.Replica.Collections(index) {
				if err := store.CleanNode(ctx, index, collection, peer.UUID); err != nil {
					log.Warn("cleanNode failed for stale peer", zap.String("peer", peer.UUID), zap.Error(err))
				}
			}
		}
		n.RemovePeer(peer.UUID)
		_ = engine.ReconcileAll(ctx)
	})

	if err := n.Join(ctx); err != nil {
		return fmt.Errorf("join fleet: %w", err)
	}
	if err := engine.ReconcileStrategies(ctx); err != nil {
		log.Warn("strategy hydration failed at join", zap.Error(err))
	}
	if err := engine.ReconcileAll(ctx); err != nil {
		log.Warn("state hydration failed at join", zap.Error(err))
	}
	n.Announce(ctx)
	log.Arm(hub)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go func() {
		defer sup.HandlePanic(context.Background())
		n.RunHeartbeat(heartbeatCtx)
	}()

	go sup.RegisterSignals(ctx)

	select {
	case err := <-serverErrCh:
		sup.AsyncFailure(context.Background(), err)
		sup.Trigger(context.Background())
		return err
	case <-ctx.Done():
		sup.Trigger(context.Background())
		return nil
	case <-sup.Done():
		return nil
	}
}

// registerRealtimeRouters exposes the cluster-aware realtime overrides
// on the router socket so any peer (or an operator tool dialing the
// router directly) can query fleet-wide counts and room lists.
func registerRealtimeRouters(router *transport.Router, overrides *realtime.Overrides, auth realtime.AuthChecker) {
	router.Handle("cluster:realtime:count", func(ctx context.Context, payload []byte) ([]byte, error) {
		var req struct {
			RoomID string `msgpack:"roomId"`
		}
		if err := msgpack.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		count, err := overrides.Count(ctx, req.RoomID)
		if err != nil {
			return nil, err
		}
		return msgpack.Marshal(struct {
			Count int64 `msgpack:"count"`
		}{Count: count})
	})

	router.Handle("cluster:realtime:list", func(ctx context.Context, payload []byte) ([]byte, error) {
		var req struct {
			Sorted bool `msgpack:"sorted"`
		}
		if err := msgpack.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if req.Sorted {
			// The sorted variant rides as ordered entry slices; a map
			// payload would shed the ordering the caller asked for.
			return msgpack.Marshal(overrides.ListSorted(ctx, auth))
		}
		return msgpack.Marshal(overrides.List(ctx, auth))
	})
}
