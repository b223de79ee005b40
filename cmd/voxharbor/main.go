// Command voxharbor is the engine's entrypoint: a cobra root command with
// two subcommands, "shard" and "controller", mirroring cli.py's
// service: controller|shard-<N> dispatch.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/voxharbor/engine/internal/autodiscover"
	"github.com/voxharbor/engine/internal/backfill"
	"github.com/voxharbor/engine/internal/batcher"
	"github.com/voxharbor/engine/internal/chatnet"
	"github.com/voxharbor/engine/internal/config"
	"github.com/voxharbor/engine/internal/controllerrpc"
	"github.com/voxharbor/engine/internal/logging"
	"github.com/voxharbor/engine/internal/metrics"
	"github.com/voxharbor/engine/internal/model"
	"github.com/voxharbor/engine/internal/msgrouter"
	"github.com/voxharbor/engine/internal/posttracker"
	"github.com/voxharbor/engine/internal/registry"
	"github.com/voxharbor/engine/internal/reqid"
	"github.com/voxharbor/engine/internal/session"
	"github.com/voxharbor/engine/internal/sessionpool"
	"github.com/voxharbor/engine/internal/shardclient"
	"github.com/voxharbor/engine/internal/shardrpc"
	"github.com/voxharbor/engine/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "voxharbor",
		Short: "Vox Harbor crawl engine",
	}

	var shardOverride int
	shardCmd := &cobra.Command{
		Use:   "shard",
		Short: "run one shard process: session pool, ingest, backfill, and the shard RPC surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("shard") {
				cfg.ShardNum = shardOverride
			}
			return runShard(cfg)
		},
	}
	shardCmd.Flags().IntVar(&shardOverride, "shard", 0, "override SHARD_NUM")

	controllerCmd := &cobra.Command{
		Use:   "controller",
		Short: "run the controller process: cross-shard HTTP surface and auto-discovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runController(cfg)
		},
	}

	root.AddCommand(shardCmd, controllerCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newDefaultClient is the chatnet.Client factory wired in for every loaded
// session. No concrete MTProto-backed implementation is part of this
// build (see DESIGN.md); chatnet.Fake stands in as the only available
// implementation of the chatnet.Client capability surface.
func newDefaultClient(model.Session) chatnet.Client {
	return chatnet.NewFake()
}

func runShard(cfg config.Config) error {
	log := logging.New()
	hook := logging.NewClickHouseHook(cfg.ShardNum)
	log = log.Hook(hook)

	gw, err := store.Open(store.Options{
		Host:     cfg.ClickHouseHost,
		Port:     cfg.ClickHousePort,
		Password: cfg.ClickHousePassword,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("shard: failed to open store")
		return err
	}
	defer gw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logs := store.NewLogStore(gw)
	go hook.Loop(ctx, logs, log)

	table, err := config.SessionTableName(cfg.Mode)
	if err != nil {
		log.Fatal().Err(err).Msg("shard: invalid mode")
		return err
	}

	sessions, broken, err := gw.LoadSessions(ctx, table, cfg.ShardNum)
	if err != nil {
		log.Fatal().Err(err).Msg("shard: failed to load sessions")
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	pool, err := sessionpool.Bootstrap(sessions, broken, newDefaultClient, sessionpool.Options{
		ActiveSessionsCount: cfg.ActiveSessionsCount,
		WrapperOptions: session.Options{
			MaxChatsForSession: cfg.MaxChatsForSession,
			MinChatMembers:     cfg.MinChatMembers,
			MinChannelMembers:  cfg.MinChannelMembers,
		},
		Redis: redisClient,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("shard: failed to bootstrap session pool")
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	batch := batcher.New(gw, log, 4)
	go batch.Run(ctx)

	backfillMgr := backfill.NewTaskManager(log, 8)
	go backfillMgr.Run(ctx)

	adapter := &backfillAdapter{
		shard:   cfg.ShardNum,
		manager: backfillMgr,
		pool:    pool,
		gw:      gw,
		log:     log,
	}

	var natsConn *nats.Conn
	if cfg.NatsURL != "" {
		natsConn, err = nats.Connect(cfg.NatsURL)
		if err != nil {
			log.Error().Err(err).Msg("shard: nats connect failed, advisory pub/sub disabled")
			natsConn = nil
		} else {
			defer natsConn.Close()
		}
	}

	reg := registry.New(registry.Options{
		Shard: cfg.ShardNum,
		Store: gw,
		Members: func() []registry.SessionMember {
			members := pool.Members()
			out := make([]registry.SessionMember, len(members))
			for i, mem := range members {
				out[i] = mem
			}
			return out
		},
		Backfill: adapter,
		Nats:     natsConn,
		Log:      log,
	})
	adapter.registry = reg

	router := msgrouter.New(msgrouter.Options{
		Shard:    cfg.ShardNum,
		Registry: reg,
		Batcher:  batch,
		Thresholds: msgrouter.Thresholds{
			MinChatMembers:    cfg.MinChatMembers,
			MinChannelMembers: cfg.MinChannelMembers,
		},
		Log: log,
	})
	adapter.router = router

	for _, mem := range pool.Members() {
		mem := mem
		mem.Client.RegisterPushHandler(func(msg chatnet.Message) {
			router.Route(ctx, mem, mem.Client, msg)
		})
	}

	go reg.Run(ctx)
	bootstrapBackfill(ctx, cfg.ShardNum, gw, backfillMgr, pool, router, log)

	tracker := posttracker.New(posttracker.Options{
		Shard:   cfg.ShardNum,
		Store:   gw,
		Batcher: batch,
		SessionFor: func(index int) posttracker.PostFetcher {
			mem, ok := pool.Member(index)
			if !ok {
				return nil
			}
			return mem
		},
		Log: log,
	})
	go tracker.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(reqid.Middleware())
	e.Use(m.Middleware())
	e.GET("/metrics", metrics.Handler())
	shardrpc.New(e, pool, log)

	addr := cfg.ShardHost + ":" + itoaPort(cfg.ShardPort)
	go func() {
		if err := e.Start(addr); err != nil {
			log.Error().Err(err).Msg("shard: http server stopped")
		}
	}()

	log.Info().Int("shard", cfg.ShardNum).Str("addr", addr).Msg("shard started")
	waitForSignal()
	cancel()
	return e.Shutdown(context.Background())
}

func runController(cfg config.Config) error {
	log := logging.New()

	gw, err := store.Open(store.Options{
		Host:     cfg.ClickHouseHost,
		Port:     cfg.ClickHousePort,
		Password: cfg.ClickHousePassword,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("controller: failed to open store")
		return err
	}
	defer gw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	clients := make(map[int]*shardclient.Client, len(cfg.ShardEndpoints))
	for shard := range cfg.ShardEndpoints {
		base, err := cfg.ShardURL(shard)
		if err != nil {
			log.Fatal().Err(err).Msg("controller: invalid shard endpoint")
			return err
		}
		clients[shard] = shardclient.New(shard, base)
	}
	shardClientFor := func(shard int) *shardclient.Client { return clients[shard] }

	e := echo.New()
	e.HideBanner = true
	e.Use(reqid.Middleware())
	e.Use(m.Middleware())
	e.GET("/metrics", metrics.Handler())

	srv := controllerrpc.New(e, controllerrpc.Options{
		Store:       gw,
		ShardClient: shardClientFor,
		ShardCount:  len(cfg.ShardEndpoints),
		Log:         log,
	})

	if cfg.AutoDiscover && !cfg.ReadOnly {
		loop := autodiscover.New(gw, controllerDiscoverer{srv: srv}, log)
		go loop.Run(ctx)
	}

	addr := cfg.ControllerHost + ":" + itoaPort(cfg.ControllerPort)
	go func() {
		if err := e.Start(addr); err != nil {
			log.Error().Err(err).Msg("controller: http server stopped")
		}
	}()

	log.Info().Str("addr", addr).Msg("controller started")
	waitForSignal()
	cancel()
	return e.Shutdown(context.Background())
}

// controllerDiscoverer adapts controllerrpc.Server's own discover logic to
// autodiscover.Discoverer, so the background loop joins chats through
// exactly the same least-loaded-shard path a Web UI request would use.
type controllerDiscoverer struct {
	srv *controllerrpc.Server
}

func (d controllerDiscoverer) Discover(ctx context.Context, joinString string, ignoreProtection bool) error {
	return d.srv.Discover(ctx, joinString, ignoreProtection)
}

// backfillAdapter implements registry.BackfillStarter, scheduling the
// "from latest" arm for a chat the registry just registered (§4.3, §4.6).
type backfillAdapter struct {
	shard   int
	manager *backfill.TaskManager
	pool    *sessionpool.Pool
	gw      *store.Gateway
	log     zerolog.Logger

	router   *msgrouter.Router
	registry *registry.Registry
}

func (a *backfillAdapter) StartBackfillFromLatest(chatID int64) {
	chat, ok := a.registry.Get(chatID)
	if !ok {
		return
	}
	mem, ok := a.pool.Member(chat.SessionIndex)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	_, max, err := a.gw.ChatMessageIDRange(ctx, chatID)
	if err != nil {
		a.log.Error().Err(err).Int64("chat_id", chatID).Msg("backfill: range lookup failed")
		return
	}

	a.manager.Schedule(backfill.NewTask(chatID, max, 0, mem, mem.Client, a.router, mem))
}

// bootstrapBackfill schedules the two startup arms (forward and
// from-earliest) for every chat this shard's sessions already own (§4.6).
func bootstrapBackfill(
	ctx context.Context,
	shard int,
	gw *store.Gateway,
	mgr *backfill.TaskManager,
	pool *sessionpool.Pool,
	router *msgrouter.Router,
	log zerolog.Logger,
) {
	chats, err := gw.LoadChats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("backfill bootstrap: failed to load chats")
		return
	}

	for _, c := range chats {
		if c.Shard != shard {
			continue
		}
		mem, ok := pool.Member(c.SessionIndex)
		if !ok {
			continue
		}

		min, max, err := gw.ChatMessageIDRange(ctx, c.ChatID)
		if err != nil {
			log.Error().Err(err).Int64("chat_id", c.ChatID).Msg("backfill bootstrap: range lookup failed")
			continue
		}

		mgr.Schedule(backfill.NewTask(c.ChatID, max, 0, mem, mem.Client, router, mem))
		if min > 0 {
			mgr.Schedule(backfill.NewTask(c.ChatID, min, 0, mem, mem.Client, router, mem))
		}
	}
}

func waitForSignal() {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc
}

func itoaPort(port int) string {
	return strconv.Itoa(port)
}
