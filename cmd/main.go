package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/joho/godotenv"

	"presence/src/auth"
	"presence/src/bus"
	"presence/src/config"
	"presence/src/graph"
	"presence/src/kv"
	"presence/src/leaderboard"
	"presence/src/logging"
	"presence/src/metrics"
	"presence/src/middleware"
	"presence/src/presencestore"
	"presence/src/reaper"
	"presence/src/session"
	"presence/src/utils"
	"presence/src/version"
)

func main() {
	_ = godotenv.Load()
	logging.Configure()

	cfg := config.Load()
	logging.Log.WithField("version", version.Version).Info("starting presence core")

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	client := kv.NewRedisFromClient(rdb)

	store := presencestore.New(client, presencestore.Params{
		HeartbeatWindow: cfg.HeartbeatWindow,
		MinInterval:     cfg.MinHeartbeatInterval,
		ScoredSetPrefix: cfg.ScoredSetKeyPrefix,
		StateTTL:        cfg.StateTTL,
	})

	followStore := graph.NewRedisFollowStore(rdb)
	graphAdapter := graph.New(followStore, cfg.GraphCacheTTL, cfg.GraphCacheCapacity)
	defer graphAdapter.Close()

	fanout := bus.NewRedis(rdb)
	defer fanout.Close()

	shardKeyFor := func(userID int64) string { return kv.ShardKey(cfg.ScoredSetKeyPrefix, cfg.NumShards, userID) }
	stateKeyFor := func(userID int64) string { return kv.StateKey(cfg.StateKeyPrefix, userID) }

	identifier := auth.StaticHeader{}

	endpoint := session.NewEndpoint(session.Params{
		Store:            store,
		Graph:            graphAdapter,
		Bus:              fanout,
		Identifier:       identifier,
		ShardKeyFor:      shardKeyFor,
		StateKeyFor:      stateKeyFor,
		MaxSubscriptions: cfg.MaxSubscriptionsPerConn,
	})

	lbHandler := &leaderboard.Handler{
		Store:       store,
		Mutuals:     followStore,
		Profiles:    noProfileNames{},
		Identifier:  identifier,
		ShardKeyFor: shardKeyFor,
		StateKeyFor: stateKeyFor,
		Clock:       session.DefaultClock,
	}

	r := chi.NewRouter()
	middleware.Setup(r, cfg.BehindProxy)
	r.Get("/healthz", healthHandler)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/presence/leaderboard", lbHandler.ServeHTTP)
	r.Handle("/presence/ws", endpoint)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancelReaper := context.WithCancel(context.Background())
	loops := startReapers(ctx, cfg, store, fanout, shardKeyFor, stateKeyFor)

	go func() {
		logging.Log.WithField("addr", cfg.ListenAddr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("http server error")
		}
	}()

	waitForShutdown(srv, cancelReaper, loops)
}

// startReapers launches one polling loop per configured shard. Phases are
// randomized so multiple reapers deployed for HA rarely scan the same
// shard simultaneously.
func startReapers(ctx context.Context, cfg config.Config, store *presencestore.Store, b bus.Bus, shardKeyFor, stateKeyFor func(int64) string) []*reaper.Loop {
	loops := make([]*reaper.Loop, 0, cfg.NumShards)
	for _, shardKey := range kv.ShardKeys(cfg.ScoredSetKeyPrefix, cfg.NumShards) {
		shardKey := shardKey
		loop := reaper.NewLoop(reaper.Params{
			Store:        store,
			Bus:          b,
			ShardKey:     shardKey,
			StateKeyFor:  stateKeyFor,
			UserIDOf:     parseUserID,
			PollInterval: cfg.ReaperPollInterval,
			BatchSize:    int64(cfg.ReaperBatchSize),
		})
		loop.Start(ctx, reaper.RandomPhase(cfg.ReaperPollInterval))
		loops = append(loops, loop)
	}
	return loops
}

func waitForShutdown(srv *http.Server, cancelReaper context.CancelFunc, loops []*reaper.Loop) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logging.Log.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	cancelReaper()
	for _, loop := range loops {
		loop.Stop()
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// noProfileNames stands in for the durable profile service; local and
// test deployments have no profile service to call, so the leaderboard
// payload carries an empty name.
type noProfileNames struct{}

func (noProfileNames) ProfileName(ctx context.Context, userID int64) string { return "" }

// parseUserID recovers the numeric user id from a scored-set member
// string for the reaper's UserIDOf callback.
func parseUserID(member string) (int64, bool) {
	id, err := strconv.ParseInt(member, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
