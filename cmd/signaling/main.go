package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mossy-p/p2p-call-signaling/config"
	"github.com/mossy-p/p2p-call-signaling/internal/candidate"
	"github.com/mossy-p/p2p-call-signaling/internal/handlers"
	"github.com/mossy-p/p2p-call-signaling/internal/redis"
	"github.com/mossy-p/p2p-call-signaling/internal/relay"
	"github.com/mossy-p/p2p-call-signaling/internal/room"
	"github.com/mossy-p/p2p-call-signaling/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()

	cmd := &cobra.Command{
		Use:          "signaling",
		Short:        "P2P call signaling relay",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), config.FromViper(v))
		},
	}

	flags := cmd.Flags()
	flags.String("port", v.GetString("port"), "HTTP listen port")
	flags.String("log-level", v.GetString("log_level"), "debug, info, warn, error")
	flags.Bool("require-auth", v.GetBool("require_auth"), "Require a token on the signaling socket")
	flags.Int("room-capacity", v.GetInt("room_capacity"), "Maximum members per room, 0 for unlimited")
	flags.Int("ready-threshold", v.GetInt("ready_threshold"), "Members needed before a room is ready")
	flags.String("candidate-types", v.GetString("candidate_types"), "Candidate origins the relay forwards (host,srflx,relay)")
	flags.Int("send-queue-size", v.GetInt("send_queue_size"), "Outbound messages buffered per connection")
	flags.Bool("redis", v.GetBool("redis_enabled"), "Mirror rooms and presence into Redis")

	for key, flag := range map[string]string{
		"port":            "port",
		"log_level":       "log-level",
		"require_auth":    "require-auth",
		"room_capacity":   "room-capacity",
		"ready_threshold": "ready-threshold",
		"candidate_types": "candidate-types",
		"send_queue_size": "send-queue-size",
		"redis_enabled":   "redis",
	} {
		v.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := cfg.Logger()

	policy, err := candidate.ParsePolicy(cfg.Rooms.CandidateTypes)
	if err != nil {
		return err
	}

	roomCfg := room.Config{Capacity: cfg.Rooms.Capacity, Threshold: cfg.Rooms.ReadyThreshold}
	if err := roomCfg.Validate(); err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := relay.NewHub(relay.Options{
		Room:      roomCfg,
		Policy:    policy,
		QueueSize: cfg.Rooms.SendQueueSize,
		Store:     st,
	}, log)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(log))
	handlers.New(hub, st, cfg, log).Routes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":       cfg.Port,
			"capacity":   cfg.Rooms.Capacity,
			"threshold":  cfg.Rooms.ReadyThreshold,
			"candidates": policy.String(),
			"auth":       cfg.RequireAuth,
		}).Info("Starting signaling server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, log *logrus.Entry) (store.Store, error) {
	if !cfg.Redis.Enabled {
		log.Info("Using in-memory room store")
		return store.NewMemory(), nil
	}

	// Connect to Redis
	st, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	log.WithField("addr", cfg.Redis.Host+":"+cfg.Redis.Port).Info("Redis connection established")
	return st, nil
}
