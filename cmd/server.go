package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"tripsync/auth"
	"tripsync/collab"
	"tripsync/config"
	"tripsync/db/db"
	"tripsync/db/mem"
	"tripsync/db/pg"
	"tripsync/db/sqlite"
	"tripsync/docstore"
	"tripsync/ledger"
	"tripsync/mq/gcppubsub"
	"tripsync/mq/goch"
	"tripsync/mq/mq"
	"tripsync/mq/rabbit"
	"tripsync/trip"
	"tripsync/web"
)

func serverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long:  `This command starts the HTTP and WebSocket API backed by the configured document store and message queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			flags := cmd.Flags()
			if flags.Changed("dev") {
				cfg.IsDev, _ = flags.GetBool("dev")
			}
			if flags.Changed("port") {
				cfg.Port, _ = flags.GetString("port")
			}
			if flags.Changed("mq") {
				cfg.MQMode, _ = flags.GetString("mq")
			}
			if flags.Changed("db") {
				mode, _ := flags.GetString("db")
				cfg.DBMode = config.DBMode(mode)
			}
			if flags.Changed("policy") {
				cfg.ConflictPolicy, _ = flags.GetString("policy")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().Bool("dev", true, "Run in development mode")
	cmd.Flags().String("port", "8080", "Port to run the web server on")
	cmd.Flags().String("mq", string(mq.ModeGoChan), "Message queue mode (go_chan, rabbitmq, gcp_pub_sub)")
	cmd.Flags().String("db", string(config.DBModeMem), "Document store (mem, sqlite, pg)")
	cmd.Flags().String("policy", "lww", "Conflict policy for shared documents (lww, version)")

	return cmd
}

func runServer(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	docDB, closeDB, err := openDocDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	queue, err := openQueue(ctx, mq.Mode(cfg.MQMode))
	if err != nil {
		return err
	}
	defer queue.Close()

	opts, err := serviceOptions(cfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts.Metrics = collab.NewMetrics(registry)
	opts.Logger = slog.Default()

	store := docstore.New(docDB, queue, slog.Default().With("component", "docstore"))
	svc := trip.NewService(store, opts)
	defer svc.Close()

	webCfg := web.ServiceConfig{IsDev: cfg.IsDev, Port: cfg.Port, RateLimit: cfg.RateLimit}
	router := web.NewRouter(webCfg, web.Deps{
		Service:  svc,
		JWT:      auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL),
		Registry: registry,
		Logger:   slog.Default(),
	})

	slog.Info("starting server",
		"db", cfg.DBMode,
		"mq", cfg.MQMode,
		"policy", opts.Policy,
		"votes", opts.Votes.Name(),
	)
	return web.Serve(ctx, webCfg, router)
}

func serviceOptions(cfg config.Config) (trip.Options, error) {
	policy, err := collab.PolicyByName(cfg.ConflictPolicy)
	if err != nil {
		return trip.Options{}, err
	}
	votes, err := trip.VotePolicyByName(cfg.VotePolicy)
	if err != nil {
		return trip.Options{}, err
	}
	strategy, ok := ledger.StrategyByName(cfg.SettleStrategy)
	if !ok {
		return trip.Options{}, fmt.Errorf("unknown settle strategy %q", cfg.SettleStrategy)
	}
	return trip.Options{
		Policy:         policy,
		Votes:          votes,
		SettleStrategy: strategy,
		IdleTTL:        cfg.PoolIdleTTL,
		MaxReplicas:    int(cfg.PoolMaxReplicas),
	}, nil
}

func openDocDB(cfg config.Config) (db.DocDBWrapper, func(), error) {
	switch cfg.DBMode {
	case config.DBModeMem, "":
		return mem.NewInMemoryDocDBWrapper(), func() {}, nil
	case config.DBModeSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Error("failed to close sqlite", "error", err)
			}
		}, nil
	case config.DBModePG:
		gormDB, err := pg.InitPostgresGORM(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return pg.NewGORMDocDBWrapper(gormDB), func() { pg.CloseGORM(gormDB) }, nil
	}
	return nil, nil, fmt.Errorf("unknown db mode %q", cfg.DBMode)
}

func openQueue(ctx context.Context, mode mq.Mode) (mq.DocMessageQueue, error) {
	switch mode {
	case mq.ModeGoChan, "":
		return goch.NewChannelDocMessageQueue(64), nil
	case mq.ModeRabbitMQ:
		conn, err := rabbit.NewRabbitConnection(rabbit.CreateAmqpURL())
		if err != nil {
			return nil, err
		}
		q, err := rabbit.NewRabbitDocMessageQueue(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return q, nil
	case mq.ModeGCPPubSub:
		projectID, err := gcppubsub.GetGCPProjectID()
		if err != nil {
			return nil, err
		}
		return gcppubsub.NewGCPDocMessageQueue(ctx, projectID)
	}
	return nil, fmt.Errorf("unknown mq mode %q", mode)
}
