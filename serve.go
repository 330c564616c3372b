package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/johndosdos/dmchat/internal/auth"
	"github.com/johndosdos/dmchat/internal/broker"
	"github.com/johndosdos/dmchat/internal/chat"
	"github.com/johndosdos/dmchat/internal/config"
	"github.com/johndosdos/dmchat/internal/database"
	"github.com/johndosdos/dmchat/internal/handler"
	"github.com/johndosdos/dmchat/internal/images"
	"github.com/johndosdos/dmchat/internal/presence"
	ratelimiter "github.com/johndosdos/dmchat/internal/rate_limiter"
	"github.com/johndosdos/dmchat/internal/realtime"
	"github.com/johndosdos/dmchat/internal/store"
)

func newServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and realtime server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			slog.SetDefault(cfg.Logger())

			return serve(cmd.Context(), cfg, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")

	return cmd
}

func serve(ctx context.Context, cfg config.Config, migrate bool) error {
	slog.InfoContext(ctx, "starting application", "port", cfg.Port)

	// Init DB
	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("could not connect to the postgresql database: %w", err)
	}
	defer pool.Close()

	if migrate {
		if err := runMigrations(ctx, pool); err != nil {
			return err
		}
	}

	// Init NATS
	var hubOpts []realtime.Option
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = connectNats(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				slog.Warn("couldn't drain NATS conn", "error", err)
			}
		}()
	}

	imgs, err := images.NewDiskStore(cfg.UploadDir, cfg.UploadBaseURL, int(cfg.MaxBodyBytes))
	if err != nil {
		return err
	}

	db := store.NewPostgres(pool)

	var relay *broker.Relay
	if nc != nil {
		relay = broker.NewRelay(nc, uuid.NewString())
		hubOpts = append(hubOpts, realtime.WithRelay(relay))
	}

	// hub.Run is our central hub that is always listening for client related events.
	hub := realtime.NewHub(presence.NewRegistry[*realtime.Client](), hubOpts...)
	go hub.Run(ctx)

	if relay != nil {
		if err := relay.Subscribe(ctx, hub.DeliverRelayed); err != nil {
			return err
		}
	}

	proxies, err := ratelimiter.ParsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	limiter := ratelimiter.NewIPRateLimiter(ctx, ratelimiter.Options{
		Requests:       cfg.RateLimitRequests,
		Window:         cfg.RateLimitWindow,
		TrustedProxies: proxies,
		TTL:            3 * cfg.RateLimitWindow,
		Interval:       cfg.RateLimitWindow,
	})

	iss := auth.Issuer{
		Secret:         cfg.JWTSecret,
		Name:           cfg.JWTIssuer,
		TTL:            cfg.JWTTTL,
		InsecureCookie: !cfg.CookieSecure,
	}

	server := &http.Server{
		Addr: "0.0.0.0:" + cfg.Port,
		Handler: handler.Routes(handler.Deps{
			Chat:          chat.NewService(db, db, imgs, hub),
			Accounts:      db,
			Images:        imgs,
			Hub:           hub,
			Issuer:        iss,
			Limiter:       limiter,
			UploadDir:     imgs.Dir(),
			UploadBaseURL: cfg.UploadBaseURL,
			MaxBodyBytes:  cfg.MaxBodyBytes,
			Ws: handler.WsOptions{
				Client: realtime.ClientOptions{
					Buffer:       cfg.ClientBuffer,
					WriteTimeout: cfg.WriteTimeout,
					PingInterval: cfg.PingInterval,
				},
				AllowedOrigins: cfg.AllowedOrigins,
			},
		}),
		// No WriteTimeout: it would cut long-lived websocket connections.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received; shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

func connectNats(cfg config.Config) (*nats.Conn, error) {
	opts := []nats.Option{nats.Timeout(5 * time.Second), nats.Name("dmchat")}

	if cfg.NatsCred != "" {
		opts = append(opts, nats.UserCredentials(cfg.NatsCred))
	} else if cfg.NatsUser != "" && cfg.NatsPassword != "" {
		opts = append(opts, nats.UserInfo(cfg.NatsUser, cfg.NatsPassword))
	}

	nc, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	slog.Info("connected to nats", "url", nc.ConnectedUrl())
	return nc, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	return database.Migrate(ctx, pool, "up")
}
