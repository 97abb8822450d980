package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentuity/go-exchange/cache"
	"github.com/agentuity/go-exchange/client"
	"github.com/agentuity/go-exchange/env"
	"github.com/agentuity/go-exchange/exchange"
	"github.com/agentuity/go-exchange/logger"
	"github.com/spf13/cobra"
)

const serviceName = "exchange-cli"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "exchange-cli",
		Short:        "Drive the cache exchange against a scripted downstream",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (env "+logger.LevelEnv+")")
	flags.String("log-format", "", "log format: console or json (env "+env.Prefix+"LOG_FORMAT)")
	flags.String("otlp-url", "", "export logs and traces to this OTLP/HTTP endpoint (env "+env.Prefix+"OTLP_URL)")
	flags.String("otlp-shared-secret", "", "secret used to sign the OTLP bearer token (env "+env.Prefix+"OTLP_SHARED_SECRET)")
	flags.String("store", "", "cache store: memory, redis, sqlite, tiered (env "+env.Prefix+"STORE)")
	flags.String("redis-url", "", "redis url for the redis and tiered stores (env "+env.Prefix+"REDIS_URL)")
	flags.String("sqlite-path", "", "database file for the sqlite store (env "+env.Prefix+"SQLITE_PATH)")
	flags.String("prefix", "", "key and channel prefix for shared stores (env "+env.Prefix+"PREFIX)")
	flags.String("expires", "", "entry lifetime, e.g. 10m or 1d; empty keeps entries (env "+env.Prefix+"EXPIRES)")

	root.AddCommand(newRunCmd(), newClearCmd(), newListenCmd())
	return root
}

type session struct {
	log     logger.Logger
	backend *backend
	client  *client.Client
	ctx     context.Context
	close   func()
}

func openSession(cmd *cobra.Command) (*session, error) {
	ctx, log, shutdown, err := env.NewTelemetry(cmd.Context(), cmd, serviceName)
	if err != nil {
		return nil, err
	}
	expires, err := env.DurationFlagOrEnv(cmd, "expires", env.Prefix+"EXPIRES", 0)
	if err != nil {
		shutdown()
		return nil, err
	}
	cfg := backendConfig{
		store:      env.FlagOrEnv(cmd, "store", env.Prefix+"STORE", StoreMemory),
		redisURL:   env.FlagOrEnv(cmd, "redis-url", env.Prefix+"REDIS_URL", "redis://localhost:6379"),
		sqlitePath: env.FlagOrEnv(cmd, "sqlite-path", env.Prefix+"SQLITE_PATH", "exchange-cache.db"),
		prefix:     env.FlagOrEnv(cmd, "prefix", env.Prefix+"PREFIX", cache.DefaultPrefix),
		expires:    expires,
	}
	b, err := openBackend(ctx, log, cfg)
	if err != nil {
		shutdown()
		return nil, err
	}
	opts := []client.Option{client.WithLogger(log)}
	if b.events != nil {
		opts = append(opts, client.WithEventing(b.events, cfg.prefix))
	}
	log.Debug("using %s store", cfg.store)
	return &session{
		log:     log,
		backend: b,
		client:  client.New(b.store, b.index, opts...),
		ctx:     ctx,
		close: func() {
			if err := b.Close(); err != nil {
				log.Warn("error closing store: %s", err)
			}
			shutdown()
		},
	}, nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and print one JSON report per step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			sc, err := ParseScenario(buf)
			if err != nil {
				return err
			}
			maxWrites, _ := cmd.Flags().GetInt64("max-writes")
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if s.backend.events != nil {
				if err := s.client.Listen(s.ctx); err != nil {
					return err
				}
			}
			reports, err := Run(s.ctx, s.log, s.client, sc, maxWrites)
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range reports {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return err
		},
	}
	cmd.Flags().Int64("max-writes", exchange.DefaultMaxConcurrentWrites, "maximum concurrent cache writes")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the cache and tell listening processes to do the same",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.client.ClearCache(s.ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	}
}

func newListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Apply invalidations from other processes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if s.backend.events == nil {
				return fmt.Errorf("listen requires the redis or tiered store")
			}
			ctx := s.ctx
			if d, _ := cmd.Flags().GetDuration("for"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			if err := s.client.Listen(ctx); err != nil {
				return err
			}
			s.log.Info("listening for invalidations as %s", s.client.ID())
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().Duration("for", time.Duration(0), "stop after this long; zero waits for a signal")
	return cmd
}
