package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"golang.org/x/sync/errgroup"

	"marketdesk/internal/api"
	"marketdesk/internal/auth"
	"marketdesk/internal/errors"
	"marketdesk/internal/events"
	"marketdesk/internal/fanout"
	"marketdesk/internal/hub"
	"marketdesk/internal/market"
	"marketdesk/internal/obs"
	"marketdesk/internal/ops"
	"marketdesk/internal/quote"
	"marketdesk/internal/registry"
	"marketdesk/internal/store"
	"marketdesk/internal/trade"
	"marketdesk/internal/upstream"
	"marketdesk/pkg/conn"
)

const _shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (yaml, json or toml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logs.Errorf("marketdesk: %+v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := ops.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Profiling.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start profiler")
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	metrics := obs.NewMetrics()

	pg, err := conn.New(ctx, conn.Option{
		Host:         cfg.Postgres.Host,
		Port:         cfg.Postgres.Port,
		User:         cfg.Postgres.User,
		Password:     cfg.Postgres.Password,
		Database:     cfg.Postgres.Database,
		SSLMode:      cfg.Postgres.SSLMode,
		ConnString:   cfg.Postgres.ConnString,
		MaxOpenConns: cfg.Postgres.MaxOpenConns,
	})
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	defer func() {
		_ = pg.Close()
	}()

	ledger := store.NewLedger(pg.DB())
	if err := ledger.Migrate(ctx); err != nil {
		return err
	}

	reg := registry.New()
	cacheOpts := []quote.Option{
		quote.WithActiveSet(reg),
		quote.WithMetrics(metrics),
		quote.WithFetchTimeout(cfg.Quote.FetchTimeout),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			_ = rdb.Close()
		}()
		cacheOpts = append(cacheOpts, quote.WithMirror(quote.NewRedisMirror(rdb, cfg.Redis.TTL)))
		logs.Infof("quote mirror enabled, redis: %s", cfg.Redis.Addr)
	}
	quotes := quote.NewCache(
		quote.NewFinnhubClient(cfg.Quote.Token, quote.WithBaseURL(cfg.Quote.BaseURL)),
		cacheOpts...,
	)

	backoff := upstream.DefaultBackoff()
	backoff.Min = cfg.Upstream.BackoffInitial
	backoff.Max = cfg.Upstream.BackoffMax
	feed, err := upstream.NewFeed(upstream.Config{
		Dialer: upstream.NewWebsocketDialer(
			cfg.Upstream.URL,
			cfg.Upstream.Token,
			cfg.Upstream.HandshakeTimeout,
			cfg.Upstream.WriteTimeout,
		),
		Codec:        upstream.NewFinnhubCodec(),
		Symbols:      reg,
		PingInterval: cfg.Upstream.PingInterval,
		Backoff:      backoff,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	validator := auth.NewValidator(cfg.Auth.JWTSecret)
	svc := market.NewService(ctx, reg, feed, quotes)
	stream := hub.New(svc, validator, hub.Config{
		QueueSize:      cfg.Server.QueueSize,
		WriteTimeout:   cfg.Server.WriteTimeout,
		ReadTimeout:    cfg.Server.ReadTimeout,
		PingInterval:   cfg.Server.PingInterval,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		Metrics:        metrics,
	})
	svc.Attach(fanout.New(reg, stream, metrics))

	tradeOpts := []trade.Option{
		trade.WithRisk(trade.NewRiskEngine(cfg.Risk)),
		trade.WithMetrics(metrics),
	}
	if len(cfg.Kafka.Brokers) != 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			_ = publisher.Close()
		}()
		tradeOpts = append(tradeOpts, trade.WithPublisher(publisher))
		logs.Infof("trade events enabled, topic: %s", cfg.Kafka.Topic)
	}
	trader := trade.NewExecutor(quotes, ledger, tradeOpts...)

	handler := api.NewHandler(api.Deps{
		Quotes:       quotes,
		Trader:       trader,
		Ledger:       ledger,
		Auth:         validator,
		Stream:       stream,
		StreamPath:   cfg.Server.WSPath,
		StartingCash: cfg.StartingCash,
		Metrics:      metrics,
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.InitRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := feed.Run(egCtx, svc.HandleTick)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		quotes.Run(egCtx, cfg.Quote.RefreshInterval)
		return nil
	})
	eg.Go(func() error {
		metrics.Report(egCtx, cfg.Metrics.ReportInterval)
		return nil
	})
	eg.Go(func() error {
		logs.Infof("marketdesk listening on %s, stream path: %s", cfg.Server.Addr, cfg.Server.WSPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	eg.Go(func() error {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received")
		case <-egCtx.Done():
		}

		shutdownCtx, done := context.WithTimeout(context.Background(), _shutdownTimeout)
		defer done()
		stream.Close()
		err := server.Shutdown(shutdownCtx)
		cancel()
		return err
	})

	return eg.Wait()
}
