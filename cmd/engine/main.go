package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joripage/matchcore/config"
	redis_wrapper "github.com/joripage/matchcore/pkg/infra/redis"
	kafkawrapper "github.com/joripage/matchcore/pkg/kafka_wrapper"
	"github.com/joripage/matchcore/pkg/logging"
	"github.com/joripage/matchcore/pkg/marketdata"
	"github.com/joripage/matchcore/pkg/metrics"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/joripage/matchcore/pkg/settlement"
	"github.com/joripage/matchcore/pkg/simulator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const statusInterval = 10 * time.Second

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(level).With(zap.String("service", cfg.ServiceName))
	defer logger.Sync() // nolint
	undo := logger.ReplaceGlobals()
	defer undo()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithRequestID(ctx, logging.NewRequestID())

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(ctx, "engine exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info(ctx, "exited cleanly")
}

func run(ctx context.Context, cfg *config.AppConfig, logger *logging.Logger) error {
	symbol := cfg.Engine.Symbol
	engine := orderbook.NewMatchingEngine(symbol,
		orderbook.WithLogger(logger),
		orderbook.WithListenerDepth(cfg.Engine.ListenerDepth),
		orderbook.WithSequenceStart(cfg.Engine.OrderSequenceStart, cfg.Engine.TradeSequenceStart),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := metrics.NewEngineMetrics(symbol)
	if err := engineMetrics.Register(reg); err != nil {
		return err
	}
	engineMetrics.Attach(engine)

	var publishers []marketdata.Publisher
	if cfg.Redis != nil {
		client, err := redis_wrapper.InitRedisWithBackoff(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		publishers = append(publishers, marketdata.NewRedisPublisher(client, cfg.MarketData.TapeSize))
		logger.Info(ctx, "market data mirrored to redis")
	}
	feed := marketdata.NewFeed(symbol, cfg.MarketData,
		marketdata.WithLogger(logger),
		marketdata.WithPublishers(publishers...),
	)
	feed.Attach(engine)
	if err := metrics.RegisterCounterFunc(reg, symbol, "marketdata", "dropped_total", "Updates dropped on a full publish queue.", feed.Dropped); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if len(publishers) > 0 {
		g.Go(func() error { return feed.Run(ctx) })
	}

	if cfg.Kafka != nil {
		producer := kafkawrapper.NewProducer(cfg.Kafka.Producer)
		defer producer.Close(context.Background()) // nolint
		ledger := settlement.NewPublisher(producer, cfg.Kafka.TradeTopic, cfg.Kafka.QueueSize, settlement.WithLogger(logger))
		ledger.Attach(engine)
		if err := metrics.RegisterCounterFunc(reg, symbol, "settlement", "dropped_total", "Trade events dropped on a full queue.",
			func() uint64 { return ledger.Stats().Dropped }); err != nil {
			return err
		}
		g.Go(func() error { return ledger.Run(ctx) })
		logger.Info(ctx, "trades forwarded to kafka", zap.String("topic", cfg.Kafka.TradeTopic))
	}

	if cfg.Simulator.Enabled {
		rng := simulator.NewRand(cfg.Simulator)
		if err := simulator.Seed(ctx, engine, cfg.Simulator, rng); err != nil {
			return err
		}
		bot := simulator.NewBot(engine, cfg.Simulator, rng,
			simulator.WithLogger(logger),
			simulator.WithLastPrice(func() (decimal.Decimal, bool) {
				last := feed.CurrentBook().LastPrice
				return last.Decimal, last.Valid
			}),
		)
		g.Go(func() error { return bot.Run(ctx) })
	}

	if cfg.PprofAddr != "" {
		mux := http.DefaultServeMux
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.PprofAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return reportStatus(ctx, engine, feed, logger) })

	logger.Info(ctx, "matching engine started", zap.String("symbol", symbol))
	return g.Wait()
}

// reportStatus logs top of book periodically and stops the process when the
// engine halts.
func reportStatus(ctx context.Context, engine *orderbook.MatchingEngine, feed *marketdata.Feed, logger *logging.Logger) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := engine.Halted(); err != nil {
				return err
			}
			book := feed.CurrentBook()
			logger.Info(ctx, "book status",
				zap.Stringer("best_bid", book.BestBid.Decimal),
				zap.Stringer("best_ask", book.BestAsk.Decimal),
				zap.Stringer("last_price", book.LastPrice.Decimal),
				zap.Int("resting_orders", engine.RestingOrders()),
				zap.Int("recent_trades", len(feed.RecentTrades(0))),
				zap.Uint64("md_dropped", feed.Dropped()),
			)
		}
	}
}
