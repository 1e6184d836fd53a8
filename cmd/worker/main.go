package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joripage/matchcore/config"
	"github.com/joripage/matchcore/pkg/infra"
	postgres_wrapper "github.com/joripage/matchcore/pkg/infra/postgres"
	kafkawrapper "github.com/joripage/matchcore/pkg/kafka_wrapper"
	"github.com/joripage/matchcore/pkg/logging"
	"github.com/joripage/matchcore/pkg/settlement/repo"
	"github.com/joripage/matchcore/pkg/settlement/worker"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	var configFile, migrateSource string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&migrateSource, "migrate", "", "Apply migrations from this source URL before consuming")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	if cfg.Kafka == nil || cfg.LedgerDB == nil {
		panic(errors.New("worker needs kafka and ledger_db sections"))
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(level).With(zap.String("service", cfg.ServiceName+"-worker"))
	defer logger.Sync() // nolint
	undo := logger.ReplaceGlobals()
	defer undo()

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *gorm.DB
	if migrateSource != "" {
		db, err = infra.GetMigrateTool().ConnectAndMigrate(cfg.LedgerDB, migrateSource)
	} else {
		db, err = postgres_wrapper.InitPostgresWithBackoff(cfg.LedgerDB)
	}
	if err != nil {
		zap.S().Errorf("init db fail with err: %v", err)
		panic(err)
	}

	consumer, err := kafkawrapper.NewConsumerGroup(cfg.Kafka.Consumer)
	if err != nil {
		zap.S().Errorf("init consumer fail with err: %v", err)
		panic(err)
	}

	w := worker.NewWorker(repo.NewRepo(db), logger)
	err = w.Start(ctx, consumer)
	_ = consumer.Close()
	if err != nil {
		// uncommitted batches are redelivered on the next start
		logger.Error(ctx, "worker stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
