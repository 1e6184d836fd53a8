package main

import (
	"errors"
	"flag"

	"github.com/joripage/matchcore/config"
	"github.com/joripage/matchcore/pkg/infra"
	"go.uber.org/zap"
)

func main() {
	var configFile, source string
	var showVersion bool
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&source, "source", "file://migration/sql", "Migration source URL")
	flag.BoolVar(&showVersion, "version", false, "Print the applied schema version and exit")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	if cfg.LedgerDB == nil || cfg.LedgerDB.MigrationConnURL == "" {
		panic(errors.New("ledger_db.migration_conn_url is required"))
	}

	mgTool := infra.GetMigrateTool()
	if showVersion {
		version, dirty, err := mgTool.Version(source, cfg.LedgerDB.MigrationConnURL)
		if err != nil {
			panic(err)
		}
		zap.S().Infof("schema version %d dirty=%v", version, dirty)
		return
	}

	if err := mgTool.Migrate(source, cfg.LedgerDB.MigrationConnURL); err != nil {
		panic(err)
	}
}
