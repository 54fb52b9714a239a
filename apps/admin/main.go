package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/fee"
	"github.com/edupay/feeledger/core/operation"
	"github.com/edupay/feeledger/core/reconcile"
	"github.com/edupay/feeledger/core/school"
	emailsvc "github.com/edupay/feeledger/services/email"
	lockersvc "github.com/edupay/feeledger/services/locker"
	logsvc "github.com/edupay/feeledger/services/logger"
	"github.com/edupay/feeledger/storage/database"
	dummydb "github.com/edupay/feeledger/storage/database/dummy"
	sqlxrepos "github.com/edupay/feeledger/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	logger.Enable(!conf.Debug)

	cli := commandLine{out: os.Stdout}

	var (
		dir  school.Repository
		fees fee.Repository
		ops  operation.Repository
	)
	if conf.Storage == core.StorageMemory {
		db, err := dummydb.Open()
		errAndDie(logger, err)
		if conf.SeedFile != "" {
			f, err := os.Open(conf.SeedFile)
			errAndDie(logger, err)
			errAndDie(logger, db.LoadSeed(f))
			_ = f.Close()
		}
		dir, fees, ops = dummydb.NewDirectoryRepository(db), dummydb.NewFeeRepository(db), dummydb.NewOperationRepository(db)
	} else {
		db, err := database.Open(conf)
		errAndDie(logger, err)
		defer db.Close()

		cli.db = db
		xdb := sqlx.NewDb(db, "postgres")
		dir, fees, ops = sqlxrepos.NewDirectoryRepository(xdb), sqlxrepos.NewFeeRepository(xdb), sqlxrepos.NewOperationRepository(xdb)
	}

	// the API process may be recording payments on the same scopes
	lockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	locker, err := lockersvc.New(lockCtx, conf, logger)
	cancel()
	errAndDie(logger, err)

	tracker := operation.NewTracker(ops, logger, nil, emailsvc.NewConsoleService(conf), conf)
	cli.engine = reconcile.NewEngine(reconcile.EngineDeps{
		Conf:    conf,
		Dir:     dir,
		Fees:    fees,
		Tracker: tracker,
		Locker:  locker,
		Logger:  logger,
	})
	cli.reporter = reconcile.NewReporter(dir, fees, nil, conf)

	// start CLI
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("command failed", err)
		}
		if cli.db != nil {
			_ = cli.db.Close()
		}
		os.Exit(1)
	}
}

func errAndDie(logger core.Logger, err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
