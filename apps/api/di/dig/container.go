package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/edupay/feeledger/apps/api/echo"
	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/fee"
	"github.com/edupay/feeledger/core/operation"
	"github.com/edupay/feeledger/core/reconcile"
	"github.com/edupay/feeledger/core/school"
	emailsvc "github.com/edupay/feeledger/services/email"
	lockersvc "github.com/edupay/feeledger/services/locker"
	logsvc "github.com/edupay/feeledger/services/logger"
	metricssvc "github.com/edupay/feeledger/services/metrics"
	"github.com/edupay/feeledger/storage/database"
	dummydb "github.com/edupay/feeledger/storage/database/dummy"
	sqlxrepos "github.com/edupay/feeledger/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type SyncLoggerParam struct {
	dig.In
	Logger core.Logger `name:"syncLogger"`
}

// Storage holds the repositories of the configured storage backend.
type Storage struct {
	Directory  school.Repository
	Fees       fee.Repository
	Operations operation.Repository

	close func() error
}

func (s *Storage) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func newStdLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
}

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(newStdLogger("API : "), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(newStdLogger("DB : "), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newSyncLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(newStdLogger("SYNC : "), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) *Storage {
	dbLogger := loggerParam.Logger

	if conf.Storage == core.StorageMemory {
		db, err := dummydb.Open()
		if err != nil {
			dbLogger.Fatal(fmt.Sprintf("opening memory storage: %v", err), err)
		}
		if conf.SeedFile != "" {
			if err = loadSeed(db, conf.SeedFile); err != nil {
				dbLogger.Fatal(fmt.Sprintf("loading seed file: %v", err), err)
			}
		}
		dbLogger.Warn("using memory storage; data is lost on restart")
		return &Storage{
			Directory:  dummydb.NewDirectoryRepository(db),
			Fees:       dummydb.NewFeeRepository(db),
			Operations: dummydb.NewOperationRepository(db),
		}
	}

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return sqlx.NewDb(db, "postgres"), nil
	}

	db, err := setUp()
	if err != nil {
		dbLogger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return &Storage{
		Directory:  sqlxrepos.NewDirectoryRepository(db),
		Fees:       sqlxrepos.NewFeeRepository(db),
		Operations: sqlxrepos.NewOperationRepository(db),
		close:      db.Close,
	}
}

func loadSeed(db *dummydb.DB, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening seed file")
	}
	defer f.Close()
	return db.LoadSeed(f)
}

func newLocker(conf *core.Config, logger core.Logger) core.Locker {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	locker, err := lockersvc.New(ctx, conf, logger)
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
	return locker
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newEngine(
	conf *core.Config,
	storage *Storage,
	tracker *operation.Tracker,
	runner *operation.Runner,
	locker core.Locker,
	loggerParam SyncLoggerParam,
	metrics core.MetricsRecorder,
) *reconcile.Engine {
	return reconcile.NewEngine(reconcile.EngineDeps{
		Conf:    conf,
		Dir:     storage.Directory,
		Fees:    storage.Fees,
		Tracker: tracker,
		Runner:  runner,
		Locker:  locker,
		Logger:  loggerParam.Logger,
		Metrics: metrics,
	})
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	structureSvc *fee.StructureService,
	ledgerSvc *fee.LedgerService,
	engine *reconcile.Engine,
	tracker *operation.Tracker,
	reporter *reconcile.Reporter,
	validate *validator.Validate,
	translator ut.Translator,
) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:         conf,
		Logger:       logger,
		StructureSvc: structureSvc,
		LedgerSvc:    ledgerSvc,
		Engine:       engine,
		Tracker:      tracker,
		Reporter:     reporter,
		Validate:     validate,
		Translator:   translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newSyncLogger, dig.Name("syncLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(func(s *Storage) school.Repository { return s.Directory }))
	must(c.Provide(func(s *Storage) fee.Repository { return s.Fees }))
	must(c.Provide(func(s *Storage) operation.Repository { return s.Operations }))
	must(c.Provide(newLocker))
	must(c.Provide(metricssvc.NewPrometheusRecorder))
	must(c.Provide(func(r *metricssvc.PrometheusRecorder) core.MetricsRecorder { return r }))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(fee.NewStructureService))
	must(c.Provide(fee.NewLedgerService))
	must(c.Provide(operation.NewTracker))
	must(c.Provide(operation.NewRunner))
	must(c.Provide(newEngine))
	must(c.Provide(reconcile.NewReporter))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
