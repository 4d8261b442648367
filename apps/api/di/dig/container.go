package dig_container

import (
	"context"
	"fmt"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/orgpanel/apps/api/echo"
	"github.com/trezcool/orgpanel/core"
	"github.com/trezcool/orgpanel/core/hierarchy"
	"github.com/trezcool/orgpanel/core/user"
	emailsvc "github.com/trezcool/orgpanel/services/email"
	logsvc "github.com/trezcool/orgpanel/services/logger"
	"github.com/trezcool/orgpanel/storage/database"
	sqlxrepos "github.com/trezcool/orgpanel/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf), conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	out := logsvc.NewStdLogger(conf)
	out.SetReportCaller(true)
	return logsvc.NewRollbarLogger(out, conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func(ctx context.Context) (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}

		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(ctx, db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp(context.Background())
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newValidator() *validator.Validate {
	return validator.New()
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(func(db *sqlx.DB) core.DB { return db }))
	must(c.Provide(func(db *sqlx.DB) core.DBExecutor { return db }))
	must(c.Provide(newEmailService))
	must(c.Provide(sqlxrepos.NewUserRepository, dig.As(new(user.Repository))))
	must(c.Provide(sqlxrepos.NewHierarchyRepository, dig.As(new(hierarchy.Repository))))
	must(c.Provide(newValidator))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(user.NewService))
	must(c.Provide(func(svc *user.Service) hierarchy.UserGetter { return svc }))
	must(c.Provide(hierarchy.NewService))
	must(c.Provide(func(
		conf *core.Config,
		logger core.Logger,
		usrSvc *user.Service,
		hSvc *hierarchy.Service,
		validate *validator.Validate,
		translator ut.Translator,
	) *echoapi.Server {
		return echoapi.NewServer(echoapi.ServerDeps{
			Conf:         conf,
			Logger:       logger,
			UserSvc:      usrSvc,
			HierarchySvc: hSvc,
			Validate:     validate,
			Translator:   translator,
		})
	}))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
