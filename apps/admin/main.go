package main

import (
	"context"
	"fmt"
	"os"

	"github.com/trezcool/orgpanel/core"
	"github.com/trezcool/orgpanel/core/hierarchy"
	"github.com/trezcool/orgpanel/core/user"
	emailsvc "github.com/trezcool/orgpanel/services/email"
	logsvc "github.com/trezcool/orgpanel/services/logger"
	"github.com/trezcool/orgpanel/storage/database"
	sqlxrepos "github.com/trezcool/orgpanel/storage/database/sqlx"
)

func main() {
	conf, err := core.NewConfig()
	if err != nil {
		fmt.Printf("loading config: %v\n", err)
		os.Exit(1)
	}
	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf), conf)
	user.LoadCommonPasswords(conf.CommonPasswordsPath, logger)

	// set up DB
	db, err := database.Open(context.Background(), conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// start CLI
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db))
	cli := commandLine{
		db:     db.DB,
		usrSvc: usrSvc,
		hSvc:   hierarchy.NewService(sqlxrepos.NewHierarchyRepository(db), usrSvc, emailsvc.NewConsoleService(conf, logger)),
		out:    os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		os.Exit(1)
	}
}
