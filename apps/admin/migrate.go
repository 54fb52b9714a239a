package main

import (
	"errors"

	"github.com/edupay/feeledger/storage/database"
)

var (
	gooseRunFunc = database.Goose // mockable

	errNoDatabase = errors.New("migrations need the postgres storage")
)

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], cli.db, arguments...)
}
