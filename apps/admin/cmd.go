package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"

	"golang.org/x/term"

	"github.com/edupay/feeledger/core/operation"
	"github.com/edupay/feeledger/core/reconcile"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db       *sql.DB // nil with memory storage
	engine   *reconcile.Engine
	reporter *reconcile.Reporter
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  healthcheck [-term ID] [-json] - report fee records out of sync with the fee structures")
	fmt.Fprintln(cli.out, "  reconcile deduplicate|backfill|full [-classroom ID] [-term ID] - repair fee records")
	fmt.Fprintln(cli.out, "  sync [-classroom ID] [-term ID] [-apply-amounts] - issue missing fee records")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	healthCmd := flag.NewFlagSet("healthcheck", flag.ContinueOnError)
	healthTerm := healthCmd.String("term", "", "Only check this term. Defaults to the active terms.")
	healthJSON := healthCmd.Bool("json", false, "Print the report as JSON. Implied when stdout is not a terminal.")

	reconcileCmd := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	reconcileClassroom := reconcileCmd.String("classroom", "", "Only reconcile this classroom.")
	reconcileTerm := reconcileCmd.String("term", "", "Only reconcile this term. Defaults to the active terms.")

	syncCmd := flag.NewFlagSet("sync", flag.ContinueOnError)
	syncClassroom := syncCmd.String("classroom", "", "Only sync this classroom.")
	syncTerm := syncCmd.String("term", "", "Only sync this term. Defaults to the active terms.")
	syncApply := syncCmd.Bool("apply-amounts", false, "Also align issued amounts with the current fee structures.")

	for _, fs := range []*flag.FlagSet{healthCmd, reconcileCmd, syncCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "healthcheck":
		if err := healthCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.healthcheck(*healthTerm, *healthJSON)
	case "reconcile":
		if len(args) < 3 {
			reconcileCmd.Usage()
			return errHelp
		}
		typ := operation.Type(args[2])
		if typ == operation.TypeSync || !typ.Valid() {
			reconcileCmd.Usage()
			return errHelp
		}
		if err := reconcileCmd.Parse(args[3:]); err != nil {
			return errHelp
		}
		scope := operation.Scope{ClassroomID: *reconcileClassroom, TermID: *reconcileTerm}
		return cli.reconcile(typ, scope, operation.Options{})
	case "sync":
		if err := syncCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		scope := operation.Scope{ClassroomID: *syncClassroom, TermID: *syncTerm}
		return cli.reconcile(operation.TypeSync, scope, operation.Options{ApplyAmountChanges: *syncApply})
	default:
		cli.printUsage()
		return errHelp
	}
}
