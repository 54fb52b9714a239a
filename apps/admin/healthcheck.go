package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/edupay/feeledger/core/reconcile"
)

var errCritical = errors.New("fee records need reconciliation")

func (cli *commandLine) healthcheck(termID string, asJSON bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := cli.reporter.Report(ctx, termID)
	if err != nil {
		return err
	}

	if asJSON || !isTerminalFunc(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(cli.out)
		enc.SetIndent("", "  ")
		if err = enc.Encode(report); err != nil {
			return err
		}
	} else {
		cli.printReport(report)
	}

	// non-zero exit lets cron jobs alert on a critical ledger
	if report.HealthStatus.Status == reconcile.StatusCritical {
		return errCritical
	}
	return nil
}

func (cli *commandLine) printReport(report reconcile.HealthReport) {
	fmt.Fprintf(cli.out, "%s: %s\n\n", report.HealthStatus.Status, report.HealthStatus.Message)
	fmt.Fprintf(cli.out, "students: %d, missing fees: %d, extra fees: %d\n\n",
		report.Summary.TotalStudents, report.Summary.StudentsWithMissingFees, report.Summary.StudentsWithExtraFees)

	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLASSROOM\tSTUDENTS\tWITH ISSUES\tMISSING\tEXTRA")
	for _, stat := range report.Details.ClassroomStats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
			stat.ClassroomName, stat.TotalStudents, stat.StudentsWithIssues, stat.MissingFees, stat.ExtraFees)
	}
	_ = w.Flush()

	if n := len(report.Details.AmountMismatches); n > 0 {
		fmt.Fprintf(cli.out, "\n%d records differ from their fee structure amount\n", n)
	}
	if n := len(report.Details.OrphanedFees); n > 0 {
		fmt.Fprintf(cli.out, "%d records belong to a classroom with no fee structure for their term\n", n)
	}
}
