package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/edupay/feeledger/core/operation"
)

func (cli *commandLine) reconcile(typ operation.Type, scope operation.Scope, opts operation.Options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	op, err := cli.engine.RunNow(ctx, typ, scope, opts)
	if err != nil {
		return err
	}

	s := op.Summary
	fmt.Fprintf(cli.out, "%s %s in %dms\n", op.Type, op.Status, op.DurationMS)
	fmt.Fprintf(cli.out, "created: %d, updated: %d, duplicates removed: %d/%d, backfilled: %d\n",
		s.Created, s.Updated, s.DuplicatesRemoved, s.DuplicatesFound, s.FeesBackfilled)
	for _, res := range op.Results {
		for _, e := range res.Errors {
			fmt.Fprintf(cli.out, "  %s / %s %s: %s\n", res.ClassroomName, res.TermName, res.Session, e)
		}
	}

	if op.Status == operation.StatusFailed {
		return errors.Errorf("operation %s failed: %s", op.ID, strings.Join(op.Errors, "; "))
	}
	return nil
}
