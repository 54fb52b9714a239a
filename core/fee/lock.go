package fee

import (
	"context"
	"time"

	"github.com/edupay/feeledger/core"
)

const defaultLockTimeout = 30 * time.Second

// lockScope waits at most timeout for the (classroom, term) scope lock.
func lockScope(ctx context.Context, locker core.Locker, timeout time.Duration, classroomID, termID string) (func(), error) {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	release, err := locker.Lock(lockCtx, core.ScopeKey(classroomID, termID))
	if err != nil {
		return nil, core.NewConflictError("fee records of this classroom and term are being reconciled; try again later")
	}
	return release, nil
}
