package scheduler

import (
	"context"
	"errors"
	"fmt"

	"autorun/internal/account"
	"autorun/internal/autorun"
	"autorun/internal/interaction"
	"autorun/internal/progress"
)

type AccountGetter interface {
	Get(ctx context.Context, ownerID, id uint64) (*account.Account, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job *autorun.Job, acct *account.Account, sink progress.Sink) (interaction.DispatchResult, error)
}

// InteractionHandler loads the job's account and hands the batch to the
// interaction engine.
func InteractionHandler(accounts AccountGetter, d Dispatcher) Handler {
	return func(ctx context.Context, j *autorun.Job) (Result, error) {
		acct, err := accounts.Get(ctx, j.OwnerID, j.AccountID)
		if err != nil {
			return Result{}, fmt.Errorf("load account %d: %w", j.AccountID, err)
		}

		res, err := d.Dispatch(ctx, j, acct, nil)
		if errors.Is(err, interaction.ErrBusy) {
			return Result{Outcome: Busy}, nil
		}
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: Accepted, RecordID: res.RecordID}, nil
	}
}
