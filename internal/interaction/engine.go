package interaction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"autorun/internal/account"
	"autorun/internal/autorun"
	"autorun/internal/lock"
	"autorun/internal/progress"
)

var (
	ErrBusy              = errors.New("account already has a running interaction batch")
	ErrContentGeneration = errors.New("content generation failed")
	ErrPlatformAction    = errors.New("platform action failed")
	ErrUnhandled         = errors.New("unhandled batch error")
)

// platforms without a favorite action
var noFavorite = map[string]struct{}{
	"KWAI": {},
}

type DispatchStatus int

const (
	StatusAccepted DispatchStatus = iota + 1
	StatusBusy
)

func (s DispatchStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusBusy:
		return "busy"
	}
	return "unknown"
}

type DispatchResult struct {
	Status   DispatchStatus
	RecordID uint64
}

// Engine runs interaction batches: one account's work items, sequentially,
// under that account's execution lock.
type Engine struct {
	Jobs      JobStore
	History   History
	Locker    lock.Locker
	Platforms PlatformResolver
	Suggester Suggester
	Notifier  Notifier
	Progress  progress.Sink
	Queue     *Queue

	LockTTL   time.Duration
	ItemDelay time.Duration
}

func LockKey(accountID uint64) string {
	return "autorun:lock:account:" + strconv.FormatUint(accountID, 10)
}

func (e *Engine) lockTTL() time.Duration {
	if e.LockTTL <= 0 {
		return lock.DefaultTTL
	}
	return e.LockTTL
}

// Running reports whether a batch currently holds the account's lock.
func (e *Engine) Running(ctx context.Context, accountID uint64) (bool, error) {
	return e.Locker.Held(ctx, LockKey(accountID))
}

// run is the state of one batch or single-item call.
type run struct {
	job      *autorun.Job
	recordID uint64
	acct     *account.Account
	platform Platform
	lease    lock.Lease
	sink     progress.Sink
}

func (r *run) emit(ev progress.Event) {
	if r.job != nil {
		ev.JobID = r.job.ID
	}
	ev.RecordID = r.recordID
	ev.OwnerID = r.acct.OwnerID
	ev.AccountID = r.acct.ID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	r.sink.Emit(ev)
}

type batchStats struct {
	Processed     int
	Skipped       int
	CommentFailed int
}

func (s batchStats) String() string {
	return fmt.Sprintf("processed=%d skipped=%d comment_failed=%d", s.Processed, s.Skipped, s.CommentFailed)
}

type itemResult struct {
	Commented bool
	Liked     bool
	Collected bool
}

// Dispatch locks the account, writes a RUNNING execution record and enqueues
// the batch. It never waits for the batch. A held lock yields StatusBusy and
// ErrBusy; nothing is queued in that case.
func (e *Engine) Dispatch(ctx context.Context, job *autorun.Job, acct *account.Account, sink progress.Sink) (DispatchResult, error) {
	payload, err := DecodePayload(job.Payload)
	if err != nil {
		return DispatchResult{}, err
	}
	platform, err := e.Platforms.Resolve(acct.PlatformType)
	if err != nil {
		return DispatchResult{}, err
	}

	lease, ok, err := e.Locker.TryAcquire(ctx, LockKey(acct.ID), e.lockTTL())
	if err != nil {
		return DispatchResult{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		e.notify("Automation already running", fmt.Sprintf("job=%d account=%d: a run is in progress, not starting another", job.ID, acct.ID))
		return DispatchResult{Status: StatusBusy}, ErrBusy
	}

	rec, err := e.Jobs.CreateExecutionRecord(ctx, job)
	if err != nil {
		e.release(lease)
		return DispatchResult{}, fmt.Errorf("create execution record: %w", err)
	}

	r := &run{
		job:      job,
		recordID: rec.ID,
		acct:     acct,
		platform: platform,
		lease:    lease,
		sink:     progress.Multi(e.Progress, sink),
	}
	if err := e.Queue.Enqueue(func(ctx context.Context) { e.runBatch(ctx, r, payload) }); err != nil {
		e.release(lease)
		if serr := e.Jobs.SetExecutionRecordStatus(context.WithoutCancel(ctx), rec.ID, autorun.RecordFailed, err.Error()); serr != nil {
			log.Printf("interaction record=%d fail after enqueue error: %v\n", rec.ID, serr)
		}
		return DispatchResult{}, err
	}

	return DispatchResult{Status: StatusAccepted, RecordID: rec.ID}, nil
}

func (e *Engine) runBatch(ctx context.Context, r *run, p Payload) {
	var stats batchStats
	var runErr error

	defer func() {
		if rec := recover(); rec != nil {
			runErr = fmt.Errorf("%w: %v", ErrUnhandled, rec)
			log.Printf("interaction job=%d account=%d panic: %v\n", r.job.ID, r.acct.ID, rec)
		}
		e.finishBatch(r, stats, runErr)
	}()

	if err := e.hold(ctx, r); err != nil {
		runErr = err
		return
	}

	r.emit(progress.Event{Stage: progress.StageStart, Status: progress.StatusRunning, Data: map[string]any{"works": len(p.Works)}})
	e.notify("Automation run started", fmt.Sprintf("job=%d account=%d works=%d", r.job.ID, r.acct.ID, len(p.Works)))

	stats, runErr = e.processWorks(ctx, r, p)
}

func (e *Engine) processWorks(ctx context.Context, r *run, p Payload) (batchStats, error) {
	var stats batchStats
	touched := false

	for _, w := range p.Works {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		done, err := e.History.HasProcessed(ctx, e.key(r.acct, w.WorkID))
		if err != nil {
			return stats, fmt.Errorf("check history %s: %w", w.WorkID, err)
		}
		if done {
			stats.Skipped++
			continue
		}

		// pace consecutive platform-facing items
		if touched {
			if err := sleep(ctx, e.ItemDelay); err != nil {
				return stats, err
			}
		}
		touched = true

		if err := e.hold(ctx, r); err != nil {
			return stats, err
		}
		res, err := e.processItem(ctx, r, w, p.CommentContent, false)
		if err != nil {
			return stats, err
		}
		if !res.Commented {
			stats.CommentFailed++
			continue
		}
		stats.Processed++
	}
	return stats, nil
}

// processItem runs comment, like and favorite for one work item and writes
// its history row. Only content generation and persistence errors are
// returned; platform failures are reported as events. In batch mode a failed
// comment ends the item; in single mode like and favorite still run.
func (e *Engine) processItem(ctx context.Context, r *run, w Work, fixed string, single bool) (itemResult, error) {
	var res itemResult

	content, err := e.content(ctx, w, fixed)
	if err != nil {
		return res, err
	}

	r.emit(progress.Event{
		Stage:  progress.StageActionStart,
		Status: progress.StatusRunning,
		WorkID: w.WorkID,
		Data:   map[string]any{"content": content},
	})

	res.Commented, err = isolate(func() (bool, error) {
		return r.platform.CreateComment(ctx, r.acct, w.WorkID, w.AuthorID, content)
	})
	if !res.Commented {
		r.emit(progress.Event{
			Stage:  progress.StageActionEnd,
			Status: progress.StatusError,
			WorkID: w.WorkID,
			Error:  actionError("comment", w.WorkID, err).Error(),
		})
		if !single {
			return res, nil
		}
	}

	res.Liked, err = isolate(func() (bool, error) {
		return r.platform.Like(ctx, r.acct, w.WorkID, w.AuthorID)
	})
	if err != nil {
		r.emit(progress.Event{
			Stage:  progress.StageError,
			Status: progress.StatusRunning,
			WorkID: w.WorkID,
			Error:  actionError("like", w.WorkID, err).Error(),
			Data:   map[string]any{"liked": false},
		})
		res.Liked = false
	}

	if _, skip := noFavorite[r.acct.PlatformType]; !skip {
		res.Collected, err = isolate(func() (bool, error) {
			return r.platform.Favorite(ctx, r.acct, w.WorkID)
		})
		if err != nil {
			r.emit(progress.Event{
				Stage:  progress.StageError,
				Status: progress.StatusRunning,
				WorkID: w.WorkID,
				Error:  actionError("favorite", w.WorkID, err).Error(),
				Data:   map[string]any{"liked": res.Liked},
			})
			res.Collected = false
		}
	}

	if _, err := e.History.RecordProcessed(ctx, Record{
		OwnerID:        r.acct.OwnerID,
		AccountID:      r.acct.ID,
		PlatformType:   r.acct.PlatformType,
		WorkID:         w.WorkID,
		WorkTitle:      w.Title,
		WorkCover:      w.Cover,
		CommentContent: content,
		Liked:          res.Liked,
		Collected:      res.Collected,
	}); err != nil {
		return res, fmt.Errorf("record history %s: %w", w.WorkID, err)
	}

	if res.Commented {
		r.emit(progress.Event{
			Stage:  progress.StageActionEnd,
			Status: progress.StatusRunning,
			WorkID: w.WorkID,
			Data:   map[string]any{"liked": res.Liked, "collected": res.Collected},
		})
	}
	return res, nil
}

func (e *Engine) content(ctx context.Context, w Work, fixed string) (string, error) {
	if fixed != "" {
		return fixed, nil
	}
	if e.Suggester == nil {
		return "", fmt.Errorf("%w: no suggester configured", ErrContentGeneration)
	}
	text, err := e.Suggester.Suggest(ctx, w.seed())
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrContentGeneration, w.WorkID, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s: empty suggestion", ErrContentGeneration, w.WorkID)
	}
	return text, nil
}

func (e *Engine) finishBatch(r *run, stats batchStats, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, note := autorun.RecordSucceeded, stats.String()
	if runErr != nil {
		status, note = autorun.RecordFailed, runErr.Error()
		r.emit(progress.Event{Stage: progress.StageError, Status: progress.StatusError, Error: runErr.Error()})
		e.notify("Automation run failed", fmt.Sprintf("job=%d account=%d: %v", r.job.ID, r.acct.ID, runErr))
		log.Printf("interaction job=%d record=%d failed: %v (%s)\n", r.job.ID, r.recordID, runErr, stats)
	} else {
		r.emit(progress.Event{Stage: progress.StageEnd, Status: progress.StatusDone, Data: map[string]any{
			"processed":      stats.Processed,
			"skipped":        stats.Skipped,
			"comment_failed": stats.CommentFailed,
		}})
		e.notify("Automation run finished", fmt.Sprintf("job=%d account=%d %s", r.job.ID, r.acct.ID, stats))
	}

	e.release(r.lease)

	if err := e.Jobs.SetExecutionRecordStatus(ctx, r.recordID, status, note); err != nil {
		log.Printf("interaction record=%d set status %s: %v\n", r.recordID, status, err)
	}
}

// RunSingle processes one work item synchronously under the account lock. It
// reports whether the call ended without a fatal error.
func (e *Engine) RunSingle(ctx context.Context, acct *account.Account, w Work, content string, sink progress.Sink) (bool, error) {
	w.WorkID = strings.TrimSpace(w.WorkID)
	if w.WorkID == "" {
		return false, fmt.Errorf("%w: work_id required", ErrInvalidPayload)
	}
	platform, err := e.Platforms.Resolve(acct.PlatformType)
	if err != nil {
		return false, err
	}

	lease, ok, err := e.Locker.TryAcquire(ctx, LockKey(acct.ID), e.lockTTL())
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		e.notify("Automation already running", fmt.Sprintf("account=%d: a run is in progress", acct.ID))
		return false, ErrBusy
	}
	defer e.release(lease)

	r := &run{acct: acct, platform: platform, lease: lease, sink: progress.Multi(e.Progress, sink)}
	r.emit(progress.Event{Stage: progress.StageStart, Status: progress.StatusRunning, WorkID: w.WorkID})

	ok, err = e.runSingle(ctx, r, w, strings.TrimSpace(content))
	if err != nil {
		r.emit(progress.Event{Stage: progress.StageError, Status: progress.StatusError, WorkID: w.WorkID, Error: err.Error()})
		return false, err
	}
	r.emit(progress.Event{Stage: progress.StageEnd, Status: progress.StatusDone, WorkID: w.WorkID})
	return ok, nil
}

func (e *Engine) runSingle(ctx context.Context, r *run, w Work, content string) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok, err = false, fmt.Errorf("%w: %v", ErrUnhandled, rec)
		}
	}()

	done, err := e.History.HasProcessed(ctx, e.key(r.acct, w.WorkID))
	if err != nil {
		return false, fmt.Errorf("check history %s: %w", w.WorkID, err)
	}
	if done {
		return true, nil
	}
	if _, err := e.processItem(ctx, r, w, content, true); err != nil {
		return false, err
	}
	return true, nil
}

// hold extends the batch's lease. A lease that lapsed while the batch sat in
// the queue or between items is taken again; if another run got the lock in
// the meantime the batch stops with ErrBusy.
func (e *Engine) hold(ctx context.Context, r *run) error {
	err := e.Locker.Refresh(ctx, r.lease, e.lockTTL())
	if err == nil {
		return nil
	}
	if !errors.Is(err, lock.ErrNotHeld) {
		return fmt.Errorf("refresh lock: %w", err)
	}

	lease, ok, err := e.Locker.TryAcquire(ctx, r.lease.Key, e.lockTTL())
	if err != nil {
		return fmt.Errorf("reacquire lock: %w", err)
	}
	if !ok {
		return ErrBusy
	}
	log.Printf("interaction job=%d account=%d lease lapsed, reacquired\n", r.job.ID, r.acct.ID)
	r.lease = lease
	return nil
}

func (e *Engine) key(acct *account.Account, workID string) Key {
	return Key{OwnerID: acct.OwnerID, AccountID: acct.ID, PlatformType: acct.PlatformType, WorkID: workID}
}

func (e *Engine) release(l lock.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Locker.Release(ctx, l); err != nil {
		log.Printf("interaction release lock %s: %v\n", l.Key, err)
	}
}

// notify never blocks the execution path.
func (e *Engine) notify(title, body string) {
	if e.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Notifier.Notify(ctx, title, body); err != nil {
			log.Printf("notify %q: %v\n", title, err)
		}
	}()
}

// isolate turns a panicking platform call into an error.
func isolate(fn func() (bool, error)) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok, err = false, fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}

func actionError(action, workID string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s %s rejected", ErrPlatformAction, action, workID)
	}
	return fmt.Errorf("%w: %s %s: %v", ErrPlatformAction, action, workID, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
