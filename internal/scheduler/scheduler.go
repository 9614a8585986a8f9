package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"autorun/internal/autorun"
	"autorun/internal/cycle"

	"github.com/robfig/cron/v3"
)

const DefaultSpec = "@every 60s"

var (
	ErrNoHandler  = errors.New("no handler registered for job type")
	ErrJobDeleted = errors.New("job is deleted")
)

type Outcome int

const (
	Accepted Outcome = iota + 1
	Busy
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Busy:
		return "busy"
	}
	return "unknown"
}

type Result struct {
	Outcome  Outcome
	RecordID uint64
}

// Handler starts one run of a job. A busy target is reported through
// Result.Outcome, not as an error.
type Handler func(ctx context.Context, job *autorun.Job) (Result, error)

type JobStore interface {
	ListActiveOwners(ctx context.Context) ([]uint64, error)
	ListActiveJobsForOwner(ctx context.Context, ownerID uint64) ([]autorun.Job, error)
	GetJob(ctx context.Context, ownerID, id uint64) (*autorun.Job, error)
	MarkFired(ctx context.Context, id uint64, at time.Time) error
}

type Scheduler struct {
	Jobs JobStore
	Spec string
	Now  func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
	cron     *cron.Cron
}

func New(jobs JobStore, spec string) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	return &Scheduler{Jobs: jobs, Spec: spec, Now: time.Now, handlers: map[string]Handler{}}
}

func (s *Scheduler) Register(jobType string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = map[string]Handler{}
	}
	s.handlers[jobType] = h
}

func (s *Scheduler) handler(jobType string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[jobType]
	return h, ok
}

func (s *Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Start runs Tick on the cron spec until Stop. Overlapping ticks are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(s.Spec, func() { s.Tick(ctx, s.now()) }); err != nil {
		return fmt.Errorf("scheduler spec %q: %w", s.Spec, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	log.Printf("scheduler started spec=%q\n", s.Spec)
	return nil
}

// Stop halts the tick and waits for a running one to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

type TickReport struct {
	Evaluated int
	Fired     int
	Busy      int
	Failed    int
}

// Tick fires every active job whose cycle threshold has been reached and that
// has not already fired in the current period. Errors are logged per job and
// never stop the sweep.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickReport {
	var rep TickReport

	owners, err := s.Jobs.ListActiveOwners(ctx)
	if err != nil {
		log.Printf("scheduler list owners: %v\n", err)
		return rep
	}

	for _, owner := range owners {
		if ctx.Err() != nil {
			return rep
		}
		jobs, err := s.Jobs.ListActiveJobsForOwner(ctx, owner)
		if err != nil {
			log.Printf("scheduler owner=%d list jobs: %v\n", owner, err)
			continue
		}
		for i := range jobs {
			j := &jobs[i]
			rep.Evaluated++
			if !cycle.HasTriggered(j.Cycle, now) || cycle.FiredInPeriod(j.Cycle, j.LastFiredAt, now) {
				continue
			}

			res, err := s.fire(ctx, j, now)
			switch {
			case err != nil:
				rep.Failed++
				log.Printf("scheduler job=%d owner=%d type=%s: %v\n", j.ID, j.OwnerID, j.Type, err)
			case res.Outcome == Busy:
				rep.Busy++
				log.Printf("scheduler job=%d account=%d busy, retry next tick\n", j.ID, j.AccountID)
			default:
				rep.Fired++
			}
		}
	}
	return rep
}

// RunNow fires a job immediately regardless of its cycle. Paused jobs may be
// run; deleted ones may not.
func (s *Scheduler) RunNow(ctx context.Context, ownerID, jobID uint64) (Result, error) {
	j, err := s.Jobs.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return Result{}, err
	}
	if j.Status == autorun.StatusDeleted {
		return Result{}, ErrJobDeleted
	}
	return s.fire(ctx, j, s.now())
}

func (s *Scheduler) fire(ctx context.Context, j *autorun.Job, now time.Time) (res Result, err error) {
	h, ok := s.handler(j.Type)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoHandler, j.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("handler panic: %v", r)
		}
	}()

	res, err = h(ctx, j)
	if err != nil || res.Outcome != Accepted {
		return res, err
	}

	if err := s.Jobs.MarkFired(ctx, j.ID, now); err != nil {
		log.Printf("scheduler job=%d mark fired: %v\n", j.ID, err)
	}
	return res, nil
}
