package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"autorun/internal/account"
	"autorun/internal/autorun"
	"autorun/internal/lock"
	"autorun/internal/progress"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakePlatform struct {
	mu        sync.Mutex
	comments  []string
	likes     []string
	favorites []string

	CommentFunc  func(workID string) (bool, error)
	LikeFunc     func(workID string) (bool, error)
	FavoriteFunc func(workID string) (bool, error)
}

func (p *fakePlatform) CreateComment(_ context.Context, _ *account.Account, workID, _, _ string) (bool, error) {
	p.mu.Lock()
	p.comments = append(p.comments, workID)
	p.mu.Unlock()
	if p.CommentFunc != nil {
		return p.CommentFunc(workID)
	}
	return true, nil
}

func (p *fakePlatform) Like(_ context.Context, _ *account.Account, workID, _ string) (bool, error) {
	p.mu.Lock()
	p.likes = append(p.likes, workID)
	p.mu.Unlock()
	if p.LikeFunc != nil {
		return p.LikeFunc(workID)
	}
	return true, nil
}

func (p *fakePlatform) Favorite(_ context.Context, _ *account.Account, workID string) (bool, error) {
	p.mu.Lock()
	p.favorites = append(p.favorites, workID)
	p.mu.Unlock()
	if p.FavoriteFunc != nil {
		return p.FavoriteFunc(workID)
	}
	return true, nil
}

func (p *fakePlatform) calls() (comments, likes, favorites []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.comments...), append([]string(nil), p.likes...), append([]string(nil), p.favorites...)
}

type resolverFunc func(string) (Platform, error)

func (f resolverFunc) Resolve(t string) (Platform, error) { return f(t) }

type suggesterFunc func(context.Context, string) (string, error)

func (f suggesterFunc) Suggest(ctx context.Context, seed string) (string, error) { return f(ctx, seed) }

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(_ context.Context, title, _ string) error {
	n.mu.Lock()
	n.titles = append(n.titles, title)
	n.mu.Unlock()
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Emit(e progress.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) stages() []progress.Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]progress.Stage, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Stage)
	}
	return out
}

type testEnv struct {
	db       *gorm.DB
	jobs     *autorun.Repo
	guard    *Guard
	locker   *lock.Memory
	platform *fakePlatform
	events   *eventLog
	notifier *recordingNotifier
	engine   *Engine
	acct     *account.Account
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "interaction_test.db")
	gdb, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := gdb.AutoMigrate(&autorun.Job{}, &autorun.Record{}, &Record{}, &account.Account{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	acct := &account.Account{OwnerID: 1, PlatformType: "DOUYIN", UID: "u-1"}
	if err := (&account.Repo{DB: gdb}).Create(context.Background(), acct); err != nil {
		t.Fatalf("create account: %v", err)
	}

	env := &testEnv{
		db:       gdb,
		jobs:     &autorun.Repo{DB: gdb},
		guard:    &Guard{DB: gdb},
		locker:   lock.NewMemory(),
		platform: &fakePlatform{},
		events:   &eventLog{},
		notifier: &recordingNotifier{},
		acct:     acct,
	}
	env.engine = &Engine{
		Jobs:      env.jobs,
		History:   env.guard,
		Locker:    env.locker,
		Platforms: resolverFunc(func(string) (Platform, error) { return env.platform, nil }),
		Suggester: suggesterFunc(func(_ context.Context, seed string) (string, error) { return "nice: " + seed, nil }),
		Notifier:  env.notifier,
		Progress:  env.events,
	}
	return env
}

func (env *testEnv) newJob(t *testing.T, p Payload) *autorun.Job {
	t.Helper()
	raw, _ := json.Marshal(p)
	j, err := env.jobs.CreateJob(context.Background(), autorun.JobInput{
		OwnerID:   env.acct.OwnerID,
		AccountID: env.acct.ID,
		Type:      autorun.TypeInteraction,
		Payload:   raw,
		Cycle:     "day-8",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

// runToCompletion dispatches on a fresh queue and waits for the batch to drain.
func (env *testEnv) runToCompletion(t *testing.T, j *autorun.Job) *autorun.Record {
	t.Helper()
	q := NewQueue(2, 4)
	env.engine.Queue = q
	q.Start(context.Background())

	res, err := env.engine.Dispatch(context.Background(), j, env.acct, nil)
	if err != nil {
		q.Stop()
		t.Fatalf("dispatch: %v", err)
	}
	if res.Status != StatusAccepted {
		q.Stop()
		t.Fatalf("expected accepted, got %s", res.Status)
	}
	q.Stop()

	rec, err := env.jobs.GetExecutionRecord(context.Background(), res.RecordID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	return rec
}

func (env *testEnv) historyCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := env.db.Model(&Record{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func works(ids ...string) []Work {
	out := make([]Work, 0, len(ids))
	for _, id := range ids {
		out = append(out, Work{WorkID: id, Title: "title " + id, Desc: "desc " + id})
	}
	return out
}

func TestBatchHappyPath(t *testing.T) {
	env := newTestEnv(t)
	j := env.newJob(t, Payload{Works: works("w1", "w2")})

	rec := env.runToCompletion(t, j)
	if rec.Status != autorun.RecordSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", rec.Status, rec.Note)
	}

	comments, likes, favorites := env.platform.calls()
	if len(comments) != 2 || len(likes) != 2 || len(favorites) != 2 {
		t.Fatalf("unexpected calls: %v %v %v", comments, likes, favorites)
	}
	if comments[0] != "w1" || comments[1] != "w2" {
		t.Fatalf("items out of order: %v", comments)
	}

	stages := env.events.stages()
	if stages[0] != progress.StageStart || stages[len(stages)-1] != progress.StageEnd {
		t.Fatalf("unexpected stage sequence: %v", stages)
	}

	var stored Record
	if err := env.db.Where("work_id = ?", "w1").First(&stored).Error; err != nil {
		t.Fatalf("history row: %v", err)
	}
	if stored.CommentContent != "nice: desc w1title w1" || !stored.Liked || !stored.Collected {
		t.Fatalf("unexpected history row: %+v", stored)
	}

	if held, _ := env.engine.Running(context.Background(), env.acct.ID); held {
		t.Fatal("lock not released after batch")
	}
}

func TestBatchRerunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	j := env.newJob(t, Payload{Works: works("w1", "w2", "w3"), CommentContent: "fixed"})

	env.runToCompletion(t, j)
	env.runToCompletion(t, j)

	comments, _, _ := env.platform.calls()
	if len(comments) != 3 {
		t.Fatalf("second run must not call the platform again, got %d comments", len(comments))
	}
	if n := env.historyCount(t); n != 3 {
		t.Fatalf("expected 3 history rows, got %d", n)
	}
}

func TestBatchSkipsAlreadyProcessedItem(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.guard.RecordProcessed(context.Background(), Record{
		OwnerID: env.acct.OwnerID, AccountID: env.acct.ID, PlatformType: env.acct.PlatformType, WorkID: "w2",
	}); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	j := env.newJob(t, Payload{Works: works("w1", "w2", "w3")})

	rec := env.runToCompletion(t, j)

	comments, likes, _ := env.platform.calls()
	if len(comments) != 2 || comments[0] != "w1" || comments[1] != "w3" {
		t.Fatalf("expected comments on w1 and w3 only, got %v", comments)
	}
	for _, id := range likes {
		if id == "w2" {
			t.Fatal("skipped item must not be liked")
		}
	}
	if rec.Note != "processed=2 skipped=1 comment_failed=0" {
		t.Fatalf("unexpected note %q", rec.Note)
	}
}

func TestLikeFailureStillFavoritesAndRecords(t *testing.T) {
	env := newTestEnv(t)
	env.platform.LikeFunc = func(workID string) (bool, error) {
		if workID == "w1" {
			panic("like endpoint exploded")
		}
		return false, errors.New("rate limited")
	}
	j := env.newJob(t, Payload{Works: works("w1", "w2"), CommentContent: "hi"})

	rec := env.runToCompletion(t, j)
	if rec.Status != autorun.RecordSucceeded {
		t.Fatalf("like failures are not fatal, got %s (%s)", rec.Status, rec.Note)
	}

	_, _, favorites := env.platform.calls()
	if len(favorites) != 2 {
		t.Fatalf("favorite must run after a failed like, got %v", favorites)
	}

	var rows []Record
	env.db.Order("work_id asc").Find(&rows)
	if len(rows) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Liked || !r.Collected {
			t.Fatalf("expected liked=false collected=true, got %+v", r)
		}
	}

	errorEvents := 0
	for _, e := range env.events.events {
		if e.Stage == progress.StageError && e.Status == progress.StatusRunning {
			errorEvents++
		}
	}
	if errorEvents != 2 {
		t.Fatalf("expected 2 non-fatal error events, got %d", errorEvents)
	}
}

func TestCommentFailureSkipsRestOfItem(t *testing.T) {
	env := newTestEnv(t)
	env.platform.CommentFunc = func(workID string) (bool, error) {
		return workID != "w1", nil
	}
	j := env.newJob(t, Payload{Works: works("w1", "w2"), CommentContent: "hi"})

	rec := env.runToCompletion(t, j)
	if rec.Status != autorun.RecordSucceeded {
		t.Fatalf("comment failure is not fatal, got %s", rec.Status)
	}
	_, likes, _ := env.platform.calls()
	if len(likes) != 1 || likes[0] != "w2" {
		t.Fatalf("expected only w2 liked, got %v", likes)
	}
	if n := env.historyCount(t); n != 1 {
		t.Fatalf("expected 1 history row, got %d", n)
	}
	if rec.Note != "processed=1 skipped=0 comment_failed=1" {
		t.Fatalf("unexpected note %q", rec.Note)
	}
}

func TestContentGenerationFailureFailsBatch(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Suggester = suggesterFunc(func(context.Context, string) (string, error) { return "  ", nil })
	j := env.newJob(t, Payload{Works: works("w1", "w2")})

	rec := env.runToCompletion(t, j)
	if rec.Status != autorun.RecordFailed {
		t.Fatalf("expected FAILED, got %s", rec.Status)
	}
	comments, _, _ := env.platform.calls()
	if len(comments) != 0 {
		t.Fatalf("no platform call expected, got %v", comments)
	}

	stages := env.events.stages()
	if stages[len(stages)-1] != progress.StageError {
		t.Fatalf("expected terminal ERROR, got %v", stages)
	}
	if held, _ := env.engine.Running(context.Background(), env.acct.ID); held {
		t.Fatal("lock must be released after a fatal error")
	}
}

func TestPanicInHistoryFailsBatch(t *testing.T) {
	env := newTestEnv(t)
	env.engine.History = panickyHistory{}
	j := env.newJob(t, Payload{Works: works("w1"), CommentContent: "hi"})

	rec := env.runToCompletion(t, j)
	if rec.Status != autorun.RecordFailed {
		t.Fatalf("expected FAILED, got %s", rec.Status)
	}
	if held, _ := env.engine.Running(context.Background(), env.acct.ID); held {
		t.Fatal("lock must be released after a panic")
	}
}

type panickyHistory struct{}

func (panickyHistory) HasProcessed(context.Context, Key) (bool, error) { panic("db gone") }
func (panickyHistory) RecordProcessed(context.Context, Record) (*Record, error) {
	return nil, errors.New("unreachable")
}

func TestConcurrentDispatchOneBusy(t *testing.T) {
	env := newTestEnv(t)
	j := env.newJob(t, Payload{Works: works("w1"), CommentContent: "hi"})

	// queue not started: the first batch keeps the lock until Stop drains it
	q := NewQueue(2, 4)
	env.engine.Queue = q

	var wg sync.WaitGroup
	results := make([]error, 2)
	statuses := make([]DispatchStatus, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.engine.Dispatch(context.Background(), j, env.acct, nil)
			results[i], statuses[i] = err, res.Status
		}(i)
	}
	wg.Wait()

	accepted, busy := 0, 0
	for i := range results {
		switch {
		case results[i] == nil && statuses[i] == StatusAccepted:
			accepted++
		case errors.Is(results[i], ErrBusy) && statuses[i] == StatusBusy:
			busy++
		default:
			t.Fatalf("unexpected dispatch outcome: %v %s", results[i], statuses[i])
		}
	}
	if accepted != 1 || busy != 1 {
		t.Fatalf("expected 1 accepted and 1 busy, got %d and %d", accepted, busy)
	}
	if q.Pending() != 1 {
		t.Fatalf("busy dispatch must not queue, pending=%d", q.Pending())
	}

	q.Start(context.Background())
	q.Stop()

	records, _, _ := env.jobs.ListExecutionRecords(context.Background(), autorun.RecordFilter{JobID: j.ID})
	if len(records) != 1 {
		t.Fatalf("busy dispatch must not create a record, got %d", len(records))
	}
}

func TestQueueFullReleasesLockAndFailsRecord(t *testing.T) {
	env := newTestEnv(t)
	j := env.newJob(t, Payload{Works: works("w1"), CommentContent: "hi"})
	other := &account.Account{OwnerID: 1, PlatformType: "DOUYIN", UID: "u-2"}
	if err := (&account.Repo{DB: env.db}).Create(context.Background(), other); err != nil {
		t.Fatalf("create account: %v", err)
	}

	q := NewQueue(1, 1)
	env.engine.Queue = q
	if _, err := env.engine.Dispatch(context.Background(), j, env.acct, nil); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	_, err := env.engine.Dispatch(context.Background(), j, other, nil)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if held, _ := env.engine.Running(context.Background(), other.ID); held {
		t.Fatal("lock must be released when enqueue fails")
	}

	failed, _, _ := env.jobs.ListExecutionRecords(context.Background(), autorun.RecordFilter{Status: autorun.RecordFailed})
	if len(failed) != 1 {
		t.Fatalf("expected the rejected record to be FAILED, got %d", len(failed))
	}
	q.Start(context.Background())
	q.Stop()
}

func TestKwaiSkipsFavorite(t *testing.T) {
	env := newTestEnv(t)
	env.acct.PlatformType = "KWAI"
	j := env.newJob(t, Payload{Works: works("w1"), CommentContent: "hi"})

	env.runToCompletion(t, j)
	_, likes, favorites := env.platform.calls()
	if len(likes) != 1 || len(favorites) != 0 {
		t.Fatalf("expected like without favorite, got likes=%v favorites=%v", likes, favorites)
	}
}

func TestDispatchRejectsBadPayload(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Queue = NewQueue(1, 1)
	j := env.newJob(t, Payload{})

	if _, err := env.engine.Dispatch(context.Background(), j, env.acct, nil); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if held, _ := env.engine.Running(context.Background(), env.acct.ID); held {
		t.Fatal("invalid payload must not take the lock")
	}
}

func TestRunSingleCommentFailureStillLikes(t *testing.T) {
	env := newTestEnv(t)
	env.platform.CommentFunc = func(string) (bool, error) { return false, errors.New("captcha") }

	ok, err := env.engine.RunSingle(context.Background(), env.acct, Work{WorkID: "w9", Title: "t"}, "", nil)
	if err != nil || !ok {
		t.Fatalf("single run: ok=%v err=%v", ok, err)
	}
	_, likes, favorites := env.platform.calls()
	if len(likes) != 1 || len(favorites) != 1 {
		t.Fatalf("like and favorite must still run, got %v %v", likes, favorites)
	}
	if n := env.historyCount(t); n != 1 {
		t.Fatalf("expected 1 history row, got %d", n)
	}

	// second call is a no-op
	ok, err = env.engine.RunSingle(context.Background(), env.acct, Work{WorkID: "w9"}, "", nil)
	if err != nil || !ok {
		t.Fatalf("repeat single run: ok=%v err=%v", ok, err)
	}
	comments, _, _ := env.platform.calls()
	if len(comments) != 1 {
		t.Fatalf("repeat must not comment again, got %v", comments)
	}
}

func TestRunSingleContentFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Suggester = suggesterFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model overloaded")
	})

	sink := &eventLog{}
	ok, err := env.engine.RunSingle(context.Background(), env.acct, Work{WorkID: "w1"}, "", sink)
	if ok || !errors.Is(err, ErrContentGeneration) {
		t.Fatalf("expected ErrContentGeneration, got ok=%v err=%v", ok, err)
	}
	comments, _, _ := env.platform.calls()
	if len(comments) != 0 {
		t.Fatalf("no platform call expected, got %v", comments)
	}
	stages := sink.stages()
	if len(stages) != 2 || stages[1] != progress.StageError {
		t.Fatalf("per-call sink should see START and ERROR, got %v", stages)
	}
}

func TestRunSingleBusy(t *testing.T) {
	env := newTestEnv(t)
	if _, ok, _ := env.locker.TryAcquire(context.Background(), LockKey(env.acct.ID), lock.DefaultTTL); !ok {
		t.Fatal("pre-acquire failed")
	}
	if _, err := env.engine.RunSingle(context.Background(), env.acct, Work{WorkID: "w1"}, "hi", nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// useClock swaps the engine's locker for one driven by a test clock.
func (env *testEnv) useClock(ttl time.Duration) *testClock {
	c := &testClock{now: time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)}
	env.locker = lock.NewMemoryWithClock(c.Now)
	env.engine.Locker = env.locker
	env.engine.LockTTL = ttl
	return c
}

func TestQueuedBatchSurvivesLapsedLease(t *testing.T) {
	env := newTestEnv(t)
	clock := env.useClock(time.Minute)
	j := env.newJob(t, Payload{Works: works("w1", "w2"), CommentContent: "hi"})

	q := NewQueue(1, 4)
	env.engine.Queue = q
	res, err := env.engine.Dispatch(context.Background(), j, env.acct, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// the batch waits in the queue longer than the lock TTL
	clock.Advance(2 * time.Minute)
	q.Start(context.Background())
	q.Stop()

	rec, err := env.jobs.GetExecutionRecord(context.Background(), res.RecordID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Status != autorun.RecordSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", rec.Status, rec.Note)
	}
	comments, _, _ := env.platform.calls()
	if len(comments) != 2 {
		t.Fatalf("expected both items commented, got %v", comments)
	}
	if held, _ := env.engine.Running(context.Background(), env.acct.ID); held {
		t.Fatal("reacquired lock not released after batch")
	}
}

func TestQueuedBatchBusyWhenLapsedLeaseTaken(t *testing.T) {
	env := newTestEnv(t)
	clock := env.useClock(time.Minute)
	j := env.newJob(t, Payload{Works: works("w1"), CommentContent: "hi"})

	q := NewQueue(1, 4)
	env.engine.Queue = q
	res, err := env.engine.Dispatch(context.Background(), j, env.acct, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, ok, _ := env.locker.TryAcquire(context.Background(), LockKey(env.acct.ID), time.Hour); !ok {
		t.Fatal("expected the lapsed lock to be free")
	}
	q.Start(context.Background())
	q.Stop()

	rec, _ := env.jobs.GetExecutionRecord(context.Background(), res.RecordID)
	if rec.Status != autorun.RecordFailed || !strings.Contains(rec.Note, ErrBusy.Error()) {
		t.Fatalf("expected FAILED busy record, got %s (%s)", rec.Status, rec.Note)
	}
	if comments, _, _ := env.platform.calls(); len(comments) != 0 {
		t.Fatalf("no platform call expected, got %v", comments)
	}
	if held, _ := env.engine.Running(context.Background(), env.acct.ID); !held {
		t.Fatal("the other holder's lock must survive the failed batch")
	}
}

func TestLongBatchKeepsAccountLocked(t *testing.T) {
	env := newTestEnv(t)
	clock := env.useClock(time.Minute)
	j := env.newJob(t, Payload{Works: works("w1", "w2", "w3", "w4"), CommentContent: "hi"})
	second := env.newJob(t, Payload{Works: works("x1"), CommentContent: "hi"})

	var mu sync.Mutex
	var secondErr error
	env.platform.CommentFunc = func(workID string) (bool, error) {
		// every item takes most of the TTL
		clock.Advance(40 * time.Second)
		if workID == "w3" {
			_, err := env.engine.Dispatch(context.Background(), second, env.acct, nil)
			mu.Lock()
			secondErr = err
			mu.Unlock()
		}
		return true, nil
	}

	rec := env.runToCompletion(t, j)
	if rec.Status != autorun.RecordSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", rec.Status, rec.Note)
	}
	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(secondErr, ErrBusy) {
		t.Fatalf("second dispatch during a running batch must be busy, got %v", secondErr)
	}
	records, _, _ := env.jobs.ListExecutionRecords(context.Background(), autorun.RecordFilter{JobID: second.ID})
	if len(records) != 0 {
		t.Fatalf("busy dispatch must not create a record, got %d", len(records))
	}
}
