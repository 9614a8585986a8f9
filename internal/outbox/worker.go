package outbox

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
)

const DefaultPollInterval = 800 * time.Millisecond

type Sender interface {
	Notify(ctx context.Context, title, body string) error
}

// Worker delivers queued messages through Sender, retrying with exponential
// backoff (2^attempts seconds, capped at ten minutes).
type Worker struct {
	ID     string
	Repo   *Repo
	Sender Sender
	Poll   time.Duration
}

func NewWorker(repo *Repo, sender Sender) *Worker {
	return &Worker{ID: "outbox-" + uuid.NewString(), Repo: repo, Sender: sender, Poll: DefaultPollInterval}
}

func (w *Worker) Run(ctx context.Context) {
	poll := w.Poll
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain delivers every due message and returns how many it handled.
func (w *Worker) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		m, err := w.Repo.Claim(ctx, w.ID)
		if err != nil {
			log.Printf("outbox claim error: %v\n", err)
			return n
		}
		if m == nil {
			return n
		}
		w.handle(ctx, m)
		n++
	}
	return n
}

func (w *Worker) handle(ctx context.Context, m *Message) {
	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := w.Sender.Notify(sendCtx, m.Title, m.Body); err != nil {
		w.retry(ctx, m, err.Error())
		return
	}
	if err := w.Repo.MarkDone(ctx, m.ID); err != nil {
		log.Printf("outbox mark done id=%d: %v\n", m.ID, err)
	}
}

func (w *Worker) retry(ctx context.Context, m *Message, errMsg string) {
	attempts := m.Attempts + 1
	if attempts >= m.MaxAttempts {
		log.Printf("outbox id=%d giving up after %d attempts: %s\n", m.ID, attempts, errMsg)
		_ = w.Repo.MarkFailed(ctx, m.ID, errMsg)
		return
	}

	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	next := w.Repo.now().Add(time.Duration(sec) * time.Second)

	_ = w.Repo.RetryLater(ctx, m.ID, attempts, next, errMsg)
}
