// Package backfill implements History Backfill: a TaskManager singleton
// stepping HistoryTasks that replay a chat's message history through the
// Message Router exactly as if it had arrived live (§4.6).
package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/rs/zerolog"

	"github.com/voxharbor/engine/internal/apperrors"
	"github.com/voxharbor/engine/internal/chatnet"
	"github.com/voxharbor/engine/internal/model"
	"github.com/voxharbor/engine/internal/msgrouter"
)

const (
	// stepTimeout bounds each step's fetch (§4.6).
	stepTimeout = 60 * time.Second

	// defaultLimit is the page size a step fetches unless overridden.
	defaultLimit = 100

	// maxRetries is the number of tolerated transient failures before a
	// task is marked failed.
	maxRetries = 10

	// delta bounds the distance walked from Start (Start - currentOffset):
	// while it is below delta the task is considered finished, even with
	// messages left unfetched.
	delta = 3

	// idleSleep is how long the TaskManager loop sleeps when it holds no
	// live tasks.
	idleSleep = 10 * time.Second
)

// HistoryFetcher is the subset of a Session Client Wrapper a task needs to
// walk a chat's history.
type HistoryFetcher interface {
	GetHistory(ctx context.Context, chatID, start, end int64, limit int) ([]chatnet.Message, error)
	Index() int
}

// Router is the subset of msgrouter.Router a task replays fetched
// messages through.
type Router interface {
	Route(ctx context.Context, sub msgrouter.Subscriber, client chatnet.Client, msg chatnet.Message)
}

// HistoryTask walks one chat's history between [end, start] descending.
type HistoryTask struct {
	ChatID  int64
	Start   int64
	End     int64
	Limit   int

	fetcher HistoryFetcher
	client  chatnet.Client
	router  Router
	sub     msgrouter.Subscriber

	currentOffset int64
	count         int64
	retries       int
	finished      bool
	failed        bool
}

// NewTask constructs a task for the [end, start] range.
func NewTask(chatID, start, end int64, fetcher HistoryFetcher, client chatnet.Client, router Router, sub msgrouter.Subscriber) *HistoryTask {
	limit := defaultLimit
	return &HistoryTask{
		ChatID:        chatID,
		Start:         start,
		End:           end,
		Limit:         limit,
		fetcher:       fetcher,
		client:        client,
		router:        router,
		sub:           sub,
		currentOffset: start,
	}
}

// ID returns the task's "chat_id_start_end" identity.
func (t *HistoryTask) ID() string {
	return model.BackfillTaskID(t.ChatID, t.Start, t.End)
}

// Progress returns the task's completion fraction in [0, 1].
func (t *HistoryTask) Progress() float64 {
	total := t.Start - t.End
	if total <= 0 {
		return 1
	}
	return float64(t.Start-t.currentOffset) / float64(total)
}

// Done reports whether the task has finished or failed.
func (t *HistoryTask) Done() bool {
	return t.finished || t.failed
}

// Failed reports whether the task exhausted its retry budget.
func (t *HistoryTask) Failed() bool {
	return t.failed
}

// Err returns apperrors.ErrTaskFailed once the task has exhausted its
// retry budget, nil otherwise.
func (t *HistoryTask) Err() error {
	if t.failed {
		return apperrors.ErrTaskFailed
	}
	return nil
}

// Step advances the task by one page, replaying every fetched message
// through the router, bounded by stepTimeout.
func (t *HistoryTask) Step(ctx context.Context) {
	if t.Done() {
		return
	}

	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	msgs, err := t.fetcher.GetHistory(stepCtx, t.ChatID, t.currentOffset, t.End, t.Limit)
	if err != nil {
		t.retries++
		if t.retries > maxRetries {
			t.failed = true
		}
		return
	}

	if len(msgs) == 0 {
		t.finished = true
		return
	}

	oldest := msgs[len(msgs)-1]
	for _, m := range msgs {
		t.router.Route(ctx, t.sub, t.client, m)
		t.count++
	}

	t.currentOffset = oldest.MessageID
	if t.Start-t.currentOffset < delta {
		t.finished = true
	}
}

// State reports the task's observable status.
func (t *HistoryTask) State() model.BackfillTaskState {
	return model.BackfillTaskState{
		ChatID:        t.ChatID,
		StartID:       t.Start,
		EndID:         t.End,
		CurrentOffset: t.currentOffset,
		Count:         t.count,
		Retries:       t.retries,
		Finished:      t.finished,
	}
}

// TaskManager is the process-wide singleton holding every live task,
// keyed by task id.
type TaskManager struct {
	log  zerolog.Logger
	pool *pond.WorkerPool

	mu    sync.Mutex
	tasks map[string]*HistoryTask
}

// NewTaskManager builds an empty TaskManager. concurrency bounds how many
// tasks are stepped in parallel per loop iteration.
func NewTaskManager(log zerolog.Logger, concurrency int) *TaskManager {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &TaskManager{
		log:   log,
		pool:  pond.New(concurrency, 0),
		tasks: make(map[string]*HistoryTask),
	}
}

// Schedule adds a task to the live set, replacing any existing task with
// the same id.
func (m *TaskManager) Schedule(task *HistoryTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID()] = task
}

// Count returns the number of live tasks.
func (m *TaskManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Task looks up a live task by id.
func (m *TaskManager) Task(id string) (*HistoryTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Run concurrently advances all live tasks one step per iteration, then
// removes any that finished or failed. Sleeps idleSleep when empty.
func (m *TaskManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tasks := m.snapshot()
		if len(tasks) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}

		var wg sync.WaitGroup
		for _, t := range tasks {
			t := t
			wg.Add(1)
			m.pool.Submit(func() {
				defer wg.Done()
				t.Step(ctx)
				if t.Failed() {
					m.log.Error().Str("task_id", t.ID()).Msg("backfill: task exhausted retry budget")
				}
			})
		}
		wg.Wait()

		m.reap()
	}
}

func (m *TaskManager) snapshot() []*HistoryTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*HistoryTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out
}

func (m *TaskManager) reap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		if t.Done() {
			delete(m.tasks, id)
		}
	}
}

// Stop releases the worker pool's goroutines.
func (m *TaskManager) Stop() {
	m.pool.StopAndWait()
}
