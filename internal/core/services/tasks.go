package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/custodia-labs/kbase/internal/concurrency"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
)

// Ensure TaskProcessor implements the interface.
var _ driving.TaskProcessor = (*TaskProcessor)(nil)

// TaskHandler executes one attempt of a task and returns its result.
type TaskHandler func(ctx context.Context, task domain.Task) (any, error)

// dispatchBackoff bounds the dispatcher's wait when the job channel is full.
const (
	dispatchBackoffMin = 10 * time.Millisecond
	dispatchBackoffMax = 250 * time.Millisecond
	waitPollInterval   = 20 * time.Millisecond
)

type taskEntry struct {
	task     domain.Task
	callback driving.TaskCallback
	done     chan struct{}
}

// TaskProcessor runs registered task kinds on a fixed pool of workers.
// A dispatcher moves tasks from a position-ordered queue onto a bounded job
// channel. Failed attempts are retried with capped exponential backoff; a
// task that exhausts its retries is kept in memory and in history.
type TaskProcessor struct {
	cfg      domain.ProcessorConfig
	history  driven.HistoryStore
	metrics  driven.Metrics
	handlers map[string]TaskHandler

	mu         sync.Mutex
	tasks      map[string]*taskEntry
	queue      []string
	dispatched []string
	processing int
	started    bool
	stopped    bool
	abort      bool

	jobs         chan string
	wake         chan struct{}
	stopDispatch chan struct{}
	stopDone     chan struct{}
	dispatcherWG sync.WaitGroup
	workerWG     sync.WaitGroup
	baseCtx      context.Context

	completed concurrency.Counter
	failed    concurrency.Counter
	retries   concurrency.Counter
	submitted concurrency.Counter
}

// NewTaskProcessor creates a processor. history and metrics may be nil.
func NewTaskProcessor(cfg domain.ProcessorConfig, history driven.HistoryStore, metrics driven.Metrics) *TaskProcessor {
	defaults := domain.DefaultProcessorConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = defaults.BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = max(defaults.BackoffMax, cfg.BackoffInitial)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = cfg.Workers
	}

	return &TaskProcessor{
		cfg:          cfg,
		history:      history,
		metrics:      metrics,
		handlers:     make(map[string]TaskHandler),
		tasks:        make(map[string]*taskEntry),
		jobs:         make(chan string, cfg.QueueCapacity),
		wake:         make(chan struct{}, 1),
		stopDispatch: make(chan struct{}),
		stopDone:     make(chan struct{}),
	}
}

// Register installs the handler for a task kind. Register before Start.
func (p *TaskProcessor) Register(kind string, h TaskHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Start launches the dispatcher and workers. Jobs run under a context
// detached from ctx's cancellation so shutdown can let them finish.
func (p *TaskProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return domain.ErrProcessorStopped
	}
	if p.started {
		return nil
	}
	p.started = true
	p.baseCtx = context.WithoutCancel(ctx)

	p.dispatcherWG.Add(1)
	go p.dispatch(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.workerWG.Add(1)
		go p.work()
	}
	logger.Debug("tasks: started %d workers", p.cfg.Workers)
	return nil
}

// Submit queues a task and returns its id immediately.
func (p *TaskProcessor) Submit(req driving.TaskRequest) (string, error) {
	if req.Kind == "" {
		return "", fmt.Errorf("%w: task kind is required", domain.ErrInvalidInput)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return "", domain.ErrProcessorStopped
	}
	if _, ok := p.handlers[req.Kind]; !ok {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: no handler for task kind %q", domain.ErrUnsupportedType, req.Kind)
	}
	id := uuid.New().String()
	p.tasks[id] = &taskEntry{
		task: domain.Task{
			ID:          id,
			Kind:        req.Kind,
			SourceID:    req.SourceID,
			Payload:     req.Payload,
			State:       domain.TaskQueued,
			SubmittedAt: time.Now(),
		},
		callback: req.Callback,
		done:     make(chan struct{}),
	}
	p.queue = append(p.queue, id)
	p.mu.Unlock()

	p.submitted.Inc()
	p.signal()
	logger.Debug("tasks: queued %s task %s", req.Kind, id)
	return id, nil
}

// Resubmit queues a failed task again with a fresh attempt count.
func (p *TaskProcessor) Resubmit(ctx context.Context, id string) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return domain.ErrProcessorStopped
	}
	entry, ok := p.tasks[id]
	p.mu.Unlock()

	if !ok && p.history != nil {
		failed, err := p.history.ListFailedTasks(ctx)
		if err != nil {
			return fmt.Errorf("resubmit %s: %w", id, err)
		}
		for _, t := range failed {
			if t.ID == id {
				entry = &taskEntry{task: t}
				ok = true
				break
			}
		}
	}
	if !ok {
		return fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
	}

	p.mu.Lock()
	if entry.task.State != domain.TaskFailed {
		p.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s, not failed", domain.ErrInvalidInput, id, entry.task.State)
	}
	entry.task.State = domain.TaskQueued
	entry.task.Attempts = 0
	entry.task.Error = ""
	entry.task.StartedAt = nil
	entry.task.FinishedAt = nil
	entry.done = make(chan struct{})
	p.tasks[id] = entry
	p.queue = append(p.queue, id)
	p.mu.Unlock()

	if p.history != nil {
		if err := p.history.DeleteFailedTask(ctx, id); err != nil {
			logger.Warn("tasks: failed to remove %s from failed history: %v", id, err)
		}
	}
	p.signal()
	return nil
}

// Status returns a task's externally visible state.
func (p *TaskProcessor) Status(id string) domain.TaskStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.tasks[id]
	if !ok {
		return domain.TaskStatus{ID: id, State: domain.TaskNotFound}
	}
	st := statusOf(entry.task)
	if st.State == domain.TaskQueued {
		if i := slices.Index(p.dispatched, id); i >= 0 {
			st.Position = i + 1
		} else if i := slices.Index(p.queue, id); i >= 0 {
			st.Position = len(p.dispatched) + i + 1
		}
	}
	return st
}

// Wait blocks until the task is terminal or ctx is done.
func (p *TaskProcessor) Wait(ctx context.Context, id string) (domain.TaskStatus, error) {
	p.mu.Lock()
	entry, ok := p.tasks[id]
	var done chan struct{}
	if ok {
		done = entry.done
	}
	p.mu.Unlock()
	if !ok {
		return domain.TaskStatus{ID: id, State: domain.TaskNotFound}, fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
	}

	select {
	case <-done:
		return p.Status(id), nil
	case <-ctx.Done():
		return p.Status(id), ctx.Err()
	}
}

// WaitForAll blocks until no task is queued or processing, or until timeout.
// On timeout the summary carries partial counts.
func (p *TaskProcessor) WaitForAll(timeout time.Duration) domain.WaitSummary {
	deadline := time.Now().Add(timeout)
	for {
		sum := p.summary()
		if sum.Pending == 0 {
			return sum
		}
		if time.Now().After(deadline) {
			sum.TimedOut = true
			return sum
		}
		time.Sleep(waitPollInterval)
	}
}

func (p *TaskProcessor) summary() domain.WaitSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	var sum domain.WaitSummary
	for _, e := range p.tasks {
		switch e.task.State {
		case domain.TaskCompleted:
			sum.Completed++
		case domain.TaskFailed:
			sum.Failed++
		default:
			sum.Pending++
		}
	}
	return sum
}

// FailedTasks returns tasks that exhausted their retries, oldest first.
func (p *TaskProcessor) FailedTasks(ctx context.Context) ([]domain.Task, error) {
	var out []domain.Task
	seen := make(map[string]bool)
	if p.history != nil {
		stored, err := p.history.ListFailedTasks(ctx)
		if err != nil {
			return nil, fmt.Errorf("list failed tasks: %w", err)
		}
		for _, t := range stored {
			seen[t.ID] = true
			out = append(out, t)
		}
	}

	p.mu.Lock()
	for _, e := range p.tasks {
		if e.task.State == domain.TaskFailed && !seen[e.task.ID] {
			out = append(out, e.task)
		}
	}
	p.mu.Unlock()

	slices.SortStableFunc(out, func(a, b domain.Task) int { return a.SubmittedAt.Compare(b.SubmittedAt) })
	return out, nil
}

// Stats returns processor statistics.
func (p *TaskProcessor) Stats() domain.ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.ProcessorStats{
		Workers:    p.cfg.Workers,
		Queued:     len(p.queue) + len(p.dispatched),
		Processing: p.processing,
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Retries:    p.retries.Load(),
		Submitted:  p.submitted.Load(),
		Stopped:    p.stopped,
	}
}

// Stop shuts the processor down. New submissions are refused at once.
// With drain, the backlog is dispatched and waited for. Without it, or when
// ctx expires while draining, dispatch stops, running jobs finish and
// queued tasks are marked failed with domain.ErrProcessorStopped. ctx
// bounds the wait. A later Stop waits for the workers of the first.
func (p *TaskProcessor) Stop(ctx context.Context, drain bool) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		select {
		case <-p.stopDone:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("tasks: waiting for workers: %w", ctx.Err())
		}
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	var drainErr error
	if drain && started {
	drain:
		for p.pending() > 0 {
			select {
			case <-ctx.Done():
				drainErr = fmt.Errorf("tasks: drain: %w", ctx.Err())
				logger.Warn("tasks: drain interrupted with %d tasks pending", p.pending())
				break drain
			case <-time.After(waitPollInterval):
			}
		}
	}

	p.mu.Lock()
	p.abort = true
	p.mu.Unlock()
	close(p.stopDispatch)
	p.dispatcherWG.Wait()
	close(p.jobs)
	go func() {
		p.workerWG.Wait()
		close(p.stopDone)
	}()

	// Dispatch is over, so nothing queued will ever start. Workers fail
	// whatever is still on the job channel.
	p.mu.Lock()
	leftover := p.queue
	p.queue = nil
	p.mu.Unlock()
	for _, id := range leftover {
		p.finish(context.WithoutCancel(ctx), id, nil, domain.ErrProcessorStopped)
	}
	if len(leftover) > 0 {
		logger.Warn("tasks: %d queued tasks failed by shutdown", len(leftover))
	}
	if drainErr != nil {
		return drainErr
	}

	select {
	case <-p.stopDone:
	case <-ctx.Done():
		return fmt.Errorf("tasks: waiting for workers: %w", ctx.Err())
	}
	logger.Debug("tasks: stopped")
	return nil
}

func (p *TaskProcessor) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + len(p.dispatched) + p.processing
}

func (p *TaskProcessor) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// dispatch moves queued tasks onto the job channel in position order.
func (p *TaskProcessor) dispatch(ctx context.Context) {
	defer p.dispatcherWG.Done()
	wait := dispatchBackoffMin
	for {
		full := false
		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			id := p.queue[0]
			select {
			case p.jobs <- id:
				p.queue = p.queue[1:]
				p.dispatched = append(p.dispatched, id)
				p.mu.Unlock()
				wait = dispatchBackoffMin
			default:
				// Channel full; the task stays at the front.
				p.mu.Unlock()
				full = true
			}
			if full {
				break
			}
		}

		var timeout <-chan time.Time
		if full {
			timeout = time.After(wait)
			wait = min(2*wait, dispatchBackoffMax)
		}
		select {
		case <-p.stopDispatch:
			return
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-timeout:
		}
	}
}

// work consumes the job channel until it is closed.
func (p *TaskProcessor) work() {
	defer p.workerWG.Done()
	for id := range p.jobs {
		p.mu.Lock()
		p.dispatched = slices.DeleteFunc(p.dispatched, func(d string) bool { return d == id })
		if p.abort {
			p.mu.Unlock()
			p.finish(p.baseCtx, id, nil, domain.ErrProcessorStopped)
			continue
		}
		entry := p.tasks[id]
		now := time.Now()
		entry.task.State = domain.TaskProcessing
		entry.task.StartedAt = &now
		task := entry.task
		handler := p.handlers[task.Kind]
		p.processing++
		p.mu.Unlock()

		result, err := p.execute(task, handler)

		p.mu.Lock()
		p.processing--
		p.mu.Unlock()
		p.finish(p.baseCtx, id, result, err)
		p.signal()
	}
}

// execute runs the handler with retries.
func (p *TaskProcessor) execute(task domain.Task, handler TaskHandler) (any, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BackoffInitial
	exp.MaxInterval = p.cfg.BackoffMax
	exp.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(exp, uint64(p.cfg.MaxRetries))

	var result any
	op := func() error {
		p.mu.Lock()
		p.tasks[task.ID].task.Attempts++
		attempt := p.tasks[task.ID].task
		p.mu.Unlock()

		ctx := p.baseCtx
		if p.cfg.JobTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
			defer cancel()
		}
		r, err := runHandler(ctx, handler, attempt)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrUnsupportedType) ||
				errors.Is(err, domain.ErrLLMUnavailable) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}
	notify := func(err error, d time.Duration) {
		p.retries.Inc()
		logger.Warn("tasks: %s task %s failed, retrying in %s: %v", task.Kind, task.ID, d, err)
	}

	err := backoff.RetryNotify(op, policy, notify)
	return result, err
}

// runHandler converts a handler panic into an error.
func runHandler(ctx context.Context, h TaskHandler, task domain.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return h(ctx, task)
}

// finish moves a task to its terminal state and runs its callback.
func (p *TaskProcessor) finish(ctx context.Context, id string, result any, err error) {
	p.mu.Lock()
	entry, ok := p.tasks[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	now := time.Now()
	entry.task.FinishedAt = &now
	if err != nil {
		entry.task.State = domain.TaskFailed
		entry.task.Error = err.Error()
	} else {
		entry.task.State = domain.TaskCompleted
		entry.task.Result = result
		entry.task.Error = ""
	}
	task := entry.task
	callback := entry.callback
	done := entry.done
	p.mu.Unlock()

	if err != nil {
		p.failed.Inc()
		logger.Warn("tasks: %s task %s failed after %d attempts: %v", task.Kind, id, task.Attempts, err)
		if p.history != nil {
			if herr := p.history.SaveFailedTask(ctx, &task); herr != nil {
				logger.Warn("tasks: failed to record failed task %s: %v", id, herr)
			}
		}
	} else {
		p.completed.Inc()
		logger.Debug("tasks: %s task %s completed", task.Kind, id)
	}
	if p.metrics != nil {
		p.metrics.RecordTask(task.Kind, task.State)
	}

	if callback != nil {
		runCallback(callback, statusOf(task))
	}
	if done != nil {
		close(done)
	}
}

func runCallback(cb driving.TaskCallback, st domain.TaskStatus) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tasks: callback for %s panicked: %v", st.ID, r)
		}
	}()
	cb(st)
}

func statusOf(t domain.Task) domain.TaskStatus {
	return domain.TaskStatus{
		ID:       t.ID,
		Kind:     t.Kind,
		SourceID: t.SourceID,
		State:    t.State,
		Attempts: t.Attempts,
		Error:    t.Error,
		Result:   t.Result,
	}
}
