package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"trading-worker/internal/breaker"
	"trading-worker/internal/events"
	"trading-worker/internal/monitor"
	"trading-worker/internal/worker"
)

// HandlerFunc runs one job. A non-nil result is stored on the envelope even
// when err is set.
type HandlerFunc func(ctx context.Context, env Envelope) (any, error)

// Gate is the part of the circuit breaker the dispatcher consults.
type Gate interface {
	IsActive() bool
}

// Config controls retries and timeouts.
type Config struct {
	MaxRetries    int
	Timeout       time.Duration
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	BackoffFactor float64
	Jitter        bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		Timeout:       10 * time.Second,
		BackoffMin:    500 * time.Millisecond,
		BackoffMax:    30 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}
}

// Deps are the dispatcher's collaborators. Everything but Worker may be nil.
type Deps struct {
	Breaker Gate
	Worker  *worker.State
	Metrics *monitor.Metrics
	Bus     *events.Bus
	Journal Journal
	Logger  *zap.Logger
}

// Dispatcher owns every envelope and runs them one at a time.
type Dispatcher struct {
	cfg      Config
	backoff  *backoff.Backoff
	queue    *Queue
	handlers map[Type]HandlerFunc

	breaker Gate
	worker  *worker.State
	metrics *monitor.Metrics
	bus     *events.Bus
	journal Journal
	log     *zap.SugaredLogger
	now     func() time.Time

	mu     sync.Mutex
	jobs   map[string]*Envelope
	timers map[string]*time.Timer
	closed bool
}

func NewDispatcher(cfg Config, deps Deps) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = def.BackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	w := deps.Worker
	if w == nil {
		w = worker.NewState()
	}
	deps.Metrics.TrackHeartbeat(w.HeartbeatAge)
	return &Dispatcher{
		cfg: cfg,
		backoff: &backoff.Backoff{
			Min:    cfg.BackoffMin,
			Max:    cfg.BackoffMax,
			Factor: cfg.BackoffFactor,
			Jitter: cfg.Jitter,
		},
		queue:    NewQueue(),
		handlers: make(map[Type]HandlerFunc),
		breaker:  deps.Breaker,
		worker:   w,
		metrics:  deps.Metrics,
		bus:      deps.Bus,
		journal:  deps.Journal,
		log:      logger.Named("dispatcher").Sugar(),
		now:      time.Now,
		jobs:     make(map[string]*Envelope),
		timers:   make(map[string]*time.Timer),
	}
}

// Handle registers h for t. Call before Run.
func (d *Dispatcher) Handle(t Type, h HandlerFunc) {
	d.handlers[t] = h
}

// Enqueue records a new job in the enqueued state and appends it to the queue.
// payload may be a json.RawMessage, []byte of JSON, or any marshalable value.
func (d *Dispatcher) Enqueue(t Type, payload any) (Envelope, error) {
	if !t.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return Envelope{}, err
	}

	env := &Envelope{
		ID:         uuid.NewString(),
		Type:       t,
		Payload:    raw,
		State:      StateEnqueued,
		EnqueuedAt: d.now().UTC(),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Envelope{}, ErrClosed
	}
	if d.journal != nil {
		if err := d.journal.Record(ActionEnqueue, *env); err != nil {
			d.mu.Unlock()
			return Envelope{}, fmt.Errorf("journal enqueue: %w", err)
		}
	}
	// Push under d.mu so Close cannot close the queue between the closed
	// check and the push.
	if !d.queue.Push(env.ID) {
		d.mu.Unlock()
		return Envelope{}, ErrClosed
	}
	d.jobs[env.ID] = env
	out := env.clone()
	d.mu.Unlock()

	d.metrics.JobEnqueued(string(t))
	d.bus.Publish(events.EventJobUpdate, out)
	d.log.Debugf("job %s (%s) enqueued", out.ID, t)
	return out, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return b, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	return append(json.RawMessage(nil), raw...), nil
}

// Get returns a copy of the envelope with id.
func (d *Dispatcher) Get(id string) (Envelope, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	env, ok := d.jobs[id]
	if !ok {
		return Envelope{}, false
	}
	return env.clone(), true
}

// List returns copies of every envelope in state (all when state is empty),
// oldest first.
func (d *Dispatcher) List(state State) []Envelope {
	d.mu.Lock()
	out := make([]Envelope, 0, len(d.jobs))
	for _, env := range d.jobs {
		if state == "" || env.State == state {
			out = append(out, env.clone())
		}
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out
}

// Counts returns the number of retained envelopes per state.
func (d *Dispatcher) Counts() map[State]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[State]int)
	for _, env := range d.jobs {
		out[env.State]++
	}
	return out
}

// QueueLen is the number of ids waiting to be dispatched.
func (d *Dispatcher) QueueLen() int {
	return d.queue.Len()
}

// Prune forgets terminal envelopes finished more than maxAge ago.
func (d *Dispatcher) Prune(maxAge time.Duration) int {
	cutoff := d.now().Add(-maxAge)
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for id, env := range d.jobs {
		final := env.Terminal() || (env.State == StateError && d.timers[id] == nil)
		if final && env.FinishedAt != nil && env.FinishedAt.Before(cutoff) {
			delete(d.jobs, id)
			removed++
		}
	}
	return removed
}

// Recover re-enqueues jobs the journal holds as unfinished.
func (d *Dispatcher) Recover() (int, error) {
	if d.journal == nil {
		return 0, nil
	}
	pending, err := d.journal.Recover()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, env := range pending {
		env := env
		d.mu.Lock()
		if _, known := d.jobs[env.ID]; known || d.closed {
			d.mu.Unlock()
			continue
		}
		env.State = StateEnqueued
		env.StartedAt = nil
		env.FinishedAt = nil
		env.Error = ""
		env.Result = nil
		if !d.queue.Push(env.ID) {
			d.mu.Unlock()
			continue
		}
		d.jobs[env.ID] = &env
		d.mu.Unlock()
		n++
	}
	if n > 0 {
		d.log.Infof("🔄 re-enqueued %d unfinished jobs", n)
	}
	return n, nil
}

// Run processes jobs until ctx is done or the dispatcher is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.worker.MarkOnline()
	defer d.worker.MarkOffline()
	d.log.Infof("✓ dispatcher started (max_retries=%d timeout=%s)", d.cfg.MaxRetries, d.cfg.Timeout)

	for {
		id, err := d.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.log.Infof("dispatcher stopped: %v", err)
				return nil
			}
			return err
		}
		d.process(ctx, id)
	}
}

// Close stops accepting jobs, drops pending retries and closes the journal.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()

	d.queue.Close()
	if d.journal != nil {
		return d.journal.Close()
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, id string) {
	env, ok := d.start(id)
	if !ok {
		return
	}
	d.worker.MarkBusy(id)
	defer d.worker.MarkIdle()

	started := d.now()
	if env.Type == TypeExecuteTrade && d.breaker != nil && d.breaker.IsActive() {
		d.log.Warnf("🛑 job %s blocked: %v", id, breaker.ErrActive)
		d.metrics.JobFinished(string(env.Type), false, d.now().Sub(started))
		d.fail(id, nil, breaker.ErrActive)
		return
	}

	h, ok := d.handlers[env.Type]
	if !ok {
		d.metrics.JobFinished(string(env.Type), false, 0)
		d.fail(id, nil, Permanent(fmt.Errorf("%w for %s", ErrNoHandler, env.Type)))
		return
	}

	result, err := d.invoke(ctx, h, env)
	d.metrics.JobFinished(string(env.Type), err == nil, d.now().Sub(started))
	if err != nil {
		d.fail(id, result, err)
		return
	}
	d.succeed(id, result)
}

// start moves an enqueued job to running. Ids whose job is no longer
// enqueued (terminal, already running, awaiting retry) are skipped.
func (d *Dispatcher) start(id string) (Envelope, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	env, ok := d.jobs[id]
	if !ok || !CanTransition(env.State, StateRunning) {
		if ok {
			d.log.Debugf("skip job %s in state %s", id, env.State)
		}
		return Envelope{}, false
	}
	now := d.now().UTC()
	env.State = StateRunning
	env.StartedAt = &now
	env.FinishedAt = nil
	env.Error = ""
	out := env.clone()
	d.bus.Publish(events.EventJobUpdate, out)
	return out, true
}

// invoke runs h under the per-job timeout. The job context ignores the
// parent's cancellation so shutdown lets an in-flight handler finish.
func (d *Dispatcher) invoke(ctx context.Context, h HandlerFunc, env Envelope) (any, error) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	type outcome struct {
		res any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, err := h(jobCtx, env)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-jobCtx.Done():
		return nil, fmt.Errorf("%w after %s", ErrTimeout, d.cfg.Timeout)
	}
}

func (d *Dispatcher) succeed(id string, result any) {
	raw := d.encodeResult(id, result)

	d.mu.Lock()
	env := d.jobs[id]
	now := d.now().UTC()
	env.State = StateDone
	env.FinishedAt = &now
	env.Result = raw
	out := env.clone()
	d.mu.Unlock()

	d.complete(out)
	d.bus.Publish(events.EventJobUpdate, out)
	d.log.Debugf("job %s (%s) done", id, out.Type)
}

// fail records err and either schedules a retry, dead-letters the job, or
// leaves it in error when err is not retryable.
func (d *Dispatcher) fail(id string, result any, err error) {
	raw := d.encodeResult(id, result)
	retry := IsRetryable(err)

	d.mu.Lock()
	env := d.jobs[id]
	now := d.now().UTC()
	env.State = StateError
	env.FinishedAt = &now
	env.Error = err.Error()
	env.Result = raw

	switch {
	case !retry:
		out := env.clone()
		d.mu.Unlock()
		d.complete(out)
		d.bus.Publish(events.EventJobUpdate, out)
		d.log.Warnf("❌ job %s (%s) failed: %s", id, out.Type, out.Error)

	case env.RetryCount < d.cfg.MaxRetries && d.closed:
		out := env.clone()
		d.mu.Unlock()
		d.bus.Publish(events.EventJobUpdate, out)
		d.log.Warnf("job %s (%s) failed during shutdown, retry dropped: %s", id, out.Type, out.Error)

	case env.RetryCount < d.cfg.MaxRetries:
		env.RetryCount++
		delay := d.backoff.ForAttempt(float64(env.RetryCount - 1))
		d.timers[id] = time.AfterFunc(delay, func() { d.requeue(id) })
		out := env.clone()
		d.mu.Unlock()
		if d.journal != nil {
			if jerr := d.journal.Record(ActionRetry, out); jerr != nil {
				d.log.Warnf("journal retry for job %s: %v", id, jerr)
			}
		}
		d.metrics.RetryScheduled(string(out.Type))
		d.bus.Publish(events.EventJobUpdate, out)
		d.log.Warnf("⚠️ job %s (%s) failed, retry %d/%d in %s: %s",
			id, out.Type, out.RetryCount, d.cfg.MaxRetries, delay, out.Error)

	default:
		env.State = StateDeadLettered
		out := env.clone()
		d.mu.Unlock()
		d.complete(out)
		d.metrics.DeadLettered(string(out.Type))
		d.bus.Publish(events.EventJobUpdate, out)
		d.bus.Publish(events.EventJobDeadLettered, &out)
		d.log.Errorf("☠️ job %s (%s) dead-lettered after %d retries: %s", id, out.Type, out.RetryCount, out.Error)
	}
}

// requeue moves a job waiting in error back to enqueued.
func (d *Dispatcher) requeue(id string) {
	d.mu.Lock()
	delete(d.timers, id)
	env, ok := d.jobs[id]
	if d.closed || !ok || !CanTransition(env.State, StateEnqueued) {
		d.mu.Unlock()
		return
	}
	if !d.queue.Push(id) {
		d.mu.Unlock()
		return
	}
	env.State = StateEnqueued
	out := env.clone()
	d.mu.Unlock()

	d.bus.Publish(events.EventJobUpdate, out)
}

func (d *Dispatcher) complete(env Envelope) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Record(ActionComplete, env); err != nil {
		d.log.Warnf("journal complete for job %s: %v", env.ID, err)
	}
}

func (d *Dispatcher) encodeResult(id string, result any) json.RawMessage {
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		d.log.Warnf("job %s result not serializable: %v", id, err)
		return nil
	}
	return raw
}
