// Package queue serializes generation jobs. One consumer goroutine executes
// jobs strictly in arrival order, at most one at a time across all engines;
// everything else talks to the queue through snapshots and callbacks.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/engine"
	"studio/internal/infra"
)

// DefaultHistoryCap bounds the number of retained terminal jobs. Queued and
// running jobs never count toward it and are never dropped.
const DefaultHistoryCap = 50

// Engine is the strategy surface the queue dispatches on, satisfied by
// *engine.Client.
type Engine interface {
	GenerateImage(ctx context.Context, job domain.Job) ([]domain.ImageResult, error)
	GenerateVideo(ctx context.Context, job domain.Job, progress engine.ProgressFunc) (*domain.MediaPayload, error)
	GenerateSpeech(ctx context.Context, job domain.Job) (*domain.MediaPayload, error)
}

// OutputFunc receives the uniform result of every successful job, while the
// queue is still between jobs. The gallery save and last-output snapshot
// hang off this hook.
type OutputFunc func(ctx context.Context, job domain.Job, out domain.Output)

// Request captures everything needed to enqueue one job.
type Request struct {
	Mode     domain.Mode
	Provider domain.Provider
	Model    string
	Prompt   string
	APIKey   string
	Params   domain.JobParams
}

// Options configures a Queue.
type Options struct {
	Engine     Engine
	Logger     *infra.Logger
	HistoryCap int
	OnOutput   OutputFunc
}

// Queue owns the job list. All mutation happens under mu; the single Run
// goroutine is the only executor.
type Queue struct {
	engine     Engine
	logger     *infra.Logger
	onOutput   OutputFunc
	historyCap int

	mu      sync.Mutex
	jobs    []*domain.Job
	running bool
	status  string

	kick chan struct{}

	subMu   sync.Mutex
	subs    map[int]func(domain.Job)
	nextSub int
}

// New constructs a queue. Run must be started on its own goroutine before
// enqueued jobs make progress.
func New(opts Options) (*Queue, error) {
	if opts.Engine == nil {
		return nil, errors.New("queue: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := infra.Logger(zerolog.New(io.Discard))
		logger = &discard
	}
	historyCap := opts.HistoryCap
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Queue{
		engine:     opts.Engine,
		logger:     logger,
		onOutput:   opts.OnOutput,
		historyCap: historyCap,
		status:     "idle",
		kick:       make(chan struct{}, 1),
		subs:       map[int]func(domain.Job){},
	}, nil
}

// Enqueue validates the request, appends a queued job, and wakes the
// consumer. Validation failures reject the request before any job exists.
func (q *Queue) Enqueue(req Request) (string, error) {
	if !domain.KnownMode(req.Mode) {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownMode, req.Mode)
	}
	if !domain.KnownProvider(req.Provider) {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownProvider, req.Provider)
	}
	if !req.Provider.Serves(req.Mode) {
		return "", fmt.Errorf("%w: %s does not serve %s", domain.ErrModeUnsupported, req.Provider, req.Mode)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", domain.ErrEmptyPrompt
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return "", domain.ErrMissingAPIKey
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.JobQueued,
		Mode:      req.Mode,
		Provider:  req.Provider,
		Model:     req.Model,
		Prompt:    strings.TrimSpace(req.Prompt),
		APIKey:    req.APIKey,
		Params:    req.Params,
		Progress:  "waiting",
		CreatedAt: time.Now(),
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.trimLocked()
	snapshot := *job
	q.mu.Unlock()

	q.logger.Info().
		Str("job_id", job.ID).
		Str("mode", string(job.Mode)).
		Str("provider", string(job.Provider)).
		Msg("queue: job enqueued")
	q.notify(snapshot)
	q.wake()
	return job.ID, nil
}

// Run consumes jobs until ctx is cancelled. It is the sole executor; calling
// it from more than one goroutine would break the one-at-a-time guarantee.
func (q *Queue) Run(ctx context.Context) {
	q.logger.Info().Msg("queue: started")
	for {
		select {
		case <-ctx.Done():
			q.logger.Info().Msg("queue: stopped")
			return
		case <-q.kick:
		}
		for ctx.Err() == nil {
			job, ok := q.claimNext()
			if !ok {
				break
			}
			q.execute(ctx, job)
		}
	}
}

// Jobs returns a snapshot of the job list, oldest first.
func (q *Queue) Jobs() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Job, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = *j
	}
	return out
}

// Job returns a snapshot of one job.
func (q *Queue) Job(id string) (domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == id {
			return *j, true
		}
	}
	return domain.Job{}, false
}

// Status returns the current queue status line: the running job's progress,
// the most recent error, or "idle".
func (q *Queue) Status() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Subscribe registers a callback invoked with a snapshot after every job
// mutation. The returned function unregisters it.
func (q *Queue) Subscribe(fn func(domain.Job)) func() {
	q.subMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.subMu.Unlock()
	return func() {
		q.subMu.Lock()
		delete(q.subs, id)
		q.subMu.Unlock()
	}
}

// Wait blocks until the job reaches a terminal status or ctx is cancelled.
func (q *Queue) Wait(ctx context.Context, jobID string) (domain.Job, error) {
	done := make(chan domain.Job, 1)
	unsubscribe := q.Subscribe(func(j domain.Job) {
		if j.ID == jobID && j.Status.Terminal() {
			select {
			case done <- j:
			default:
			}
		}
	})
	defer unsubscribe()

	job, ok := q.Job(jobID)
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	if job.Status.Terminal() {
		return job, nil
	}
	select {
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	case j := <-done:
		return j, nil
	}
}

// wake re-arms the consumer without blocking; the channel holds one pending
// kick at most.
func (q *Queue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// claimNext promotes the oldest queued job to running. It refuses while a
// job is already running, which is the re-entrancy guard.
func (q *Queue) claimNext() (domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return domain.Job{}, false
	}
	for _, j := range q.jobs {
		if j.Status != domain.JobQueued {
			continue
		}
		j.Status = domain.JobRunning
		j.StartedAt = time.Now()
		j.Progress = "starting"
		q.running = true
		q.status = fmt.Sprintf("generating %s via %s", j.Mode, j.Provider)
		return *j, true
	}
	return domain.Job{}, false
}

func (q *Queue) execute(ctx context.Context, job domain.Job) {
	q.logger.Info().
		Str("job_id", job.ID).
		Str("mode", string(job.Mode)).
		Str("provider", string(job.Provider)).
		Msg("queue: picked job")
	q.notify(job)

	out, err := q.dispatch(ctx, job)
	finished, ok := q.finish(job.ID, err)
	if !ok {
		return
	}

	if err != nil {
		q.logger.Error().Err(err).Str("job_id", job.ID).Msg("queue: job failed")
	} else {
		q.logger.Info().Str("job_id", job.ID).Msg("queue: job succeeded")
		if q.onOutput != nil && !out.Empty() {
			// Output lands before the terminal notification so observers
			// woken by it see the gallery and last-output already updated.
			q.onOutput(ctx, finished, out)
		}
	}
	q.notify(finished)
}

func (q *Queue) dispatch(ctx context.Context, job domain.Job) (domain.Output, error) {
	switch job.Mode {
	case domain.ModeImage:
		images, err := q.engine.GenerateImage(ctx, job)
		if err != nil {
			return domain.Output{}, err
		}
		return domain.Output{Images: images}, nil
	case domain.ModeVideo:
		payload, err := q.engine.GenerateVideo(ctx, job, func(stage string) {
			q.setProgress(job.ID, stage)
		})
		if err != nil {
			return domain.Output{}, err
		}
		return domain.Output{Video: payload}, nil
	case domain.ModeTTS:
		payload, err := q.engine.GenerateSpeech(ctx, job)
		if err != nil {
			return domain.Output{}, err
		}
		return domain.Output{Audio: payload}, nil
	default:
		return domain.Output{}, fmt.Errorf("%w: %q", domain.ErrUnknownMode, job.Mode)
	}
}

// finish records the terminal state, releases the running guard, and trims
// history. Returns the final snapshot.
func (q *Queue) finish(jobID string, cause error) (domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
	for _, j := range q.jobs {
		if j.ID != jobID {
			continue
		}
		j.FinishedAt = time.Now()
		if cause != nil {
			j.Status = domain.JobError
			j.Error = cause.Error()
			j.Progress = "failed"
			q.status = "error: " + cause.Error()
		} else {
			j.Status = domain.JobSuccess
			j.Progress = "done"
			q.status = "idle"
		}
		q.trimLocked()
		return *j, true
	}
	return domain.Job{}, false
}

func (q *Queue) setProgress(jobID, stage string) {
	q.mu.Lock()
	var snapshot domain.Job
	found := false
	for _, j := range q.jobs {
		if j.ID == jobID && j.Status == domain.JobRunning {
			j.Progress = stage
			q.status = fmt.Sprintf("generating %s via %s: %s", j.Mode, j.Provider, stage)
			snapshot = *j
			found = true
			break
		}
	}
	q.mu.Unlock()
	if found {
		q.notify(snapshot)
	}
}

// trimLocked drops the oldest terminal jobs until the terminal count fits
// the cap. Queued and running jobs never count toward it, so the list may
// legitimately exceed the cap while work is outstanding.
func (q *Queue) trimLocked() {
	terminal := 0
	for _, j := range q.jobs {
		if j.Status.Terminal() {
			terminal++
		}
	}
	for terminal > q.historyCap {
		for i, j := range q.jobs {
			if j.Status.Terminal() {
				q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
				break
			}
		}
		terminal--
	}
}

func (q *Queue) notify(job domain.Job) {
	q.subMu.Lock()
	fns := make([]func(domain.Job), 0, len(q.subs))
	for _, fn := range q.subs {
		fns = append(fns, fn)
	}
	q.subMu.Unlock()
	for _, fn := range fns {
		fn(job)
	}
}
