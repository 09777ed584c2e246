package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonwraymond/scriptgen/job"
	"github.com/jonwraymond/scriptgen/llm"
	"github.com/jonwraymond/scriptgen/normalize"
	"github.com/jonwraymond/scriptgen/retrieval"
	"github.com/jonwraymond/scriptgen/sandbox"
	"github.com/jonwraymond/scriptgen/script"
)

// Sentinel errors returned by engine operations.
var (
	// ErrQueueFull indicates the generation queue is at capacity.
	ErrQueueFull = errors.New("engine: queue full")

	// ErrClosed indicates the engine has been closed.
	ErrClosed = errors.New("engine: closed")
)

// MaxVettedSourceBytes bounds the source of a vetted-script job.
const MaxVettedSourceBytes = 512 * 1024

// Engine is the generation engine and job lifecycle controller.
type Engine struct {
	cfg       Config
	store     job.Store
	adapter   *llm.Adapter
	assembler *retrieval.Assembler
	executor  *sandbox.Executor

	queue chan string
	quit  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates an Engine and starts its worker loop.
// Returns ErrConfiguration if any required field is missing.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	adapterOpts := []llm.AdapterOption{
		llm.WithLogger(cfg.Logger),
		llm.WithRetryObserver(func() { metricLLMRetries.Inc() }),
	}
	if len(cfg.Backoff) > 0 {
		adapterOpts = append(adapterOpts, llm.WithBackoff(cfg.Backoff))
	}
	if cfg.RecoveryDelay > 0 {
		adapterOpts = append(adapterOpts, llm.WithRecoveryDelay(cfg.RecoveryDelay))
	}

	e := &Engine{
		cfg:       cfg,
		store:     cfg.Store,
		adapter:   llm.NewAdapter(cfg.Provider, adapterOpts...),
		assembler: retrieval.NewAssembler(cfg.Searcher, cfg.Logger),
		executor:  sandbox.NewExecutor(cfg.sandboxOptions()),
		queue:     make(chan string, cfg.QueueCapacity),
		quit:      make(chan struct{}),
	}

	e.wg.Add(1)
	go e.workerLoop()
	return e, nil
}

// Close stops the worker loop. Jobs still queued keep their queued status
// and are not processed.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.quit)
	e.wg.Wait()
}

// workerLoop is the single consumer of the generation queue. Exactly one
// job is in flight at a time; ordering is submission order.
func (e *Engine) workerLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.quit:
			return
		case id := <-e.queue:
			e.runJob(id)
		}
	}
}

func (e *Engine) runJob(id string) {
	j, err := e.store.Get(id)
	if err != nil {
		e.cfg.Logger.Error("queued job vanished", "jobId", id, "error", err)
		return
	}
	switch j.Kind {
	case job.KindGeneration:
		e.runPipeline(context.Background(), j)
	case job.KindVettedScript:
		// Vetted jobs are never executed; nothing should enqueue them.
		e.cfg.Logger.Warn("vetted job found on generation queue", "jobId", id)
	}
}

func (e *Engine) enqueue(j *job.Job) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.mu.Unlock()

	select {
	case e.queue <- j.ID:
		metricJobsEnqueued.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// CreateVettedJob stores a caller-supplied script for manual review. The
// job is created queued and never transitions further automatically.
func (e *Engine) CreateVettedJob(ctx context.Context, sessionID, userID, source string, timeoutMs int, metadata map[string]string) (*job.Job, error) {
	_ = ctx
	if strings.TrimSpace(source) == "" {
		return nil, script.NewValidationError("missing_source", "script source is required", nil)
	}
	if len(source) > MaxVettedSourceBytes {
		return nil, script.NewValidationError(
			"source_too_large",
			fmt.Sprintf("script source is %d bytes, maximum is %d", len(source), MaxVettedSourceBytes),
			map[string]any{"bytes": len(source), "max": MaxVettedSourceBytes},
		)
	}

	j := job.NewVetted(sessionID, userID, source, timeoutMs, metadata)
	if !strings.Contains(source, script.EntrypointName) {
		j.AppendWarning(fmt.Sprintf("source does not reference the %s entry point", script.EntrypointName))
	}
	if err := e.store.Put(j); err != nil {
		return nil, err
	}
	e.cfg.Logger.Info("vetted script stored", "jobId", j.ID, "sessionId", sessionID, "bytes", len(source))
	return j.Clone(), nil
}

// CreateGenerationJob normalizes a raw request and enqueues a generation
// job. The returned snapshot is queued; callers poll via GetJob.
func (e *Engine) CreateGenerationJob(ctx context.Context, sessionID, userID string, req normalize.Request) (*job.Job, error) {
	_ = ctx
	input, warnings, err := normalize.Normalize(req)
	if err != nil {
		return nil, err
	}

	j := job.NewGeneration(sessionID, userID, input, "")
	for _, w := range warnings {
		j.AppendWarning(w)
	}
	if err := e.store.Put(j); err != nil {
		return nil, err
	}
	if err := e.enqueue(j); err != nil {
		return nil, err
	}
	e.cfg.Logger.Info("generation job queued", "jobId", j.ID, "sessionId", sessionID,
		"primaryMessageType", input.PrimaryMessageType)
	return j.Clone(), nil
}

// GetJob returns a snapshot of a job owned by the session. Jobs owned by
// other sessions present as not found.
func (e *Engine) GetJob(ctx context.Context, sessionID, jobID string) (*job.Job, error) {
	_ = ctx
	j, err := e.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if j.SessionID != sessionID {
		return nil, job.ErrNotFound
	}
	return j, nil
}

// ListJobsForSession returns snapshots of the session's jobs, newest
// first.
func (e *Engine) ListJobsForSession(ctx context.Context, sessionID string) ([]*job.Job, error) {
	_ = ctx
	return e.store.ListBySession(sessionID)
}

// GenerateOnce runs the full pipeline synchronously, bypassing the queue.
// The job record is still stored for audit; the descriptor of a
// successful run is returned directly.
func (e *Engine) GenerateOnce(ctx context.Context, sessionID, userID string, req normalize.Request) (*script.Descriptor, error) {
	input, warnings, err := normalize.Normalize(req)
	if err != nil {
		return nil, err
	}

	j := job.NewGeneration(sessionID, userID, input, "")
	for _, w := range warnings {
		j.AppendWarning(w)
	}
	if err := e.store.Put(j); err != nil {
		return nil, err
	}

	final := e.runPipeline(ctx, j)
	if final.Generation.Error != nil {
		fail := final.Generation.Error
		return nil, script.NewValidationError(fail.Code, fail.Message, fail.Details)
	}
	return final.Generation.Result, nil
}
