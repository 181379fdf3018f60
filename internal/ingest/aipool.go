package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/ingestd/internal/observe"
)

// AIJob is one request to analyze a project's transcripts so far,
// submitted by a session's TextCoalescer flush.
type AIJob struct {
	Session SessionId
	Project ProjectId
}

// AIResult is one suggestion produced by an Analyzer pass. Dismissed
// tracking lives in storage, not here.
type AIResult struct {
	ID            AnalysisId
	Text          string
	GroundingSpan string
}

// Analyzer is the pluggable collaborator invoked by each worker. The
// core makes no timing assumptions beyond cancellation cooperation.
type Analyzer interface {
	Analyze(ctx context.Context, project ProjectId, transcripts []TranscriptRow) ([]AIResult, error)
}

// WorkerPool runs AIJob analysis off the session scheduler, bounding
// total concurrency to P workers and per-session concurrency to one
// in-flight analysis at a time.
//
// Grounded on the errgroup-based worker idiom in
// internal/mcp/mcphost/calibrate.go, generalized from a fixed calibration
// batch to a long-lived submit/drain pool whose workers are joined with a
// sync.WaitGroup; the per-session in-flight
// flag uses sync.Map + atomic.Bool CompareAndSwap rather than a mutexed
// map, since the check is a pure try-acquire with no other state to
// protect under the same lock.
type WorkerPool struct {
	jobs     chan AIJob
	inFlight sync.Map // SessionId -> *atomic.Bool

	manager  *Manager
	storage  Storage
	analyzer Analyzer

	wg sync.WaitGroup
}

// NewWorkerPool starts workers workers (default 4) draining a queue of
// capacity queueCapacity (default 5).
func NewWorkerPool(ctx context.Context, workers, queueCapacity int, storage Storage, analyzer Analyzer, manager *Manager) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	if queueCapacity <= 0 {
		queueCapacity = 5
	}
	p := &WorkerPool{
		jobs:     make(chan AIJob, queueCapacity),
		manager:  manager,
		storage:  storage,
		analyzer: analyzer,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

// AttachManager binds the pool to the session manager that will look up
// outbound sockets for delivered results. Needed because Manager and
// WorkerPool each hold a reference to the other and one must be
// constructed first; call this once, before Submit is ever called.
func (p *WorkerPool) AttachManager(m *Manager) {
	p.manager = m
}

// Submit enqueues job, blocking when the queue is full. This is the
// pool's rate limit on the coalescer's flush rate.
func (p *WorkerPool) Submit(job AIJob) error {
	p.jobs <- job
	observe.DefaultMetrics().AIJobsSubmitted.Add(context.Background(), 1)
	return nil
}

// Stop closes the submission channel, waits for in-flight jobs to
// drain, and returns once every worker has exited.
func (p *WorkerPool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.handle(ctx, job)
	}
}

func (p *WorkerPool) handle(ctx context.Context, job AIJob) {
	flagVal, _ := p.inFlight.LoadOrStore(job.Session, new(atomic.Bool))
	flag := flagVal.(*atomic.Bool)
	if !flag.CompareAndSwap(false, true) {
		// another worker is already analyzing this session; drop.
		observe.DefaultMetrics().AIJobsDropped.Add(ctx, 1)
		return
	}
	defer flag.Store(false)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("ai worker panicked", "session_id", job.Session, "panic", r)
		}
	}()

	transcripts, err := p.storage.TranscriptsForProject(ctx, job.Project)
	if err != nil {
		slog.Error("ai worker: load transcripts failed", "project_id", job.Project, "error", err)
		return
	}

	start := time.Now()
	results, err := p.analyzer.Analyze(ctx, job.Project, transcripts)
	observe.DefaultMetrics().RecordAnalysis(ctx, time.Since(start).Seconds(), err)
	if err != nil {
		slog.Error("ai worker: analyze failed", "project_id", job.Project, "session_id", job.Session, "error", err)
		return
	}

	sc, ok := p.manager.lookupSessionContext(job.Session)
	if !ok {
		return
	}
	sock, ok := GetTyped(sc, KeyOutboundSocket)
	if !ok {
		return
	}
	for _, r := range results {
		if err := p.storage.SaveAnalysis(ctx, AnalysisRecord{
			ID:            r.ID,
			Project:       job.Project,
			Session:       job.Session,
			QuestionText:  r.Text,
			GroundingSpan: r.GroundingSpan,
		}); err != nil {
			slog.Error("ai worker: save analysis failed", "session_id", job.Session, "error", err)
		}
		_ = sock.Send(OutboundMessage{Type: MsgAIResult, Timestamp: time.Now(), AIResult: &AIResultPayload{Text: r.Text}})
	}
}
