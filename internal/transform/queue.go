package transform

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"media-gallery/internal/filesystem"
	"media-gallery/internal/hub"
	"media-gallery/internal/logging"
	"media-gallery/internal/media"
	"media-gallery/internal/metrics"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrInvalidOperation is returned by Submit when an operation fails validation.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrSourceNotFound means the source asset does not exist.
	ErrSourceNotFound = errors.New("source asset not found")
	// ErrQueueFull means the job buffer is at capacity.
	ErrQueueFull = errors.New("transform queue is full")
	// ErrJobNotFound means no job has the requested id.
	ErrJobNotFound = errors.New("transform job not found")
	// ErrQueueClosed means the queue has been stopped.
	ErrQueueClosed = errors.New("transform queue is closed")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Output describes the derived file of a finished job.
type Output struct {
	Path     string         `json:"path"`
	URL      string         `json:"url"`
	Metadata media.Metadata `json:"metadata"`
}

// Job is a snapshot of a transform job.
type Job struct {
	ID          string      `json:"id"`
	SourceID    string      `json:"sourceId"`
	Operations  []Operation `json:"operations"`
	Status      Status      `json:"status"`
	Attempts    int         `json:"attempts"`
	Error       string      `json:"error,omitempty"`
	Output      *Output     `json:"output,omitempty"`
	SubmittedAt time.Time   `json:"submittedAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	FinishedAt  *time.Time  `json:"finishedAt,omitempty"`
}

// DerivedImage is the payload of the derived-image event.
type DerivedImage struct {
	JobID    string `json:"jobId"`
	SourceID string `json:"sourceId"`
	Output
}

// Sources reports whether an asset exists. *library.Library satisfies it.
type Sources interface {
	HasAsset(ctx context.Context, id string) (bool, error)
}

// Notifier receives the derived-image event. *hub.Hub satisfies it.
type Notifier interface {
	Broadcast(ev hub.Event, exclude *hub.Client) int
}

// Admitter holds workers back before a job starts. *memory.Gate satisfies it.
type Admitter interface {
	Admit(stop <-chan struct{}) bool
}

// Config configures a Queue.
type Config struct {
	// SourceDir holds the originals; a source id is a file name in it.
	SourceDir string
	// OutputDir receives derived files.
	OutputDir string
	// URLPrefix is joined with the output file name to form Output.URL.
	URLPrefix string

	Workers      int
	QueueSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
	// Retention is how long terminal jobs stay queryable.
	Retention time.Duration
	// Gate, when set, is consulted before each job runs.
	Gate Admitter
}

// Defaults used for zero Config fields.
const (
	DefaultQueueSize    = 100
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 200 * time.Millisecond
	DefaultRetention    = time.Hour
)

type entry struct {
	job  Job
	done chan struct{}
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Workers   int   `json:"workers"`
	Capacity  int   `json:"capacity"`
	Queued    int   `json:"queued"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue runs transform jobs on a fixed pool of workers in submission order.
type Queue struct {
	cfg      Config
	sources  Sources
	notifier Notifier
	log      logging.Logger

	pending chan string

	mu      sync.Mutex
	jobs    map[string]*entry
	closed  bool
	started bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	now   func() time.Time
	write func(path string, perm os.FileMode, fn func(f *os.File) error) error
	retry filesystem.RetryConfig
}

// New creates a Queue. Start must be called before jobs are processed.
// notifier may be nil.
func New(cfg Config, sources Sources, notifier Notifier) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	return &Queue{
		cfg:      cfg,
		sources:  sources,
		notifier: notifier,
		log:      logging.For("queue"),
		pending:  make(chan string, cfg.QueueSize),
		jobs:     make(map[string]*entry),
		stop:     make(chan struct{}),
		now:      time.Now,
		write:    filesystem.WriteAtomic,
		retry:    filesystem.DefaultRetryConfig(),
	}
}

// Start launches the workers.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	if err := os.MkdirAll(q.cfg.OutputDir, 0o755); err != nil {
		q.log.Warn("failed to create output dir %s: %v", q.cfg.OutputDir, err)
	}

	q.log.Info("starting %d worker(s), capacity %d", q.cfg.Workers, q.cfg.QueueSize)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Stop stops accepting jobs, lets running jobs reach an operation boundary
// and fails everything still waiting with ErrQueueClosed.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		close(q.stop)
		q.wg.Wait()

		for {
			select {
			case id := <-q.pending:
				q.finish(id, nil, ErrQueueClosed)
			default:
				metrics.TransformQueueDepth.Set(0)
				q.log.Info("stopped")
				return
			}
		}
	})
}

// Submit validates ops and enqueues a job for sourceID without blocking.
func (q *Queue) Submit(ctx context.Context, sourceID string, ops []Operation) (Job, error) {
	if len(ops) == 0 {
		metrics.TransformJobsTotal.WithLabelValues("rejected").Inc()
		return Job{}, invalid("at least one operation is required")
	}
	for i, op := range ops {
		if op == nil {
			metrics.TransformJobsTotal.WithLabelValues("rejected").Inc()
			return Job{}, invalid("operation %d is empty", i)
		}
		if err := op.Validate(); err != nil {
			metrics.TransformJobsTotal.WithLabelValues("rejected").Inc()
			return Job{}, fmt.Errorf("operation %d: %w", i, err)
		}
	}

	if sourceID == "" || filepath.Base(sourceID) != sourceID {
		return Job{}, fmt.Errorf("%w: %q", ErrSourceNotFound, sourceID)
	}
	ok, err := q.sources.HasAsset(ctx, sourceID)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}

	job := Job{
		ID:          uuid.New().String(),
		SourceID:    sourceID,
		Operations:  append([]Operation(nil), ops...),
		Status:      StatusQueued,
		SubmittedAt: q.now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Job{}, ErrQueueClosed
	}
	q.pruneLocked()

	select {
	case q.pending <- job.ID:
	default:
		metrics.TransformJobsTotal.WithLabelValues("rejected").Inc()
		return Job{}, fmt.Errorf("%w (capacity %d)", ErrQueueFull, q.cfg.QueueSize)
	}
	q.jobs[job.ID] = &entry{job: job, done: make(chan struct{})}
	metrics.TransformQueueDepth.Set(float64(len(q.pending)))

	q.log.Debug("queued job %s for %s (%d operations)", job.ID, sourceID, len(ops))
	return job, nil
}

// Get returns the current state of a job.
func (q *Queue) Get(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e.job, nil
}

// Wait blocks until the job reaches a terminal status or ctx ends.
func (q *Queue) Wait(ctx context.Context, id string) (Job, error) {
	q.mu.Lock()
	e, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	select {
	case <-e.done:
		return q.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Workers:   q.cfg.Workers,
		Capacity:  q.cfg.QueueSize,
		Queued:    len(q.pending),
		Running:   q.running.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
}

// pruneLocked drops terminal jobs older than the retention window.
func (q *Queue) pruneLocked() {
	cutoff := q.now().Add(-q.cfg.Retention)
	for id, e := range q.jobs {
		if e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
}

func (q *Queue) worker(n int) {
	defer q.wg.Done()
	q.log.Debug("worker %d started", n)

	for {
		// Checked first so a stop is not raced by a ready job.
		select {
		case <-q.stop:
			return
		default:
		}

		select {
		case <-q.stop:
			return
		case id := <-q.pending:
			metrics.TransformQueueDepth.Set(float64(len(q.pending)))
			if q.cfg.Gate != nil && !q.cfg.Gate.Admit(q.stop) {
				q.finish(id, nil, ErrQueueClosed)
				return
			}
			q.run(id)
		}
	}
}

func (q *Queue) run(id string) {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	started := q.now().UTC()
	e.job.Status = StatusRunning
	e.job.StartedAt = &started
	job := e.job
	q.mu.Unlock()

	q.running.Add(1)
	metrics.TransformJobsInProgress.Inc()
	defer func() {
		q.running.Add(-1)
		metrics.TransformJobsInProgress.Dec()
		metrics.TransformJobDuration.Observe(time.Since(started).Seconds())
	}()

	backoff := q.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		q.setAttempts(id, attempt)

		out, err := q.process(job)
		if err == nil {
			q.finish(id, out, nil)
			return
		}
		if !filesystem.IsTransient(err) || attempt >= q.cfg.MaxAttempts {
			q.finish(id, nil, err)
			return
		}

		metrics.TransformRetriesTotal.Inc()
		q.log.Warn("job %s attempt %d failed, retrying in %v: %v", id, attempt, backoff, err)
		select {
		case <-time.After(backoff):
		case <-q.stop:
			q.finish(id, nil, ErrQueueClosed)
			return
		}
		backoff *= 2
	}
}

func (q *Queue) setAttempts(id string, n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.jobs[id]; ok {
		e.job.Attempts = n
	}
}

// finish records the terminal status of a job and wakes waiters.
func (q *Queue) finish(id string, out *Output, jobErr error) {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok || e.job.Status.Terminal() {
		q.mu.Unlock()
		return
	}
	finished := q.now().UTC()
	e.job.FinishedAt = &finished
	if jobErr != nil {
		e.job.Status = StatusFailed
		e.job.Error = jobErr.Error()
	} else {
		e.job.Status = StatusDone
		e.job.Output = out
	}
	job := e.job
	close(e.done)
	q.mu.Unlock()

	if jobErr != nil {
		q.failed.Add(1)
		metrics.TransformJobsTotal.WithLabelValues("failed").Inc()
		q.log.Error("job %s for %s failed after %d attempt(s): %v", id, job.SourceID, job.Attempts, jobErr)
		return
	}

	q.completed.Add(1)
	metrics.TransformJobsTotal.WithLabelValues("done").Inc()
	q.log.Info("job %s done: %s", id, out.Path)

	if q.notifier != nil {
		q.notifier.Broadcast(hub.Event{
			Type: hub.TypeDerivedImage,
			Data: DerivedImage{JobID: job.ID, SourceID: job.SourceID, Output: *out},
		}, nil)
	}
}

// process runs one attempt of a job.
func (q *Queue) process(job Job) (*Output, error) {
	src := filepath.Join(q.cfg.SourceDir, job.SourceID)

	// The source can vanish between Submit and here.
	if _, err := filesystem.StatWithRetry(src, q.retry); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, job.SourceID)
		}
		return nil, err
	}

	meta, err := media.Describe(src)
	if err != nil {
		return nil, err
	}
	img, err := media.LoadImageConstrained(src, media.MaxImageDimension, media.MaxImagePixels)
	if err != nil {
		return nil, err
	}
	if err := planSize(img.Bounds().Dx(), img.Bounds().Dy(), job.Operations); err != nil {
		return nil, err
	}

	for _, op := range job.Operations {
		select {
		case <-q.stop:
			return nil, ErrQueueClosed
		default:
		}
		img = op.apply(img)
		metrics.TransformOperationsTotal.WithLabelValues(op.Kind()).Inc()
	}

	format, quality := outputEncoding(meta.Format, job.Operations)
	name := OutputName(job.SourceID, job.Operations, extensions[format])
	dst := filepath.Join(q.cfg.OutputDir, name)

	err = q.write(dst, 0o644, func(f *os.File) error {
		return encode(f, img, format, quality)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", media.ErrDerivationIO, err)
	}

	outMeta, err := media.Describe(dst)
	if err != nil {
		return nil, err
	}
	return &Output{
		Path:     dst,
		URL:      q.cfg.URLPrefix + "/" + name,
		Metadata: outMeta,
	}, nil
}

// OutputName returns the deterministic derived file name for a source and
// operation list: <stem>_<8 hex digest>.<ext>.
func OutputName(sourceID string, ops []Operation, ext string) string {
	canonical, err := json.Marshal(ops)
	if err != nil {
		canonical = []byte(fmt.Sprint(ops))
	}
	sum := blake2b.Sum256(append([]byte(sourceID+"\x00"), canonical...))
	return media.Stem(sourceID) + "_" + hex.EncodeToString(sum[:4]) + ext
}
