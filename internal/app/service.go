// Package service wires the call pipeline to storage, the job queue and the
// worker pool, and exposes what the HTTP API and CLI need.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	jobqueue "github.com/okian/callqa/internal/adapters/mq/queue"
	workerpool "github.com/okian/callqa/internal/adapters/mq/worker"
	"github.com/okian/callqa/internal/adapters/repository"
	"github.com/okian/callqa/internal/domain/dedupe"
	"github.com/okian/callqa/internal/domain/grading"
	"github.com/okian/callqa/internal/domain/model"
	"github.com/okian/callqa/pkg/logger"
	"github.com/okian/callqa/pkg/metrics"
)

const (
	runsDir       = "runs"
	callsDir      = "calls"
	cleanupPeriod = time.Minute

	defaultDrainTimeout = 30 * time.Second
)

// Upload is a recording submitted for processing. With no Criteria the
// scorecard ScorecardVersion is used, or the latest one when it is zero.
type Upload struct {
	Filename         string
	Body             io.Reader
	Criteria         []grading.Criterion
	ScorecardVersion int
}

// Service implements the API dependencies for call processing.
type Service struct {
	mu sync.RWMutex

	// Core components
	pipeline *Pipeline
	store    repository.Store
	deduper  dedupe.Deduper
	queue    jobqueue.Queue
	pool     *workerpool.Pool

	jobsMu sync.RWMutex
	jobs   map[string]*model.JobStatus

	// Configuration
	workerCount  int
	queueSize    int
	dedupeSize   int
	dataDir      string
	databasePath string
	jobRetention time.Duration
	drainTimeout time.Duration
	seed         []grading.Criterion
	ownsStore    bool

	// State
	started   bool
	stopCh    chan struct{}
	cancelRun context.CancelFunc

	validate *validator.Validate
	logger   logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of pipeline workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of queued calls.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many recording fingerprints are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDataDir sets where run directories and answers are written.
func WithDataDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.dataDir = dir
		}
	}
}

// WithDatabasePath sets the SQLite file opened by Start.
func WithDatabasePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.databasePath = path
		}
	}
}

// WithStore injects a store. Start then does not open one and Stop does not close it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithJobRetention sets how long finished job states stay queryable.
func WithJobRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.jobRetention = d
		}
	}
}

// WithDrainTimeout bounds how long Stop waits for queued calls. Calls still
// in flight afterwards are cancelled and the rest are failed.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// WithSeedScorecard saves criteria as scorecard version 1 at start when no
// scorecard exists yet.
func WithSeedScorecard(criteria []grading.Criterion) Option {
	return func(s *Service) {
		s.seed = criteria
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Service around pipeline.
func New(pipeline *Pipeline, opts ...Option) *Service {
	s := &Service{
		pipeline:     pipeline,
		workerCount:  max(1, runtime.NumCPU()/2),
		queueSize:    256,
		dedupeSize:   10_000,
		dataDir:      "data",
		jobRetention: time.Hour,
		drainTimeout: defaultDrainTimeout,
		jobs:         make(map[string]*model.JobStatus),
		stopCh:       make(chan struct{}),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.databasePath == "" {
		s.databasePath = filepath.Join(s.dataDir, "calls.db")
	}
	return s
}

// Start opens the store and starts the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting call service...")

	if s.store == nil {
		store, err := repository.Open(ctx, s.databasePath, repository.WithLogger(s.logger.Named("repository")))
		if err != nil {
			return err
		}
		s.store, s.ownsStore = store, true
	}
	if err := s.seedScorecard(ctx); err != nil {
		return err
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = jobqueue.NewInMemoryQueue(jobqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, workerpool.HandlerFunc(s.process))
	// Workers outlive the caller's ctx; Stop cancels them after the drain.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelRun = cancel
	s.pool.Start(runCtx)

	s.stopCh = make(chan struct{})
	go s.cleanupLoop()

	s.started = true
	s.logger.Info(ctx, "call service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("dataDir", s.dataDir),
	)
	return nil
}

// Stop lets queued calls finish within the drain timeout, cancels whatever
// is still running, fails the calls that never ran and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping call service...")

	drainCtx, cancelDrain := context.WithTimeout(ctx, s.drainTimeout)
	if err := s.pool.Shutdown(drainCtx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
	}
	cancelDrain()
	s.cancelRun()
	s.pool.Wait()
	s.failUnfinished(ctx)

	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "closing store", logger.Error(err))
		}
		s.store, s.ownsStore = nil, false
	}

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	s.started = false
	s.logger.Info(ctx, "call service stopped")
}

// failUnfinished marks jobs left behind by Stop as failed and removes the
// audio of those that never ran.
func (s *Service) failUnfinished(ctx context.Context) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for id, st := range s.jobs {
		if st.State.Done() {
			continue
		}
		if st.State == model.JobQueued && st.RunDir != "" {
			_ = os.RemoveAll(st.RunDir)
		}
		st.State = model.JobFailed
		st.Error = ErrStopped.Error()
		st.UpdatedAt = time.Now().UTC()
		metrics.RecordCallProcessed(string(model.StatusFailed))
		s.logger.Warn(ctx, "call abandoned at shutdown", logger.String("job_id", id), logger.String("filename", st.Filename))
	}
}

func (s *Service) seedScorecard(ctx context.Context) error {
	if len(s.seed) == 0 {
		return nil
	}
	if _, err := s.store.LatestScorecard(ctx); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	s.logger.Info(ctx, "seeding scorecard", logger.Int("criteria", len(s.seed)))
	return s.store.SaveScorecard(ctx, model.Scorecard{Version: 1, Criteria: s.seed})
}

// Submit stores the upload in a fresh run directory and queues it. When the
// same audio was already submitted the existing job is returned with
// duplicate set and nothing is queued.
func (s *Service) Submit(ctx context.Context, up Upload) (job model.Job, duplicate bool, err error) {
	if !s.isStarted() {
		return model.Job{}, false, ErrNotStarted
	}
	name := filepath.Base(strings.TrimSpace(up.Filename))
	if name == "." || name == string(filepath.Separator) || name == "" || up.Body == nil {
		return model.Job{}, false, fmt.Errorf("%w: missing audio file", ErrInvalidUpload)
	}

	criteria, err := s.resolveCriteria(ctx, up)
	if err != nil {
		return model.Job{}, false, err
	}

	job = model.Job{
		ID:          uuid.NewString(),
		Filename:    name,
		Criteria:    criteria,
		SubmittedAt: time.Now().UTC(),
	}
	runDir := s.runDir(job.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return model.Job{}, false, err
	}
	job.AudioPath = filepath.Join(runDir, name)
	if job.Fingerprint, err = saveAudio(job.AudioPath, up.Body); err != nil {
		_ = os.RemoveAll(runDir)
		return model.Job{}, false, err
	}

	if owner, seen := s.deduper.Claim(ctx, job.Fingerprint, job.ID); seen {
		_ = os.RemoveAll(runDir)
		metrics.RecordCallDuplicate()
		s.logger.Info(ctx, "duplicate recording", logger.String("filename", name), logger.String("job_id", owner))
		existing := model.Job{ID: owner, Filename: name, Fingerprint: job.Fingerprint}
		if st, ok := s.jobStatus(owner); ok {
			existing.Filename = st.Filename
		}
		return existing, true, nil
	}

	s.setStatus(job.ID, func(st *model.JobStatus) {
		st.Filename = job.Filename
		st.State = model.JobQueued
		st.RunDir = runDir
	})
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.deduper.Release(ctx, job.Fingerprint)
		s.dropStatus(job.ID)
		_ = os.RemoveAll(runDir)
		if errors.Is(err, jobqueue.ErrFull) {
			return model.Job{}, false, ErrBackpressure
		}
		return model.Job{}, false, err
	}

	metrics.RecordCallSubmitted()
	s.logger.Info(ctx, "call queued",
		logger.String("job_id", job.ID),
		logger.String("filename", name),
		logger.Int("criteria", len(criteria)),
	)
	return job, false, nil
}

// SubmitFile submits a recording from disk with the latest scorecard.
func (s *Service) SubmitFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	job, dup, err := s.Submit(ctx, Upload{Filename: filepath.Base(path), Body: f})
	if err != nil {
		return err
	}
	if dup {
		s.logger.Info(ctx, "file already submitted", logger.String("path", path), logger.String("job_id", job.ID))
	}
	return nil
}

func (s *Service) resolveCriteria(ctx context.Context, up Upload) ([]grading.Criterion, error) {
	if len(up.Criteria) > 0 {
		return up.Criteria, nil
	}
	var (
		sc  model.Scorecard
		err error
	)
	if up.ScorecardVersion > 0 {
		sc, err = s.store.GetScorecard(ctx, up.ScorecardVersion)
		if err != nil {
			return nil, err
		}
		return sc.Criteria, nil
	}
	sc, err = s.store.LatestScorecard(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return sc.Criteria, err
}

func saveAudio(path string, body io.Reader) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	fp, err := dedupe.Fingerprint(io.TeeReader(body, f))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return fp, err
}

// process runs one job end to end. Transcription and persistence failures
// fail the job; analysis and grading failures are kept as warnings.
func (s *Service) process(ctx context.Context, job model.Job) error { //nolint:gocritic // hugeParam: Job arrives by value from the queue
	runDir := filepath.Dir(job.AudioPath)
	log := s.logger.With(logger.String("job_id", job.ID), logger.String("filename", job.Filename))

	s.setStage(job.ID, metrics.StageTranscribe)
	tr := s.pipeline.Transcribe(ctx, []string{job.AudioPath}, runDir)
	if !tr.OK() {
		s.fail(ctx, job, tr.Err)
		return tr.Err
	}

	var warnings []string
	s.setStage(job.ID, metrics.StageAnalyze)
	an := s.pipeline.Analyze(ctx, tr.Transcript, runDir)
	if !an.OK() {
		warnings = append(warnings, "analysis: "+an.Error)
	}

	s.setStage(job.ID, metrics.StageGrade)
	gr := s.pipeline.Grade(ctx, tr.Transcript, job.Criteria, runDir)
	if !gr.OK() {
		warnings = append(warnings, "grading: "+gr.Error)
	}

	s.setStage(job.ID, metrics.StagePersist)
	grades, err := gradingJSON(gr)
	if err != nil {
		s.fail(ctx, job, err)
		return err
	}
	callID, err := s.saveCall(ctx, job, model.CallRecord{
		Filename:    job.Filename,
		UploadTime:  job.SubmittedAt,
		Transcript:  tr.Transcript,
		Analysis:    an.Analysis,
		Grades:      grades,
		Timing:      tr.Timing,
		Fingerprint: job.Fingerprint,
	})
	if err != nil {
		s.fail(ctx, job, err)
		return err
	}

	s.setStatus(job.ID, func(st *model.JobStatus) {
		st.State = model.JobSucceeded
		st.Stage = ""
		st.CallID = callID
		st.Warnings = warnings
	})
	metrics.RecordCallProcessed(string(model.StatusSuccess))
	log.Info(ctx, "call processed",
		logger.Int64("call_id", callID),
		logger.Int("chunks", tr.Chunks),
		logger.Int("entries", tr.Record.Len()),
		logger.Int("warnings", len(warnings)),
	)
	return nil
}

// saveCall stores rec, suffixing the filename with the job ID when another
// call already uses it.
func (s *Service) saveCall(ctx context.Context, job model.Job, rec model.CallRecord) (int64, error) { //nolint:gocritic // hugeParam: see process
	id, err := s.store.SaveCall(ctx, rec)
	if !errors.Is(err, repository.ErrConflict) {
		return id, err
	}
	ext := filepath.Ext(rec.Filename)
	rec.Filename = strings.TrimSuffix(rec.Filename, ext) + "_" + job.ID[:8] + ext
	return s.store.SaveCall(ctx, rec)
}

func (s *Service) fail(ctx context.Context, job model.Job, err error) { //nolint:gocritic // hugeParam: see process
	s.deduper.Release(ctx, job.Fingerprint)
	s.setStatus(job.ID, func(st *model.JobStatus) {
		st.State = model.JobFailed
		if err != nil {
			st.Error = err.Error()
		}
	})
	metrics.RecordCallProcessed(string(model.StatusFailed))
}

// gradingJSON renders the stored grading object, or {} when grading did not
// succeed.
func gradingJSON(gr model.GradingOutcome) (json.RawMessage, error) { //nolint:gocritic // hugeParam: read once per call
	if !gr.OK() {
		return json.RawMessage("{}"), nil
	}
	res := grading.Result{Grades: gr.Grades, OverallScore: gr.OverallScore, Summary: gr.Summary}
	if res.Grades == nil {
		res.Grades = []grading.Item{}
	}
	return json.Marshal(res)
}

// JobState returns the progress of a submitted job.
func (s *Service) JobState(_ context.Context, id string) (model.JobStatus, error) {
	st, ok := s.jobStatus(id)
	if !ok {
		return model.JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return st, nil
}

// Calls lists stored calls, newest first.
func (s *Service) Calls(ctx context.Context) ([]model.CallRecord, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}
	return s.store.ListCalls(ctx)
}

// Call returns a stored call.
func (s *Service) Call(ctx context.Context, id int64) (model.CallRecord, error) {
	if !s.isStarted() {
		return model.CallRecord{}, ErrNotStarted
	}
	return s.store.GetCall(ctx, id)
}

// DeleteCall removes a stored call and reports whether it existed. The
// call's audio may be submitted again afterwards.
func (s *Service) DeleteCall(ctx context.Context, id int64) (bool, error) {
	if !s.isStarted() {
		return false, ErrNotStarted
	}
	call, err := s.store.GetCall(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ok, err := s.store.DeleteCall(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	if call.Fingerprint != "" {
		s.deduper.Release(ctx, call.Fingerprint)
	}
	_ = os.RemoveAll(s.callDir(id))
	return true, nil
}

// Ask answers a question about a stored call's transcript.
func (s *Service) Ask(ctx context.Context, callID int64, question string) (model.AnswerResult, error) {
	call, err := s.Call(ctx, callID)
	if err != nil {
		return model.AnswerResult{}, err
	}
	return s.pipeline.Ask(ctx, call.Transcript, question, s.callDir(callID)), nil
}

// Summarize condenses a stored call's analysis.
func (s *Service) Summarize(ctx context.Context, callID int64) (model.SummaryResult, error) {
	call, err := s.Call(ctx, callID)
	if err != nil {
		return model.SummaryResult{}, err
	}
	return s.pipeline.Summarize(ctx, call.Analysis), nil
}

// SaveScorecard validates and stores a scorecard version.
func (s *Service) SaveScorecard(ctx context.Context, sc model.Scorecard) (model.Scorecard, error) {
	if !s.isStarted() {
		return model.Scorecard{}, ErrNotStarted
	}
	if err := s.validate.Struct(sc); err != nil {
		return model.Scorecard{}, fmt.Errorf("%w: %v", grading.ErrNoCriteria, err)
	}
	if sc.Version <= 0 {
		return model.Scorecard{}, fmt.Errorf("%w: version must be positive", ErrInvalidUpload)
	}
	if err := s.store.SaveScorecard(ctx, sc); err != nil {
		return model.Scorecard{}, err
	}
	return s.store.GetScorecard(ctx, sc.Version)
}

// Scorecard returns one scorecard version.
func (s *Service) Scorecard(ctx context.Context, version int) (model.Scorecard, error) {
	if !s.isStarted() {
		return model.Scorecard{}, ErrNotStarted
	}
	return s.store.GetScorecard(ctx, version)
}

// LatestScorecard returns the highest scorecard version.
func (s *Service) LatestScorecard(ctx context.Context) (model.Scorecard, error) {
	if !s.isStarted() {
		return model.Scorecard{}, ErrNotStarted
	}
	return s.store.LatestScorecard(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}

	stats["queueLength"] = s.queue.Len(ctx)
	stats["activeWorkers"] = s.pool.Active()
	stats["fingerprints"] = s.deduper.Size()

	byState := map[model.JobState]int{}
	s.jobsMu.RLock()
	for _, st := range s.jobs {
		byState[st.State]++
	}
	s.jobsMu.RUnlock()
	stats["jobs"] = byState

	if n, err := s.store.CountCalls(ctx); err == nil {
		stats["totalCalls"] = n
		metrics.UpdateRepositoryCalls(n)
	}
	return stats
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Service) runDir(jobID string) string { return filepath.Join(s.dataDir, runsDir, jobID) }

func (s *Service) callDir(id int64) string {
	return filepath.Join(s.dataDir, callsDir, strconv.FormatInt(id, 10))
}

func (s *Service) jobStatus(id string) (model.JobStatus, bool) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	st, ok := s.jobs[id]
	if !ok {
		return model.JobStatus{}, false
	}
	out := *st
	out.Warnings = append([]string(nil), st.Warnings...)
	return out, true
}

func (s *Service) setStatus(id string, update func(*model.JobStatus)) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	st, ok := s.jobs[id]
	if !ok {
		st = &model.JobStatus{JobID: id}
		s.jobs[id] = st
	}
	update(st)
	st.UpdatedAt = time.Now().UTC()
}

func (s *Service) setStage(id, stage string) {
	s.setStatus(id, func(st *model.JobStatus) {
		st.State = model.JobRunning
		st.Stage = stage
	})
}

func (s *Service) dropStatus(id string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	delete(s.jobs, id)
}

// cleanupLoop forgets finished jobs older than the retention period.
func (s *Service) cleanupLoop() {
	ticker := time.NewTicker(cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.pruneJobs(now)
		}
	}
}

func (s *Service) pruneJobs(now time.Time) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for id, st := range s.jobs {
		if st.State.Done() && now.Sub(st.UpdatedAt) > s.jobRetention {
			delete(s.jobs, id)
		}
	}
}
