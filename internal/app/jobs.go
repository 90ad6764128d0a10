package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/scanner"
)

type JobEventType string

const (
	JobEventStatus JobEventType = "status"
	JobEventState  JobEventType = "state"
	JobEventResult JobEventType = "result"
)

type JobEvent struct {
	JobID string       `json:"job_id"`
	Type  JobEventType `json:"type"`

	// For status changes
	Status JobStatus `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`

	// For scan state transitions
	State model.ScanState `json:"state,omitempty"`

	Result *model.ScanResult `json:"result,omitempty"`
}

type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

func (s JobStatus) finished() bool {
	return s == JobDone || s == JobFailed || s == JobCanceled
}

type Job struct {
	ID        string            `json:"id"`
	Request   model.ScanRequest `json:"request"`
	Status    JobStatus         `json:"status"`
	Error     string            `json:"error,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at,omitzero"`
	Events    chan JobEvent     `json:"-"`

	Result *model.ScanResult `json:"result,omitempty"`

	eventsClosed bool
}

// ResultSaver persists finished scans. results.Store implements it.
type ResultSaver interface {
	Save(ctx context.Context, res *model.ScanResult) error
}

var ErrJobNotFound = errors.New("job not found")

// JobManager runs ad-hoc scans in the background for the API and keeps
// their status around for a while after they finish.
type JobManager struct {
	scanner   scanner.Scanner
	saver     ResultSaver
	retention time.Duration
	logger    logging.Logger

	jobsMu     sync.Mutex
	jobs       map[string]*Job
	byScanID   map[string]string
	jobCancels map[string]context.CancelFunc
	wg         sync.WaitGroup
}

// NewJobManager returns a JobManager. saver may be nil, in which case
// results are only kept in memory with the job.
func NewJobManager(s scanner.Scanner, saver ResultSaver, retention time.Duration, logger logging.Logger) *JobManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &JobManager{
		scanner:    s,
		saver:      saver,
		retention:  retention,
		logger:     logger.With(logging.Component("jobs")),
		jobs:       make(map[string]*Job),
		byScanID:   make(map[string]string),
		jobCancels: make(map[string]context.CancelFunc),
	}
}

// SetScanner replaces the scanner used for new jobs. It lets the scanner be
// built after the manager, since the scanner reports state changes back
// through ObserveState.
func (m *JobManager) SetScanner(s scanner.Scanner) {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	m.scanner = s
}

func (m *JobManager) emitJobEvent(jobID string, ev JobEvent) {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job == nil || job.eventsClosed || job.Status.finished() && ev.Type != JobEventStatus {
		return
	}

	// Non-blocking send; drop if buffer is full.
	select {
	case job.Events <- ev:
	default:
	}
}

func (m *JobManager) setStatus(jobID string, status JobStatus, errMsg string) {
	m.jobsMu.Lock()
	if j, ok := m.jobs[jobID]; ok {
		j.Status = status
		j.Error = errMsg
	}
	m.jobsMu.Unlock()
	m.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: status, Error: errMsg})
}

// ObserveState forwards scan state transitions to the job running that
// scan. Pass it to scanner.WithObserver.
func (m *JobManager) ObserveState(req model.ScanRequest, state model.ScanState) {
	m.jobsMu.Lock()
	jobID, ok := m.byScanID[req.ScanID]
	m.jobsMu.Unlock()
	if !ok {
		return
	}
	m.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventState, State: state})
}

// StartScanJob starts a scan of target in the background. The scan id is
// generated when req.ScanID is empty.
func (m *JobManager) StartScanJob(ctx context.Context, req model.ScanRequest) (*Job, error) {
	if req.TargetURL == "" {
		return nil, errors.New("target url is required")
	}
	if req.ScanID == "" {
		req.ScanID = uuid.NewString()
	}

	m.jobsMu.Lock()
	s := m.scanner
	m.jobsMu.Unlock()
	if s == nil {
		return nil, errors.New("no scanner configured")
	}

	jobID := uuid.New().String()
	job := &Job{
		ID:        jobID,
		Request:   req,
		Status:    JobPending,
		StartedAt: time.Now().UTC(),
		Events:    make(chan JobEvent, 16),
	}

	// Jobs outlive the request that started them.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.jobsMu.Lock()
	m.jobs[jobID] = job
	m.byScanID[req.ScanID] = jobID
	m.jobCancels[jobID] = cancel
	m.jobsMu.Unlock()

	m.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: JobPending})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.jobsMu.Lock()
			j := m.jobs[jobID]
			if j != nil {
				j.EndedAt = time.Now().UTC()
			}
			delete(m.jobCancels, jobID)
			delete(m.byScanID, req.ScanID)
			m.jobsMu.Unlock()
			cancel()

			// Close events channel so websocket loop can terminate cleanly
			if j != nil {
				m.jobsMu.Lock()
				close(j.Events)
				j.eventsClosed = true
				m.jobsMu.Unlock()
			}
		}()

		m.setStatus(jobID, JobRunning, "")
		m.run(jobCtx, jobID, s, req)
	}()

	return m.GetJob(jobID), nil
}

func (m *JobManager) run(ctx context.Context, jobID string, s scanner.Scanner, req model.ScanRequest) {
	log := m.logger.With(logging.Field{Key: "job_id", Value: jobID}, logging.Field{Key: "scan_id", Value: req.ScanID})

	res, err := s.Scan(ctx, req)
	if res != nil {
		if m.saver != nil && req.WebsiteID != 0 && !errors.Is(err, context.Canceled) {
			if serr := m.saver.Save(context.WithoutCancel(ctx), res); serr != nil {
				log.Error("saving result failed", logging.Err(serr))
			}
		}
		m.jobsMu.Lock()
		if j, ok := m.jobs[jobID]; ok {
			j.Result = res
		}
		m.jobsMu.Unlock()
		m.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventResult, Result: res})
	}

	switch {
	case errors.Is(err, context.Canceled):
		m.setStatus(jobID, JobCanceled, "")
	case err != nil:
		log.Warn("scan job failed", logging.Err(err))
		m.setStatus(jobID, JobFailed, err.Error())
	default:
		m.setStatus(jobID, JobDone, "")
	}
}

// CancelJob cancels a pending or running job. Unknown or finished jobs are
// ignored.
func (m *JobManager) CancelJob(jobID string) {
	m.jobsMu.Lock()
	cancel := m.jobCancels[jobID]
	m.jobsMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// GetJob returns a snapshot of the job, or nil.
func (m *JobManager) GetJob(jobID string) *Job {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

// Subscribe returns the event channel of a job. Events are buffered, and
// the channel is closed when the job finishes. A job has one subscriber.
func (m *JobManager) Subscribe(jobID string) (<-chan JobEvent, error) {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Events, nil
}

// ListJobs returns snapshots of every remembered job, newest first.
func (m *JobManager) ListJobs() []*Job {
	m.jobsMu.Lock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		cp := *j
		out = append(out, &cp)
	}
	m.jobsMu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	return out
}

// Cleanup forgets finished jobs that ended before now minus the retention
// period and returns how many were removed.
func (m *JobManager) Cleanup(now time.Time) int {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	n := 0
	for id, j := range m.jobs {
		if j.Status.finished() && !j.EndedAt.IsZero() && now.Sub(j.EndedAt) >= m.retention {
			delete(m.jobs, id)
			n++
		}
	}
	return n
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (m *JobManager) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Cleanup(now); n > 0 {
				m.logger.Debug("forgot finished jobs", logging.Field{Key: "count", Value: n})
			}
		}
	}
}

// Shutdown cancels every running job and waits for them to stop or for ctx
// to expire.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.jobsMu.Lock()
	for _, cancel := range m.jobCancels {
		cancel()
	}
	m.jobsMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
