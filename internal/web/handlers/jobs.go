package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/search"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes and closes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners. Slow listeners miss events.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
		}
	}
}

// SearchJob tracks one person search started over HTTP.
type SearchJob struct {
	EventBroadcaster

	id          string
	personID    string
	status      JobStatus
	progress    search.Progress
	matched     int
	err         string
	runErr      error
	startedAt   time.Time
	completedAt *time.Time

	finished chan struct{} // closed when the primary pass returned
}

// JobSnapshot is the JSON view of a SearchJob.
type JobSnapshot struct {
	ID          string          `json:"id"`
	PersonID    string          `json:"person_id"`
	Status      JobStatus       `json:"status"`
	Progress    search.Progress `json:"progress"`
	Matched     int             `json:"matched"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (j *SearchJob) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.snapshotLocked()
}

func (j *SearchJob) snapshotLocked() JobSnapshot {
	return JobSnapshot{
		ID:          j.id,
		PersonID:    j.personID,
		Status:      j.status,
		Progress:    j.progress,
		Matched:     j.matched,
		Error:       j.err,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
}

func (j *SearchJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Finished is closed once the search returned its result. A background
// continuation may still be running.
func (j *SearchJob) Finished() <-chan struct{} {
	return j.finished
}

// Result returns the match count and error of a finished search.
func (j *SearchJob) Result() (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.matched, j.runErr
}

// Cancel stops the search at its next batch or image boundary, including a
// background continuation that outlived the primary pass.
func (j *SearchJob) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// run executes an admitted search and records its outcome.
func (j *SearchJob) run(ctx context.Context, s *search.Search) {
	j.mu.Lock()
	j.status = JobStatusRunning
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "started", Data: j.Snapshot()})

	matched, err := s.Run(ctx, j.onProgress)

	j.mu.Lock()
	now := time.Now()
	j.completedAt = &now
	j.matched = matched
	j.runErr = err
	switch {
	case errors.Is(err, context.Canceled):
		j.status = JobStatusCancelled
	case err != nil:
		j.status = JobStatusFailed
		j.err = err.Error()
	default:
		j.status = JobStatusCompleted
	}
	snap := j.snapshotLocked()
	j.mu.Unlock()
	close(j.finished)

	j.SendEvent(JobEvent{Type: string(snap.Status), Message: snap.Error, Data: snap})
}

// onProgress also receives updates from a background continuation after
// the job completed.
func (j *SearchJob) onProgress(p search.Progress) {
	j.mu.Lock()
	j.progress = p
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "progress", Data: p})
}

// JobManager manages async search jobs. Jobs are removed once they have
// been finished for longer than the retention.
type JobManager struct {
	jobs      map[string]*SearchJob
	retention time.Duration
	mu        sync.RWMutex
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs:      make(map[string]*SearchJob),
		retention: constants.JobRetention,
	}
}

// Start registers a job for an admitted search and runs it in the
// background. The job outlives the request that created it; its context
// stays alive until the search released its token.
func (m *JobManager) Start(personID string, s *search.Search) *SearchJob {
	ctx, cancel := context.WithCancel(context.Background())
	job := &SearchJob{
		id:        uuid.NewString(),
		personID:  personID,
		status:    JobStatusPending,
		startedAt: time.Now(),
		finished:  make(chan struct{}),
	}
	job.cancel = cancel

	m.mu.Lock()
	m.jobs[job.id] = job
	m.mu.Unlock()

	go func() {
		defer cancel()
		job.run(ctx, s)
		<-s.Done()
		time.AfterFunc(m.retention, func() { m.DeleteJob(job.id) })
	}()
	return job
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

func (m *JobManager) GetJob(id string) *SearchJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

func (m *JobManager) ListJobs() []*SearchJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*SearchJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// CancelAll cancels every job that has not finished.
func (m *JobManager) CancelAll() {
	for _, job := range m.ListJobs() {
		if !isJobTerminal(job.GetStatus()) {
			job.Cancel()
		}
	}
}
