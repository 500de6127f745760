// Package scheduler owns conversion jobs from creation to a terminal
// state. A fixed pool of workers drains a FIFO queue, asks the admission
// limiter before each job and dispatches to the pipeline for the job's
// kind. Every status change is reported to the subscriber.
package scheduler

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediaconv/errors"
	"mediaconv/logger"
	"mediaconv/models"
	"mediaconv/ratelimit"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobBusy        = errors.New("job is processing and cannot be removed")
	ErrNotIdle        = errors.New("job is not idle")
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotTerminal    = errors.New("job has not finished")
)

// Pipeline converts one job. Implementations must not retain job after
// returning.
type Pipeline interface {
	Process(ctx context.Context, job *models.Job) (*models.Result, error)
}

// SettingsValidator is implemented by pipelines that can reject settings
// they cannot honour on this host, such as an output format whose encoder
// is not installed.
type SettingsValidator interface {
	ValidateSettings(settings models.Settings) error
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, job *models.Job) (*models.Result, error)

func (f PipelineFunc) Process(ctx context.Context, job *models.Job) (*models.Result, error) {
	return f(ctx, job)
}

// Admitter is the admission check consulted before each job starts.
type Admitter interface {
	Admit(token string) ratelimit.Decision
}

// Subscriber observes status transitions. It is called synchronously from
// the goroutine that made the change, never under the scheduler lock.
type Subscriber interface {
	OnTransition(t models.Transition)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(t models.Transition)

func (f SubscriberFunc) OnTransition(t models.Transition) { f(t) }

// Subscribers fans one transition out to several subscribers in order.
type Subscribers []Subscriber

func (s Subscribers) OnTransition(t models.Transition) {
	for _, sub := range s {
		if sub != nil {
			sub.OnTransition(t)
		}
	}
}

// Stats is a point-in-time count of jobs per status.
type Stats struct {
	Idle       int `json:"idle"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
	Queued     int `json:"queued"`
	Workers    int `json:"workers"`
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	cfg        Config
	limiter    Admitter
	pipelines  map[models.Kind]Pipeline
	subscriber Subscriber
	log        *zap.SugaredLogger
	newID      func() string
	now        func() time.Time

	mu    sync.Mutex
	jobs  map[string]*models.Job
	order []string // creation order
	queue []string // pending job ids, FIFO

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a scheduler. limiter and subscriber may be nil.
func New(cfg Config, limiter Admitter, pipelines map[models.Kind]Pipeline, subscriber Subscriber) *Scheduler {
	cfg = cfg.withDefaults()
	p := make(map[models.Kind]Pipeline, len(pipelines))
	for k, v := range pipelines {
		p[k] = v
	}
	return &Scheduler{
		cfg:        cfg,
		limiter:    limiter,
		pipelines:  p,
		subscriber: subscriber,
		log:        logger.Named("scheduler"),
		newID:      uuid.NewString,
		now:        time.Now,
		jobs:       make(map[string]*models.Job),
		wake:       make(chan struct{}, 1),
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// AddJob validates the input and settings and creates an Idle job. Invalid
// input is rejected with a ValidationError and never enters the scheduler.
func (s *Scheduler) AddJob(data []byte, mediaType, filenameHint, token string, settings models.Settings) (string, error) {
	kind, err := models.KindFromMediaType(mediaType)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.NewValidation("file", "file is empty")
	}
	if limit := s.cfg.maxBytes(kind); int64(len(data)) > limit {
		return "", errors.NewValidation("file", "file size exceeds %dMB limit", limit/(1024*1024))
	}
	pipeline, ok := s.pipelines[kind]
	if !ok {
		return "", errors.NewValidation("mediaType", "%s conversion is not available", kind)
	}

	snapshot := settings.Clone()
	if err := snapshot.Validate(kind); err != nil {
		return "", err
	}
	if v, ok := pipeline.(SettingsValidator); ok {
		if err := v.ValidateSettings(snapshot); err != nil {
			return "", err
		}
	}

	now := s.now()
	job := &models.Job{
		ID:        s.newID(),
		Kind:      kind,
		Filename:  filenameHint,
		MediaType: mediaType,
		Token:     token,
		Payload:   bytes.Clone(data),
		Settings:  snapshot,
		Status:    models.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	t := transitionOf(job)
	s.mu.Unlock()

	s.log.Debugw("job added", "job_id", job.ID, "kind", kind, "bytes", len(data))
	s.emit(t)
	return job.ID, nil
}

// Submit moves an Idle job to Pending and appends it to the queue.
func (s *Scheduler) Submit(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return errors.Wrapf(ErrJobNotFound, "submit %s", id)
	}
	if job.Status != models.StatusIdle {
		status := job.Status
		s.mu.Unlock()
		return errors.Wrapf(ErrNotIdle, "submit %s: status %s", id, status)
	}
	s.setStatus(job, models.StatusPending)
	t := transitionOf(job)
	s.mu.Unlock()

	// Pending is reported before any worker can see the job.
	s.emit(t)

	s.mu.Lock()
	if job, ok := s.jobs[id]; ok && job.Status == models.StatusPending {
		s.queue = append(s.queue, id)
	}
	s.mu.Unlock()
	s.signal()
	return nil
}

// SubmitAll submits every Idle job in creation order and returns their ids.
func (s *Scheduler) SubmitAll() []string {
	s.mu.Lock()
	var idle []string
	for _, id := range s.order {
		if job := s.jobs[id]; job != nil && job.Status == models.StatusIdle {
			idle = append(idle, id)
		}
	}
	s.mu.Unlock()

	submitted := make([]string, 0, len(idle))
	for _, id := range idle {
		if err := s.Submit(id); err == nil {
			submitted = append(submitted, id)
		}
	}
	return submitted
}

// Status returns the current status of a job.
func (s *Scheduler) Status(id string) (models.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return "", false
	}
	return job.Status, true
}

// Job returns a snapshot of a job without its input payload.
func (s *Scheduler) Job(id string) (models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return snapshot(job), true
}

// Jobs returns snapshots of every known job in creation order.
func (s *Scheduler) Jobs() []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Job, 0, len(s.order))
	for _, id := range s.order {
		if job, ok := s.jobs[id]; ok {
			out = append(out, snapshot(job))
		}
	}
	return out
}

// Remove forgets a job. Idle and Pending jobs are dropped without side
// effects; a Processing job is refused with ErrJobBusy.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.Wrapf(ErrJobNotFound, "remove %s", id)
	}
	if job.Status == models.StatusProcessing {
		return errors.Wrapf(ErrJobBusy, "remove %s", id)
	}

	delete(s.jobs, id)
	s.order = without(s.order, id)
	s.queue = without(s.queue, id)
	s.log.Debugw("job removed", "job_id", id, "status", job.Status)
	return nil
}

// Forget drops a Completed or Error job once its outcome has been handed
// off elsewhere. Jobs in any other status are refused with ErrNotTerminal.
func (s *Scheduler) Forget(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.Wrapf(ErrJobNotFound, "forget %s", id)
	}
	if !job.Status.IsTerminal() {
		return errors.Wrapf(ErrNotTerminal, "forget %s: status %s", id, job.Status)
	}

	delete(s.jobs, id)
	s.order = without(s.order, id)
	s.log.Debugw("job released", "job_id", id, "status", job.Status)
	return nil
}

// Stats counts jobs per status.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Queued: len(s.queue), Workers: s.cfg.Workers}
	for _, job := range s.jobs {
		switch job.Status {
		case models.StatusIdle:
			st.Idle++
		case models.StatusPending:
			st.Pending++
		case models.StatusProcessing:
			st.Processing++
		case models.StatusCompleted:
			st.Completed++
		case models.StatusError:
			st.Error++
		}
	}
	return st
}

// setStatus must be called with s.mu held.
func (s *Scheduler) setStatus(job *models.Job, status models.Status) {
	job.Status = status
	job.UpdatedAt = s.now()
}

func (s *Scheduler) emit(t models.Transition) {
	if s.subscriber == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("subscriber panicked", "job_id", t.JobID, "status", t.Status, "panic", r)
		}
	}()
	s.subscriber.OnTransition(t)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func transitionOf(job *models.Job) models.Transition {
	return models.Transition{
		JobID:  job.ID,
		Kind:   job.Kind,
		Status: job.Status,
		Result: job.Result,
		Error:  job.Error,
		At:     job.UpdatedAt,
	}
}

func snapshot(job *models.Job) models.Job {
	out := *job
	out.Payload = nil
	out.Settings = job.Settings.Clone()
	return out
}

func without(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
