package scheduler

import (
	"context"
	"fmt"
	"time"

	"mediaconv/errors"
	"mediaconv/models"
	"mediaconv/ratelimit"
)

// Start launches the worker pool. Workers stop when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.log.Infow("scheduler started", "workers", s.cfg.Workers, "deny_policy", s.cfg.DenyPolicy)
	// Jobs submitted before Start are waiting.
	s.signal()
	return nil
}

// Stop cancels the workers and waits for them. A job that is processing
// sees its context cancelled and ends in Error unless it completes first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.log.Infow("scheduler stopped")
}

func (s *Scheduler) worker(n int) {
	defer s.wg.Done()
	for {
		job, wait, ok := s.next()
		if !ok {
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		if job == nil {
			// Denied and requeued; back off before taking more work.
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
			s.signal()
			continue
		}
		s.run(n, job)
	}
}

// next pops the queue head and runs admission for it. It returns the job
// to process, or a nil job with a wait duration after a requeue, or
// ok=false when the queue is empty.
func (s *Scheduler) next() (job *models.Job, wait time.Duration, ok bool) {
	s.mu.Lock()
	for len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]
		j, exists := s.jobs[id]
		if !exists || j.Status != models.StatusPending {
			continue
		}

		decision := s.admit(j.Token)
		if !decision.Allowed {
			if s.cfg.DenyPolicy == DenyFail {
				s.fail(j, decision.Err())
				t := transitionOf(j)
				s.mu.Unlock()
				s.log.Infow("job denied by rate limiter", "job_id", id, "retry_after", decision.RetryAfter)
				s.emit(t)
				return nil, 0, true
			}
			s.queue = append(s.queue, id)
			s.mu.Unlock()
			wait = min(decision.RetryAfter, s.cfg.RequeueBackoff)
			s.log.Debugw("job requeued by rate limiter", "job_id", id, "retry_after", decision.RetryAfter)
			return nil, wait, true
		}

		s.setStatus(j, models.StatusProcessing)
		t := transitionOf(j)
		work := *j
		work.Settings = j.Settings.Clone()
		more := len(s.queue) > 0
		s.mu.Unlock()

		if more {
			s.signal()
		}
		s.emit(t)
		return &work, 0, true
	}
	s.mu.Unlock()
	return nil, 0, false
}

func (s *Scheduler) admit(token string) ratelimit.Decision {
	if s.limiter == nil {
		return ratelimit.Decision{Allowed: true}
	}
	return s.limiter.Admit(token)
}

// run executes a Processing job and records its terminal state.
func (s *Scheduler) run(worker int, work *models.Job) {
	ctx := s.ctx
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.dispatch(ctx, work)
	if err == nil && result == nil {
		err = errors.New("pipeline returned no result")
	}

	s.mu.Lock()
	job, ok := s.jobs[work.ID]
	if !ok {
		// Processing jobs cannot be removed; nothing else deletes them.
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.fail(job, err)
	} else {
		job.Result = result
		job.Error = ""
		job.Payload = nil
		s.setStatus(job, models.StatusCompleted)
	}
	t := transitionOf(job)
	s.mu.Unlock()

	if err != nil {
		s.log.Warnw("job failed", "job_id", work.ID, "worker", worker, "kind", work.Kind,
			"duration", time.Since(start), "error", err.Error())
	} else {
		s.log.Infow("job completed", "job_id", work.ID, "worker", worker, "kind", work.Kind,
			"duration", time.Since(start), "bytes", len(result.Data))
	}
	s.emit(t)
}

// dispatch calls the pipeline for the job's kind, converting panics into
// errors.
func (s *Scheduler) dispatch(ctx context.Context, job *models.Job) (result *models.Result, err error) {
	p, ok := s.pipelines[job.Kind]
	if !ok {
		return nil, errors.Newf("no pipeline for %s jobs", job.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Newf("pipeline panic: %s", fmt.Sprint(r))
		}
	}()
	return p.Process(ctx, job)
}

// fail must be called with s.mu held.
func (s *Scheduler) fail(job *models.Job, err error) {
	job.Result = nil
	job.Error = err.Error()
	job.Payload = nil
	s.setStatus(job, models.StatusError)
}
