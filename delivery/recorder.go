// Package delivery handles what happens after a job reaches a terminal
// state: persisting the output and outcome, writing to storage backends
// and notifying the caller's callback URL.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"mediaconv/logger"
	"mediaconv/models"
	writerbackends "mediaconv/writerBackends"
)

// JobLookup returns a snapshot of a job by id.
type JobLookup interface {
	Job(id string) (models.Job, bool)
}

type ArtifactStore interface {
	Put(jobID string, result *models.Result) error
}

type SuccessStore interface {
	StoreSuccess(job models.Job, result *models.Result, destinations []string) error
}

type FailureStore interface {
	StoreFailure(job models.Job, errMsg string) error
}

// JobReleaser drops a finished job from memory.
type JobReleaser interface {
	Forget(id string) error
}

type CredentialStore interface {
	GetCredentials(key string) (map[string]string, error)
}

// WriteFunc writes one output to a storage backend.
type WriteFunc func(ctx context.Context, accessInfo map[string]string, reader io.Reader, backendType string) error

// Options wires the recorder. Any store may be nil.
type Options struct {
	Artifacts       ArtifactStore
	Successes       SuccessStore
	Failures        FailureStore
	Credentials     CredentialStore
	Write           WriteFunc // defaults to writerbackends.WriteOutput
	ServeDir        string
	Events          *EventBus
	HTTPClient      *http.Client
	CallbackTimeout time.Duration
	UserAgent       string
	// ReleaseAfterDelivery forgets a job in the bound JobLookup once its
	// output or failure has been persisted, if the lookup is a
	// JobReleaser. Jobs whose outcome could not be stored stay in memory.
	ReleaseAfterDelivery bool
}

// Recorder implements the scheduler subscriber interface. Status events
// are published synchronously; terminal-state delivery runs in the
// background so workers are not held up by slow backends.
type Recorder struct {
	opts Options
	jobs JobLookup
	ctx  context.Context
	wg   sync.WaitGroup
}

// New creates a Recorder. ctx bounds background deliveries.
func New(ctx context.Context, opts Options) *Recorder {
	if opts.Write == nil {
		opts.Write = writerbackends.WriteOutput
	}
	if opts.Events == nil {
		opts.Events = NewEventBus(0)
	}
	if opts.CallbackTimeout <= 0 {
		opts.CallbackTimeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.CallbackTimeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "mediaconv"
	}
	return &Recorder{opts: opts, ctx: ctx}
}

// Bind sets the job source. It must be called before the first transition.
func (r *Recorder) Bind(jobs JobLookup) {
	r.jobs = jobs
}

// Events returns the event log.
func (r *Recorder) Events() *EventBus {
	return r.opts.Events
}

// Wait blocks until every background delivery has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// OnTransition records t and starts delivery for terminal states.
func (r *Recorder) OnTransition(t models.Transition) {
	ev := Event{JobID: t.JobID, Type: EventTypeStatus, Status: t.Status, Timestamp: t.At, Message: t.Error}
	if t.Result != nil {
		ev.Filename = t.Result.Filename
	}
	r.opts.Events.Publish(ev)

	if !t.Status.IsTerminal() {
		return
	}

	job := models.Job{ID: t.JobID, Kind: t.Kind, Status: t.Status}
	if r.jobs != nil {
		if snap, ok := r.jobs.Job(t.JobID); ok {
			job = snap
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.deliver(job, t)
	}()
}

func (r *Recorder) deliver(job models.Job, t models.Transition) {
	var persisted bool
	switch t.Status {
	case models.StatusCompleted:
		persisted = r.completed(job, t.Result)
	case models.StatusError:
		persisted = r.failed(job, t.Error)
	}
	if !persisted || !r.opts.ReleaseAfterDelivery {
		return
	}
	if releaser, ok := r.jobs.(JobReleaser); ok {
		if err := releaser.Forget(job.ID); err != nil {
			logger.Warnf("Failed to release job %s: %v", job.ID, err)
		}
	}
}

// completed reports whether the output was persisted to the artifact store.
func (r *Recorder) completed(job models.Job, result *models.Result) bool {
	if result == nil {
		logger.Errorf("job %s completed without a result", job.ID)
		return false
	}

	stored := false
	if r.opts.Artifacts != nil {
		if err := r.opts.Artifacts.Put(job.ID, result); err != nil {
			logger.Errorf("Failed to store artifact for job %s: %v", job.ID, err)
		} else {
			stored = true
		}
	}

	destinations := r.writeBackends(job, result)

	if r.opts.Successes != nil {
		// Don't fail the job for success storage errors
		if err := r.opts.Successes.StoreSuccess(job, result, destinations); err != nil {
			logger.Errorf("Failed to store success record for job %s: %v", job.ID, err)
		}
	}

	r.sendCallback(job, callbackPayload{
		JobID:        job.ID,
		Status:       models.StatusCompleted,
		Filename:     result.Filename,
		MediaType:    result.MediaType,
		Bytes:        len(result.Data),
		Destinations: destinations,
	})
	return stored
}

func (r *Recorder) failed(job models.Job, errMsg string) bool {
	stored := false
	if r.opts.Failures != nil {
		if err := r.opts.Failures.StoreFailure(job, errMsg); err != nil {
			logger.Errorf("Failed to store failure for job %s: %v", job.ID, err)
		} else {
			stored = true
		}
	}
	r.sendCallback(job, callbackPayload{
		JobID:  job.ID,
		Status: models.StatusError,
		Error:  errMsg,
	})
	return stored
}

// writeBackends writes result to every configured destination and returns
// the names of those that succeeded.
func (r *Recorder) writeBackends(job models.Job, result *models.Result) []string {
	d := job.Settings.Delivery
	var written []string

	if d.DirectServe {
		info := writerbackends.AccessInfoFor(writerbackends.BackendDirectServe,
			map[string]string{"baseDir": r.opts.ServeDir}, d.SubDir, ServeFilename(job.ID, result.Filename))
		if r.write(job.ID, writerbackends.BackendDirectServe, info, result) {
			written = append(written, writerbackends.BackendDirectServe)
		}
	}

	for backendType, key := range d.StorageKeys {
		if r.opts.Credentials == nil {
			r.deliveryError(job.ID, fmt.Sprintf("%s: no credentials store configured", backendType))
			continue
		}
		creds, err := r.opts.Credentials.GetCredentials(key)
		if err != nil {
			r.deliveryError(job.ID, fmt.Sprintf("%s: credentials %q unavailable: %v", backendType, key, err))
			continue
		}
		info := writerbackends.AccessInfoFor(backendType, creds, d.SubDir, result.Filename)
		if info["contentType"] == "" {
			info["contentType"] = result.MediaType
		}
		if r.write(job.ID, backendType, info, result) {
			written = append(written, backendType)
		}
	}
	return written
}

// ServeFilename is the name a job's output gets in the serve directory.
// The job id prefix keeps outputs of different jobs with the same source
// name apart.
func ServeFilename(jobID, filename string) string {
	return jobID + "_" + filename
}

func (r *Recorder) write(jobID, backendType string, info map[string]string, result *models.Result) bool {
	if err := r.opts.Write(r.ctx, info, bytes.NewReader(result.Data), backendType); err != nil {
		r.deliveryError(jobID, err.Error())
		return false
	}
	r.opts.Events.Publish(Event{
		JobID:    jobID,
		Type:     EventTypeDelivery,
		Filename: result.Filename,
		Message:  "written to " + backendType,
	})
	return true
}

func (r *Recorder) deliveryError(jobID, msg string) {
	logger.Errorf("Delivery failed for job %s: %s", jobID, msg)
	r.opts.Events.Publish(Event{JobID: jobID, Type: EventTypeError, Message: msg})
}

type callbackPayload struct {
	JobID        string        `json:"job_id"`
	Status       models.Status `json:"status"`
	Filename     string        `json:"filename,omitempty"`
	MediaType    string        `json:"media_type,omitempty"`
	Bytes        int           `json:"bytes,omitempty"`
	Destinations []string      `json:"destinations,omitempty"`
	Error        string        `json:"error,omitempty"`
	Timestamp    int64         `json:"timestamp"`
}

// sendCallback sends completion callback if configured
func (r *Recorder) sendCallback(job models.Job, payload callbackPayload) {
	d := job.Settings.Delivery
	if d.CallbackURL == "" {
		return
	}
	payload.Timestamp = time.Now().Unix()

	if err := r.postCallback(d.CallbackURL, d.CallbackHeaders, payload); err != nil {
		// Don't fail the job for callback errors
		r.deliveryError(job.ID, err.Error())
		return
	}
	logger.Infof("Successfully sent callback to %s", d.CallbackURL)
}

func (r *Recorder) postCallback(url string, headers map[string]string, payload callbackPayload) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal callback payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.opts.CallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", r.opts.UserAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := r.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
