package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaconv/errors"
	"mediaconv/models"
	"mediaconv/ratelimit"
)

// recorder collects transitions for assertions.
type recorder struct {
	mu          sync.Mutex
	transitions []models.Transition
}

func (r *recorder) OnTransition(t models.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) statuses(id string) []models.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Status
	for _, t := range r.transitions {
		if t.JobID == id {
			out = append(out, t.Status)
		}
	}
	return out
}

func (r *recorder) last(id string) (models.Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.transitions) - 1; i >= 0; i-- {
		if r.transitions[i].JobID == id {
			return r.transitions[i], true
		}
	}
	return models.Transition{}, false
}

// allowAll admits everything and counts calls.
type allowAll struct{ calls atomic.Int32 }

func (a *allowAll) Admit(string) ratelimit.Decision {
	a.calls.Add(1)
	return ratelimit.Decision{Allowed: true}
}

func echoPipeline(format string) PipelineFunc {
	return func(ctx context.Context, job *models.Job) (*models.Result, error) {
		return &models.Result{
			Data:      append([]byte("out:"), job.Payload...),
			MediaType: "image/" + format,
			Filename:  models.OutputFilename(job.Filename, format),
		}, nil
	}
}

func imageSettings() models.Settings {
	return models.Settings{Image: &models.ImageSettings{Format: "png"}}
}

func newTestScheduler(t *testing.T, cfg Config, limiter Admitter, image Pipeline) (*Scheduler, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := New(cfg, limiter, map[models.Kind]Pipeline{
		models.KindImage: image,
		models.KindVideo: echoPipeline("mp4"),
	}, rec)
	return s, rec
}

func waitForStatus(t *testing.T, s *Scheduler, id string, want models.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := s.Status(id)
		return ok && st == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
}

func TestAddJob_Validation(t *testing.T) {
	s, rec := newTestScheduler(t, Config{MaxImageBytes: 8}, nil, echoPipeline("png"))

	tests := []struct {
		name      string
		data      []byte
		mediaType string
		settings  models.Settings
	}{
		{"unsupported media type", []byte("x"), "audio/mpeg", imageSettings()},
		{"empty file", nil, "image/png", imageSettings()},
		{"oversize", []byte("123456789"), "image/png", imageSettings()},
		{"bad settings", []byte("x"), "image/png", models.Settings{Image: &models.ImageSettings{Format: "bmp"}}},
		{"missing settings", []byte("x"), "video/mp4", imageSettings()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := s.AddJob(tt.data, tt.mediaType, "f", "tok", tt.settings)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err), "got %v", err)
			assert.Empty(t, id)
		})
	}
	assert.Empty(t, s.Jobs())
	assert.Empty(t, rec.transitions)
}

func TestAddJob_SnapshotsSettings(t *testing.T) {
	s, rec := newTestScheduler(t, Config{}, nil, echoPipeline("png"))

	settings := imageSettings()
	data := []byte("img")
	id, err := s.AddJob(data, "image/png", "a.png", "tok", settings)
	require.NoError(t, err)

	settings.Image.Format = "jpeg"
	data[0] = 'X'

	job, ok := s.Job(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusIdle, job.Status)
	assert.Equal(t, models.KindImage, job.Kind)
	assert.Equal(t, "png", job.Settings.Image.Format)
	assert.Nil(t, job.Payload, "snapshots omit payload")
	assert.Equal(t, []models.Status{models.StatusIdle}, rec.statuses(id))
}

func TestLifecycle_Completed(t *testing.T) {
	limiter := &allowAll{}
	s, rec := newTestScheduler(t, Config{Workers: 2}, limiter, echoPipeline("png"))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	id, err := s.AddJob([]byte("img"), "image/png", "a.jpg", "tok", imageSettings())
	require.NoError(t, err)
	require.NoError(t, s.Submit(id))

	waitForStatus(t, s, id, models.StatusCompleted)
	require.Eventually(t, func() bool { return len(rec.statuses(id)) == 4 }, time.Second, time.Millisecond)

	assert.Equal(t, []models.Status{
		models.StatusIdle, models.StatusPending, models.StatusProcessing, models.StatusCompleted,
	}, rec.statuses(id))

	last, _ := rec.last(id)
	require.NotNil(t, last.Result)
	assert.Equal(t, []byte("out:img"), last.Result.Data)
	assert.Equal(t, "a.png", last.Result.Filename)
	assert.Empty(t, last.Error)
	assert.Equal(t, int32(1), limiter.calls.Load())

	job, _ := s.Job(id)
	assert.NotNil(t, job.Result)
	assert.Empty(t, job.Error)
}

func TestLifecycle_PipelineError(t *testing.T) {
	failing := PipelineFunc(func(ctx context.Context, job *models.Job) (*models.Result, error) {
		return nil, errors.NewProcessing("decode", errors.New("image: unknown format"))
	})
	s, rec := newTestScheduler(t, Config{}, nil, failing)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	id, err := s.AddJob([]byte("bad"), "image/png", "a.png", "tok", imageSettings())
	require.NoError(t, err)
	require.NoError(t, s.Submit(id))

	waitForStatus(t, s, id, models.StatusError)
	job, _ := s.Job(id)
	assert.Equal(t, "decode: image: unknown format", job.Error)
	assert.Nil(t, job.Result)

	last, _ := rec.last(id)
	assert.Equal(t, models.StatusError, last.Status)
	assert.Equal(t, "decode: image: unknown format", last.Error)
}

func TestPanicIsIsolated(t *testing.T) {
	var calls atomic.Int32
	flaky := PipelineFunc(func(ctx context.Context, job *models.Job) (*models.Result, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return &models.Result{Data: []byte("ok"), MediaType: "image/png", Filename: "x.png"}, nil
	})
	s, _ := newTestScheduler(t, Config{Workers: 1}, nil, flaky)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	first, err := s.AddJob([]byte("1"), "image/png", "1.png", "tok", imageSettings())
	require.NoError(t, err)
	second, err := s.AddJob([]byte("2"), "image/png", "2.png", "tok", imageSettings())
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, s.SubmitAll())

	waitForStatus(t, s, first, models.StatusError)
	waitForStatus(t, s, second, models.StatusCompleted)

	job, _ := s.Job(first)
	assert.Contains(t, job.Error, "boom")
}

func TestFIFOOrderWithSingleWorker(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := PipelineFunc(func(ctx context.Context, job *models.Job) (*models.Result, error) {
		mu.Lock()
		order = append(order, job.Filename)
		mu.Unlock()
		return &models.Result{Data: []byte("x"), MediaType: "image/png", Filename: job.Filename}, nil
	})
	s, _ := newTestScheduler(t, Config{Workers: 1}, nil, record)

	var ids []string
	for _, name := range []string{"a", "b", "c", "d"} {
		id, err := s.AddJob([]byte(name), "image/png", name, "tok", imageSettings())
		require.NoError(t, err)
		require.NoError(t, s.Submit(id))
		ids = append(ids, id)
	}

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	waitForStatus(t, s, ids[3], models.StatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestConcurrencyNeverExceedsWorkers(t *testing.T) {
	var active, peak atomic.Int32
	slow := PipelineFunc(func(ctx context.Context, job *models.Job) (*models.Result, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return &models.Result{Data: []byte("x"), MediaType: "image/png", Filename: "x.png"}, nil
	})
	s, _ := newTestScheduler(t, Config{Workers: 2}, nil, slow)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	var ids []string
	for i := 0; i < 6; i++ {
		id, err := s.AddJob([]byte("x"), "image/png", "x", "tok", imageSettings())
		require.NoError(t, err)
		ids = append(ids, id)
	}
	s.SubmitAll()

	for _, id := range ids {
		waitForStatus(t, s, id, models.StatusCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Positive(t, peak.Load())
}

func TestDenyFailPolicy(t *testing.T) {
	clock := time.Unix(1000, 0)
	limiter := ratelimit.NewWithClock(1, time.Minute, func() time.Time { return clock })
	s, rec := newTestScheduler(t, Config{Workers: 1, DenyPolicy: DenyFail}, limiter, echoPipeline("png"))

	first, _ := s.AddJob([]byte("1"), "image/png", "1.png", "tok", imageSettings())
	second, _ := s.AddJob([]byte("2"), "image/png", "2.png", "tok", imageSettings())
	s.SubmitAll()

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitForStatus(t, s, first, models.StatusCompleted)
	waitForStatus(t, s, second, models.StatusError)

	job, _ := s.Job(second)
	assert.Equal(t, "rate limit exceeded, try again in 60s", job.Error)
	assert.Equal(t, []models.Status{models.StatusIdle, models.StatusPending, models.StatusError}, rec.statuses(second))
}

func TestDenyRequeuePolicy(t *testing.T) {
	var mu sync.Mutex
	clock := time.Unix(1000, 0)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	limiter := ratelimit.NewWithClock(1, time.Minute, now)
	s, _ := newTestScheduler(t, Config{Workers: 1, RequeueBackoff: 5 * time.Millisecond}, limiter, echoPipeline("png"))

	first, _ := s.AddJob([]byte("1"), "image/png", "1.png", "tok", imageSettings())
	second, _ := s.AddJob([]byte("2"), "image/png", "2.png", "tok", imageSettings())
	other, _ := s.AddJob([]byte("3"), "image/png", "3.png", "other", imageSettings())
	s.SubmitAll()

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	waitForStatus(t, s, first, models.StatusCompleted)
	// A different token is not blocked behind the denied job.
	waitForStatus(t, s, other, models.StatusCompleted)

	st, _ := s.Status(second)
	assert.Equal(t, models.StatusPending, st)

	mu.Lock()
	clock = clock.Add(time.Minute)
	mu.Unlock()

	waitForStatus(t, s, second, models.StatusCompleted)
}

func TestRemove(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := PipelineFunc(func(ctx context.Context, job *models.Job) (*models.Result, error) {
		started <- struct{}{}
		<-release
		return &models.Result{Data: []byte("x"), MediaType: "image/png", Filename: "x.png"}, nil
	})
	s, rec := newTestScheduler(t, Config{Workers: 1}, nil, blocking)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	busy, _ := s.AddJob([]byte("1"), "image/png", "1.png", "tok", imageSettings())
	queued, _ := s.AddJob([]byte("2"), "image/png", "2.png", "tok", imageSettings())
	idle, _ := s.AddJob([]byte("3"), "image/png", "3.png", "tok", imageSettings())
	require.NoError(t, s.Submit(busy))
	<-started
	require.NoError(t, s.Submit(queued))

	err := s.Remove(busy)
	assert.True(t, errors.Is(err, ErrJobBusy))

	require.NoError(t, s.Remove(queued))
	require.NoError(t, s.Remove(idle))
	_, ok := s.Status(queued)
	assert.False(t, ok)
	assert.True(t, errors.Is(s.Remove("missing"), ErrJobNotFound))

	close(release)
	waitForStatus(t, s, busy, models.StatusCompleted)
	require.NoError(t, s.Remove(busy), "terminal jobs can be forgotten")

	assert.Equal(t, []models.Status{models.StatusIdle, models.StatusPending}, rec.statuses(queued))
	assert.Empty(t, s.Jobs())
}

func TestSubmitErrors(t *testing.T) {
	s, _ := newTestScheduler(t, Config{}, nil, echoPipeline("png"))

	assert.True(t, errors.Is(s.Submit("nope"), ErrJobNotFound))

	id, err := s.AddJob([]byte("x"), "image/png", "x.png", "tok", imageSettings())
	require.NoError(t, err)
	require.NoError(t, s.Submit(id))
	assert.True(t, errors.Is(s.Submit(id), ErrNotIdle))
}

func TestJobTimeout(t *testing.T) {
	hang := PipelineFunc(func(ctx context.Context, job *models.Job) (*models.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s, _ := newTestScheduler(t, Config{JobTimeout: 20 * time.Millisecond}, nil, hang)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	id, _ := s.AddJob([]byte("x"), "image/png", "x.png", "tok", imageSettings())
	require.NoError(t, s.Submit(id))

	waitForStatus(t, s, id, models.StatusError)
	job, _ := s.Job(id)
	assert.Contains(t, job.Error, "deadline exceeded")
}

func TestStatsAndDispatchByKind(t *testing.T) {
	s, _ := newTestScheduler(t, Config{}, nil, echoPipeline("png"))

	img, _ := s.AddJob([]byte("i"), "image/png", "i.png", "tok", imageSettings())
	vid, err := s.AddJob([]byte("v"), "video/quicktime", "v.mov", "tok",
		models.Settings{Video: &models.VideoSettings{Format: "mp4"}})
	require.NoError(t, err)
	require.NoError(t, s.Submit(vid))

	st := s.Stats()
	assert.Equal(t, 1, st.Idle)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, DefaultWorkers, st.Workers)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	waitForStatus(t, s, vid, models.StatusCompleted)

	job, _ := s.Job(vid)
	assert.Equal(t, "v.mp4", job.Result.Filename)
	st2, _ := s.Status(img)
	assert.Equal(t, models.StatusIdle, st2)
}

func TestStartTwice(t *testing.T) {
	s, _ := newTestScheduler(t, Config{}, nil, echoPipeline("png"))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, DenyRequeue, cfg.DenyPolicy)
	assert.Equal(t, time.Second, cfg.RequeueBackoff)
	assert.Equal(t, int64(20*1024*1024), cfg.MaxImageBytes)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxVideoBytes)
}

func TestForget(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Workers: 1}, nil, echoPipeline("png"))

	idle, err := s.AddJob([]byte("1"), "image/png", "1.png", "tok", imageSettings())
	require.NoError(t, err)
	assert.True(t, errors.Is(s.Forget(idle), ErrNotTerminal))
	assert.True(t, errors.Is(s.Forget("missing"), ErrJobNotFound))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	done, err := s.AddJob([]byte("2"), "image/png", "2.png", "tok", imageSettings())
	require.NoError(t, err)
	require.NoError(t, s.Submit(done))
	waitForStatus(t, s, done, models.StatusCompleted)
	assert.Equal(t, 1, s.Stats().Completed)

	require.NoError(t, s.Forget(done))
	_, ok := s.Job(done)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Stats().Completed)
	assert.Equal(t, 1, s.Stats().Idle)
	assert.Len(t, s.Jobs(), 1)
}

// formatGate accepts only the formats it lists.
type formatGate struct {
	PipelineFunc
	formats map[string]bool
}

func (g formatGate) ValidateSettings(settings models.Settings) error {
	if f := settings.Image.Format; !g.formats[f] {
		return errors.NewValidation("format", "no encoder available for %s", f)
	}
	return nil
}

func TestAddJob_PipelineRejectsSettings(t *testing.T) {
	gate := formatGate{PipelineFunc: echoPipeline("png"), formats: map[string]bool{"png": true}}
	s, rec := newTestScheduler(t, Config{}, nil, gate)

	_, err := s.AddJob([]byte("x"), "image/png", "x.png", "tok", models.Settings{Image: &models.ImageSettings{Format: "webp"}})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err), "got %v", err)
	assert.Empty(t, s.Jobs())
	assert.Empty(t, rec.transitions)

	id, err := s.AddJob([]byte("x"), "image/png", "x.png", "tok", imageSettings())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
