package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaconv/models"
	"mediaconv/scheduler"
)

type fakeJobs map[string]models.Job

func (f fakeJobs) Job(id string) (models.Job, bool) {
	j, ok := f[id]
	return j, ok
}

type memStores struct {
	mu        sync.Mutex
	artifacts map[string]*models.Result
	successes map[string][]string
	failures  map[string]string
}

func newMemStores() *memStores {
	return &memStores{
		artifacts: map[string]*models.Result{},
		successes: map[string][]string{},
		failures:  map[string]string{},
	}
}

func (m *memStores) Put(id string, r *models.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[id] = r
	return nil
}

func (m *memStores) StoreSuccess(job models.Job, _ *models.Result, dest []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes[job.ID] = dest
	return nil
}

func (m *memStores) StoreFailure(job models.Job, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[job.ID] = msg
	return nil
}

type fakeCreds map[string]map[string]string

func (f fakeCreds) GetCredentials(key string) (map[string]string, error) {
	c, ok := f[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

func TestCompletedJobIsDelivered(t *testing.T) {
	var (
		mu       sync.Mutex
		callback map[string]interface{}
		header   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		header = r.Header.Get("X-Tenant")
		json.Unmarshal(body, &callback)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var writes []string
	var writeInfo map[string]string
	write := func(ctx context.Context, info map[string]string, reader io.Reader, backend string) error {
		writes = append(writes, backend)
		writeInfo = info
		return nil
	}

	serveDir := t.TempDir()
	stores := newMemStores()
	rec := New(context.Background(), Options{
		Artifacts:   stores,
		Successes:   stores,
		Failures:    stores,
		Credentials: fakeCreds{"k1": {"bucket": "media", "prefix": "out"}},
		Write:       write,
		ServeDir:    serveDir,
	})
	result := &models.Result{Data: []byte("png"), MediaType: "image/png", Filename: "a.png"}
	rec.Bind(fakeJobs{"j1": {
		ID: "j1", Kind: models.KindImage,
		Settings: models.Settings{Delivery: models.Delivery{
			StorageKeys:     map[string]string{"s3": "k1"},
			SubDir:          "tenant",
			CallbackURL:     srv.URL,
			CallbackHeaders: map[string]string{"X-Tenant": "acme"},
		}},
	}})

	rec.OnTransition(models.Transition{JobID: "j1", Status: models.StatusProcessing, At: time.Now()})
	rec.OnTransition(models.Transition{JobID: "j1", Status: models.StatusCompleted, Result: result, At: time.Now()})
	rec.Wait()

	assert.Equal(t, result, stores.artifacts["j1"])
	assert.Equal(t, []string{"s3"}, stores.successes["j1"])
	assert.Equal(t, []string{"s3"}, writes)
	assert.Equal(t, "out/tenant/a.png", writeInfo["key"])
	assert.Equal(t, "image/png", writeInfo["contentType"])

	mu.Lock()
	assert.Equal(t, "completed", callback["status"])
	assert.Equal(t, "a.png", callback["filename"])
	assert.Equal(t, "acme", header)
	mu.Unlock()

	events := rec.Events().Since(0)
	require.Len(t, events, 3)
	assert.Equal(t, models.StatusProcessing, events[0].Status)
	assert.Equal(t, models.StatusCompleted, events[1].Status)
	assert.Equal(t, EventTypeDelivery, events[2].Type)
}

func TestDirectServeWritesFile(t *testing.T) {
	serveDir := t.TempDir()
	rec := New(context.Background(), Options{ServeDir: serveDir})
	rec.Bind(fakeJobs{"j": {ID: "j", Settings: models.Settings{
		Delivery: models.Delivery{DirectServe: true, SubDir: "pub"},
	}}})

	rec.OnTransition(models.Transition{JobID: "j", Status: models.StatusCompleted,
		Result: &models.Result{Data: []byte("webm"), MediaType: "video/webm", Filename: "v.webm"}})
	rec.Wait()

	got, err := os.ReadFile(filepath.Join(serveDir, "pub", "j_v.webm"))
	require.NoError(t, err)
	assert.Equal(t, []byte("webm"), got)
}

func TestDirectServeKeepsJobsWithSameNameApart(t *testing.T) {
	serveDir := t.TempDir()
	rec := New(context.Background(), Options{ServeDir: serveDir})
	direct := models.Settings{Delivery: models.Delivery{DirectServe: true}}
	rec.Bind(fakeJobs{
		"a": {ID: "a", Settings: direct},
		"b": {ID: "b", Settings: direct},
	})

	for _, id := range []string{"a", "b"} {
		rec.OnTransition(models.Transition{JobID: id, Status: models.StatusCompleted,
			Result: &models.Result{Data: []byte("from " + id), MediaType: "image/png", Filename: "logo.png"}})
	}
	rec.Wait()

	for _, id := range []string{"a", "b"} {
		got, err := os.ReadFile(filepath.Join(serveDir, ServeFilename(id, "logo.png")))
		require.NoError(t, err)
		assert.Equal(t, []byte("from "+id), got)
	}
}

func TestFailedJobRecordsFailureAndCallback(t *testing.T) {
	got := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		got <- body
	}))
	defer srv.Close()

	stores := newMemStores()
	rec := New(context.Background(), Options{Failures: stores, Successes: stores})
	rec.Bind(fakeJobs{"bad": {ID: "bad", Settings: models.Settings{Delivery: models.Delivery{CallbackURL: srv.URL}}}})

	rec.OnTransition(models.Transition{JobID: "bad", Status: models.StatusError, Error: "decode: image: unknown format"})
	rec.Wait()

	assert.Equal(t, "decode: image: unknown format", stores.failures["bad"])
	assert.Empty(t, stores.successes)
	body := <-got
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "decode: image: unknown format", body["error"])
}

func TestDeliveryErrorsAreLoggedNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	stores := newMemStores()
	write := func(ctx context.Context, info map[string]string, reader io.Reader, backend string) error {
		return errors.New("bucket unreachable")
	}
	rec := New(context.Background(), Options{
		Successes:   stores,
		Credentials: fakeCreds{"k": {"bucket": "b"}},
		Write:       write,
	})
	rec.Bind(fakeJobs{"j": {ID: "j", Settings: models.Settings{Delivery: models.Delivery{
		StorageKeys: map[string]string{"gcs": "k", "sftp": "missing"},
		CallbackURL: srv.URL,
	}}}})

	rec.OnTransition(models.Transition{JobID: "j", Status: models.StatusCompleted,
		Result: &models.Result{Data: []byte("x"), MediaType: "image/png", Filename: "x.png"}})
	rec.Wait()

	assert.Empty(t, stores.successes["j"], "no destination succeeded")
	_, recorded := stores.successes["j"]
	assert.True(t, recorded, "success is still recorded")

	var errorsSeen int
	for _, ev := range rec.Events().Since(0) {
		if ev.Type == EventTypeError {
			errorsSeen++
		}
	}
	assert.Equal(t, 3, errorsSeen, "gcs write, sftp credentials and callback")
}

// brokenArtifacts fails every Put.
type brokenArtifacts struct{}

func (brokenArtifacts) Put(string, *models.Result) error { return errors.New("disk full") }

func TestFinishedJobsAreReleasedAfterDelivery(t *testing.T) {
	stores := newMemStores()
	rec := New(context.Background(), Options{
		Artifacts:            stores,
		Successes:            stores,
		Failures:             stores,
		ReleaseAfterDelivery: true,
	})
	sched := scheduler.New(scheduler.Config{Workers: 2}, nil, map[models.Kind]scheduler.Pipeline{
		models.KindImage: scheduler.PipelineFunc(func(ctx context.Context, job *models.Job) (*models.Result, error) {
			if string(job.Payload) == "bad" {
				return nil, errors.New("cannot decode")
			}
			return &models.Result{Data: job.Payload, MediaType: "image/png", Filename: job.Filename}, nil
		}),
	}, rec)
	rec.Bind(sched)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	settings := models.Settings{Image: &models.ImageSettings{Format: "png"}}
	var ids []string
	for _, payload := range []string{"one", "two", "bad"} {
		id, err := sched.AddJob([]byte(payload), "image/png", payload+".png", "tok", settings)
		require.NoError(t, err)
		require.NoError(t, sched.Submit(id))
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool {
		st := sched.Stats()
		return len(sched.Jobs()) == 0 && st.Completed == 0 && st.Error == 0
	}, 5*time.Second, 5*time.Millisecond)
	rec.Wait()

	stores.mu.Lock()
	defer stores.mu.Unlock()
	assert.Equal(t, []byte("one"), stores.artifacts[ids[0]].Data)
	assert.Equal(t, []byte("two"), stores.artifacts[ids[1]].Data)
	assert.Contains(t, stores.failures[ids[2]], "cannot decode")
}

func TestUnpersistedJobsStayInMemory(t *testing.T) {
	rec := New(context.Background(), Options{
		Artifacts:            brokenArtifacts{},
		ReleaseAfterDelivery: true,
	})
	sched := scheduler.New(scheduler.Config{Workers: 1}, nil, map[models.Kind]scheduler.Pipeline{
		models.KindImage: scheduler.PipelineFunc(func(ctx context.Context, job *models.Job) (*models.Result, error) {
			return &models.Result{Data: job.Payload, MediaType: "image/png", Filename: "x.png"}, nil
		}),
	}, rec)
	rec.Bind(sched)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	id, err := sched.AddJob([]byte("x"), "image/png", "x.png", "tok", models.Settings{Image: &models.ImageSettings{Format: "png"}})
	require.NoError(t, err)
	require.NoError(t, sched.Submit(id))

	require.Eventually(t, func() bool {
		st, ok := sched.Status(id)
		return ok && st == models.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)
	rec.Wait()

	_, ok := sched.Job(id)
	assert.True(t, ok, "result is only held in memory")
	assert.Equal(t, 1, sched.Stats().Completed)
}

func TestEventBusBoundedAndSince(t *testing.T) {
	bus := NewEventBus(3)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{JobID: "j"})
	}
	all := bus.Since(0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].Seq)
	assert.Equal(t, int64(5), bus.LastSeq())
	assert.Len(t, bus.Since(4), 1)
	assert.Empty(t, bus.Since(5))
}
