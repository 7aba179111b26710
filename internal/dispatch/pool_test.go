package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"icast/internal/logging"
	"icast/internal/stage"
	"icast/internal/store"
	"icast/internal/testsupport"
)

type fakeHandler struct {
	executions atomic.Int32
	err        error
}

func (f *fakeHandler) Execute(context.Context, *store.Task) error {
	f.executions.Add(1)
	return f.err
}

func (f *fakeHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("fake")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPoolExecutesScheduledTask(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	task := testsupport.NewTask(t, st, "a.wav")

	handler := &fakeHandler{}
	pool := NewPool(cfg, st, logging.NewNop())
	pool.Register(CategoryUpload, handler, 1)
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pool.Stop()

	if err := pool.Schedule(ctx, CategoryUpload, task); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return handler.executions.Load() == 1 })
}

func TestPoolRecordsHandlerError(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()
	task := testsupport.NewTask(t, st, "a.wav")

	handler := &fakeHandler{err: errors.New("diarization unavailable")}
	pool := NewPool(cfg, st, logging.NewNop())
	pool.Register(CategoryTranscription, handler, 1)
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pool.Stop()

	if err := pool.Schedule(ctx, CategoryTranscription, task); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		stored, err := st.GetTask(ctx, task.ID)
		if err != nil || stored == nil {
			return false
		}
		return stored.ErrorMessage == "diarization unavailable"
	})
}

func TestPoolRejectsUnknownLane(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	pool := NewPool(cfg, st, logging.NewNop())
	pool.Register(CategoryUpload, &fakeHandler{}, 1)

	task := testsupport.NewTask(t, st, "a.wav")
	if err := pool.Schedule(context.Background(), CategoryReport, task); err == nil {
		t.Fatal("Schedule() succeeded for an unregistered lane")
	}
}

func TestPoolStartRequiresLanes(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	pool := NewPool(cfg, st, logging.NewNop())
	if err := pool.Start(context.Background()); err == nil {
		t.Fatal("Start() succeeded with no lanes")
	}
}
