package daemon

import (
	"context"
	"testing"

	"icast/internal/dispatch"
	"icast/internal/logging"
	"icast/internal/stage"
	"icast/internal/store"
	"icast/internal/testsupport"
)

type idleHandler struct{}

func (idleHandler) Execute(context.Context, *store.Task) error { return nil }

func (idleHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("idle")
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	logger := logging.NewNop()

	pool := dispatch.NewPool(cfg, st, logger)
	pool.Register(dispatch.CategoryUpload, idleHandler{}, 1)
	dispatcher, err := dispatch.New(cfg, st, logger, pool)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	d, err := New(cfg, st, logger, pool, dispatcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail while running")
	}
	d.Stop()

	// The lock is released on Stop, so a restart must succeed.
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	d.Stop()
}

func TestDaemonRejectsMissingDependencies(t *testing.T) {
	if _, err := New(nil, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for nil dependencies")
	}
}
