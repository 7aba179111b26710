package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"icast/internal/config"
	"icast/internal/logging"
	"icast/internal/store"
	"icast/internal/testsupport"
)

type scheduledCall struct {
	category Category
	taskID   int64
}

type fakeScheduler struct {
	calls   []scheduledCall
	failFor map[int64]error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{failFor: make(map[int64]error)}
}

func (f *fakeScheduler) Schedule(_ context.Context, category Category, task *store.Task) error {
	if err, ok := f.failFor[task.ID]; ok {
		return err
	}
	f.calls = append(f.calls, scheduledCall{category: category, taskID: task.ID})
	return nil
}

func newTestDispatcher(t *testing.T, st *store.Store, scheduler Scheduler) *Dispatcher {
	t.Helper()
	return newTestDispatcherWithConfig(t, testsupport.NewConfig(t), st, scheduler)
}

func newTestDispatcherWithConfig(t *testing.T, cfg *config.Config, st *store.Store, scheduler Scheduler) *Dispatcher {
	t.Helper()
	d, err := New(cfg, st, logging.NewNop(), scheduler)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func eventsByKind(t *testing.T, st *store.Store, kind store.EventKind) []*store.Event {
	t.Helper()
	events, err := st.ListEvents(context.Background())
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	var matched []*store.Event
	for _, event := range events {
		if event.Kind == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

func TestRunOnceRoutesInitialEventAndConsumesIt(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	ctx := context.Background()
	task := testsupport.NewTask(t, st, "a.wav")

	scheduler := newFakeScheduler()
	d := newTestDispatcher(t, st, scheduler)
	d.RunOnce(ctx)

	if len(scheduler.calls) != 1 {
		t.Fatalf("scheduled %d tasks, want 1", len(scheduler.calls))
	}
	if scheduler.calls[0].category != CategoryUpload || scheduler.calls[0].taskID != task.ID {
		t.Errorf("scheduled %+v, want upload of task %d", scheduler.calls[0], task.ID)
	}
	if remaining := eventsByKind(t, st, store.EventAudioUploaded); len(remaining) != 0 {
		t.Errorf("audio_uploaded still present after dispatch: %d rows", len(remaining))
	}
}

func TestRunOnceRetainsConsumedEventsWhenConfigured(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t)
	cfg.Dispatch.RetainProcessedEvents = true
	testsupport.NewTask(t, st, "a.wav")

	d := newTestDispatcherWithConfig(t, cfg, st, newFakeScheduler())
	d.RunOnce(context.Background())

	retained := eventsByKind(t, st, store.EventAudioUploaded)
	if len(retained) != 1 || !retained[0].Processed {
		t.Fatalf("expected one processed audit row, got %+v", retained)
	}
}

func TestJoinWaitsWhenTranscriptNotReady(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	ctx := context.Background()
	task := testsupport.NewTask(t, st, "a.wav")
	template := testsupport.NewTemplate(t, st, "custdev")
	if err := st.BindTemplate(ctx, task.ID, template.ID); err != nil {
		t.Fatalf("BindTemplate() error = %v", err)
	}
	// Consume the initial audio_uploaded so only the join candidate remains.
	initial := eventsByKind(t, st, store.EventAudioUploaded)
	if err := st.RemoveEvent(ctx, initial[0].ID); err != nil {
		t.Fatalf("RemoveEvent() error = %v", err)
	}

	scheduler := newFakeScheduler()
	d := newTestDispatcher(t, st, scheduler)
	d.RunOnce(ctx)

	if len(scheduler.calls) != 0 {
		t.Fatalf("scheduled %+v, want nothing before the transcript is ready", scheduler.calls)
	}
	pending := eventsByKind(t, st, store.EventTemplateSelected)
	if len(pending) != 1 {
		t.Fatalf("template_selected rows = %d, want 1", len(pending))
	}
	if pending[0].Processed || pending[0].ClaimedBy != "" {
		t.Errorf("template_selected should be released and unprocessed: %+v", pending[0])
	}
}

func TestJoinDispatchesOnceTranscriptArrives(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	ctx := context.Background()
	task := testsupport.NewTask(t, st, "a.wav")
	template := testsupport.NewTemplate(t, st, "custdev")
	if err := st.BindTemplate(ctx, task.ID, template.ID); err != nil {
		t.Fatalf("BindTemplate() error = %v", err)
	}
	initial := eventsByKind(t, st, store.EventAudioUploaded)
	if err := st.RemoveEvent(ctx, initial[0].ID); err != nil {
		t.Fatalf("RemoveEvent() error = %v", err)
	}

	scheduler := newFakeScheduler()
	d := newTestDispatcher(t, st, scheduler)

	// First pass: template selected, no transcript yet.
	d.RunOnce(ctx)
	if len(scheduler.calls) != 0 {
		t.Fatalf("premature dispatch: %+v", scheduler.calls)
	}

	// Transcript lands between passes.
	if _, err := st.AppendEvent(ctx, task.ID, store.EventTranscriptionReady, nil); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	d.RunOnce(ctx)

	if len(scheduler.calls) != 1 || scheduler.calls[0].category != CategoryExtraction {
		t.Fatalf("scheduled %+v, want one extraction dispatch", scheduler.calls)
	}
	if rows := eventsByKind(t, st, store.EventTemplateSelected); len(rows) != 0 {
		t.Error("template_selected not consumed by the join")
	}
	if rows := eventsByKind(t, st, store.EventTranscriptionReady); len(rows) != 0 {
		t.Error("transcription_ready not consumed by the join")
	}
}

func TestJoinSameTaskOnly(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	ctx := context.Background()
	taskA := testsupport.NewTask(t, st, "a.wav")
	taskB := testsupport.NewTask(t, st, "b.wav")
	template := testsupport.NewTemplate(t, st, "custdev")
	if err := st.BindTemplate(ctx, taskA.ID, template.ID); err != nil {
		t.Fatalf("BindTemplate() error = %v", err)
	}
	for _, event := range eventsByKind(t, st, store.EventAudioUploaded) {
		if err := st.RemoveEvent(ctx, event.ID); err != nil {
			t.Fatalf("RemoveEvent() error = %v", err)
		}
	}
	// Task B's transcript must never satisfy task A's join.
	if _, err := st.AppendEvent(ctx, taskB.ID, store.EventTranscriptionReady, nil); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	scheduler := newFakeScheduler()
	d := newTestDispatcher(t, st, scheduler)
	d.RunOnce(ctx)

	for _, call := range scheduler.calls {
		if call.category == CategoryExtraction {
			t.Fatalf("cross-task join dispatched extraction: %+v", call)
		}
	}
	if rows := eventsByKind(t, st, store.EventTemplateSelected); len(rows) != 1 {
		t.Error("template_selected should still be waiting")
	}
	if rows := eventsByKind(t, st, store.EventTranscriptionReady); len(rows) != 1 {
		t.Error("task B transcription_ready should survive the pass")
	}
}

func TestJoinBothEventsInOnePass(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	ctx := context.Background()
	task := testsupport.NewTask(t, st, "a.wav")
	template := testsupport.NewTemplate(t, st, "custdev")
	initial := eventsByKind(t, st, store.EventAudioUploaded)
	if err := st.RemoveEvent(ctx, initial[0].ID); err != nil {
		t.Fatalf("RemoveEvent() error = %v", err)
	}
	// transcription_ready first, then template_selected: the join must pair
	// them within a single pass without dispatching anything twice.
	if _, err := st.AppendEvent(ctx, task.ID, store.EventTranscriptionReady, nil); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if err := st.BindTemplate(ctx, task.ID, template.ID); err != nil {
		t.Fatalf("BindTemplate() error = %v", err)
	}

	scheduler := newFakeScheduler()
	d := newTestDispatcher(t, st, scheduler)
	d.RunOnce(ctx)

	var extractions int
	for _, call := range scheduler.calls {
		if call.category == CategoryExtraction {
			extractions++
		}
	}
	if extractions != 1 {
		t.Fatalf("extraction dispatched %d times, want exactly once", extractions)
	}
	if rows := eventsByKind(t, st, store.EventTranscriptionReady); len(rows) != 0 {
		t.Error("transcription_ready not consumed")
	}
	if rows := eventsByKind(t, st, store.EventTemplateSelected); len(rows) != 0 {
		t.Error("template_selected not consumed")
	}
}

func TestFailureIsolationAcrossEvents(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	ctx := context.Background()
	taskA := testsupport.NewTask(t, st, "a.wav")
	taskB := testsupport.NewTask(t, st, "b.wav")

	scheduler := newFakeScheduler()
	scheduler.failFor[taskA.ID] = errors.New("lane saturated")
	d := newTestDispatcher(t, st, scheduler)
	d.RunOnce(ctx)

	if len(scheduler.calls) != 1 || scheduler.calls[0].taskID != taskB.ID {
		t.Fatalf("calls = %+v, want only task %d dispatched", scheduler.calls, taskB.ID)
	}

	remaining := eventsByKind(t, st, store.EventAudioUploaded)
	if len(remaining) != 1 || remaining[0].TaskID != taskA.ID {
		t.Fatalf("remaining events = %+v, want task A's event back in the pool", remaining)
	}
	if remaining[0].ClaimedBy != "" {
		t.Error("failed event should have its claim released")
	}
	if remaining[0].Error == "" {
		t.Error("failed event should record the dispatch error")
	}
}

func TestInformationalMarkersAreRetainedProcessed(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	ctx := context.Background()
	task := testsupport.NewTask(t, st, "a.wav")
	if _, err := st.AppendEvent(ctx, task.ID, store.EventTranscriptionStarted, nil); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if _, err := st.AppendEvent(ctx, task.ID, store.EventReportReady, nil); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	d := newTestDispatcher(t, st, newFakeScheduler())
	d.RunOnce(ctx)

	for _, kind := range []store.EventKind{store.EventTranscriptionStarted, store.EventReportReady} {
		rows := eventsByKind(t, st, kind)
		if len(rows) != 1 {
			t.Fatalf("%s rows = %d, want the audit row kept", kind, len(rows))
		}
		if !rows[0].Processed || rows[0].ProcessedAt == nil {
			t.Errorf("%s not marked processed: %+v", kind, rows[0])
		}
	}
}

func TestClaimedBatchInvisibleToSecondDispatcher(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	ctx := context.Background()
	testsupport.NewTask(t, st, "a.wav")

	first, err := st.ClaimEvents(ctx, "dispatcher-one")
	if err != nil {
		t.Fatalf("ClaimEvents() error = %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first claim = %d events, want 1", len(first))
	}

	scheduler := newFakeScheduler()
	d := newTestDispatcher(t, st, scheduler)
	d.RunOnce(ctx)

	if len(scheduler.calls) != 0 {
		t.Fatalf("second dispatcher dispatched %+v from another claimant's batch", scheduler.calls)
	}
}

func TestRoutingTableCoversEveryKind(t *testing.T) {
	routes := routingTable()
	for _, kind := range store.AllEventKinds() {
		if _, ok := routes[kind]; !ok {
			t.Errorf("event kind %q has no route", kind)
		}
	}
}

func TestOrphanedClaimReclaimedAfterTimeout(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	ctx := context.Background()
	task := testsupport.NewTask(t, st, "a.wav")

	// A dispatcher that claimed the batch and then died never releases it.
	orphaned, err := st.ClaimEvents(ctx, "dead-dispatcher")
	if err != nil {
		t.Fatalf("ClaimEvents() error = %v", err)
	}
	if len(orphaned) != 1 {
		t.Fatalf("orphaned claim = %d events, want 1", len(orphaned))
	}

	scheduler := newFakeScheduler()
	d := newTestDispatcher(t, st, scheduler)

	// Within the claim timeout the row stays invisible.
	d.RunOnce(ctx)
	if len(scheduler.calls) != 0 {
		t.Fatalf("dispatched %+v before the claim expired", scheduler.calls)
	}

	// Once the claim is older than the timeout the sweep releases it and
	// the same pass dispatches it.
	d.claimTimeout = -time.Second
	d.RunOnce(ctx)
	if len(scheduler.calls) != 1 || scheduler.calls[0].category != CategoryUpload {
		t.Fatalf("calls = %+v, want one upload dispatch for task %d", scheduler.calls, task.ID)
	}
	if remaining := eventsByKind(t, st, store.EventAudioUploaded); len(remaining) != 0 {
		t.Fatalf("reclaimed event not consumed: %d remaining", len(remaining))
	}
}

func TestErroredPassShortensNextPoll(t *testing.T) {
	st := testsupport.MustOpenStore(t)
	ctx := context.Background()
	task := testsupport.NewTask(t, st, "a.wav")

	scheduler := newFakeScheduler()
	scheduler.failFor[task.ID] = errors.New("lane saturated")
	d := newTestDispatcher(t, st, scheduler)

	d.RunOnce(ctx)
	if got := d.nextPollDelay(); got != d.errorRetry {
		t.Fatalf("delay after errored pass = %s, want error retry %s", got, d.errorRetry)
	}

	delete(scheduler.failFor, task.ID)
	d.RunOnce(ctx)
	if got := d.nextPollDelay(); got != d.pollInterval {
		t.Fatalf("delay after clean pass = %s, want poll interval %s", got, d.pollInterval)
	}
}
