package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/danmuck/acqctl/internal/areadetector"
	"github.com/danmuck/acqctl/internal/detector"
	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/model"
	"github.com/danmuck/acqctl/internal/plan"
	"github.com/danmuck/acqctl/internal/signal"
	"github.com/danmuck/acqctl/internal/testutil/testlog"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store := New(filepath.Join(t.TempDir(), "docs.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRequiresInit(t *testing.T) {
	testlog.Start(t)
	store := New(filepath.Join(t.TempDir(), "docs.db"))
	if _, err := store.Runs(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := New("").Init(context.Background()); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected path required, got %v", err)
	}
}

func TestSinkRoundTripsRunDocuments(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	store := openStore(t)
	sink := store.Sink()

	docs := []struct {
		name string
		doc  any
	}{
		{model.DocStart, model.RunStart{UID: "run-1", Time: 1, PlanName: "count", Detectors: []string{"det"}, NumPoints: 1}},
		{model.DocStreamResource, model.StreamResource{UID: "res-1", DataKey: "det", Spec: "AD_HDF5_SWMR_SLICE", RootPath: "/data", ResourcePath: "det.h5"}},
		{model.DocStreamDatum, model.StreamDatum{UID: "res-1/0", StreamResource: "res-1", Descriptor: "desc-1", Indices: model.Range{Start: 0, Stop: 1}, SeqNums: model.Range{Start: 1, Stop: 2}}},
		{model.DocStop, model.RunStop{UID: "stop-1", RunStart: "run-1", Time: 2, ExitStatus: model.ExitSuccess, NumEvents: map[string]int{"primary": 1}}},
	}
	for _, d := range docs {
		if err := sink.Emit(ctx, d.name, d.doc); err != nil {
			t.Fatalf("emit %s: %v", d.name, err)
		}
	}

	got, err := store.Documents(ctx, "run-1")
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	if len(got) != len(docs) {
		t.Fatalf("expected %d documents, got %d", len(docs), len(got))
	}
	for i, d := range got {
		if d.Seq != i+1 || d.Name != docs[i].name {
			t.Fatalf("document %d: seq %d name %s", i, d.Seq, d.Name)
		}
	}
	datum := got[2].Doc.(model.StreamDatum)
	if diff := cmp.Diff(docs[2].doc, datum); diff != "" {
		t.Fatalf("datum (-want +got):\n%s", diff)
	}

	runs, err := store.Runs(ctx)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	want := []Run{{UID: "run-1", PlanName: "count", Started: 1, ExitStatus: model.ExitSuccess}}
	if diff := cmp.Diff(want, runs); diff != "" {
		t.Fatalf("runs (-want +got):\n%s", diff)
	}
}

func TestSinkRejectsDocumentsBeforeStart(t *testing.T) {
	testlog.Start(t)
	sink := openStore(t).Sink()
	err := sink.Emit(context.Background(), model.DocEvent, model.Event{UID: "e"})
	if !errors.Is(err, ErrNoRun) {
		t.Fatalf("expected no run, got %v", err)
	}
}

func TestDocumentsUnknownRun(t *testing.T) {
	testlog.Start(t)
	_, err := openStore(t).Documents(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected run not found, got %v", err)
	}
}

func TestStoreRecordsCountPlan(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	store := openStore(t)

	dir := detector.NewStaticDirectoryProvider(t.TempDir(), "scan-")
	det := areadetector.NewADDetector(signal.Sim(), "TEST:", dir)
	if err := plan.ConnectWithRetry(ctx, map[string]device.Device{"det": det}, time.Second, 1, plan.DefaultBackoff()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := det.Simulate(); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	sink := store.Sink()
	uid, err := plan.Count(ctx, sink, []detector.Detector{det}, 2)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if sink.RunUID() != uid {
		t.Fatalf("sink recorded run %q, want %q", sink.RunUID(), uid)
	}

	docs, err := store.Documents(ctx, uid)
	if err != nil {
		t.Fatalf("documents: %v", err)
	}
	var names []string
	for _, d := range docs {
		names = append(names, d.Name)
	}
	want := []string{
		model.DocStart,
		model.DocDescriptor,
		model.DocStreamResource,
		model.DocStreamDatum,
		model.DocEvent,
		model.DocStreamDatum,
		model.DocEvent,
		model.DocStop,
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("document order (-want +got):\n%s", diff)
	}
	if stop := docs[len(docs)-1].Doc.(model.RunStop); stop.ExitStatus != model.ExitSuccess {
		t.Fatalf("unexpected stop %+v", stop)
	}
}
