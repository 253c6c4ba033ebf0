package plan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/danmuck/acqctl/internal/areadetector"
	"github.com/danmuck/acqctl/internal/detector"
	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/model"
	"github.com/danmuck/acqctl/internal/signal"
	"github.com/danmuck/acqctl/internal/status"
	"github.com/danmuck/acqctl/internal/testutil/testlog"
)

type recordingSink struct {
	mu    sync.Mutex
	names []string
	docs  []any
}

func (s *recordingSink) Emit(ctx context.Context, name string, doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.docs = append(s.docs, doc)
	return nil
}

func simDetector(t *testing.T, prefix, name string, opts ...detector.Option) (*areadetector.Detector, *areadetector.SimIOC) {
	t.Helper()
	dir := detector.NewStaticDirectoryProvider(t.TempDir(), "test-"+name+"-")
	det := areadetector.NewADDetector(signal.Sim(), prefix, dir, opts...)
	if err := ConnectWithRetry(context.Background(), map[string]device.Device{name: det}, time.Second, 1, DefaultBackoff()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ioc, err := det.Simulate()
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	return det, ioc
}

func TestCountSingleDetector(t *testing.T) {
	testlog.Start(t)
	det, _ := simDetector(t, "TEST:", "test")
	signal.SetSimValue[int](det.Drv.ArraySizeX, 10)
	signal.SetSimValue[int](det.Drv.ArraySizeY, 20)
	sink := &recordingSink{}

	uid, err := Count(context.Background(), sink, []detector.Detector{det}, 3)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	want := []string{
		model.DocStart,
		model.DocDescriptor,
		model.DocStreamResource,
		model.DocStreamDatum,
		model.DocEvent,
		model.DocStreamDatum,
		model.DocEvent,
		model.DocStreamDatum,
		model.DocEvent,
		model.DocStop,
	}
	if diff := cmp.Diff(want, sink.names); diff != "" {
		t.Fatalf("document order (-want +got):\n%s", diff)
	}

	start := sink.docs[0].(model.RunStart)
	desc := sink.docs[1].(model.EventDescriptor)
	stop := sink.docs[len(sink.docs)-1].(model.RunStop)
	if start.UID != uid || desc.RunStart != uid || stop.RunStart != uid {
		t.Fatalf("documents must reference run %s", uid)
	}
	if diff := cmp.Diff([]int{20, 10}, desc.DataKeys["test"].Shape); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
	if stop.ExitStatus != model.ExitSuccess || stop.NumEvents["primary"] != 3 {
		t.Fatalf("unexpected stop %+v", stop)
	}

	seq := 1
	for _, doc := range sink.docs {
		switch doc := doc.(type) {
		case model.StreamDatum:
			if doc.Descriptor != desc.UID || doc.SeqNums != (model.Range{Start: seq, Stop: seq + 1}) {
				t.Fatalf("datum not bound to event %d: %+v", seq, doc)
			}
		case model.Event:
			if doc.SeqNum != seq || len(doc.Data) != 0 {
				t.Fatalf("unexpected event %+v", doc)
			}
			seq++
		}
	}
	if det.State() != detector.StateUnstaged {
		t.Fatalf("detector should be unstaged, got %s", det.State())
	}
}

func TestCountTwoDetectors(t *testing.T) {
	testlog.Start(t)
	deta, _ := simDetector(t, "PREFIX1:", "testa")
	detb, _ := simDetector(t, "PREFIX2:", "testb")
	for i, det := range []*areadetector.Detector{deta, detb} {
		signal.SetSimValue[float64](det.Drv.AcquireTime, 0.8+float64(i))
		signal.SetSimValue[int](det.Drv.ArraySizeX, 1024+i)
		signal.SetSimValue[int](det.Drv.ArraySizeY, 768+i)
	}
	sink := &recordingSink{}

	if _, err := Count(context.Background(), sink, []detector.Detector{deta, detb}, 1); err != nil {
		t.Fatalf("count: %v", err)
	}

	want := []string{
		model.DocStart,
		model.DocDescriptor,
		model.DocStreamResource,
		model.DocStreamDatum,
		model.DocStreamResource,
		model.DocStreamDatum,
		model.DocEvent,
		model.DocStop,
	}
	if diff := cmp.Diff(want, sink.names); diff != "" {
		t.Fatalf("document order (-want +got):\n%s", diff)
	}

	desc := sink.docs[1].(model.EventDescriptor)
	if got := desc.Configuration["testa"].Data["testa-drv-acquire_time"]; got != 0.8 {
		t.Fatalf("testa acquire time %v", got)
	}
	if got := desc.Configuration["testb"].Data["testb-drv-acquire_time"]; got != 1.8 {
		t.Fatalf("testb acquire time %v", got)
	}
	if diff := cmp.Diff([]int{768, 1024}, desc.DataKeys["testa"].Shape); diff != "" {
		t.Fatalf("testa shape (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{769, 1025}, desc.DataKeys["testb"].Shape); diff != "" {
		t.Fatalf("testb shape (-want +got):\n%s", diff)
	}

	sra := sink.docs[2].(model.StreamResource)
	sda := sink.docs[3].(model.StreamDatum)
	srb := sink.docs[4].(model.StreamResource)
	sdb := sink.docs[5].(model.StreamDatum)
	if sda.StreamResource != sra.UID || sdb.StreamResource != srb.UID {
		t.Fatalf("datums must reference their own resource")
	}
	if event := sink.docs[6].(model.Event); len(event.Data) != 0 {
		t.Fatalf("event data should be empty: %v", event.Data)
	}
}

func TestCountFailureEndsRun(t *testing.T) {
	testlog.Start(t)
	det, ioc := simDetector(t, "TEST:", "test", detector.WithTimeout(50*time.Millisecond))
	ioc.DropFrames(true)
	sink := &recordingSink{}

	_, err := Count(context.Background(), sink, []detector.Detector{det}, 2)
	if !errors.Is(err, signal.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if diff := cmp.Diff([]string{model.DocStart, model.DocDescriptor, model.DocStop}, sink.names); diff != "" {
		t.Fatalf("document order (-want +got):\n%s", diff)
	}
	stop := sink.docs[2].(model.RunStop)
	if stop.ExitStatus != model.ExitFail || stop.Reason == "" || stop.NumEvents["primary"] != 0 {
		t.Fatalf("unexpected stop %+v", stop)
	}
	if capture, _ := det.HDF.Capture.GetValue(context.Background()); capture {
		t.Fatalf("detector should be unstaged after a failed run")
	}
}

type refusingStage struct {
	*areadetector.Detector
	err error
}

func (r refusingStage) Stage(ctx context.Context) *status.Status {
	return status.Completed(r.err)
}

func TestCountStageFailureUnstagesAll(t *testing.T) {
	testlog.Start(t)
	good, _ := simDetector(t, "TESTA:", "testa")
	bad, _ := simDetector(t, "TESTB:", "testb")
	boom := errors.New("stage refused")
	sink := &recordingSink{}

	_, err := Count(context.Background(), sink, []detector.Detector{good, refusingStage{Detector: bad, err: boom}}, 1)
	if !errors.Is(err, boom) {
		t.Fatalf("expected stage failure, got %v", err)
	}
	if len(sink.names) != 0 {
		t.Fatalf("no documents expected before a run starts, got %v", sink.names)
	}
	if good.State() != detector.StateUnstaged {
		t.Fatalf("detector should be unstaged, got %s", good.State())
	}
}

func TestCountRejectsBadArguments(t *testing.T) {
	testlog.Start(t)
	sink := &recordingSink{}
	if _, err := Count(context.Background(), sink, nil, 1); !errors.Is(err, ErrNoDetectors) {
		t.Fatalf("expected no detectors, got %v", err)
	}
	det, _ := simDetector(t, "TEST:", "test")
	if _, err := Count(context.Background(), sink, []detector.Detector{det}, 0); !errors.Is(err, ErrInvalidCount) {
		t.Fatalf("expected invalid count, got %v", err)
	}
	if len(sink.names) != 0 {
		t.Fatalf("no documents expected, got %v", sink.names)
	}
}
