package areadetector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/acqctl/internal/detector"
	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/signal"
	"github.com/danmuck/acqctl/internal/testutil/testlog"
)

func connectDevice(t *testing.T, name string, dev device.Device) {
	t.Helper()
	if err := device.Collect(context.Background(), time.Second, map[string]device.Device{name: dev}); err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
}

func TestPilatusControllerTriggerModes(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	drv := NewPilatusDriver(signal.Sim(), "PILATUS:DET:")
	hdf := NewNDFileHDF(signal.Sim(), "PILATUS:HDF:")
	connectDevice(t, "drv", drv)
	connectDevice(t, "hdf", hdf)
	if _, err := NewSimIOC(drv.ADDriver, hdf); err != nil {
		t.Fatalf("sim ioc: %v", err)
	}
	ctrl := NewPilatusController(drv)

	if ctrl.Deadtime(time.Second) != time.Millisecond {
		t.Fatalf("unexpected deadtime %s", ctrl.Deadtime(time.Second))
	}

	cases := []struct {
		trigger detector.Trigger
		want    TriggerMode
	}{
		{detector.TriggerInternal, TriggerModeInternal},
		{detector.TriggerConstantGate, TriggerModeExtEnable},
		{detector.TriggerVariableGate, TriggerModeExtEnable},
	}
	for _, tc := range cases {
		st, err := ctrl.Arm(ctx, tc.trigger, 4, 0)
		if err != nil {
			t.Fatalf("arm %s: %v", tc.trigger, err)
		}
		mustWait(t, st)
		if got := get[TriggerMode](t, drv.TriggerMode); got != tc.want {
			t.Fatalf("%s: trigger mode %q, want %q", tc.trigger, got, tc.want)
		}
		if get[ImageMode](t, drv.ImageMode) != ImageModeMultiple || get[int](t, drv.NumImages) != 4 {
			t.Fatalf("%s: expected multiple image mode with 4 images", tc.trigger)
		}
	}
	if got := get[int](t, drv.ArrayCounter); got != 12 {
		t.Fatalf("expected 12 frames, got %d", got)
	}

	if _, err := ctrl.Arm(ctx, detector.TriggerEdge, 1, 0); !errors.Is(err, detector.ErrUnsupportedTrigger) {
		t.Fatalf("edge trigger: expected unsupported, got %v", err)
	}
	if err := ctrl.Disarm(ctx); err != nil {
		t.Fatalf("disarm: %v", err)
	}
	if err := ctrl.Disarm(ctx); err != nil {
		t.Fatalf("second disarm: %v", err)
	}
}

func TestADControllerInternalOnly(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	drv := NewADDriver(signal.Sim(), "AD:DET:")
	hdf := NewNDFileHDF(signal.Sim(), "AD:HDF:")
	connectDevice(t, "drv", drv)
	connectDevice(t, "hdf", hdf)
	if _, err := NewSimIOC(drv, hdf); err != nil {
		t.Fatalf("sim ioc: %v", err)
	}
	ctrl := NewADController(drv)

	if ctrl.Deadtime(0) != 2*time.Millisecond {
		t.Fatalf("unexpected deadtime %s", ctrl.Deadtime(0))
	}
	if _, err := ctrl.Arm(ctx, detector.TriggerConstantGate, 1, 0); !errors.Is(err, detector.ErrUnsupportedTrigger) {
		t.Fatalf("expected unsupported trigger, got %v", err)
	}

	st, err := ctrl.Arm(ctx, detector.TriggerInternal, 1, 250*time.Millisecond)
	if err != nil {
		t.Fatalf("arm: %v", err)
	}
	mustWait(t, st)
	if got := get[float64](t, drv.AcquireTime); got != 0.25 {
		t.Fatalf("exposure not applied: %v", got)
	}
	if get[bool](t, drv.Acquire) {
		t.Fatalf("acquire should drop once the frame is done")
	}
}

func TestArmFailsOnBadDetectorState(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	drv := NewADDriver(signal.Sim(), "BAD:DET:")
	connectDevice(t, "drv", drv)
	signal.SetSimValue[DetectorState](drv.DetectorState, DetectorError)

	st, err := NewADController(drv).Arm(ctx, detector.TriggerInternal, 1, 0)
	if err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := st.Wait(ctx); !errors.Is(err, ErrBadDetectorState) {
		t.Fatalf("expected bad detector state, got %v", err)
	}
}

func TestStopBusyRecord(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	drv := NewADDriver(signal.Sim(), "BUSY:DET:")
	connectDevice(t, "drv", drv)
	signal.SetSimValue[bool](drv.Acquire, true)
	signal.SetSimPutProceeds[bool](drv.Acquire, false)

	if err := StopBusyRecord(ctx, drv.Acquire, false, time.Second); err != nil {
		t.Fatalf("stop busy record: %v", err)
	}
	if get[bool](t, drv.Acquire) {
		t.Fatalf("acquire should be false")
	}
}

type nullTransport struct{}

func (nullTransport) Scheme() string                               { return "null" }
func (nullTransport) Connect(ctx context.Context, pv string) error { return nil }
func (nullTransport) Get(ctx context.Context, pv string) (any, signal.Meta, error) {
	return nil, signal.Meta{}, nil
}
func (nullTransport) Put(ctx context.Context, pv string, value any, wait bool) error { return nil }
func (nullTransport) Monitor(pv string, cb func(any, signal.Meta)) (func(), error) {
	return func() {}, nil
}

func TestSimIOCRequiresSimulatedSignals(t *testing.T) {
	testlog.Start(t)
	p := signal.Remote(nullTransport{})
	if _, err := NewSimIOC(NewADDriver(p, "R:DET:"), NewNDFileHDF(p, "R:HDF:")); !errors.Is(err, signal.ErrNotSimulated) {
		t.Fatalf("expected not simulated, got %v", err)
	}
}
