package signal

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/testutil/testlog"
)

type fakeTransport struct {
	mu          sync.Mutex
	values      map[string]any
	monitors    map[string]func(any, Meta)
	connected   []string
	failConnect map[string]error
	failMonitor map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		values:      make(map[string]any),
		monitors:    make(map[string]func(any, Meta)),
		failConnect: make(map[string]error),
		failMonitor: make(map[string]error),
	}
}

func (f *fakeTransport) Scheme() string { return "fake" }

func (f *fakeTransport) Connect(ctx context.Context, pv string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, pv)
	return f.failConnect[pv]
}

func (f *fakeTransport) Get(ctx context.Context, pv string) (any, Meta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[pv], Meta{Timestamp: 1}, nil
}

func (f *fakeTransport) Put(ctx context.Context, pv string, value any, wait bool) error {
	f.mu.Lock()
	f.values[pv] = value
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Monitor(pv string, cb func(any, Meta)) (func(), error) {
	f.mu.Lock()
	if err := f.failMonitor[pv]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.monitors[pv] = cb
	current, ok := f.values[pv]
	f.mu.Unlock()
	if ok {
		cb(current, Meta{Timestamp: 1})
	}
	return func() {
		f.mu.Lock()
		delete(f.monitors, pv)
		f.mu.Unlock()
	}, nil
}

func (f *fakeTransport) emit(pv string, value any) {
	f.mu.Lock()
	f.values[pv] = value
	cb := f.monitors[pv]
	f.mu.Unlock()
	if cb != nil {
		cb(value, Meta{Timestamp: 2})
	}
}

func TestRemoteConnectsReadAndWrite(t *testing.T) {
	testlog.Start(t)
	ft := newFakeTransport()
	sig := NewRW[int](Remote(ft), "Gain_RBV", "Gain")
	if sig.Source() != "fake://Gain_RBV" {
		t.Fatalf("unexpected source %q", sig.Source())
	}
	connected(t, sig)

	ft.mu.Lock()
	got := slices.Clone(ft.connected)
	ft.mu.Unlock()
	slices.Sort(got)
	if !slices.Equal(got, []string{"Gain", "Gain_RBV"}) {
		t.Fatalf("unexpected connects %v", got)
	}
}

func TestRemoteConnectFailure(t *testing.T) {
	testlog.Start(t)
	ft := newFakeTransport()
	boom := errors.New("no such pv")
	ft.failConnect["Gain"] = boom
	sig := NewRW[int](Remote(ft), "Gain_RBV", "Gain")
	sig.SetName("det-gain")

	err := device.Collect(context.Background(), 0, map[string]device.Device{"gain": sig})
	if !errors.Is(err, device.ErrNotConnected) || !errors.Is(err, boom) {
		t.Fatalf("expected aggregated connect failure, got %v", err)
	}
	if sig.Connected() {
		t.Fatalf("signal should not report connected")
	}
}

func TestRemoteConvertsNumericValues(t *testing.T) {
	testlog.Start(t)
	ft := newFakeTransport()
	ft.values["N"] = float64(4)
	sig := connected(t, NewR[int](Remote(ft), "N"))

	v, err := sig.GetValue(context.Background())
	if err != nil || v != 4 {
		t.Fatalf("get: %d %v", v, err)
	}

	ft.mu.Lock()
	ft.values["N"] = "four"
	ft.mu.Unlock()
	if _, err := sig.GetValue(context.Background()); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}

func TestConvertNumberRejectsLossyValues(t *testing.T) {
	testlog.Start(t)
	if v, err := convertValue[int](float64(-3)); err != nil || v != -3 {
		t.Fatalf("whole float: %d %v", v, err)
	}
	if v, err := convertValue[uint8](int64(255)); err != nil || v != 255 {
		t.Fatalf("fitting int: %d %v", v, err)
	}
	if v, err := convertValue[float32](int64(7)); err != nil || v != 7 {
		t.Fatalf("int to float: %v %v", v, err)
	}
	if v, err := convertValue[[]int16]([]any{int64(1), uint64(2)}); err != nil || len(v) != 2 || v[1] != 2 {
		t.Fatalf("slice: %v %v", v, err)
	}

	lossy := []struct {
		name string
		conv func() error
	}{
		{"fraction to int", func() error { _, err := convertValue[int](2.5); return err }},
		{"int64 overflows int8", func() error { _, err := convertValue[int8](int64(300)); return err }},
		{"uint64 overflows int64", func() error { _, err := convertValue[int64](uint64(math.MaxUint64)); return err }},
		{"negative to uint", func() error { _, err := convertValue[uint32](int64(-1)); return err }},
		{"fraction to uint", func() error { _, err := convertValue[uint](0.5); return err }},
		{"float overflows float32", func() error { _, err := convertValue[float32](1e300); return err }},
		{"float out of int64 range", func() error { _, err := convertValue[int64](1e19); return err }},
		{"slice element overflow", func() error { _, err := convertValue[[]uint8]([]any{int64(1), int64(256)}); return err }},
	}
	for _, tc := range lossy {
		if err := tc.conv(); !errors.Is(err, ErrTypeMismatch) {
			t.Fatalf("%s: expected type mismatch, got %v", tc.name, err)
		}
	}
}

func TestRemoteMonitorFeedsWait(t *testing.T) {
	testlog.Start(t)
	ft := newFakeTransport()
	ft.values["N"] = 0
	sig := connected(t, NewR[int](Remote(ft), "N"))

	done := make(chan error, 1)
	go func() {
		done <- WaitForValue[int](context.Background(), sig, Equal(3), 0)
	}()
	for {
		ft.mu.Lock()
		_, watching := ft.monitors["N"]
		ft.mu.Unlock()
		if watching {
			break
		}
		time.Sleep(time.Millisecond)
	}
	ft.emit("N", int64(3))
	if err := <-done; err != nil {
		t.Fatalf("wait: %v", err)
	}
	waitUnsubscribed(t, sig.Signal)

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.monitors) != 0 {
		t.Fatalf("monitor should be cancelled after the wait")
	}
}

func TestRemoteMonitorFailureSurfaces(t *testing.T) {
	testlog.Start(t)
	ft := newFakeTransport()
	ft.values["N"] = 0
	boom := errors.New("monitor refused")
	ft.failMonitor["N"] = boom
	sig := connected(t, NewR[int](Remote(ft), "N"))
	ctx := context.Background()

	err := WaitForValue[int](ctx, sig, Equal(0), 100*time.Millisecond)
	if !errors.Is(err, boom) || errors.Is(err, ErrTimeout) {
		t.Fatalf("wait: expected monitor failure, got %v", err)
	}
	if _, err := ObserveValue[int](ctx, sig); !errors.Is(err, boom) {
		t.Fatalf("observe: expected monitor failure, got %v", err)
	}
	if sig.subs.Load() != nil {
		t.Fatalf("failed subscribe should not install a cache")
	}

	ft.mu.Lock()
	delete(ft.failMonitor, "N")
	ft.mu.Unlock()
	if err := WaitForValue[int](ctx, sig, Equal(0), time.Second); err != nil {
		t.Fatalf("wait after monitor recovers: %v", err)
	}
}

func TestRemotePutUsesWritePV(t *testing.T) {
	testlog.Start(t)
	ft := newFakeTransport()
	sig := connected(t, NewRW[float64](Remote(ft), "T_RBV", "T"))

	if err := sig.Set(context.Background(), 1.5).Wait(context.Background()); err != nil {
		t.Fatalf("set: %v", err)
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.values["T"] != 1.5 {
		t.Fatalf("write pv not updated: %v", ft.values)
	}
	if _, ok := ft.values["T_RBV"]; ok {
		t.Fatalf("readback pv should not be written")
	}
}
