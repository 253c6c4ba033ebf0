package signal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/model"
	"github.com/danmuck/acqctl/internal/testutil/testlog"
)

func connected[S interface{ Connect(context.Context) error }](t *testing.T, sig S) S {
	t.Helper()
	if err := sig.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return sig
}

func TestDescribeAndReadSimulated(t *testing.T) {
	testlog.Start(t)
	sig := NewRW[float64](Sim(), "TEST:DET:AcquireTime_RBV", "TEST:DET:AcquireTime")
	sig.SetName("drv-acquire_time")
	connected(t, sig)

	desc, err := sig.Describe(context.Background())
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	want := map[string]model.Descriptor{
		"drv-acquire_time": {Source: "sim://TEST:DET:AcquireTime_RBV", Dtype: "number", Shape: []int{}},
	}
	if diff := cmp.Diff(want, desc); diff != "" {
		t.Fatalf("describe mismatch (-want +got):\n%s", diff)
	}

	readings, err := sig.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	r, ok := readings["drv-acquire_time"]
	if !ok {
		t.Fatalf("missing reading: %v", readings)
	}
	if r.Value != 0.0 || r.AlarmSeverity != 0 || r.Timestamp <= 0 {
		t.Fatalf("unexpected reading: %+v", r)
	}
}

func TestNotConnectedBeforeConnect(t *testing.T) {
	testlog.Start(t)
	sig := NewRW[int](Sim(), "X", "X")

	if _, err := sig.GetValue(context.Background()); !errors.Is(err, device.ErrNotConnected) {
		t.Fatalf("get: expected not connected, got %v", err)
	}
	if _, err := sig.Read(context.Background()); !errors.Is(err, device.ErrNotConnected) {
		t.Fatalf("read: expected not connected, got %v", err)
	}
	st := sig.Set(context.Background(), 1)
	if err := st.Wait(context.Background()); !errors.Is(err, device.ErrNotConnected) {
		t.Fatalf("set: expected not connected, got %v", err)
	}
}

func TestSetWaitsForPutProceeds(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewRW[int](Sim(), "X", "X"))
	SetSimPutProceeds[int](sig, false)

	st := sig.Set(context.Background(), 3)
	time.Sleep(20 * time.Millisecond)
	if st.IsDone() {
		t.Fatalf("set completed while puts were held")
	}
	v, err := sig.GetValue(context.Background())
	if err != nil || v != 3 {
		t.Fatalf("value should land before the write settles: %d %v", v, err)
	}

	SetSimPutProceeds[int](sig, true)
	if err := st.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestNoWaitCompletesWhilePutsHeld(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewRW[int](Sim(), "X", "X"))
	SetSimPutProceeds[int](sig, false)

	if err := sig.Set(context.Background(), 1, NoWait()).Wait(context.Background()); err != nil {
		t.Fatalf("no-wait set: %v", err)
	}
}

func TestSetTimeout(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewRW[int](Sim(), "X", "X"))
	SetSimPutProceeds[int](sig, false)

	err := sig.Set(context.Background(), 1, WithTimeout(30*time.Millisecond)).Wait(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Source != "sim://X" || te.Timeout != 30*time.Millisecond {
		t.Fatalf("unexpected timeout detail: %v", err)
	}
}

func TestSettleEstimateBoundsSet(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewRW[int](Sim(), "X", "X"))
	sim, err := SimOf[int](sig)
	if err != nil {
		t.Fatalf("sim: %v", err)
	}
	sim.SetPutProceeds(false)
	sim.SetSettleTimeout(20 * time.Millisecond)

	start := time.Now()
	err = sig.Set(context.Background(), 1).Wait(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("settle estimate was not applied")
	}
}

func TestWaitForValueCurrentMatches(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewR[int](Sim(), "N"))
	SetSimValue[int](sig, 5)

	if err := WaitForValue[int](context.Background(), sig, Equal(5), time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestWaitForValueTimeout(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewR[int](Sim(), "N"))
	counted := testutil.ToFloat64(timeouts.WithLabelValues("wait for value on"))

	start := time.Now()
	err := WaitForValue[int](context.Background(), sig, Equal(1), 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if got := testutil.ToFloat64(timeouts.WithLabelValues("wait for value on")); got != counted+1 {
		t.Fatalf("timeout counter: expected %v, got %v", counted+1, got)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("returned early after %s", elapsed)
	}
	waitUnsubscribed(t, sig.Signal)
}

func TestWaitForValueSeesLaterUpdate(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewR[int](Sim(), "N"))
	go func() {
		time.Sleep(10 * time.Millisecond)
		SetSimValue[int](sig, 1)
		SetSimValue[int](sig, 2)
	}()

	if err := WaitForValue[int](context.Background(), sig, func(v int) bool { return v >= 2 }, time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestWaitForValueParentCancel(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewR[int](Sim(), "N"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := WaitForValue[int](ctx, sig, Equal(1), 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestObserveValueKeepsLatest(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewR[int](Sim(), "N"))
	ctx, cancel := context.WithCancel(context.Background())
	values, err := ObserveValue[int](ctx, sig)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}

	for i := 1; i <= 3; i++ {
		SetSimValue[int](sig, i)
	}
	if v := <-values; v != 3 {
		t.Fatalf("expected latest value 3, got %d", v)
	}

	SetSimValue[int](sig, 4)
	if v := <-values; v != 4 {
		t.Fatalf("expected 4, got %d", v)
	}

	cancel()
	for range values {
	}
	waitUnsubscribed(t, sig.Signal)
}

func TestObserveValueStreamsAreIndependent(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewR[int](Sim(), "N"))
	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()

	a, err := ObserveValue[int](ctxA, sig)
	if err != nil {
		t.Fatalf("observe a: %v", err)
	}
	b, err := ObserveValue[int](ctxB, sig)
	if err != nil {
		t.Fatalf("observe b: %v", err)
	}
	if v := <-a; v != 0 {
		t.Fatalf("a: expected current value 0, got %d", v)
	}
	if v := <-b; v != 0 {
		t.Fatalf("b: expected current value 0, got %d", v)
	}

	cancelA()
	for range a {
	}

	SetSimValue[int](sig, 5)
	select {
	case v, ok := <-b:
		if !ok || v != 5 {
			t.Fatalf("b: expected 5 after a ended, got %d open=%v", v, ok)
		}
	case <-time.After(time.Second):
		t.Fatalf("b stopped receiving after a was cancelled")
	}

	cancelB()
	for range b {
	}
	waitUnsubscribed(t, sig.Signal)
}

func TestSubscribersShareOneMonitor(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewR[int](Sim(), "N"))

	var mu sync.Mutex
	var a, b []int
	unsubA, err := sig.SubscribeValue(func(v int) { mu.Lock(); a = append(a, v); mu.Unlock() })
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	SetSimValue[int](sig, 1)
	unsubB, err := sig.SubscribeValue(func(v int) { mu.Lock(); b = append(b, v); mu.Unlock() })
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	SetSimValue[int](sig, 2)

	unsubA()
	if sig.subs.Load() == nil {
		t.Fatalf("monitor removed while a subscriber remains")
	}
	SetSimValue[int](sig, 3)
	unsubB()
	unsubB()
	if sig.subs.Load() != nil {
		t.Fatalf("monitor should be removed after the last unsubscribe")
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]int{0, 1, 2}, a); diff != "" {
		t.Fatalf("subscriber a (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, b); diff != "" {
		t.Fatalf("subscriber b (-want +got):\n%s", diff)
	}
}

func TestSetAndWaitForValueReturnsBeforeSettle(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewRW[bool](Sim(), "Acquire", "Acquire"))
	SetSimPutProceeds[bool](sig, false)

	st, err := SetAndWaitForValue[bool](context.Background(), sig, true, sig, time.Second)
	if err != nil {
		t.Fatalf("set and wait: %v", err)
	}
	if st.IsDone() {
		t.Fatalf("write status should still be pending")
	}
	SetSimPutProceeds[bool](sig, true)
	if err := st.Wait(context.Background()); err != nil {
		t.Fatalf("status: %v", err)
	}

	if _, err := SetAndWaitForValue[bool](context.Background(), sig, true, nil, time.Second); !errors.Is(err, ErrNoReadback) {
		t.Fatalf("expected missing readback error, got %v", err)
	}
}

func TestExecuteRunsHook(t *testing.T) {
	testlog.Start(t)
	sig := connected(t, NewX(Sim(), "Reset"))
	calls := 0
	SetSimHook[struct{}](sig, func(model.Reading, struct{}) { calls++ })

	if err := sig.Execute(context.Background()).Wait(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one hook call, got %d", calls)
	}
}

func TestDtype(t *testing.T) {
	testlog.Start(t)
	type mode string
	cases := []struct {
		got, want string
	}{
		{Dtype[bool](), "boolean"},
		{Dtype[int32](), "integer"},
		{Dtype[float64](), "number"},
		{Dtype[mode](), "string"},
		{Dtype[[]float64](), "array"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("dtype %q, want %q", tc.got, tc.want)
		}
	}
}

func TestSimOfRejectsRemote(t *testing.T) {
	testlog.Start(t)
	sig := NewR[int](Remote(newFakeTransport()), "N")
	if _, err := SimOf[int](sig); !errors.Is(err, ErrNotSimulated) {
		t.Fatalf("expected not simulated, got %v", err)
	}
}

func waitUnsubscribed[T any](t *testing.T, sig *Signal[T]) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for sig.subs.Load() != nil {
		if time.Now().After(deadline) {
			t.Fatalf("subscription was not released")
		}
		time.Sleep(time.Millisecond)
	}
}
