package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/acqctl/internal/testutil/testlog"
)

type fakeLeaf struct {
	Base
	err      error
	delay    time.Duration
	connects atomic.Int32
}

func (f *fakeLeaf) Connect(ctx context.Context) error {
	f.connects.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

type fakeDriver struct {
	Base
	acquire *fakeLeaf
	gain    *fakeLeaf
}

func newFakeDriver(gainErr error) *fakeDriver {
	d := &fakeDriver{acquire: &fakeLeaf{}, gain: &fakeLeaf{err: gainErr}}
	d.Attach("acquire", d.acquire)
	d.Attach("gain", d.gain)
	return d
}

func TestSetNamePropagatesToChildren(t *testing.T) {
	testlog.Start(t)
	d := newFakeDriver(nil)
	if d.acquire.Name() != "" {
		t.Fatalf("unnamed parent should leave child unnamed, got %q", d.acquire.Name())
	}
	d.SetName("det1")
	if d.acquire.Name() != "det1-acquire" || d.gain.Name() != "det1-gain" {
		t.Fatalf("unexpected child names: %q %q", d.acquire.Name(), d.gain.Name())
	}
	if d.acquire.Parent() == nil {
		t.Fatalf("attached child should have a parent")
	}
	if len(d.Children()) != 2 {
		t.Fatalf("expected 2 children, got %d", len(d.Children()))
	}
}

func TestWaitForConnectionReportsEveryFailure(t *testing.T) {
	testlog.Start(t)
	errA := errors.New("pv A unreachable")
	errC := errors.New("pv C unreachable")
	leaves := map[string]*fakeLeaf{
		"a": {err: errA, delay: 10 * time.Millisecond},
		"b": {},
		"c": {err: errC},
		"d": {delay: 5 * time.Millisecond},
	}
	connects := make(map[string]func(context.Context) error)
	for name, leaf := range leaves {
		connects[name] = leaf.Connect
	}

	err := WaitForConnection(context.Background(), connects)
	var nc *NotConnectedError
	if !errors.As(err, &nc) {
		t.Fatalf("expected NotConnectedError, got %v", err)
	}
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("aggregate should match ErrNotConnected")
	}
	names := nc.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "c" {
		t.Fatalf("expected failures a,c got %v", names)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Fatalf("aggregate should unwrap to each cause: %v", err)
	}
	for name, leaf := range leaves {
		if leaf.connects.Load() != 1 {
			t.Fatalf("%s connected %d times", name, leaf.connects.Load())
		}
	}
}

func TestWaitForConnectionSuccess(t *testing.T) {
	testlog.Start(t)
	err := WaitForConnection(context.Background(), map[string]func(context.Context) error{
		"a": (&fakeLeaf{}).Connect,
		"b": (&fakeLeaf{}).Connect,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNestedNotConnectedMessage(t *testing.T) {
	testlog.Start(t)
	d := newFakeDriver(errors.New("timeout on det:Gain"))
	err := Collect(context.Background(), time.Second, map[string]Device{
		"det1": d,
		"det2": newFakeDriver(nil),
	})
	if err == nil {
		t.Fatalf("expected connection failure")
	}
	want := "det1:\n  gain: timeout on det:Gain"
	if err.Error() != want {
		t.Fatalf("unexpected message:\n%s\nwant:\n%s", err.Error(), want)
	}
	if d.Name() != "det1" || d.gain.Name() != "det1-gain" {
		t.Fatalf("collect should name devices: %q %q", d.Name(), d.gain.Name())
	}
}

func TestCollectTimeout(t *testing.T) {
	testlog.Start(t)
	slow := &fakeLeaf{delay: time.Second}
	start := time.Now()
	err := Collect(context.Background(), 20*time.Millisecond, map[string]Device{"slow": slow})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("collect ignored its timeout")
	}
}

func TestVectorAttachesByIndex(t *testing.T) {
	testlog.Start(t)
	v := NewVector(map[int]*fakeLeaf{2: {}, 1: {}})
	v.SetName("panel")
	one, ok := v.At(1)
	if !ok || one.Name() != "panel-1" {
		t.Fatalf("unexpected child 1: ok=%v name=%q", ok, one.Name())
	}
	if v.Len() != 2 {
		t.Fatalf("unexpected len %d", v.Len())
	}
	if _, ok := v.At(3); ok {
		t.Fatalf("missing index should not resolve")
	}
	if err := v.Connect(context.Background()); err != nil {
		t.Fatalf("connect vector: %v", err)
	}
}

func TestMergeGatheredDictsDisjoint(t *testing.T) {
	testlog.Start(t)
	merged, err := MergeGatheredDicts(context.Background(),
		func(context.Context) (map[string]int, error) { return map[string]int{"a": 1, "b": 2}, nil },
		func(context.Context) (map[string]int, error) { return map[string]int{"c": 3}, nil },
		func(context.Context) (map[string]int, error) { return nil, nil },
	)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 3 || merged["a"] != 1 || merged["b"] != 2 || merged["c"] != 3 {
		t.Fatalf("unexpected merge: %v", merged)
	}
}

func TestMergeGatheredDictsCollision(t *testing.T) {
	testlog.Start(t)
	_, err := MergeGatheredDicts(context.Background(),
		func(context.Context) (map[string]int, error) { return map[string]int{"a": 1, "x": 1}, nil },
		func(context.Context) (map[string]int, error) { return map[string]int{"x": 1}, nil },
	)
	var dup *DuplicateKeyError
	if !errors.As(err, &dup) || !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
	if dup.Key != "x" || dup.First != 0 || dup.Second != 1 {
		t.Fatalf("unexpected duplicate: %+v", dup)
	}
	if !strings.Contains(err.Error(), `"x"`) {
		t.Fatalf("message should name the key: %v", err)
	}
}

func TestMergeGatheredDictsSourceFailure(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("read failed")
	_, err := MergeGatheredDicts(context.Background(),
		func(context.Context) (map[string]string, error) { return nil, fmt.Errorf("det1-gain: %w", boom) },
		func(context.Context) (map[string]string, error) { return map[string]string{"a": "b"}, nil },
	)
	if !errors.Is(err, boom) {
		t.Fatalf("expected source failure, got %v", err)
	}
}
