package detector

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/danmuck/acqctl/internal/model"
	"github.com/danmuck/acqctl/internal/status"
)

// journal records collaborator calls in order across goroutines.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeWriter struct {
	name    string
	journal *journal

	mu       sync.Mutex
	changed  chan struct{}
	open     bool
	indices  int
	cursor   int
	resource string
	opens    int
	closes   int
	stall    bool
	openErr  error
}

func newFakeWriter(name string, j *journal) *fakeWriter {
	return &fakeWriter{name: name, journal: j, changed: make(chan struct{})}
}

func (w *fakeWriter) Open(ctx context.Context, multiplier int) (map[string]model.Descriptor, error) {
	w.journal.add("open")
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openErr != nil {
		return nil, w.openErr
	}
	w.opens++
	w.open = true
	w.indices = 0
	w.cursor = 0
	w.resource = ""
	return map[string]model.Descriptor{
		w.name: {Source: "fake://" + w.name, Dtype: "array", Shape: []int{4, 4}, External: "STREAM:"},
	}, nil
}

func (w *fakeWriter) commit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stall || !w.open {
		return
	}
	w.indices++
	close(w.changed)
	w.changed = make(chan struct{})
}

func (w *fakeWriter) WaitForIndex(ctx context.Context, index int) error {
	for {
		w.mu.Lock()
		reached, changed := w.indices >= index, w.changed
		w.mu.Unlock()
		if reached {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *fakeWriter) IndicesWritten(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.indices, nil
}

func (w *fakeWriter) CollectStreamDocs(ctx context.Context, indicesWritten int) iter.Seq2[model.Asset, error] {
	return func(yield func(model.Asset, error) bool) {
		w.mu.Lock()
		var docs []model.Asset
		if indicesWritten > w.cursor {
			if w.resource == "" {
				w.resource = fmt.Sprintf("%s-resource-%d", w.name, w.opens)
				docs = append(docs, model.StreamResource{UID: w.resource, DataKey: w.name})
			}
			docs = append(docs, model.StreamDatum{
				UID:            fmt.Sprintf("%s/%d", w.resource, w.cursor),
				StreamResource: w.resource,
				Indices:        model.Range{Start: w.cursor, Stop: indicesWritten},
			})
			w.cursor = indicesWritten
		}
		w.mu.Unlock()
		for _, doc := range docs {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func (w *fakeWriter) Close(ctx context.Context) error {
	w.journal.add("close")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	w.open = false
	return nil
}

type fakeControl struct {
	writer    *fakeWriter
	journal   *journal
	disarmErr error
	hold      chan struct{}

	mu       sync.Mutex
	arms     int
	disarms  int
	triggers []Trigger
}

func (c *fakeControl) Deadtime(exposure time.Duration) time.Duration {
	return time.Millisecond
}

func (c *fakeControl) Arm(ctx context.Context, trigger Trigger, num int, exposure time.Duration) (*status.Status, error) {
	c.mu.Lock()
	c.arms++
	c.triggers = append(c.triggers, trigger)
	hold := c.hold
	c.mu.Unlock()
	return status.Go(ctx, func(ctx context.Context) error {
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for range num {
			c.writer.commit()
		}
		return nil
	}), nil
}

func (c *fakeControl) Disarm(ctx context.Context) error {
	c.journal.add("disarm")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarms++
	return c.disarmErr
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *fakeRecorder) ObserveDetectorOp(detector, op string, elapsed time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ops = append(r.ops, detector+"/"+op+"/"+result)
}

func newFakeDetector(name string, opts ...Option) (*StandardDetector, *fakeControl, *fakeWriter) {
	j := &journal{}
	w := newFakeWriter(name, j)
	c := &fakeControl{writer: w, journal: j}
	d := NewStandardDetector(c, w, opts...)
	d.SetName(name)
	return d, c, w
}
