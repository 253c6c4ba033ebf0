package detector

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/model"
	"github.com/danmuck/acqctl/internal/signal"
	"github.com/danmuck/acqctl/internal/status"
)

var (
	ErrNotStaged          = errors.New("detector: not staged")
	ErrTriggerInProgress  = errors.New("detector: trigger in progress")
	ErrArmed              = errors.New("detector: armed by a failed trigger, stage again")
	ErrUnsupportedTrigger = errors.New("detector: unsupported trigger")
)

// State is the StandardDetector lifecycle position.
type State int

const (
	StateIdle State = iota
	StateStaged
	StateArmed
	StateTriggered
	StateCollecting
	StateUnstaged
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaged:
		return "staged"
	case StateArmed:
		return "armed"
	case StateTriggered:
		return "triggered"
	case StateCollecting:
		return "collecting"
	case StateUnstaged:
		return "unstaged"
	default:
		return "unknown"
	}
}

// Stageable prepares and releases a device around a run.
type Stageable interface {
	Stage(ctx context.Context) *status.Status
	Unstage(ctx context.Context) *status.Status
}

// Triggerable acquires one step of data per call.
type Triggerable interface {
	Trigger(ctx context.Context) *status.Status
}

// AssetCollector exposes newly persisted data as stream documents.
type AssetCollector interface {
	CollectAssetDocs(ctx context.Context) iter.Seq2[model.Asset, error]
}

// Detector is everything a step plan needs from a detector.
type Detector interface {
	device.Device
	signal.Readable
	signal.Configurable
	Stageable
	Triggerable
	AssetCollector
}

// Recorder observes detector operations, e.g. for metrics.
type Recorder interface {
	ObserveDetectorOp(detector, op string, elapsed time.Duration, err error)
}

type Option func(*StandardDetector)

// WithTimeout bounds each wait inside Trigger. Zero waits forever.
func WithTimeout(d time.Duration) Option {
	return func(det *StandardDetector) { det.timeout = d }
}

// WithConfig adds signals reported by ReadConfiguration and DescribeConfiguration.
func WithConfig(sigs ...signal.Readable) Option {
	return func(det *StandardDetector) { det.config = append(det.config, sigs...) }
}

func WithRecorder(r Recorder) Option {
	return func(det *StandardDetector) { det.recorder = r }
}

// StandardDetector drives one Control and one Writer through the
// stage, trigger, collect, unstage cycle. Concrete detectors embed it and
// attach their driver and file plugin devices as children.
type StandardDetector struct {
	device.Base
	control  Control
	writer   Writer
	config   []signal.Readable
	timeout  time.Duration
	recorder Recorder

	mu          sync.Mutex
	state       State
	triggering  bool
	description map[string]model.Descriptor
}

var _ Detector = (*StandardDetector)(nil)

func NewStandardDetector(control Control, writer Writer, opts ...Option) *StandardDetector {
	d := &StandardDetector{
		control: control,
		writer:  writer,
		timeout: device.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *StandardDetector) Control() Control {
	return d.control
}

func (d *StandardDetector) Writer() Writer {
	return d.writer
}

func (d *StandardDetector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Deadtime reports the control's minimum spacing for the given exposure.
func (d *StandardDetector) Deadtime(exposure time.Duration) time.Duration {
	return d.control.Deadtime(exposure)
}

// Stage closes the writer and disarms the control concurrently, then opens
// the writer and caches its description. The previous session is dropped
// first, so a failed Stage leaves the detector unstaged.
func (d *StandardDetector) Stage(ctx context.Context) *status.Status {
	return status.Go(ctx, d.stage)
}

func (d *StandardDetector) stage(ctx context.Context) (err error) {
	defer d.observe("stage", time.Now(), &err)

	d.mu.Lock()
	if d.triggering {
		d.mu.Unlock()
		return ErrTriggerInProgress
	}
	d.description = nil
	d.state = StateIdle
	d.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { return d.writer.Close(ctx) })
	g.Go(func() error { return d.control.Disarm(ctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("stage %s: %w", d.Name(), err)
	}

	desc, err := d.writer.Open(ctx, 1)
	if err != nil {
		return fmt.Errorf("stage %s: open writer: %w", d.Name(), err)
	}

	d.mu.Lock()
	d.description = desc
	d.state = StateStaged
	d.mu.Unlock()
	log.Debug().Str("detector", d.Name()).Int("fields", len(desc)).Msg("detector staged")
	return nil
}

// Trigger acquires one frame and completes once the writer has committed it.
// A timeout in either wait fails with signal.ErrTimeout and leaves the
// detector armed; Stage must run again before the next Trigger.
func (d *StandardDetector) Trigger(ctx context.Context) *status.Status {
	return status.Go(ctx, d.trigger)
}

func (d *StandardDetector) trigger(ctx context.Context) (err error) {
	defer d.observe("trigger", time.Now(), &err)

	d.mu.Lock()
	switch {
	case d.triggering:
		d.mu.Unlock()
		return ErrTriggerInProgress
	case d.state == StateArmed:
		d.mu.Unlock()
		return ErrArmed
	case !d.stagedLocked():
		d.mu.Unlock()
		return ErrNotStaged
	}
	d.triggering = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.triggering = false
		d.mu.Unlock()
	}()

	written, err := d.writer.IndicesWritten(ctx)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", d.Name(), err)
	}

	d.setState(StateArmed)
	acquired, err := d.control.Arm(ctx, TriggerInternal, 1, 0)
	if err != nil {
		return fmt.Errorf("trigger %s: arm: %w", d.Name(), err)
	}
	if err := d.bounded(ctx, "arm", acquired.Wait); err != nil {
		return fmt.Errorf("trigger %s: %w", d.Name(), err)
	}
	err = d.bounded(ctx, "wait for index", func(ctx context.Context) error {
		return d.writer.WaitForIndex(ctx, written+1)
	})
	if err != nil {
		return fmt.Errorf("trigger %s: %w", d.Name(), err)
	}

	d.setState(StateTriggered)
	return nil
}

// bounded runs wait under the detector timeout and reports expiry as a
// *signal.TimeoutError.
func (d *StandardDetector) bounded(ctx context.Context, op string, wait func(context.Context) error) error {
	if d.timeout <= 0 {
		return wait(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err := wait(wctx)
	if err != nil && ctx.Err() == nil && errors.Is(wctx.Err(), context.DeadlineExceeded) {
		return signal.NewTimeoutError(op, d.Name(), d.timeout)
	}
	return err
}

// Read is always empty: acquired data travels as stream documents.
func (d *StandardDetector) Read(ctx context.Context) (map[string]model.Reading, error) {
	return map[string]model.Reading{}, nil
}

// Describe returns the description captured by the last Stage.
func (d *StandardDetector) Describe(ctx context.Context) (map[string]model.Descriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.description == nil {
		return nil, ErrNotStaged
	}
	return maps.Clone(d.description), nil
}

func (d *StandardDetector) ReadConfiguration(ctx context.Context) (map[string]model.Reading, error) {
	sources := make([]func(context.Context) (map[string]model.Reading, error), 0, len(d.config))
	for _, sig := range d.config {
		sources = append(sources, sig.Read)
	}
	return device.MergeGatheredDicts(ctx, sources...)
}

func (d *StandardDetector) DescribeConfiguration(ctx context.Context) (map[string]model.Descriptor, error) {
	sources := make([]func(context.Context) (map[string]model.Descriptor, error), 0, len(d.config))
	for _, sig := range d.config {
		sources = append(sources, sig.Describe)
	}
	return device.MergeGatheredDicts(ctx, sources...)
}

// CollectAssetDocs forwards the writer's stream documents for everything
// committed so far.
func (d *StandardDetector) CollectAssetDocs(ctx context.Context) iter.Seq2[model.Asset, error] {
	return func(yield func(model.Asset, error) bool) {
		d.mu.Lock()
		staged := d.stagedLocked()
		if staged && d.state == StateTriggered {
			d.state = StateCollecting
		}
		d.mu.Unlock()
		if !staged {
			yield(nil, ErrNotStaged)
			return
		}

		written, err := d.writer.IndicesWritten(ctx)
		if err != nil {
			yield(nil, fmt.Errorf("collect %s: %w", d.Name(), err))
			return
		}
		for doc, err := range d.writer.CollectStreamDocs(ctx, written) {
			if !yield(doc, err) {
				return
			}
		}
	}
}

// Unstage closes the writer. It is safe in any state and idempotent.
func (d *StandardDetector) Unstage(ctx context.Context) *status.Status {
	return status.Go(ctx, d.unstage)
}

func (d *StandardDetector) unstage(ctx context.Context) (err error) {
	defer d.observe("unstage", time.Now(), &err)

	if err := d.writer.Close(ctx); err != nil {
		return fmt.Errorf("unstage %s: %w", d.Name(), err)
	}
	d.setState(StateUnstaged)
	return nil
}

func (d *StandardDetector) stagedLocked() bool {
	if d.description == nil {
		return false
	}
	return d.state != StateIdle && d.state != StateUnstaged
}

func (d *StandardDetector) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *StandardDetector) observe(op string, start time.Time, err *error) {
	elapsed := time.Since(start)
	if *err != nil {
		log.Warn().Str("detector", d.Name()).Str("op", op).Dur("elapsed", elapsed).Err(*err).Msg("detector op failed")
	}
	if d.recorder != nil {
		d.recorder.ObserveDetectorOp(d.Name(), op, elapsed, *err)
	}
}
