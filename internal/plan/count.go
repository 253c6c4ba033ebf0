package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/acqctl/internal/detector"
	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/model"
	"github.com/danmuck/acqctl/internal/status"
)

const primaryStream = "primary"

var (
	ErrNoDetectors  = errors.New("plan: no detectors")
	ErrInvalidCount = errors.New("plan: count must be at least 1")
)

// Sink receives run documents in emission order.
type Sink interface {
	Emit(ctx context.Context, name string, doc any) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, name string, doc any) error

func (f SinkFunc) Emit(ctx context.Context, name string, doc any) error {
	return f(ctx, name, doc)
}

// Count stages every detector, triggers them all together times times, and
// unstages them. Each step emits the stream documents of newly written data
// followed by one event. A run that started always ends with a stop document.
func Count(ctx context.Context, sink Sink, dets []detector.Detector, times int) (runUID string, err error) {
	if len(dets) == 0 {
		return "", ErrNoDetectors
	}
	if times < 1 {
		return "", ErrInvalidCount
	}

	defer func() {
		if uerr := unstageAll(context.WithoutCancel(ctx), dets); uerr != nil && err == nil {
			err = uerr
		}
	}()
	if err := stageAll(ctx, dets); err != nil {
		return "", err
	}

	r := &run{sink: sink, uid: uuid.NewString(), dets: dets}
	names := make([]string, 0, len(dets))
	for _, det := range dets {
		names = append(names, det.Name())
	}
	start := model.RunStart{UID: r.uid, Time: now(), PlanName: "count", Detectors: names, NumPoints: times}
	if err := sink.Emit(ctx, model.DocStart, start); err != nil {
		return "", err
	}
	log.Info().Str("run", r.uid).Strs("detectors", names).Int("times", times).Msg("run started")

	runErr := r.steps(ctx, times)
	stop := model.RunStop{
		UID:        uuid.NewString(),
		RunStart:   r.uid,
		Time:       now(),
		ExitStatus: model.ExitSuccess,
		NumEvents:  map[string]int{primaryStream: r.events},
	}
	if runErr != nil {
		stop.ExitStatus = model.ExitFail
		stop.Reason = runErr.Error()
	}
	if err := sink.Emit(context.WithoutCancel(ctx), model.DocStop, stop); err != nil && runErr == nil {
		runErr = err
	}
	log.Info().Str("run", r.uid).Str("exit_status", stop.ExitStatus).Int("events", r.events).Msg("run stopped")
	return r.uid, runErr
}

type run struct {
	sink   Sink
	uid    string
	dets   []detector.Detector
	events int
}

func (r *run) steps(ctx context.Context, times int) error {
	desc, err := r.describe(ctx)
	if err != nil {
		return err
	}
	if err := r.sink.Emit(ctx, model.DocDescriptor, desc); err != nil {
		return err
	}

	for step := 1; step <= times; step++ {
		triggers := make([]*status.Status, 0, len(r.dets))
		for _, det := range r.dets {
			triggers = append(triggers, det.Trigger(ctx))
		}
		if err := status.WaitAll(ctx, triggers...); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		for _, det := range r.dets {
			if err := r.emitAssets(ctx, det, desc.UID); err != nil {
				return fmt.Errorf("step %d: %w", step, err)
			}
		}
		if err := r.emitEvent(ctx, desc.UID, step); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
	}
	return nil
}

func (r *run) describe(ctx context.Context) (model.EventDescriptor, error) {
	sources := make([]func(context.Context) (map[string]model.Descriptor, error), 0, len(r.dets))
	for _, det := range r.dets {
		sources = append(sources, det.Describe)
	}
	keys, err := device.MergeGatheredDicts(ctx, sources...)
	if err != nil {
		return model.EventDescriptor{}, err
	}

	config := make(map[string]model.Configuration, len(r.dets))
	for _, det := range r.dets {
		dataKeys, err := det.DescribeConfiguration(ctx)
		if err != nil {
			return model.EventDescriptor{}, err
		}
		readings, err := det.ReadConfiguration(ctx)
		if err != nil {
			return model.EventDescriptor{}, err
		}
		c := model.Configuration{
			Data:       make(map[string]any, len(readings)),
			Timestamps: make(map[string]float64, len(readings)),
			DataKeys:   dataKeys,
		}
		for key, reading := range readings {
			c.Data[key] = reading.Value
			c.Timestamps[key] = reading.Timestamp
		}
		config[det.Name()] = c
	}

	return model.EventDescriptor{
		UID:           uuid.NewString(),
		RunStart:      r.uid,
		Name:          primaryStream,
		Time:          now(),
		DataKeys:      keys,
		Configuration: config,
	}, nil
}

// emitAssets forwards a detector's stream documents, binding datums to the
// descriptor and to the event sequence numbers they cover.
func (r *run) emitAssets(ctx context.Context, det detector.Detector, descriptor string) error {
	for doc, err := range det.CollectAssetDocs(ctx) {
		if err != nil {
			return err
		}
		if datum, ok := doc.(model.StreamDatum); ok {
			datum.Descriptor = descriptor
			datum.SeqNums = model.Range{Start: datum.Indices.Start + 1, Stop: datum.Indices.Stop + 1}
			doc = datum
		}
		if err := r.sink.Emit(ctx, doc.DocumentName(), doc); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) emitEvent(ctx context.Context, descriptor string, seq int) error {
	sources := make([]func(context.Context) (map[string]model.Reading, error), 0, len(r.dets))
	for _, det := range r.dets {
		sources = append(sources, det.Read)
	}
	readings, err := device.MergeGatheredDicts(ctx, sources...)
	if err != nil {
		return err
	}
	event := model.Event{
		UID:        uuid.NewString(),
		Descriptor: descriptor,
		SeqNum:     seq,
		Time:       now(),
		Data:       make(map[string]any, len(readings)),
		Timestamps: make(map[string]float64, len(readings)),
	}
	for key, reading := range readings {
		event.Data[key] = reading.Value
		event.Timestamps[key] = reading.Timestamp
	}
	if err := r.sink.Emit(ctx, model.DocEvent, event); err != nil {
		return err
	}
	r.events++
	return nil
}

// stageAll stages every detector concurrently and stops at the first failure.
func stageAll(ctx context.Context, dets []detector.Detector) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, det := range dets {
		g.Go(func() error {
			return det.Stage(gctx).Wait(gctx)
		})
	}
	return g.Wait()
}

func unstageAll(ctx context.Context, dets []detector.Detector) error {
	var errs []error
	for _, det := range dets {
		if err := det.Unstage(ctx).Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
