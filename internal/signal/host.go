package signal

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/acqctl/internal/device"
	"github.com/danmuck/acqctl/internal/model"
)

// hosted is implemented by every signal variant through *Signal[T].
type hosted interface {
	PVs() (read, write string)
	Source() string
	hostGet(ctx context.Context) (any, Meta, error)
	hostPut(ctx context.Context, value any, wait bool) error
	hostMonitor(cb func(value any, meta Meta)) (cancel func(), err error)
	hostSettle() time.Duration
}

// Host serves signals by process-variable name. It implements Transport, so
// it can back remote signals in process or sit behind a network server.
type Host struct {
	mu      sync.RWMutex
	records map[string]hosted
}

var (
	_ Transport       = (*Host)(nil)
	_ SettleTransport = (*Host)(nil)
)

func NewHost() *Host {
	return &Host{records: make(map[string]hosted)}
}

// Serve registers every named signal in the device trees under its readback
// and setpoint names.
func (h *Host) Serve(devices ...device.Device) error {
	var sigs []hosted
	for _, dev := range devices {
		walk(dev, func(d device.Device) {
			if sig, ok := d.(hosted); ok {
				sigs = append(sigs, sig)
			}
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sig := range sigs {
		read, write := sig.PVs()
		if read == "" {
			return fmt.Errorf("%w: %s", ErrNotHostable, sig.Source())
		}
		for _, pv := range []string{read, write} {
			if existing, ok := h.records[pv]; ok && existing != sig {
				return fmt.Errorf("%w: %s", ErrDuplicatePV, pv)
			}
			h.records[pv] = sig
		}
	}
	return nil
}

// PVs lists every hosted name in sorted order.
func (h *Host) PVs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.records))
	for pv := range h.records {
		out = append(out, pv)
	}
	slices.Sort(out)
	return out
}

func (h *Host) Scheme() string {
	return "host"
}

func (h *Host) Connect(ctx context.Context, pv string) error {
	_, err := h.lookup(pv)
	return err
}

func (h *Host) Get(ctx context.Context, pv string) (any, Meta, error) {
	sig, err := h.lookup(pv)
	if err != nil {
		return nil, Meta{}, err
	}
	return sig.hostGet(ctx)
}

func (h *Host) Put(ctx context.Context, pv string, value any, wait bool) error {
	sig, err := h.lookup(pv)
	if err != nil {
		return err
	}
	return sig.hostPut(ctx, value, wait)
}

func (h *Host) Monitor(pv string, cb func(value any, meta Meta)) (func(), error) {
	sig, err := h.lookup(pv)
	if err != nil {
		return nil, err
	}
	return sig.hostMonitor(cb)
}

func (h *Host) SettleTimeout(pv string) time.Duration {
	sig, err := h.lookup(pv)
	if err != nil {
		return 0
	}
	return sig.hostSettle()
}

func (h *Host) lookup(pv string) (hosted, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sig, ok := h.records[pv]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPV, pv)
	}
	return sig, nil
}

func walk(dev device.Device, fn func(device.Device)) {
	fn(dev)
	if parent, ok := dev.(interface{ Children() []device.Device }); ok {
		for _, child := range parent.Children() {
			walk(child, fn)
		}
	}
}

func (s *Signal[T]) hostGet(ctx context.Context) (any, Meta, error) {
	r, err := s.backend.Reading(ctx)
	if err != nil {
		return nil, Meta{}, err
	}
	return r.Value, Meta{Timestamp: r.Timestamp, Severity: r.AlarmSeverity}, nil
}

func (s *Signal[T]) hostPut(ctx context.Context, value any, wait bool) error {
	if value == nil {
		return s.backend.Put(ctx, nil, wait)
	}
	v, err := convertValue[T](value)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Source(), err)
	}
	return s.backend.Put(ctx, &v, wait)
}

func (s *Signal[T]) hostMonitor(cb func(value any, meta Meta)) (func(), error) {
	return s.Subscribe(func(r model.Reading, _ T) {
		cb(r.Value, Meta{Timestamp: r.Timestamp, Severity: r.AlarmSeverity})
	})
}

func (s *Signal[T]) hostSettle() time.Duration {
	if est, ok := s.backend.(SettleEstimator); ok {
		return est.SettleTimeout()
	}
	return 0
}
