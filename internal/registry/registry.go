// Package registry tracks the detectors a controller process owns.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/acqctl/internal/detector"
	"github.com/danmuck/acqctl/internal/device"
)

var (
	ErrDetectorExists  = errors.New("detector already registered")
	ErrDetectorNil     = errors.New("detector is nil")
	ErrDetectorUnknown = errors.New("detector not registered")
	ErrInvalidMetadata = errors.New("invalid detector metadata")
)

// Metadata describes a registered detector.
type Metadata struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Prefix string `json:"prefix"`
}

// Status is a registered detector's metadata plus its live state.
type Status struct {
	Metadata
	Name  string `json:"name"`
	State string `json:"state"`
}

type entry struct {
	meta Metadata
	det  detector.Detector
}

// Registry stores detectors by stable identifier.
type Registry struct {
	mu    sync.RWMutex
	items map[string]entry
}

func New() *Registry {
	return &Registry{items: make(map[string]entry)}
}

// ValidateMetadata checks required fields and id format.
func ValidateMetadata(meta Metadata) error {
	id := strings.TrimSpace(meta.ID)
	kind := strings.TrimSpace(meta.Kind)
	if id == "" || kind == "" {
		return fmt.Errorf("%w: id and kind are required", ErrInvalidMetadata)
	}
	if !isValidID(id) {
		return fmt.Errorf("%w: invalid id format %q", ErrInvalidMetadata, id)
	}
	return nil
}

func (r *Registry) Register(meta Metadata, det detector.Detector) error {
	if det == nil {
		return ErrDetectorNil
	}
	if err := ValidateMetadata(meta); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[meta.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDetectorExists, meta.ID)
	}
	r.items[meta.ID] = entry{meta: meta, det: det}
	return nil
}

func (r *Registry) Resolve(id string) (detector.Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[id]
	return e.det, ok
}

// Select resolves ids in order. An empty selection returns every detector
// ordered by id.
func (r *Registry) Select(ids ...string) ([]detector.Detector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(ids) == 0 {
		ids = r.idsLocked()
	}
	out := make([]detector.Detector, 0, len(ids))
	for _, id := range ids {
		e, ok := r.items[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDetectorUnknown, id)
		}
		out = append(out, e.det)
	}
	return out, nil
}

// Devices returns every detector keyed by id, ready for device.Collect.
func (r *Registry) Devices() map[string]device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]device.Device, len(r.items))
	for id, e := range r.items {
		out[id] = e.det
	}
	return out
}

// List returns deterministic status ordering by id.
func (r *Registry) List() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Status, 0, len(r.items))
	for _, id := range r.idsLocked() {
		e := r.items[id]
		st := Status{Metadata: e.meta, Name: e.det.Name()}
		if s, ok := e.det.(interface{ State() detector.State }); ok {
			st.State = s.State().String()
		}
		list = append(list, st)
	}
	return list
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isValidID(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(id)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
