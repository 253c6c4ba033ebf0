package device

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotConnected = errors.New("device: not connected")
	ErrDuplicateKey = errors.New("device: duplicate key")
)

// NotConnectedError reports every device that failed to connect, keyed by name.
// Failures of sub-devices nest as further NotConnectedError values.
type NotConnectedError struct {
	Failures map[string]error
}

func (e *NotConnectedError) Error() string {
	return strings.Join(e.lines(""), "\n")
}

func (e *NotConnectedError) lines(indent string) []string {
	out := make([]string, 0, len(e.Failures))
	for _, name := range e.Names() {
		err := e.Failures[name]
		var nested *NotConnectedError
		if errors.As(err, &nested) {
			out = append(out, indent+name+":")
			out = append(out, nested.lines(indent+"  ")...)
			continue
		}
		out = append(out, fmt.Sprintf("%s%s: %v", indent, name, err))
	}
	return out
}

// Names returns the failing names in sorted order.
func (e *NotConnectedError) Names() []string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *NotConnectedError) Is(target error) bool {
	return target == ErrNotConnected
}

func (e *NotConnectedError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, name := range e.Names() {
		out = append(out, e.Failures[name])
	}
	return out
}

// DuplicateKeyError reports a key produced by two gathered sources.
type DuplicateKeyError struct {
	Key    string
	First  int
	Second int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%v: %q produced by sources %d and %d", ErrDuplicateKey, e.Key, e.First, e.Second)
}

func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}
