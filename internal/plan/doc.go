// Package plan runs step scans over detectors and emits the run documents
// to a Sink: start, descriptor, stream documents and one event per step, stop.
package plan
