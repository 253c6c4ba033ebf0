// Package model holds the document shapes exchanged with the scan engine.
//
// Ownership boundary:
// - signal descriptors and readings
// - stream asset documents produced by writers
// - run documents produced by the step plan
package model
