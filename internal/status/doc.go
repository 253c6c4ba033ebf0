// Package status wraps asynchronous operations into single-assignment handles.
//
// A Status can be waited on, polled, given completion callbacks, and
// cancelled. The first completion wins: the operation returning, the
// operation panicking, or Cancel.
package status
