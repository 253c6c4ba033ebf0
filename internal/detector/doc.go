// Package detector defines the control and writer contracts for triggered
// detectors and the StandardDetector that keeps the two in step.
//
// A StandardDetector is staged once, triggered any number of times, and
// unstaged. Each trigger arms the control for one frame, waits for the
// control to report it acquired, then waits for the writer to report it
// committed. Acquired data is only visible through CollectAssetDocs.
package detector
