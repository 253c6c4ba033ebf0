// Package protocol owns the process-variable wire format.
//
// Ownership boundary:
// - fixed header and TLV field primitives
// - per-message schemas and semantic validation
// - msgpack value encoding
package protocol
