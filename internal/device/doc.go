// Package device owns the naming tree that signals and sub-devices attach to.
//
// Ownership boundary:
// - hierarchical naming (parent-child)
// - concurrent connection with aggregated failure reporting
// - concurrent mapping gather with disjoint-key merge
package device
