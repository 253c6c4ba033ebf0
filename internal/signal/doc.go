// Package signal provides typed endpoints over remote device attributes.
//
// A signal binds a name to a Backend. Backends are chosen explicitly at
// device construction through a Provider: Sim() for the in-memory backend,
// Remote(t) for a Transport. Reads, writes, and subscriptions go through the
// signal; ObserveValue and WaitForValue build on its subscription cache.
package signal
