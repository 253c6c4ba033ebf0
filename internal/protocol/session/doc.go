// Package session carries process-variable traffic between an acquisition
// client and an IOC host over TCP or TLS.
//
// A connection opens with one JSON line each way (hello, hello ack) and then
// switches to framed protocol messages. The client side implements
// signal.Transport; the server side exposes any signal.Transport, typically a
// signal.Host.
package session
