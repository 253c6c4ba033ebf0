// Package docstore persists run documents in SQLite, msgpack-encoded, and
// serves them back per run.
package docstore
