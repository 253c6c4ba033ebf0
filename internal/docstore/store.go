package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/danmuck/acqctl/internal/model"
)

var (
	ErrNotInitialized = errors.New("docstore: store is not initialized")
	ErrPathRequired   = errors.New("docstore: sqlite path is required")
	ErrNoRun          = errors.New("docstore: document before run start")
	ErrUnknownDoc     = errors.New("docstore: unknown document name")
	ErrRunNotFound    = errors.New("docstore: run not found")
)

// Document is one stored run document.
type Document struct {
	Seq  int    `json:"seq"`
	Name string `json:"name"`
	Doc  any    `json:"doc"`
}

// Run summarizes a stored run.
type Run struct {
	UID        string  `json:"uid"`
	PlanName   string  `json:"plan_name"`
	Started    float64 `json:"started"`
	ExitStatus string  `json:"exit_status"`
}

type Store struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return ErrPathRequired
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Sink returns a document sink for one run. Documents are stored under the
// uid of the start document that opens it.
func (s *Store) Sink() *RunSink {
	return &RunSink{store: s}
}

// Runs lists stored runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT uid, plan_name, started, exit_status FROM runs ORDER BY started DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.UID, &r.PlanName, &r.Started, &r.ExitStatus); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Documents returns a run's documents in emission order.
func (s *Store) Documents(ctx context.Context, runUID string) ([]Document, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var exists int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE uid = ?`, runUID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runUID)
	}

	rows, err := db.QueryContext(ctx, `SELECT seq, name, payload FROM documents WHERE run_uid = ? ORDER BY seq`, runUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d       Document
			payload []byte
		)
		if err := rows.Scan(&d.Seq, &d.Name, &payload); err != nil {
			return nil, err
		}
		d.Doc, err = decode(d.Name, payload)
		if err != nil {
			return nil, fmt.Errorf("decode %s %d of run %s: %w", d.Name, d.Seq, runUID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

// RunSink stores the documents of a single run.
type RunSink struct {
	store *Store

	mu  sync.Mutex
	run string
	seq int
}

func (r *RunSink) Emit(ctx context.Context, name string, doc any) error {
	db, err := r.store.getDB()
	if err != nil {
		return err
	}
	payload, err := msgpack.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch d := doc.(type) {
	case model.RunStart:
		r.run, r.seq = d.UID, 0
		_, err = db.ExecContext(ctx, `INSERT INTO runs (uid, plan_name, started, exit_status) VALUES (?, ?, ?, '')`, d.UID, d.PlanName, d.Time)
		if err != nil {
			return err
		}
	case model.RunStop:
		if r.run == "" {
			return ErrNoRun
		}
		_, err = db.ExecContext(ctx, `UPDATE runs SET exit_status = ? WHERE uid = ?`, d.ExitStatus, r.run)
		if err != nil {
			return err
		}
	default:
		if r.run == "" {
			return ErrNoRun
		}
	}

	r.seq++
	_, err = db.ExecContext(ctx, `INSERT INTO documents (run_uid, seq, name, payload) VALUES (?, ?, ?, ?)`, r.run, r.seq, name, payload)
	return err
}

// RunUID is the uid of the run being recorded, empty before its start document.
func (r *RunSink) RunUID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run
}

func decode(name string, payload []byte) (any, error) {
	switch name {
	case model.DocStart:
		return decodeAs[model.RunStart](payload)
	case model.DocDescriptor:
		return decodeAs[model.EventDescriptor](payload)
	case model.DocEvent:
		return decodeAs[model.Event](payload)
	case model.DocStop:
		return decodeAs[model.RunStop](payload)
	case model.DocStreamResource:
		return decodeAs[model.StreamResource](payload)
	case model.DocStreamDatum:
		return decodeAs[model.StreamDatum](payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDoc, name)
	}
}

func decodeAs[T any](payload []byte) (any, error) {
	var doc T
	if err := msgpack.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			uid TEXT PRIMARY KEY,
			plan_name TEXT NOT NULL,
			started REAL NOT NULL,
			exit_status TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS documents (
			run_uid TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_uid, seq)
		);
	`)
	return err
}
