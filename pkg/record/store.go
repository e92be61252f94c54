package record

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store accumulates test outcomes per spec file for the lifetime of one
// run. It is safe for concurrent use: outcomes for different spec files are
// recorded independently, outcomes for the same spec file are serialized.
type Store struct {
	log   logrus.FieldLogger
	clock func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	order   []*entry
}

// entry guards a single spec file record.
type entry struct {
	mu        sync.Mutex
	rec       SpecFileRecord
	lastRetry map[string]int
}

// NewStore creates an empty store. A nil clock defaults to time.Now.
func NewStore(log logrus.FieldLogger, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}

	return &Store{
		log:     log.WithField("component", "record-store"),
		clock:   clock,
		entries: make(map[string]*entry, 16),
		order:   make([]*entry, 0, 16),
	}
}

// RecordOutcome appends outcome to the record of specFile, creating the
// record on first use. specFile is reduced to its base name.
func (s *Store) RecordOutcome(specFile string, outcome TestOutcome) {
	name := filepath.Base(specFile)
	e := s.entryFor(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if outcome.Duration < 0 {
		outcome.Duration = 0
	}

	if outcome.Attachments == nil {
		outcome.Attachments = []string{}
	}

	if last, seen := e.lastRetry[outcome.Title]; seen && outcome.Retry <= last {
		s.log.WithFields(logrus.Fields{
			"spec_file":  name,
			"title":      outcome.Title,
			"retry":      outcome.Retry,
			"last_retry": last,
		}).Warn("Retry number did not increase for test")
	}

	e.lastRetry[outcome.Title] = outcome.Retry
	e.rec.Tests = append(e.rec.Tests, outcome)
	e.rec.TotalDuration += outcome.Duration
}

// entryFor returns the entry for name, creating it if needed.
func (s *Store) entryFor(name string) *entry {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()

	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have created it between the locks.
	if e, ok := s.entries[name]; ok {
		return e
	}

	e = &entry{
		rec: SpecFileRecord{
			SpecFileName: name,
			Datetime:     FormatTimestamp(s.clock()),
			Tests:        make([]TestOutcome, 0, 8),
		},
		lastRetry: make(map[string]int, 8),
	}

	s.entries[name] = e
	s.order = append(s.order, e)

	s.log.WithField("spec_file", name).Debug("Created spec file record")

	return e
}

// AllRecords returns a snapshot of every record in insertion order. The
// returned records are copies and may be used without further locking.
func (s *Store) AllRecords() []*SpecFileRecord {
	s.mu.RLock()
	order := make([]*entry, len(s.order))
	copy(order, s.order)
	s.mu.RUnlock()

	out := make([]*SpecFileRecord, 0, len(order))

	for _, e := range order {
		e.mu.Lock()
		out = append(out, e.rec.clone())
		e.mu.Unlock()
	}

	return out
}

// Get returns a snapshot of the record for the given spec file name.
func (s *Store) Get(specFile string) (*SpecFileRecord, bool) {
	s.mu.RLock()
	e, ok := s.entries[filepath.Base(specFile)]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.rec.clone(), true
}

// Len returns the number of spec file records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.order)
}
