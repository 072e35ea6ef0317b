package catalog

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// idSet keeps ids in a slice for uniform picks and a position map for O(1)
// removal. Removal swaps with the last element, so slice order is not
// insertion order.
type idSet struct {
	ids []string
	pos map[string]int
}

func newIDSet() *idSet {
	return &idSet{pos: make(map[string]int)}
}

func (s *idSet) add(id string) {
	s.pos[id] = len(s.ids)
	s.ids = append(s.ids, id)
}

func (s *idSet) remove(id string) {
	i, ok := s.pos[id]
	if !ok {
		return
	}
	last := len(s.ids) - 1
	s.ids[i] = s.ids[last]
	s.pos[s.ids[i]] = i
	s.ids = s.ids[:last]
	delete(s.pos, id)
}

type entry struct {
	rec Record
	seq uint64
}

// Store is the catalog. Reads share a lock, mutations are linearized and,
// when a Persister is set, written through before they become visible to
// anyone else.
type Store struct {
	mu         sync.RWMutex
	records    map[string]*entry
	byCategory map[Category]*idSet
	byCode     map[string]string
	seq        uint64

	persister Persister
	genCode   func() string
}

type Option func(*Store)

// WithCodeGenerator replaces GenerateCode(CodeLength).
func WithCodeGenerator(gen func() string) Option {
	return func(s *Store) {
		s.genCode = gen
	}
}

// New returns an in-memory store, lost when the process exits.
func New(opts ...Option) *Store {
	s := &Store{
		records:    make(map[string]*entry),
		byCategory: make(map[Category]*idSet),
		byCode:     make(map[string]string),
		genCode:    func() string { return GenerateCode(CodeLength) },
	}
	for _, c := range Categories {
		s.byCategory[c] = newIDSet()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads whatever p holds and writes every later mutation through p.
// Records that break an invariant are skipped with a warning so a catalog
// written by older versions still loads.
func Open(p Persister, opts ...Option) (*Store, error) {
	s := New(opts...)
	recs, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("catalog load: %w", err)
	}
	for _, r := range recs {
		if r.Code != "" && r.Category != Secret {
			log.Warn().Str("record_id", r.ID).Str("category", string(r.Category)).
				Msg("dropping code from non-secret record")
			r.Code = ""
		}
		if _, err := s.insertLocked(r); err != nil {
			log.Warn().Err(err).Str("record_id", r.ID).Msg("skipping catalog record")
		}
	}
	s.persister = p
	log.Info().Int("records", len(s.records)).Msg("catalog loaded")
	return s, nil
}

func (s *Store) Close() error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Close()
}

// Insert adds rec. Secret records without a code get a fresh one, drawn
// again until it collides with nothing.
func (s *Store) Insert(rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.insertLocked(rec)
	if err != nil {
		return Record{}, err
	}
	if s.persister != nil {
		if err := s.persister.Apply(Change{Op: OpInsert, Record: rec}, s.snapshotLocked); err != nil {
			s.removeLocked(rec.ID)
			return Record{}, fmt.Errorf("catalog persist: %w", err)
		}
	}
	return rec, nil
}

func (s *Store) insertLocked(rec Record) (Record, error) {
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	if _, ok := s.records[rec.ID]; ok {
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	if rec.Code != "" {
		if _, ok := s.byCode[rec.Code]; ok {
			return Record{}, fmt.Errorf("%w: %s", ErrDuplicateCode, rec.Code)
		}
	} else if rec.Category == Secret {
		for {
			rec.Code = s.genCode()
			if _, ok := s.byCode[rec.Code]; !ok {
				break
			}
		}
	}

	s.seq++
	s.records[rec.ID] = &entry{rec: rec, seq: s.seq}
	s.byCategory[rec.Category].add(rec.ID)
	if rec.Code != "" {
		s.byCode[rec.Code] = rec.ID
	}
	return rec, nil
}

func (s *Store) removeLocked(id string) (*entry, bool) {
	e, ok := s.records[id]
	if !ok {
		return nil, false
	}
	delete(s.records, id)
	s.byCategory[e.rec.Category].remove(id)
	if e.rec.Code != "" {
		delete(s.byCode, e.rec.Code)
	}
	return e, true
}

// Delete reports ErrNotFound for ids that are already gone.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.removeLocked(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.persister != nil {
		if err := s.persister.Apply(Change{Op: OpDelete, Record: e.rec}, s.snapshotLocked); err != nil {
			s.records[id] = e
			s.byCategory[e.rec.Category].add(id)
			if e.rec.Code != "" {
				s.byCode[e.rec.Code] = id
			}
			return fmt.Errorf("catalog persist: %w", err)
		}
	}
	return nil
}

func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.rec, nil
}

// RandomByCategory picks uniformly among the records of c.
func (s *Store) RandomByCategory(c Category) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.byCategory[c]
	if !ok || len(set.ids) == 0 {
		return Record{}, fmt.Errorf("%w: no %s", ErrNotFound, c)
	}
	return s.records[set.ids[rand.IntN(len(set.ids))]].rec, nil
}

// GetByCode is an exact, case-sensitive match.
func (s *Store) GetByCode(code string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return Record{}, fmt.Errorf("%w: code %s", ErrNotFound, code)
	}
	return s.records[id].rec, nil
}

// ListByCategory returns the records of c in insertion order.
func (s *Store) ListByCategory(c Category) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.byCategory[c]
	if !ok {
		return nil
	}
	entries := lo.Map(set.ids, func(id string, _ int) *entry {
		return s.records[id]
	})
	return sortedRecords(entries)
}

func (s *Store) Count(c Category) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if set, ok := s.byCategory[c]; ok {
		return len(set.ids)
	}
	return 0
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns every record in insertion order.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Record {
	return sortedRecords(lo.Values(s.records))
}

func sortedRecords(entries []*entry) []Record {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	return lo.Map(entries, func(e *entry, _ int) Record {
		return e.rec
	})
}
