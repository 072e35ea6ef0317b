package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var recordPrefix = []byte("rec/")

func recordKey(id string) []byte {
	return append(append([]byte{}, recordPrefix...), id...)
}

type badgerValue struct {
	Record
	AddedAt int64 `json:"added_at"`
}

// Badger keeps one key per record, so a mutation writes a single entry
// instead of the whole catalog.
type Badger struct {
	db *badger.DB
}

var _ Persister = (*Badger)(nil)

func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{log.With().Str("component", "badger").Logger()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open %s: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Load() ([]Record, error) {
	var vals []badgerValue
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(recordPrefix); it.ValidForPrefix(recordPrefix); it.Next() {
			var v badgerValue
			err := it.Item().Value(func(raw []byte) error {
				return json.Unmarshal(raw, &v)
			})
			if err != nil {
				return fmt.Errorf("%s: %w", it.Item().Key(), err)
			}
			vals = append(vals, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(vals, func(i, j int) bool {
		return vals[i].AddedAt < vals[j].AddedAt
	})
	recs := make([]Record, len(vals))
	for i, v := range vals {
		recs[i] = v.Record
	}
	return recs, nil
}

func (b *Badger) Apply(ch Change, _ func() []Record) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := recordKey(ch.Record.ID)
		switch ch.Op {
		case OpInsert:
			raw, err := json.Marshal(badgerValue{Record: ch.Record, AddedAt: time.Now().UnixNano()})
			if err != nil {
				return err
			}
			return txn.Set(key, raw)
		case OpDelete:
			return txn.Delete(key)
		}
		return fmt.Errorf("unknown catalog op %d", ch.Op)
	})
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's own logging through zerolog.
type badgerLogger struct {
	l zerolog.Logger
}

func (bl badgerLogger) Errorf(f string, v ...interface{})   { bl.l.Error().Msgf(f, v...) }
func (bl badgerLogger) Warningf(f string, v ...interface{}) { bl.l.Warn().Msgf(f, v...) }
func (bl badgerLogger) Infof(f string, v ...interface{})    { bl.l.Debug().Msgf(f, v...) }
func (bl badgerLogger) Debugf(f string, v ...interface{})   { bl.l.Trace().Msgf(f, v...) }
