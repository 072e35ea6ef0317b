package catalog

import (
	"errors"
	"os"

	"github.com/fastdl4u/fastdl/util/zjson"
)

type Op int

const (
	OpInsert Op = iota
	OpDelete
)

type Change struct {
	Op     Op
	Record Record
}

// Persister stores catalog mutations. Apply is always called with the store
// write lock held, so implementations see one change at a time. snapshot
// returns the catalog contents after the change, for persisters that rewrite
// everything.
type Persister interface {
	Load() ([]Record, error)
	Apply(ch Change, snapshot func() []Record) error
	Close() error
}

// JSONFile keeps the catalog as a single JSON array rewritten on every
// mutation. The rewrite goes through a temporary file and a rename, so a
// crash leaves either the old or the new catalog.
type JSONFile struct {
	Path string
}

var _ Persister = (*JSONFile)(nil)

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

func (f *JSONFile) Load() ([]Record, error) {
	var recs []Record
	err := zjson.Load(f.Path, &recs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return recs, err
}

func (f *JSONFile) Apply(_ Change, snapshot func() []Record) error {
	recs := snapshot()
	if recs == nil {
		// Keep "[]" on disk rather than "null".
		recs = []Record{}
	}
	return zjson.Store(f.Path, recs)
}

func (f *JSONFile) Close() error {
	return nil
}
