package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 1000; i++ {
		assert.Regexp(t, codePattern, GenerateCode(CodeLength))
	}
	assert.Len(t, GenerateCode(10), 10)
}

func TestParseCategory(t *testing.T) {
	for in, want := range map[string]Category{
		"images": Images, "img": Images, "VID": Videos, "audio": Audios, " secret ": Secret,
	} {
		got, err := ParseCategory(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCategory("docs")
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestInsertSecretAssignsCode(t *testing.T) {
	s := New()
	rec, err := s.Insert(Record{ID: "f1", URL: "http://x/f1", Category: Secret})
	require.NoError(t, err)
	assert.Regexp(t, codePattern, rec.Code)

	got, err := s.GetByCode(rec.Code)
	require.NoError(t, err)
	assert.Equal(t, "f1", got.ID)
}

func TestInsertNonSecretHasNoCode(t *testing.T) {
	s := New()
	rec, err := s.Insert(Record{ID: "i1", URL: "http://x/i1", Category: Images})
	require.NoError(t, err)
	assert.Empty(t, rec.Code)

	_, err = s.Insert(Record{ID: "i2", URL: "http://x/i2", Category: Images, Code: "ABCDEF"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestInsertValidation(t *testing.T) {
	s := New()
	for _, rec := range []Record{
		{URL: "http://x", Category: Images},
		{ID: "a", Category: Images},
		{ID: "a", URL: "http://x", Category: "docs"},
	} {
		_, err := s.Insert(rec)
		assert.ErrorIs(t, err, ErrInvalidRecord, "%+v", rec)
	}
	assert.Zero(t, s.Len())
}

func TestInsertDuplicateID(t *testing.T) {
	s := New()
	_, err := s.Insert(Record{ID: "f1", URL: "http://x/f1", Category: Videos})
	require.NoError(t, err)
	_, err = s.Insert(Record{ID: "f1", URL: "http://x/other", Category: Audios})
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, s.Len())
	assert.Zero(t, s.Count(Audios))
}

func TestInsertDuplicateCode(t *testing.T) {
	s := New()
	_, err := s.Insert(Record{ID: "a", URL: "http://x/a", Category: Secret, Code: "AAAAAA"})
	require.NoError(t, err)
	_, err = s.Insert(Record{ID: "b", URL: "http://x/b", Category: Secret, Code: "AAAAAA"})
	assert.ErrorIs(t, err, ErrDuplicateCode)
}

func TestCodeCollisionRedraws(t *testing.T) {
	codes := []string{"AAAAAA", "AAAAAA", "AAAAAA", "BBBBBB"}
	s := New(WithCodeGenerator(func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}))

	a, err := s.Insert(Record{ID: "a", URL: "http://x/a", Category: Secret})
	require.NoError(t, err)
	b, err := s.Insert(Record{ID: "b", URL: "http://x/b", Category: Secret})
	require.NoError(t, err)

	assert.Equal(t, "AAAAAA", a.Code)
	assert.Equal(t, "BBBBBB", b.Code)
	assert.Empty(t, codes)
}

func TestGetByCodeIsCaseSensitive(t *testing.T) {
	s := New()
	_, err := s.Insert(Record{ID: "a", URL: "http://x/a", Category: Secret, Code: "AB12CD"})
	require.NoError(t, err)

	_, err = s.GetByCode("ab12cd")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetByCode("AB12CD")
	assert.NoError(t, err)
}

func TestRandomByCategory(t *testing.T) {
	s := New()
	_, err := s.RandomByCategory(Videos)
	assert.ErrorIs(t, err, ErrNotFound)

	for i := 0; i < 5; i++ {
		_, err := s.Insert(Record{ID: fmt.Sprintf("img%d", i), URL: "http://x", Category: Images})
		require.NoError(t, err)
	}
	_, err = s.Insert(Record{ID: "vid0", URL: "http://x", Category: Videos})
	require.NoError(t, err)

	seen := map[string]int{}
	for i := 0; i < 2000; i++ {
		rec, err := s.RandomByCategory(Images)
		require.NoError(t, err)
		assert.Equal(t, Images, rec.Category)
		seen[rec.ID]++
	}
	// Uniform over five records: each one should come up, roughly 400 times.
	assert.Len(t, seen, 5)
	for id, n := range seen {
		assert.Greater(t, n, 250, id)
	}

	_, err = s.RandomByCategory(Audios)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByCategoryInsertionOrder(t *testing.T) {
	s := New()
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		_, err := s.Insert(Record{ID: id, URL: "http://x/" + id, Category: Audios})
		require.NoError(t, err)
	}
	require.NoError(t, s.Delete("b"))

	got := s.ListByCategory(Audios)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "c", "d"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Empty(t, s.ListByCategory(Images))
}

func TestInsertThenListOnce(t *testing.T) {
	s := New()
	_, err := s.Insert(Record{ID: "v1", URL: "http://x/v1", Category: Videos})
	require.NoError(t, err)

	n := 0
	for _, r := range s.ListByCategory(Videos) {
		if r.ID == "v1" {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestDelete(t *testing.T) {
	s := New()
	rec, err := s.Insert(Record{ID: "s1", URL: "http://x/s1", Category: Secret})
	require.NoError(t, err)

	require.NoError(t, s.Delete("s1"))
	assert.ErrorIs(t, s.Delete("s1"), ErrNotFound)

	_, err = s.Get("s1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetByCode(rec.Code)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.RandomByCategory(Secret)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.ListByCategory(Secret))
	assert.Zero(t, s.Count(Secret))
}

func TestConcurrentInserts(t *testing.T) {
	s := New()
	const n = 200

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cat := Categories[i%len(Categories)]
			_, err := s.Insert(Record{ID: fmt.Sprintf("f%d", i), URL: "http://x", Category: cat})
			errs <- err
			// Readers race with writers.
			_, _ = s.RandomByCategory(cat)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, n, s.Len())
	for i := 0; i < n; i++ {
		_, err := s.Get(fmt.Sprintf("f%d", i))
		assert.NoError(t, err)
	}

	codes := map[string]bool{}
	for _, r := range s.ListByCategory(Secret) {
		assert.False(t, codes[r.Code], "duplicate code %s", r.Code)
		codes[r.Code] = true
	}
	assert.Len(t, codes, n/len(Categories))
}

type failingPersister struct {
	fail bool
}

func (p *failingPersister) Load() ([]Record, error) { return nil, nil }
func (p *failingPersister) Close() error            { return nil }
func (p *failingPersister) Apply(Change, func() []Record) error {
	if p.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestPersistFailureRollsBack(t *testing.T) {
	p := &failingPersister{}
	s, err := Open(p)
	require.NoError(t, err)

	rec, err := s.Insert(Record{ID: "keep", URL: "http://x", Category: Secret})
	require.NoError(t, err)

	p.fail = true
	_, err = s.Insert(Record{ID: "lost", URL: "http://x", Category: Secret})
	assert.Error(t, err)
	_, err = s.Get("lost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, s.Count(Secret))

	assert.Error(t, s.Delete("keep"))
	got, err := s.GetByCode(rec.Code)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.ID)
}
