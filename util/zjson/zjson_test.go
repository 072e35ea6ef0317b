package zjson

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type TestType struct {
	F1 int     `json:"f1"`
	F2 string  `json:"f2"`
	F3 float64 `json:"f3"`
}

func TestEncodeDecode(t *testing.T) {
	in := TestType{
		F1: 42,
		F2: "EN EL DOOM...",
		F3: 3.14,
	}
	var out TestType

	buf := &bytes.Buffer{}
	if err := Encode(buf, &in); err != nil {
		t.Fatalf("Encoding failed with: %v", err)
	}
	if err := Decode(buf, &out); err != nil {
		t.Fatalf("Decoding failed with: %v", err)
	}
	if in != out {
		t.Fatalf("%+v != %+v", in, out)
	}
}

func TestStoreLoad(t *testing.T) {
	dir := t.TempDir()
	in := []TestType{{F1: 1, F2: "uno"}, {F1: 2, F2: "dos", F3: 0.5}}

	for _, name := range []string{"db.json", "db.json.zz"} {
		path := filepath.Join(dir, name)
		if err := Store(path, in); err != nil {
			t.Fatalf("%s: store failed with: %v", name, err)
		}
		var out []TestType
		if err := Load(path, &out); err != nil {
			t.Fatalf("%s: load failed with: %v", name, err)
		}
		if len(out) != len(in) || out[0] != in[0] || out[1] != in[1] {
			t.Fatalf("%s: %+v != %+v", name, out, in)
		}
	}

	// Only the two targets, no leftover temporaries.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 files, got %d", len(entries))
	}

	raw, err := os.ReadFile(filepath.Join(dir, "db.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("[\n  {")) {
		t.Fatalf("plain file is not indented JSON: %q", raw[:8])
	}
}

func TestLoadMissing(t *testing.T) {
	var out []TestType
	err := Load(filepath.Join(t.TempDir(), "nope.json"), &out)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}
