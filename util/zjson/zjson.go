package zjson

// Marshal and unmarshal JSON files, zlib-compressed when the path ends in
// '.zz' so pigz can use them, plain and indented otherwise.
// To avoid file corruption on writes it creates a temporary file next to the
// target and then moves it.

import (
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const CompressedExt = ".zz"

func Compressed(path string) bool {
	return strings.HasSuffix(path, CompressedExt)
}

func Decode(r io.Reader, obj interface{}) error {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	return json.NewDecoder(zr).Decode(obj)
}

func Encode(w io.Writer, obj interface{}) error {
	zw, err := zlib.NewWriterLevel(w, zlib.BestCompression)
	if err != nil {
		return err
	}

	if err = json.NewEncoder(zw).Encode(obj); err != nil {
		return err
	}

	return zw.Close()
}

// EncodePlain writes indented JSON, the layout people edit by hand.
func EncodePlain(w io.Writer, obj interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(obj)
}

func Store(path string, obj interface{}) error {
	// Same directory, or the rename may cross filesystems.
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmpf, err := os.CreateTemp(dir, base+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmpf.Name())

	if Compressed(path) {
		err = Encode(tmpf, obj)
	} else {
		err = EncodePlain(tmpf, obj)
	}
	if err != nil {
		tmpf.Close()
		return err
	}

	if err = tmpf.Sync(); err != nil {
		tmpf.Close()
		return err
	}

	if err = tmpf.Close(); err != nil {
		return err
	}

	if err = os.Rename(tmpf.Name(), path); err != nil {
		return err
	}

	return nil
}

func Load(path string, obj interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: file open: %w", path, err)
	}
	defer f.Close()

	if Compressed(path) {
		return Decode(f, obj)
	}
	return json.NewDecoder(f).Decode(obj)
}
