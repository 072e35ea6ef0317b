package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateID   = errors.New("duplicate id")
	ErrDuplicateCode = errors.New("duplicate code")
	ErrInvalidRecord = errors.New("invalid record")
)

type Category string

const (
	Images Category = "images"
	Videos Category = "videos"
	Audios Category = "audios"
	Secret Category = "secret"
)

// Categories in menu order.
var Categories = []Category{Images, Videos, Audios, Secret}

var aliases = map[string]Category{
	"img":    Images,
	"image":  Images,
	"vid":    Videos,
	"video":  Videos,
	"aud":    Audios,
	"audio":  Audios,
	"secret": Secret,
}

func (c Category) Valid() bool {
	switch c {
	case Images, Videos, Audios, Secret:
		return true
	}
	return false
}

// ParseCategory accepts the category names and the short command aliases.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c := Category(s); c.Valid() {
		return c, nil
	}
	if c, ok := aliases[s]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrInvalidRecord, s)
}

// Record is a file known to the bot. Fields never change after insertion.
type Record struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	Category   Category `json:"category"`
	UploaderID int64    `json:"uploader_id,omitempty"`
	Code       string   `json:"code,omitempty"`
}

func (r *Record) validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	case r.URL == "":
		return fmt.Errorf("%w: empty url", ErrInvalidRecord)
	case !r.Category.Valid():
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRecord, r.Category)
	case r.Code != "" && r.Category != Secret:
		return fmt.Errorf("%w: code on %s record", ErrInvalidRecord, r.Category)
	}
	return nil
}
