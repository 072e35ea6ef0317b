package bot

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidArguments = errors.New("invalid argument")
	ErrUnauthorized     = errors.New("unauthorized")
)

// Duration reads either a Go duration ("10m") or a bare number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return ErrInvalidArguments
	}
	d.Duration = td
	return nil
}

func Expired(t time.Time, ttl *Duration) bool {
	if ttl == nil || ttl.Duration <= 0 {
		return false
	}
	now := time.Now().UTC()
	expiration := t.Add(ttl.Duration)
	return now.After(expiration)
}

// Button is either a callback button (Data) or a link (URL).
type Button struct {
	Text string
	Data string
	URL  string
}

type Keyboard [][]Button

func Row(buttons ...Button) []Button {
	return buttons
}
