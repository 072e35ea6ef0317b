package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/fastdl4u/fastdl/metrics"
)

var (
	ErrUnsupported   = errors.New("unsupported source")
	ErrResolveFailed = errors.New("resolve failed")
	ErrFetchFailed   = errors.New("fetch failed")
	ErrTooLarge      = errors.New("file too large")
)

type Mode string

const (
	Video Mode = "video"
	Audio Mode = "audio"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case Video, Audio:
		return m, nil
	}
	return "", fmt.Errorf("%w: mode %q", ErrUnsupported, s)
}

type MediaInfo struct {
	Title     string
	Duration  time.Duration
	Thumbnail string
	Platform  string
	URL       string
}

// ProgressFunc receives the completed percentage, 0 to 100.
type ProgressFunc func(percent float64)

// Download is a fetched file on local disk. Close removes it.
type Download struct {
	Path string
	Size int64
}

func (d *Download) Close() error {
	if d == nil || d.Path == "" {
		return nil
	}
	err := os.Remove(d.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", d.Path).Msg("temp file cleanup failed")
		return err
	}
	return nil
}

type Extractor interface {
	Resolve(ctx context.Context, rawURL string) (*MediaInfo, error)
	Fetch(ctx context.Context, rawURL string, mode Mode, progress ProgressFunc) (*Download, error)
}

// Service admits URLs by host and routes them: file lockers to the page
// scraper, everything else to the general extractor.
type Service struct {
	Hosts       []string
	LockerHosts []string
	General     Extractor
	Locker      Extractor
}

func NewService(hosts, lockerHosts []string, general, locker Extractor) *Service {
	return &Service{
		Hosts:       hosts,
		LockerHosts: lockerHosts,
		General:     general,
		Locker:      locker,
	}
}

func hostOf(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", false
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."), true
}

func matchHost(host string, hosts []string) bool {
	return lo.SomeBy(hosts, func(h string) bool {
		return host == h || strings.HasSuffix(host, "."+h)
	})
}

// IsSupported checks the URL against the allow-lists without touching the
// network.
func (s *Service) IsSupported(rawURL string) bool {
	host, ok := hostOf(rawURL)
	if !ok {
		return false
	}
	return matchHost(host, s.Hosts) || matchHost(host, s.LockerHosts)
}

func (s *Service) route(rawURL string) (Extractor, error) {
	host, ok := hostOf(rawURL)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, rawURL)
	}
	switch {
	case matchHost(host, s.LockerHosts):
		return s.Locker, nil
	case matchHost(host, s.Hosts):
		return s.General, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, host)
}

func (s *Service) Resolve(ctx context.Context, rawURL string) (*MediaInfo, error) {
	ex, err := s.route(rawURL)
	if err != nil {
		return nil, err
	}
	return ex.Resolve(ctx, strings.TrimSpace(rawURL))
}

func (s *Service) Fetch(ctx context.Context, rawURL string, mode Mode, progress ProgressFunc) (*Download, error) {
	ex, err := s.route(rawURL)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(float64) {}
	}

	start := time.Now()
	d, err := ex.Fetch(ctx, strings.TrimSpace(rawURL), mode, progress)
	metrics.Fetches.WithLabelValues(string(mode), metrics.Result(err)).Observe(time.Since(start).Seconds())
	return d, err
}
