package extract

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxPageSize = 2 << 20

var (
	lockerVar = regexp.MustCompile(`(?:var|let|const)\s+(?:downloadUrl|download_url|fileUrl|file_url|videoUrl|video_url|sourceUrl)\s*=\s*["']([^"']+)["']`)
	titleTag  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	extension = regexp.MustCompile(`^\.[A-Za-z0-9]{1,5}$`)
)

// Locker scrapes file-locker pages, which hide the direct link in a script
// variable instead of exposing it to extractors.
type Locker struct {
	HTTP        *http.Client
	Dir         string
	MaxFileSize uint64
}

var _ Extractor = (*Locker)(nil)

func NewLocker(dir string, maxFileSize uint64) *Locker {
	return &Locker{
		HTTP:        &http.Client{Timeout: 30 * time.Minute},
		Dir:         dir,
		MaxFileSize: maxFileSize,
	}
}

func (l *Locker) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
	resp, err := l.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return resp, nil
}

// scrape returns the page title and the absolute direct link.
func (l *Locker) scrape(ctx context.Context, pageURL string) (string, string, error) {
	resp, err := l.get(ctx, pageURL)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", "", err
	}

	m := lockerVar.FindSubmatch(page)
	if m == nil {
		return "", "", errors.New("no direct link in page")
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", "", err
	}
	ref, err := url.Parse(html.UnescapeString(string(m[1])))
	if err != nil {
		return "", "", err
	}
	direct := base.ResolveReference(ref).String()

	var title string
	if t := titleTag.FindSubmatch(page); t != nil {
		title = strings.TrimSpace(html.UnescapeString(string(t[1])))
	}
	if title == "" {
		title = path.Base(ref.Path)
	}
	return title, direct, nil
}

func (l *Locker) Resolve(ctx context.Context, rawURL string) (*MediaInfo, error) {
	title, _, err := l.scrape(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}
	host, _ := hostOf(rawURL)
	return &MediaInfo{
		Title:    title,
		Platform: host,
		URL:      rawURL,
	}, nil
}

func (l *Locker) Fetch(ctx context.Context, rawURL string, mode Mode, progress ProgressFunc) (*Download, error) {
	if mode != Video {
		return nil, fmt.Errorf("%w: %s from a file locker", ErrUnsupported, mode)
	}
	_, direct, err := l.scrape(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	d, err := l.download(ctx, direct, progress)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return d, nil
}

func (l *Locker) download(ctx context.Context, direct string, progress ProgressFunc) (*Download, error) {
	resp, err := l.get(ctx, direct)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if l.MaxFileSize > 0 && resp.ContentLength > int64(l.MaxFileSize) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	ext := ".mp4"
	if u, err := url.Parse(direct); err == nil && extension.MatchString(path.Ext(u.Path)) {
		ext = path.Ext(u.Path)
	}
	d := &Download{Path: filepath.Join(l.Dir, uuid.NewString()+ext)}
	f, err := os.Create(d.Path)
	if err != nil {
		return nil, err
	}

	body := io.Reader(resp.Body)
	if l.MaxFileSize > 0 {
		// One extra byte tells an exact fit from an overflow.
		body = io.LimitReader(resp.Body, int64(l.MaxFileSize)+1)
	}
	w := &progressWriter{w: f, total: resp.ContentLength, progress: progress}
	n, err := io.Copy(w, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && l.MaxFileSize > 0 && n > int64(l.MaxFileSize) {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, l.MaxFileSize)
	}
	if err != nil {
		d.Close()
		return nil, err
	}

	d.Size = n
	progress(100)
	return d, nil
}

type progressWriter struct {
	w        io.Writer
	total    int64
	written  int64
	progress ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.total > 0 {
		p.progress(float64(p.written) * 100 / float64(p.total))
	}
	return n, err
}
