package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	resolved int
	fetched  int
	err      error
}

func (f *fakeExtractor) Resolve(ctx context.Context, rawURL string) (*MediaInfo, error) {
	f.resolved++
	return &MediaInfo{Title: "t", URL: rawURL}, f.err
}

func (f *fakeExtractor) Fetch(ctx context.Context, rawURL string, mode Mode, progress ProgressFunc) (*Download, error) {
	f.fetched++
	progress(50)
	return &Download{Path: "x"}, f.err
}

func newService() (*Service, *fakeExtractor, *fakeExtractor) {
	general, locker := &fakeExtractor{}, &fakeExtractor{}
	return NewService([]string{"youtube.com", "youtu.be"}, []string{"filelocker.example"}, general, locker), general, locker
}

func TestIsSupported(t *testing.T) {
	s, _, _ := newService()

	for url, want := range map[string]bool{
		"https://www.youtube.com/watch?v=1": true,
		"https://m.youtube.com/watch?v=1":   true,
		"http://youtu.be/abc":               true,
		"https://filelocker.example/f/123":  true,
		"https://example.com/video":         false,
		"https://notyoutube.com/watch":      false,
		"ftp://youtube.com/x":               false,
		"youtube.com/watch?v=1":             false,
		"":                                  false,
		"  https://youtube.com/watch?v=2  ": true,
	} {
		assert.Equal(t, want, s.IsSupported(url), url)
	}
}

func TestResolveUnsupportedNeverCallsExtractor(t *testing.T) {
	s, general, locker := newService()

	_, err := s.Resolve(context.Background(), "https://example.com/video")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = s.Fetch(context.Background(), "https://example.com/video", Video, nil)
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.Zero(t, general.resolved+general.fetched)
	assert.Zero(t, locker.resolved+locker.fetched)
}

func TestServiceRoutes(t *testing.T) {
	s, general, locker := newService()
	ctx := context.Background()

	_, err := s.Resolve(ctx, "https://youtube.com/watch?v=1")
	require.NoError(t, err)
	_, err = s.Fetch(ctx, "https://filelocker.example/f/1", Video, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, general.resolved)
	assert.Equal(t, 1, locker.fetched)
	assert.Zero(t, general.fetched)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Audio")
	require.NoError(t, err)
	assert.Equal(t, Audio, m)

	_, err = ParseMode("gif")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestParseProgress(t *testing.T) {
	for line, want := range map[string]float64{
		"[download]  42.3% of 10.00MiB at 1.00MiB/s ETA 00:05": 42.3,
		"[download] 100% of 10.00MiB in 00:10":                 100,
		"  [download]   0.0% of ~3.00MiB":                      0,
	} {
		got, ok := ParseProgress(line)
		assert.True(t, ok, line)
		assert.InDelta(t, want, got, 0.001, line)
	}

	for _, line := range []string{
		"[youtube] abc: Downloading webpage",
		"[download] Destination: x.mp4",
		"",
	} {
		_, ok := ParseProgress(line)
		assert.False(t, ok, line)
	}
}

func TestDownloadClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	d := &Download{Path: path}
	assert.NoError(t, d.Close())
	assert.NoFileExists(t, path)
	// Already gone is fine.
	assert.NoError(t, d.Close())

	var nilDownload *Download
	assert.NoError(t, nilDownload.Close())
}

const fakeYtdlp = `#!/bin/sh
if [ "$1" = "-J" ]; then
  if [ -n "$FAKE_FAIL" ]; then echo "ERROR: Unsupported URL" >&2; exit 1; fi
  echo '{"title":"Clip","duration":61.5,"thumbnail":"https://img.example/x.jpg","extractor_key":"Youtube","webpage_url":"https://youtube.com/watch?v=1"}'
  exit 0
fi
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then tmpl="$a"; fi
  prev="$a"
done
echo "[youtube] 1: Downloading webpage"
echo "[download]  10.0% of 1.00MiB"
echo "[download]  55.5% of 1.00MiB"
if [ -n "$FAKE_FAIL" ]; then
  printf 'half' > "${tmpl%.*}.mp4.part"
  echo "ERROR: fragment 3 not found" >&2
  exit 1
fi
if [ -n "$FAKE_SKIP" ]; then exit 0; fi
printf 'data' > "${tmpl%.*}.mp4"
`

func fakeBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte(fakeYtdlp), 0o755))
	return path
}

func TestYtDlpResolve(t *testing.T) {
	y := &YtDlp{Binary: fakeBinary(t), Dir: t.TempDir()}

	info, err := y.Resolve(context.Background(), "https://youtu.be/1")
	require.NoError(t, err)
	assert.Equal(t, "Clip", info.Title)
	assert.Equal(t, "Youtube", info.Platform)
	assert.Equal(t, 61500*time.Millisecond, info.Duration)
	assert.Equal(t, "https://youtube.com/watch?v=1", info.URL)
}

func TestYtDlpResolveFailure(t *testing.T) {
	t.Setenv("FAKE_FAIL", "1")
	y := &YtDlp{Binary: fakeBinary(t), Dir: t.TempDir()}

	_, err := y.Resolve(context.Background(), "https://youtu.be/1")
	assert.ErrorIs(t, err, ErrResolveFailed)
	assert.Contains(t, err.Error(), "Unsupported URL")
}

func TestYtDlpFetch(t *testing.T) {
	dir := t.TempDir()
	y := &YtDlp{Binary: fakeBinary(t), Dir: dir}

	var seen []float64
	d, err := y.Fetch(context.Background(), "https://youtu.be/1", Video, func(p float64) {
		seen = append(seen, p)
	})
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, []float64{10, 55.5, 100}, seen)
	assert.Equal(t, dir, filepath.Dir(d.Path))
	assert.Equal(t, ".mp4", filepath.Ext(d.Path))
	assert.Equal(t, int64(4), d.Size)
}

func TestYtDlpFetchNamesAreDistinct(t *testing.T) {
	y := &YtDlp{Binary: fakeBinary(t), Dir: t.TempDir()}
	noop := func(float64) {}

	a, err := y.Fetch(context.Background(), "https://youtu.be/1", Video, noop)
	require.NoError(t, err)
	defer a.Close()
	b, err := y.Fetch(context.Background(), "https://youtu.be/1", Video, noop)
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Path, b.Path)
}

func TestYtDlpFetchFailureCleansUp(t *testing.T) {
	t.Setenv("FAKE_FAIL", "1")
	dir := t.TempDir()
	y := &YtDlp{Binary: fakeBinary(t), Dir: dir}

	_, err := y.Fetch(context.Background(), "https://youtu.be/1", Audio, func(float64) {})
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "fragment 3")

	left, _ := os.ReadDir(dir)
	assert.Empty(t, left)
}

func TestYtDlpFetchTooLarge(t *testing.T) {
	t.Setenv("FAKE_SKIP", "1")
	y := &YtDlp{Binary: fakeBinary(t), Dir: t.TempDir(), MaxFileSize: 10}

	_, err := y.Fetch(context.Background(), "https://youtu.be/1", Video, func(float64) {})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestYtDlpArgs(t *testing.T) {
	y := &YtDlp{MaxFileSize: 2048}

	video := y.args("out.%(ext)s", Video, "u")
	assert.Contains(t, video, "--merge-output-format")
	assert.Contains(t, video, "2048")
	assert.Equal(t, "u", video[len(video)-1])

	audio := y.args("out.%(ext)s", Audio, "u")
	assert.Contains(t, audio, "-x")
	assert.Contains(t, audio, "mp3")
	assert.NotContains(t, audio, "--merge-output-format")
}

const lockerPage = `<html><head><title>Holiday &amp; Beach</title></head>
<body><script>
  var token = "abc";
  const downloadUrl = "/files/holiday.webm?t=1";
</script></body></html>`

func lockerServer(t *testing.T, file string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/f/1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(lockerPage))
	})
	mux.HandleFunc("/f/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><title>nothing here</title></html>`))
	})
	mux.HandleFunc("/files/holiday.webm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(file))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLockerResolve(t *testing.T) {
	srv := lockerServer(t, "video-bytes")
	l := NewLocker(t.TempDir(), 0)

	info, err := l.Resolve(context.Background(), srv.URL+"/f/1")
	require.NoError(t, err)
	assert.Equal(t, "Holiday & Beach", info.Title)
	assert.Equal(t, "127.0.0.1", info.Platform)

	_, err = l.Resolve(context.Background(), srv.URL+"/f/empty")
	assert.ErrorIs(t, err, ErrResolveFailed)

	_, err = l.Resolve(context.Background(), srv.URL+"/f/missing")
	assert.ErrorIs(t, err, ErrResolveFailed)
}

func TestLockerFetch(t *testing.T) {
	srv := lockerServer(t, "video-bytes")
	dir := t.TempDir()
	l := NewLocker(dir, 0)

	var last float64
	d, err := l.Fetch(context.Background(), srv.URL+"/f/1", Video, func(p float64) { last = p })
	require.NoError(t, err)
	defer d.Close()

	raw, err := os.ReadFile(d.Path)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(raw))
	assert.Equal(t, ".webm", filepath.Ext(d.Path))
	assert.Equal(t, int64(11), d.Size)
	assert.Equal(t, float64(100), last)
}

func TestLockerFetchErrors(t *testing.T) {
	srv := lockerServer(t, "video-bytes")
	dir := t.TempDir()

	_, err := NewLocker(dir, 0).Fetch(context.Background(), srv.URL+"/f/1", Audio, nil)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewLocker(dir, 4).Fetch(context.Background(), srv.URL+"/f/1", Video, func(float64) {})
	assert.True(t, errors.Is(err, ErrTooLarge))

	_, err = NewLocker(dir, 0).Fetch(context.Background(), srv.URL+"/f/empty", Video, func(float64) {})
	assert.ErrorIs(t, err, ErrFetchFailed)

	left, _ := os.ReadDir(dir)
	assert.Empty(t, left)
}
