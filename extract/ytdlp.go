package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var progressLine = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)

// ParseProgress reads the percentage out of a yt-dlp "--newline" progress
// line.
func ParseProgress(line string) (float64, bool) {
	m := progressLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, false
	}
	p, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return p, true
}

// YtDlp drives the yt-dlp binary. Audio mode needs ffmpeg on PATH too.
type YtDlp struct {
	Binary      string
	Dir         string
	MaxFileSize uint64
}

var _ Extractor = (*YtDlp)(nil)

type ytInfo struct {
	Title        string  `json:"title"`
	Duration     float64 `json:"duration"`
	Thumbnail    string  `json:"thumbnail"`
	ExtractorKey string  `json:"extractor_key"`
	Extractor    string  `json:"extractor"`
	WebpageURL   string  `json:"webpage_url"`
}

func parseInfo(raw []byte) (*MediaInfo, error) {
	var info ytInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	if info.Title == "" {
		return nil, errors.New("no title in metadata")
	}
	platform := info.ExtractorKey
	if platform == "" {
		platform = info.Extractor
	}
	return &MediaInfo{
		Title:     info.Title,
		Duration:  time.Duration(info.Duration * float64(time.Second)),
		Thumbnail: info.Thumbnail,
		Platform:  platform,
		URL:       info.WebpageURL,
	}, nil
}

// stderrTail keeps the end of a command's stderr for error messages.
func stderrTail(err error, buf []byte) string {
	var ee *exec.ExitError
	if len(buf) == 0 && errors.As(err, &ee) {
		buf = ee.Stderr
	}
	s := strings.TrimSpace(string(buf))
	if len(s) > 300 {
		s = "..." + s[len(s)-300:]
	}
	return s
}

func (y *YtDlp) Resolve(ctx context.Context, rawURL string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, y.Binary,
		"-J", "--no-playlist", "--skip-download", "--no-warnings", rawURL)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrResolveFailed, err, stderrTail(err, nil))
	}
	info, err := parseInfo(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}
	if info.URL == "" {
		info.URL = rawURL
	}
	return info, nil
}

func (y *YtDlp) args(tmpl string, mode Mode, rawURL string) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"--no-warnings",
		"--force-ipv4",
		"-o", tmpl,
	}
	if y.MaxFileSize > 0 {
		args = append(args, "--max-filesize", strconv.FormatUint(y.MaxFileSize, 10))
	}
	switch mode {
	case Audio:
		args = append(args,
			"-x",
			"--audio-format", "mp3",
			"--audio-quality", "0",
		)
	default:
		args = append(args,
			"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
			"--merge-output-format", "mp4",
		)
	}
	return append(args, rawURL)
}

// outputs lists what yt-dlp left behind for one fetch. Every fetch gets its
// own uuid prefix, so concurrent fetches never see each other's files.
func (y *YtDlp) outputs(prefix string) []string {
	matches, _ := filepath.Glob(filepath.Join(y.Dir, prefix+".*"))
	return matches
}

func (y *YtDlp) removeOutputs(prefix string) {
	for _, m := range y.outputs(prefix) {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", m).Msg("partial file cleanup failed")
		}
	}
}

func (y *YtDlp) Fetch(ctx context.Context, rawURL string, mode Mode, progress ProgressFunc) (*Download, error) {
	if err := os.MkdirAll(y.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	prefix := uuid.NewString()
	d, err := y.fetch(ctx, prefix, rawURL, mode, progress)
	if err != nil {
		y.removeOutputs(prefix)
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return d, nil
}

func (y *YtDlp) fetch(ctx context.Context, prefix, rawURL string, mode Mode, progress ProgressFunc) (*Download, error) {
	tmpl := filepath.Join(y.Dir, prefix+".%(ext)s")
	cmd := exec.CommandContext(ctx, y.Binary, y.args(tmpl, mode, rawURL)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		if p, ok := ParseProgress(sc.Text()); ok {
			progress(p)
		}
	}
	// Drain whatever is left so Wait does not block on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("%v: %s", err, stderrTail(err, stderr.Bytes()))
	}

	var final string
	for _, m := range y.outputs(prefix) {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		final = m
		break
	}
	if final == "" {
		// yt-dlp skips files above --max-filesize and still exits 0.
		if y.MaxFileSize > 0 {
			return nil, fmt.Errorf("%w: nothing under %d bytes", ErrTooLarge, y.MaxFileSize)
		}
		return nil, errors.New("no file produced")
	}

	st, err := os.Stat(final)
	if err != nil {
		return nil, err
	}
	progress(100)
	return &Download{Path: final, Size: st.Size()}, nil
}
