package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastdl4u/fastdl/catalog"
)

func tempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/uploadFile", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "folder-vid", r.FormValue("folderId"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		raw, _ := io.ReadAll(f)
		assert.Equal(t, "clip.mp4", hdr.Filename)
		assert.Equal(t, "not really a video", string(raw))

		w.Write([]byte(`{"status":"ok","data":{"downloadPage":"https://gofile.io/d/abc","fileId":"f-123","fileName":"clip.mp4"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret-token", map[catalog.Category]string{catalog.Videos: "folder-vid"})
	res, err := c.Upload(context.Background(), tempFile(t, "not really a video"), catalog.Videos)
	require.NoError(t, err)
	assert.Equal(t, "https://gofile.io/d/abc", res.URL)
	assert.Equal(t, "f-123", res.ID)
	assert.Equal(t, "clip.mp4", res.Name)
	assert.Equal(t, int64(18), res.Size)
}

func TestUploadAcceptsNewResponseLayout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"status":"ok","data":{"downloadPage":"https://gofile.io/d/xyz","id":"uuid-1","name":"clip.mp4"}}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "", nil).Upload(context.Background(), tempFile(t, "x"), catalog.Images)
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", res.ID)
}

func TestUploadFailures(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"status not ok": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"error-notPremium"}`))
		},
		"no status": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{}}`))
		},
		"not json": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
		"missing id": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"ok","data":{"downloadPage":"https://gofile.io/d/abc"}}`))
		},
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, "", nil).Upload(context.Background(), tempFile(t, "x"), catalog.Audios)
			assert.ErrorIs(t, err, ErrUploadFailed)
		})
	}
}

func TestUploadMissingFile(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", "", nil).Upload(context.Background(), "/nonexistent/file", catalog.Images)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUploadNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "", nil).Upload(context.Background(), tempFile(t, "x"), catalog.Images)
	assert.ErrorIs(t, err, ErrUploadFailed)
}
