package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fastdl4u/fastdl/catalog"
	"github.com/fastdl4u/fastdl/metrics"
)

var ErrUploadFailed = errors.New("upload failed")

const DefaultTimeout = 30 * time.Minute

// Result is where an uploaded file can be reached from now on.
type Result struct {
	URL  string
	ID   string
	Name string
	Size int64
}

// Client uploads files to gofile. One attempt per call, no retries.
type Client struct {
	BaseURL string
	Token   string
	// Folder to upload into, per category. Missing means the host decides.
	Folders map[catalog.Category]string
	HTTP    *http.Client
}

func NewClient(baseURL, token string, folders map[catalog.Category]string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Folders: folders,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
	}
}

type uploadResponse struct {
	Status string `json:"status"`
	Data   struct {
		DownloadPage string `json:"downloadPage"`
		FileID       string `json:"fileId"`
		ID           string `json:"id"`
		FileName     string `json:"fileName"`
		Name         string `json:"name"`
	} `json:"data"`
}

// Upload streams the file at path to the host. It never touches the
// catalog; inserting the record is up to the caller.
func (c *Client) Upload(ctx context.Context, path string, category catalog.Category) (*Result, error) {
	res, err := c.upload(ctx, path, category)
	metrics.Uploads.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	log.Info().Str("path", path).Str("file_id", res.ID).Str("url", res.URL).
		Int64("size", res.Size).Msg("uploaded")
	return res, nil
}

func (c *Client) upload(ctx context.Context, path string, category catalog.Category) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if folder := c.Folders[category]; folder != "" {
				if err := mw.WriteField("folderId", folder); err != nil {
					return err
				}
			}
			part, err := mw.CreateFormFile("file", filepath.Base(path))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/uploadFile", pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	defer resp.Body.Close()

	var body uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("http %d: decode response: %w", resp.StatusCode, err)
	}
	if body.Status != "ok" {
		return nil, fmt.Errorf("http %d: status %q", resp.StatusCode, body.Status)
	}

	id := body.Data.FileID
	if id == "" {
		id = body.Data.ID
	}
	if id == "" || body.Data.DownloadPage == "" {
		return nil, errors.New("response without file id or download page")
	}
	name := body.Data.FileName
	if name == "" {
		name = body.Data.Name
	}
	if name == "" {
		name = filepath.Base(path)
	}

	return &Result{
		URL:  body.Data.DownloadPage,
		ID:   id,
		Name: name,
		Size: st.Size(),
	}, nil
}
