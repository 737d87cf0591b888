package coze

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// File is an uploaded platform file.
type File struct {
	ID        string `json:"id"`
	FileName  string `json:"file_name"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
}

// Upload stores a local file via POST /v1/files/upload and returns its id.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	file, err := c.UploadFile(ctx, path)
	if err != nil {
		return "", err
	}
	return file.ID, nil
}

// UploadFile is Upload returning the full file record.
func (c *Client) UploadFile(ctx context.Context, path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return File{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return File{}, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/files/upload", bytes.NewReader(body.Bytes()), writer.FormDataContentType())
	if err != nil {
		return File{}, &TransportError{Op: "upload", Err: err}
	}
	resp, err := c.send("upload", req)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()

	var out File
	if err := decodeEnvelope("upload", resp, &out); err != nil {
		return File{}, err
	}
	c.logger.Info("file uploaded", logFields("upload", resp)...)
	return out, nil
}
