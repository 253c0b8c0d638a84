// Package transfer moves snapshot blobs between the local store and the
// remote object store. The coordination service hands out time-limited
// locations; the actual transfers are plain PUT/GET against those URLs.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FileUploadType is the only storage backend the coordination service accepts.
const FileUploadType = "R2"

// ContentTypeJSON is the content type snapshot blobs travel as.
const ContentTypeJSON = "application/json"

// Client talks to the coordination service and the presigned locations it
// returns. It holds no persistent state; the embedded http.Client is reused
// purely as a connection-pooling optimization.
type Client struct {
	baseURL    string
	pass       string
	httpClient *http.Client
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL of the coordination service, without a trailing slash.
	BaseURL string
	// Pass is the shared-secret credential.
	Pass string
	// HTTPClient overrides the default client (30s timeout) when set.
	HTTPClient *http.Client
}

// NewClient returns a Client for the given coordination service.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("transfer: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: base, pass: cfg.Pass, httpClient: httpClient}, nil
}

type uploadLocationRequest struct {
	Pass           string `json:"pass"`
	FileUploadType string `json:"fileUploadType"`
	FileName       string `json:"fileName"`
	ContentType    string `json:"contentType"`
}

type downloadLocationRequest struct {
	Pass         string `json:"pass"`
	FileName     string `json:"fileName"`
	UploadedType string `json:"uploadedType"`
}

type locationResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// RequestUploadLocation asks the coordination service for a time-limited
// write location for the named object.
func (c *Client) RequestUploadLocation(ctx context.Context, fileName, contentType string) (string, error) {
	request := uploadLocationRequest{
		Pass:           c.pass,
		FileUploadType: FileUploadType,
		FileName:       fileName,
		ContentType:    contentType,
	}
	return c.requestLocation(ctx, "/file-upload", request, fileName)
}

// RequestDownloadLocation asks the coordination service for a time-limited
// read location for the named object. A missing object is a NotFoundError,
// distinct from generic upstream failures.
func (c *Client) RequestDownloadLocation(ctx context.Context, fileName string) (string, error) {
	request := downloadLocationRequest{
		Pass:         c.pass,
		FileName:     fileName,
		UploadedType: FileUploadType,
	}
	return c.requestLocation(ctx, "/file-retrieval", request, fileName)
}

func (c *Client) requestLocation(ctx context.Context, path string, payload interface{}, fileName string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", ContentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transfer: coordination request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded locationResponse
	responseBody, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(responseBody, &decoded)

	switch {
	case resp.StatusCode == http.StatusOK:
		if decoded.URL == "" {
			return "", &UpstreamError{StatusCode: resp.StatusCode, Message: "response carried no url"}
		}
		return decoded.URL, nil
	case resp.StatusCode == http.StatusForbidden:
		return "", &AuthError{Message: decoded.Error}
	case resp.StatusCode == http.StatusNotFound:
		return "", &NotFoundError{Name: fileName}
	case resp.StatusCode == http.StatusBadRequest:
		return "", &ValidationError{Message: decoded.Error}
	default:
		return "", &UpstreamError{StatusCode: resp.StatusCode, Message: decoded.Error}
	}
}

// Upload PUTs the blob to a previously issued write location.
func (c *Client) Upload(ctx context.Context, url string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transfer: upload failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransferError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

// Download GETs the blob from a previously issued read location.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transfer: download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Name: url}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransferError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transfer: reading download body: %w", err)
	}
	return data, nil
}
