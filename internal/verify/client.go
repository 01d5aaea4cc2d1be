package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const maxBody = 1 << 20

// Health is the liveness payload.
type Health struct {
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	App           string         `json:"app,omitempty"`
	SchemaVersion any            `json:"schema_version,omitempty"`
	ClassMapping  map[string]int `json:"class_mapping,omitempty"`
}

// Prediction is the predict payload.
type Prediction struct {
	Label       string   `json:"label"`
	Probability *float64 `json:"probability"`
}

// Client wraps the workload HTTP API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a workload API client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Path, e.Code, e.Body)
}

// Health fetches the liveness endpoint. A 503 with a decodable body is
// returned as a StatusError alongside the decoded payload.
func (c *Client) Health(ctx context.Context, path string) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return Health{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, code, err := c.do(req)
	if err != nil {
		return Health{}, err
	}
	var h Health
	decodeErr := json.Unmarshal(body, &h)
	if code < 200 || code >= 300 {
		return h, &StatusError{Path: path, Code: code, Body: truncate(body)}
	}
	if decodeErr != nil {
		return Health{}, fmt.Errorf("%s: malformed response: %w", path, decodeErr)
	}
	return h, nil
}

// Predict posts one image as multipart field "file".
func (c *Client) Predict(ctx context.Context, path, filename, contentType string, image []byte) (Prediction, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return Prediction{}, fmt.Errorf("creating multipart part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return Prediction{}, fmt.Errorf("writing multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Prediction{}, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return Prediction{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	body, code, err := c.do(req)
	if err != nil {
		return Prediction{}, err
	}
	if code < 200 || code >= 300 {
		return Prediction{}, &StatusError{Path: path, Code: code, Body: truncate(body)}
	}
	var p Prediction
	if err := json.Unmarshal(body, &p); err != nil {
		return Prediction{}, fmt.Errorf("%s: malformed response: %w", path, err)
	}
	return p, nil
}

// Metrics fetches the metrics endpoint body.
func (c *Client) Metrics(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	body, code, err := c.do(req)
	if err != nil {
		return "", err
	}
	if code < 200 || code >= 300 {
		return "", &StatusError{Path: path, Code: code, Body: truncate(body)}
	}
	return string(body), nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading %s: %w", req.URL.Path, err)
	}
	return body, resp.StatusCode, nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
