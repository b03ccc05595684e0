// Package docpipeline is the HTTP client for the external document pipeline,
// the service that extracts text from stored files and maintains the
// per-corpus search index.
package docpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docchat/docchat-go/internal/domain/model"
	apperrors "github.com/docchat/docchat-go/internal/errors"
)

const maxErrorBodyBytes = 512

// Config captures the subset of pipeline behaviour the job core needs.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

// Client talks to the document pipeline service. It implements
// core.DocumentPipeline.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient builds a pipeline client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("pipeline base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid pipeline base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: baseURL,
		client:  hc,
	}, nil
}

type extractRequest struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	RagType    string `json:"ragType"`
	FilePath   string `json:"filePath"`
	FileType   string `json:"fileType"`
}

type extractResponse struct {
	Text string `json:"text"`
}

type upsertRequest struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	RagType    string `json:"ragType"`
	Text       string `json:"text"`
}

// ExtractText asks the pipeline to pull the text out of a stored file.
func (c *Client) ExtractText(ctx context.Context, doc *model.Document) (string, error) {
	body, err := json.Marshal(extractRequest{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		RagType:    string(doc.RagType),
		FilePath:   doc.FilePath,
		FileType:   doc.FileType,
	})
	if err != nil {
		return "", fmt.Errorf("encode extract request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/extract", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "extract"); err != nil {
		return "", err
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode extract response: %w", err)
	}
	return out.Text, nil
}

// UpsertDocument replaces the indexed content for the given document key.
func (c *Client) UpsertDocument(ctx context.Context, key model.DocumentKey, text string) error {
	body, err := json.Marshal(upsertRequest{
		DocumentID: key.DocumentID,
		UserID:     key.UserID,
		RagType:    string(key.RagType),
		Text:       text,
	})
	if err != nil {
		return fmt.Errorf("encode upsert request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPut, "/v1/documents", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "upsert"); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// DeleteDocument removes the document from the index. A missing document is
// treated as already deleted.
func (c *Client) DeleteDocument(ctx context.Context, key model.DocumentKey) error {
	path := fmt.Sprintf("/v1/documents/%s?%s", url.PathEscape(key.DocumentID), url.Values{
		"userId":  {key.UserID},
		"ragType": {string(key.RagType)},
	}.Encode())

	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := checkStatus(resp, "delete"); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create pipeline request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline request failed: %w", err)
	}
	return resp, nil
}

// checkStatus converts a non-2xx response into an error. Client errors are
// non-retryable: the pipeline rejected the request itself, so replaying it
// cannot succeed.
func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	msg := fmt.Sprintf("pipeline %s returned status %d: %s",
		op, resp.StatusCode, strings.TrimSpace(string(snippet)))

	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return apperrors.NonRetryable(msg)
	}
	return errors.New(msg)
}
