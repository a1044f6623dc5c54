// Package cli provides the HTTP client and output formatting used by the tanya
// subcommands that talk to a running server.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/tanya/internal/models"
)

// DefaultServerURL is where client commands look for the server.
const DefaultServerURL = "http://localhost:8080"

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the tanya HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL. A zero timeout means none, which
// streaming requests need.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Status is the body of GET /api/v1/status.
type Status struct {
	Status          string                 `json:"status"`
	Version         string                 `json:"version"`
	Embedder        string                 `json:"embedder"`
	Generator       string                 `json:"generator"`
	VectorBackend   string                 `json:"vector_backend"`
	Documents       int64                  `json:"documents"`
	Chunks          int64                  `json:"chunks"`
	VectorIndexSize int                    `json:"vector_index_size"`
	KeywordChunks   uint64                 `json:"keyword_chunks"`
	Sessions        int                    `json:"sessions"`
	DiskUsageBytes  *int64                 `json:"disk_usage_bytes,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// Chat sends one message and returns the answered turn.
func (c *Client) Chat(ctx context.Context, sessionID, message string) (*models.AnsweredTurn, error) {
	var out models.AnsweredTurn
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/chat", chatRequest{SessionID: sessionID, Message: message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChatStream sends one message and calls onDelta for each part of the answer as the
// server streams it. It returns the answered turn from the final event.
func (c *Client) ChatStream(ctx context.Context, sessionID, message string, onDelta func(string)) (*models.AnsweredTurn, error) {
	body, err := json.Marshal(chatRequest{SessionID: sessionID, Message: message})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var turn *models.AnsweredTurn
	err = readEvents(resp.Body, func(event string, data []byte) error {
		switch event {
		case "delta":
			var d struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(data, &d); err != nil {
				return fmt.Errorf("decode delta: %w", err)
			}
			if onDelta != nil {
				onDelta(d.Text)
			}
		case "done":
			turn = &models.AnsweredTurn{}
			if err := json.Unmarshal(data, turn); err != nil {
				return fmt.Errorf("decode answer: %w", err)
			}
		case "error":
			apiErr := &APIError{StatusCode: resp.StatusCode}
			var body errorBody
			if err := json.Unmarshal(data, &body); err == nil {
				apiErr.Code, apiErr.Message = body.ErrorCode, body.Error
			}
			return apiErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if turn == nil {
		return nil, errors.New("stream ended without an answer")
	}
	return turn, nil
}

// readEvents parses a server-sent event stream, calling fn once per event.
func readEvents(r io.Reader, fn func(event string, data []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	var (
		event string
		data  []string
	)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event != "" || len(data) > 0 {
				if err := fn(event, []byte(strings.Join(data, "\n"))); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}

// Status returns the server status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload sends a file to the server for ingestion under id, or a server-assigned id
// when empty.
func (c *Client) Upload(ctx context.Context, path, id, title string) (*models.IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"id": id, "title": title, "source": path} {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/documents", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out models.IngestResult
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocument removes a document from the server.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/documents/"+url.PathEscape(id), nil, nil)
}

// WatchList returns the watched directories.
func (c *Client) WatchList(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/watch/directories", nil, &out); err != nil {
		return nil, err
	}
	return out.Directories, nil
}

// WatchAdd starts watching path and ingests the files already in it.
func (c *Client) WatchAdd(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/watch/directories", map[string]interface{}{"path": path, "sync": true}, nil)
}

// WatchRemove stops watching path.
func (c *Client) WatchRemove(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(path), nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type errorBody struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	var body errorBody
	if err := json.Unmarshal(b, &body); err == nil && body.Error != "" {
		apiErr.Code, apiErr.Message = body.ErrorCode, body.Error
	}
	return apiErr
}
