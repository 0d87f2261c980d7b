package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API is the hosted job API.
type API interface {
	Create(ctx context.Context, token string, s Settings) (string, error)
	Query(ctx context.Context, token, taskID string) (*TaskStatus, error)
}

// TaskStatus is a job status response.
type TaskStatus struct {
	Status    string `json:"status"`
	OutputURL string `json:"outputUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

type createResponse struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

type ClientConfig struct {
	BaseURL    string
	CreatePath string
	QueryPath  string
	Timeout    time.Duration
}

// Client talks to the job creation and job status endpoints.
type Client struct {
	http      *http.Client
	createURL string
	queryURL  string
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	base := strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		createURL: base + "/" + strings.TrimLeft(cfg.CreatePath, "/"),
		queryURL:  base + "/" + strings.TrimLeft(cfg.QueryPath, "/"),
	}
}

func (c *Client) do(req *http.Request, token string, out any) (int, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body, %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response body, %w", err)
	}

	return resp.StatusCode, nil
}

func ok(code int) bool {
	return code >= 200 && code < 300
}

// Create submits a job and returns its task ID.
func (c *Client) Create(ctx context.Context, token string, s Settings) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", &Error{Kind: KindValidation, Message: "Failed to start generation", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.createURL, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: "Failed to start generation", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var res createResponse
	code, err := c.do(req, token, &res)

	switch {
	case code == 0:
		return "", &Error{Kind: KindTransport, Message: "Failed to start generation", Err: err}
	case !ok(code):
		msg := res.Error
		if msg == "" {
			msg = "Failed to start generation"
		}
		return "", &Error{Kind: KindTransport, Message: msg, Err: fmt.Errorf("status %d", code)}
	case err != nil:
		return "", &Error{Kind: KindProtocol, Message: "Task ID missing from server response", Err: err}
	case res.TaskID == "":
		return "", &Error{Kind: KindProtocol, Message: "Task ID missing from server response"}
	}

	return res.TaskID, nil
}

// Query fetches the status of a job.
func (c *Client) Query(ctx context.Context, token, taskID string) (*TaskStatus, error) {
	u := c.queryURL + "?taskId=" + url.QueryEscape(taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "Failed to fetch status", Err: err}
	}

	var res TaskStatus
	code, err := c.do(req, token, &res)

	switch {
	case code == 0:
		return nil, &Error{Kind: KindTransport, Message: "Failed to fetch status", Err: err}
	case !ok(code):
		msg := res.Error
		if msg == "" {
			msg = "Failed to fetch status"
		}
		return nil, &Error{Kind: KindTransport, Message: msg, Err: fmt.Errorf("status %d", code)}
	case err != nil:
		return nil, &Error{Kind: KindProtocol, Message: "Failed to fetch status", Err: err}
	}

	return &res, nil
}
