// Package remote implements the backend store adapter for project state.
//
// The backend exposes workspace state as a single opaque project_state field
// on the project record: GET /projects/{id} returns it, PUT /projects/{id}
// replaces it. The adapter treats any non-success response as a failure and
// never interprets the state payload.
package remote

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

// defaultTimeout bounds a single request; the engine does not retry.
const defaultTimeout = 10 * time.Second

// Store reads and writes the opaque state field on a project record.
type Store interface {
	// Get returns the raw project_state for the project. An empty or null
	// field is returned as-is; interpreting it is the caller's concern.
	Get(ctx context.Context, projectID int64) (json.RawMessage, error)

	// Put replaces the project_state for the project.
	Put(ctx context.Context, projectID int64, state json.RawMessage) error
}

// Client is the HTTP implementation of Store.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the given API base URL. The token is sent
// as a bearer credential when non-empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   token,
		http: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// projectRecord is the subset of the project payload the adapter reads.
type projectRecord struct {
	ProjectState json.RawMessage `json:"project_state"`
}

// Get fetches the project record and extracts its project_state field.
func (c *Client) Get(ctx context.Context, projectID int64) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/projects/%d", c.baseURL, projectID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendRead, err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendRead, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: GET %s returned %s", ErrBackendRead, url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendRead, err)
	}

	var record projectRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("%w: malformed project record: %v", ErrBackendRead, err)
	}

	return record.ProjectState, nil
}

// Put replaces the project_state field on the project record.
func (c *Client) Put(ctx context.Context, projectID int64, state json.RawMessage) error {
	url := fmt.Sprintf("%s/projects/%d", c.baseURL, projectID)

	payload, err := json.Marshal(projectRecord{ProjectState: state})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendWrite, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendWrite, err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendWrite, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: PUT %s returned %s", ErrBackendWrite, url, resp.Status)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
