package codespaces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/seantiz/stoker/internal/model"
)

// DefaultBaseURL is the provider API root.
const DefaultBaseURL = "https://api.github.com"

const (
	acceptHeader   = "application/vnd.github+json"
	apiVersion     = "2022-11-28"
	requestTimeout = 15 * time.Second
)

// APIError is a non-2xx response from the provider API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider API error %d", e.StatusCode)
	}
	return fmt.Sprintf("provider API error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the provider codespace API on behalf of one account token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client against the public provider API.
func New(token string) *Client {
	return NewWithBaseURL(DefaultBaseURL, token)
}

// NewWithBaseURL creates a client against an explicit API root. Tests point
// this at httptest servers.
func NewWithBaseURL(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// CreateOptions are the parameters for creating a codespace. Zero-valued
// fields are filled with configured defaults by the caller.
type CreateOptions struct {
	Repository         string `json:"-"`
	Ref                string `json:"ref"`
	Machine            string `json:"machine"`
	Location           string `json:"location"`
	IdleTimeoutMinutes int    `json:"idle_timeout_minutes"`
}

// User fetches the authenticated user, validating the token in the process.
func (c *Client) User(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodGet, "/user", nil, nil, &u); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// List returns all codespaces owned by the authenticated user.
func (c *Client) List(ctx context.Context) ([]model.Codespace, error) {
	var resp struct {
		Codespaces []model.Codespace `json:"codespaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/user/codespaces", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("list codespaces: %w", err)
	}
	return resp.Codespaces, nil
}

// Get fetches a single codespace by name.
func (c *Client) Get(ctx context.Context, name string) (*model.Codespace, error) {
	var cs model.Codespace
	path := "/user/codespaces/" + url.PathEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &cs); err != nil {
		return nil, fmt.Errorf("get codespace %s: %w", name, err)
	}
	return &cs, nil
}

// Create provisions a new codespace on the given repository.
func (c *Client) Create(ctx context.Context, opts CreateOptions) (*model.Codespace, error) {
	var cs model.Codespace
	path := "/repos/" + opts.Repository + "/codespaces"
	if err := c.do(ctx, http.MethodPost, path, nil, opts, &cs); err != nil {
		return nil, fmt.Errorf("create codespace: %w", err)
	}
	return &cs, nil
}

// Start starts a stopped codespace.
func (c *Client) Start(ctx context.Context, name string) (*model.Codespace, error) {
	var cs model.Codespace
	path := "/user/codespaces/" + url.PathEscape(name) + "/start"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &cs); err != nil {
		return nil, fmt.Errorf("start codespace %s: %w", name, err)
	}
	return &cs, nil
}

// Stop stops a running codespace.
func (c *Client) Stop(ctx context.Context, name string) (*model.Codespace, error) {
	var cs model.Codespace
	path := "/user/codespaces/" + url.PathEscape(name) + "/stop"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &cs); err != nil {
		return nil, fmt.Errorf("stop codespace %s: %w", name, err)
	}
	return &cs, nil
}

// Delete removes a codespace entirely.
func (c *Client) Delete(ctx context.Context, name string) error {
	path := "/user/codespaces/" + url.PathEscape(name)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("delete codespace %s: %w", name, err)
	}
	return nil
}

// Machines lists the machine types available for a repository at a ref.
func (c *Client) Machines(ctx context.Context, repository, ref string) ([]model.Machine, error) {
	var resp struct {
		Machines []model.Machine `json:"machines"`
	}
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}
	path := "/repos/" + repository + "/codespaces/machines"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	return resp.Machines, nil
}

// do performs one API round trip: auth headers, optional JSON body, status
// check, optional JSON decode into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError builds an *APIError from an error response, picking up the
// provider's "message" field when the body is JSON.
func apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return apiErr
	}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
		apiErr.Message = payload.Message
	}
	return apiErr
}
