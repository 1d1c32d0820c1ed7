package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
)

// HTTPConfig configures the HTTP gateway client.
type HTTPConfig struct {
	// BaseURL is the backend API root, e.g. https://pos.example.com/api.
	BaseURL string

	// RegisterID and RegisterSecret are the device credentials used to
	// obtain and refresh session tokens.
	RegisterID     string
	RegisterSecret string

	// Timeout bounds each request. Defaults to 15 seconds.
	Timeout time.Duration

	// Logger for client activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// HTTPClient implements Gateway over JSON/REST.
type HTTPClient struct {
	base   *url.URL
	httpc  *http.Client
	config HTTPConfig
	logger *log.Logger

	tokenMu sync.Mutex
	token   string
}

// NewHTTP creates an HTTP gateway client.
func NewHTTP(config HTTPConfig) (*HTTPClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[gateway] ", log.LstdFlags)
	}

	return &HTTPClient{
		base:   base,
		httpc:  &http.Client{Timeout: config.Timeout},
		config: config,
		logger: logger,
	}, nil
}

// endpoint joins the base URL with a path and query values.
func (c *HTTPClient) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path, _ = url.JoinPath(u.Path, path)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do issues a request with the session token, refreshing it and
// retrying exactly once on a 401.
func (c *HTTPClient) do(ctx context.Context, op, method, rawURL string, body []byte, out any) error {
	refreshed := false
	for {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build %s request: %w", op, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token := c.currentToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return &NetworkError{Op: op, Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if refreshed {
				return &AuthError{Op: op}
			}
			refreshed = true
			if err := c.refreshToken(ctx); err != nil {
				return err
			}
			continue

		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return ErrGone

		case resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return &NetworkError{Op: op, Err: fmt.Errorf("server returned %d", resp.StatusCode)}

		case resp.StatusCode >= 400:
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("gateway: %s: server returned %d: %s", op, resp.StatusCode, bytes.TrimSpace(data))
		}

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("gateway: %s: failed to decode response: %w", op, err)
		}
		return nil
	}
}

func (c *HTTPClient) currentToken() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.token
}

// refreshToken exchanges the device credentials for a fresh session
// token.
func (c *HTTPClient) refreshToken(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"register_id":     c.config.RegisterID,
		"register_secret": c.config.RegisterSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("v1/auth/session", nil), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &NetworkError{Op: "refresh token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &AuthError{Op: "refresh token"}
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode session token: %w", err)
	}

	c.tokenMu.Lock()
	c.token = result.Token
	c.tokenMu.Unlock()
	c.logger.Printf("Session token refreshed")
	return nil
}

// ListPage implements Gateway.ListPage.
func (c *HTTPClient) ListPage(ctx context.Context, entityType, cursor string, pageSize int, since time.Time) ([]Record, string, error) {
	query := url.Values{}
	query.Set("page_size", fmt.Sprintf("%d", pageSize))
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}

	var result struct {
		Records    []Record `json:"records"`
		NextCursor string   `json:"next_cursor"`
	}
	err := c.do(ctx, "list "+entityType, http.MethodGet,
		c.endpoint("v1/"+entityType, query), nil, &result)
	if err != nil {
		return nil, "", err
	}
	return result.Records, result.NextCursor, nil
}

// GetAtTime implements Gateway.GetAtTime.
func (c *HTTPClient) GetAtTime(ctx context.Context, entityType, id string, at time.Time) (*Record, error) {
	query := url.Values{}
	if !at.IsZero() {
		query.Set("at", at.UTC().Format(time.RFC3339))
	}

	var rec Record
	err := c.do(ctx, fmt.Sprintf("get %s/%s", entityType, id), http.MethodGet,
		c.endpoint("v1/"+entityType+"/"+url.PathEscape(id), query), nil, &rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PollChangeCount implements Gateway.PollChangeCount.
func (c *HTTPClient) PollChangeCount(ctx context.Context) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, "poll change count", http.MethodGet,
		c.endpoint("v1/changes/count", nil), nil, &result)
	if err != nil {
		return 0, err
	}
	return result.Count, nil
}

// FetchChanges implements Gateway.FetchChanges.
func (c *HTTPClient) FetchChanges(ctx context.Context) ([]Change, error) {
	var result struct {
		Changes []Change `json:"changes"`
	}
	err := c.do(ctx, "fetch changes", http.MethodGet,
		c.endpoint("v1/changes", nil), nil, &result)
	if err != nil {
		return nil, err
	}
	return result.Changes, nil
}

// Acknowledge implements Gateway.Acknowledge.
func (c *HTTPClient) Acknowledge(ctx context.Context, change Change, outcome Outcome) error {
	payload, err := json.Marshal(struct {
		Change  Change  `json:"change"`
		Outcome Outcome `json:"outcome"`
	}{change, outcome})
	if err != nil {
		return fmt.Errorf("failed to marshal acknowledgment: %w", err)
	}
	return c.do(ctx, "acknowledge change", http.MethodPost,
		c.endpoint("v1/changes/ack", nil), payload, nil)
}

// Probe implements Gateway.Probe.
func (c *HTTPClient) Probe(ctx context.Context) bool {
	err := c.do(ctx, "probe", http.MethodGet, c.endpoint("v1/ping", nil), nil, nil)
	return err == nil
}

// Push implements Gateway.Push.
func (c *HTTPClient) Push(ctx context.Context, rec OutboundRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound record: %w", err)
	}
	return c.do(ctx, "push "+rec.Kind, http.MethodPost,
		c.endpoint("v1/outbound", nil), payload, nil)
}
