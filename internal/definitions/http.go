package definitions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"workflow-suite/core/pkg/models"
)

// HTTPConfig configures an HTTPAccessor.
type HTTPConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int

	// Client credentials for service-to-service calls. Left empty, requests
	// are sent without an Authorization header.
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// Transport overrides http.DefaultTransport.
	Transport http.RoundTripper
}

// HTTPAccessor is an HTTP implementation of the Accessor interface.
type HTTPAccessor struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPAccessor creates a new HTTPAccessor.
func NewHTTPAccessor(cfg HTTPConfig) *HTTPAccessor {
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	var transport http.RoundTripper = &retryTransport{next: base, maxRetries: cfg.MaxRetries}
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: base})
		transport = &oauth2.Transport{Source: cc.TokenSource(tokenCtx), Base: transport}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPAccessor{
		baseURL: cfg.BaseURL,
		timeout: timeout,
		client:  &http.Client{Transport: transport},
	}
}

type definitionResponse struct {
	ID     string                  `json:"id"`
	Name   string                  `json:"name"`
	Status models.DefinitionStatus `json:"status"`
	Steps  []models.Step           `json:"steps"`
}

// GetDefinition fetches a definition from GET {base}/api/v1/definitions/{id}.
func (c *HTTPAccessor) GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/definitions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to make request: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: definition %s: status code %d", ErrUnavailable, id, resp.StatusCode)
	}

	var body definitionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response body: %w", ErrUnavailable, err)
	}
	def := &models.WorkflowDefinition{ID: body.ID, Name: body.Name, Status: body.Status, Steps: body.Steps}
	if def.ID == "" {
		def.ID = id
	}
	if err := validate(def); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return def, nil
}

// retryTransport retries idempotent requests on transport errors and 5xx
// responses with exponential backoff.
type retryTransport struct {
	next       http.RoundTripper
	maxRetries int
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.maxRetries <= 0 || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
		return t.next.RoundTrip(req)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(t.maxRetries)), req.Context())

	var resp *http.Response
	err := backoff.Retry(func() error {
		if resp != nil {
			resp.Body.Close()
			resp = nil
		}
		r, err := t.next.RoundTrip(req)
		if err != nil {
			if req.Context().Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		if r.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("server error: status code %d", r.StatusCode)
		}
		return nil
	}, b)
	if resp != nil {
		return resp, nil
	}
	return nil, err
}
