package specialist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
)

const (
	maxResponseBytes   = 2 << 20
	healthProbeTimeout = 5 * time.Second
)

type Config struct {
	OrderURL           string        `envconfig:"ORDER_URL" split_words:"true" default:"http://localhost:8001/process"`
	ProductURL         string        `envconfig:"PRODUCT_URL" split_words:"true" default:"http://localhost:8002/recommend"`
	TroubleshootingURL string        `envconfig:"TROUBLESHOOTING_URL" split_words:"true" default:"http://localhost:8004/troubleshoot"`
	PersonalizationURL string        `envconfig:"PERSONALIZATION_URL" split_words:"true" default:"http://localhost:8003/personalize"`
	CallTimeout        time.Duration `envconfig:"CALL_TIMEOUT" split_words:"true" default:"30s"`
}

// Client posts request envelopes to the specialist services over HTTP. The
// endpoint table is fixed at construction; an empty URL removes the
// specialist from this deployment.
type Client struct {
	endpoints   map[contractx.Specialist]string
	callTimeout time.Duration
	httpClient  *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the transport, e.g. with a test client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		endpoints:   make(map[contractx.Specialist]string, 4),
		callTimeout: timeout,
		httpClient:  &http.Client{Timeout: timeout},
	}

	entries := []struct {
		id  contractx.Specialist
		raw string
	}{
		{contractx.SpecialistOrder, cfg.OrderURL},
		{contractx.SpecialistProduct, cfg.ProductURL},
		{contractx.SpecialistTroubleshooting, cfg.TroubleshootingURL},
		{contractx.SpecialistPersonalization, cfg.PersonalizationURL},
	}
	for _, e := range entries {
		endpoint := strings.TrimSpace(e.raw)
		if endpoint == "" {
			continue
		}
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return nil, fmt.Errorf("%w: %s endpoint: %v", contractx.ErrValidation, e.id, err)
		}
		c.endpoints[e.id] = strings.TrimRight(endpoint, "/")
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func MustNew(cfg Config, opts ...Option) *Client {
	c, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Call posts the envelope to the specialist and returns the raw response
// body. Transport failures, timeouts and non-2xx statuses come back wrapped
// in ErrSpecialist.
func (c *Client) Call(ctx context.Context, id contractx.Specialist, env contractx.Envelope) (string, error) {
	endpoint, ok := c.endpoints[id]
	if !ok {
		return "", fmt.Errorf("%w: %s: no endpoint configured", contractx.ErrSpecialist, id)
	}

	payload, err := json.Marshal(buildPayload(id, env))
	if err != nil {
		return "", fmt.Errorf("%w: %s: encode envelope: %v", contractx.ErrSpecialist, id, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %s: build request: %v", contractx.ErrSpecialist, id, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", contractx.ErrSpecialist, id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %s: read response: %v", contractx.ErrSpecialist, id, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s: status %d: %s", contractx.ErrSpecialist, id, resp.StatusCode, truncate(string(body), 256))
	}
	return string(body), nil
}

// Health probes every configured specialist's /health endpoint concurrently.
// A nil map value means the specialist answered.
func (c *Client) Health(ctx context.Context) map[contractx.Specialist]error {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	var mu sync.Mutex
	statuses := make(map[contractx.Specialist]error, len(c.endpoints))

	g, probeCtx := errgroup.WithContext(probeCtx)
	for id, endpoint := range c.endpoints {
		g.Go(func() error {
			err := c.probe(probeCtx, endpoint)
			mu.Lock()
			statuses[id] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}

func (c *Client) probe(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(endpoint), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// buildPayload copies the envelope, mirroring the customer message into the
// query alias for the specialists that read it.
func buildPayload(id contractx.Specialist, env contractx.Envelope) contractx.Envelope {
	switch id {
	case contractx.SpecialistTroubleshooting, contractx.SpecialistPersonalization:
		env.Query = env.CustomerMessage
	}
	return env
}

func healthURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint + "/health"
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
