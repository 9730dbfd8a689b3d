// Package stc implements the STC fleet-tracking vendor API client used to
// manage the driver lists stored on vehicle equipment.
package stc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
	"github.com/ahrav/stc-sync/pkg/common"
	"github.com/ahrav/stc-sync/pkg/common/logger"
)

// Vendor error codes that mean the key is wrong rather than the call.
const (
	codeMissingKey = "MISSING_KEY"
	codeInvalidKey = "INVALID_KEY"
)

const (
	listStatusReady   = "ready"
	listStatusPending = "pending"
)

// Config configures the vendor client.
type Config struct {
	BaseURL string
	// Timeout bounds every HTTP exchange, including commands issued on
	// behalf of a caller that already went away.
	Timeout time.Duration
	// RateLimit is the sustained requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
	// ReadRetries bounds the retries of a failed list read. Commands are never retried.
	ReadRetries     uint64
	ReadRetryWait   time.Duration
	MaxResponseSize int64
}

// DefaultConfig returns conservative defaults for the vendor API.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		RateLimit:       2,
		Burst:           4,
		ReadRetries:     3,
		ReadRetryWait:   500 * time.Millisecond,
		MaxResponseSize: 1 << 20,
	}
}

// Client talks to the STC vendor API. It is safe for concurrent use; the
// integration key travels with each call.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	cfg         Config

	metrics ClientMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

var _ domain.RemoteDeviceClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is still wrapped
// for tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records request metrics through m.
func WithMetrics(m ClientMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a vendor API client.
func NewClient(cfg Config, logger *logger.Logger, tracer trace.Tracer, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid STC base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid STC base url %q: scheme and host are required", cfg.BaseURL)
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = DefaultConfig().MaxResponseSize
	}

	c := &Client{
		baseURL:     base,
		httpClient:  &http.Client{},
		rateLimiter: common.NewRateLimiter(cfg.RateLimit, cfg.Burst),
		cfg:         cfg,
		metrics:     noopMetrics{},
		logger:      logger.With("component", "stc_client"),
		tracer:      tracer,
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := c.httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	c.httpClient = &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   cfg.Timeout,
	}
	return c, nil
}

// envelope is carried by every vendor response.
type envelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type listResponse struct {
	envelope
	Status  string `json:"status"`
	Drivers []struct {
		ID      int64 `json:"id"`
		Enabled bool  `json:"enabled"`
	} `json:"drivers"`
}

type addRequest struct {
	DriverID int64 `json:"driver_id"`
}

// RequestPendingDriverIDs asks the equipment to transmit its driver list.
func (c *Client) RequestPendingDriverIDs(ctx context.Context, device domain.DeviceID, key domain.IntegrationKey) error {
	path := fmt.Sprintf("/equipment/%d/drivers/transmission", device)
	var resp envelope
	return c.do(ctx, domain.OpRequestDrivers, device, key, http.MethodPost, path, nil, &resp)
}

// ListEnabledDriverIDs returns the enabled drivers of the last transmission.
// Transport failures are retried a bounded number of times.
func (c *Client) ListEnabledDriverIDs(
	ctx context.Context,
	device domain.DeviceID,
	key domain.IntegrationKey,
) (domain.DriverListing, error) {
	path := fmt.Sprintf("/equipment/%d/drivers", device)
	op := domain.OpListDrivers

	var resp listResponse
	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			c.metrics.IncRetries(op)
		}
		resp = listResponse{}
		err := c.do(ctx, op, device, key, http.MethodGet, path, nil, &resp)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.cfg.ReadRetryWait
	b := backoff.WithContext(backoff.WithMaxRetries(expBackoff, c.cfg.ReadRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return domain.DriverListing{}, err
	}

	switch resp.Status {
	case listStatusPending:
		return domain.DriverListing{}, domain.ErrNotReady
	case listStatusReady:
	default:
		return domain.DriverListing{}, &domain.ProtocolError{
			Op: op, DeviceID: device, Detail: fmt.Sprintf("unknown list status %q", resp.Status),
		}
	}

	listing := domain.DriverListing{IDs: make([]domain.DriverID, 0, len(resp.Drivers))}
	for _, d := range resp.Drivers {
		id := domain.DriverID(d.ID)
		if !id.Valid() {
			return domain.DriverListing{}, &domain.ProtocolError{
				Op: op, DeviceID: device, Detail: fmt.Sprintf("invalid driver id %d", d.ID),
			}
		}
		if d.Enabled {
			listing.IDs = append(listing.IDs, id)
		}
	}
	return listing, nil
}

// AddDriverID stores a driver on the equipment. It is sent at most once.
func (c *Client) AddDriverID(ctx context.Context, device domain.DeviceID, key domain.IntegrationKey, driver domain.DriverID) error {
	body, err := json.Marshal(addRequest{DriverID: int64(driver)})
	if err != nil {
		return fmt.Errorf("failed to marshal add driver request: %w", err)
	}
	path := fmt.Sprintf("/equipment/%d/drivers", device)
	var resp envelope
	return c.do(ctx, domain.OpAddDriver, device, key, http.MethodPost, path, body, &resp)
}

// DeleteDriverID removes a driver from the equipment. It is sent at most once.
func (c *Client) DeleteDriverID(ctx context.Context, device domain.DeviceID, key domain.IntegrationKey, driver domain.DriverID) error {
	path := fmt.Sprintf("/equipment/%d/drivers/%s", device, strconv.FormatInt(int64(driver), 10))
	var resp envelope
	return c.do(ctx, domain.OpDeleteDriver, device, key, http.MethodDelete, path, nil, &resp)
}

// enveloped is implemented by every response type.
type enveloped interface {
	env() envelope
}

func (e *envelope) env() envelope { return *e }

// do performs one HTTP exchange and maps failures to the domain error taxonomy.
func (c *Client) do(
	ctx context.Context,
	op string,
	device domain.DeviceID,
	key domain.IntegrationKey,
	method, path string,
	body []byte,
	out enveloped,
) (err error) {
	ctx, span := c.tracer.Start(ctx, "stc_client."+strings.ReplaceAll(op, " ", "_"),
		trace.WithAttributes(
			attribute.Int64("device_id", int64(device)),
			attribute.String("http.method", method),
			attribute.String("path", path),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		c.metrics.ObserveRequest(op, outcome(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stc request failed")
		}
	}()

	if key.IsZero() {
		return &domain.ConfigurationError{Reason: "the integration key is missing", Err: domain.ErrKeyNotConfigured}
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return &domain.TransportError{Op: op, DeviceID: device, Err: fmt.Errorf("rate limiter wait failed: %w", err)}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("X-Api-Key", key.Value())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, DeviceID: device, Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseSize))
	if err != nil {
		return &domain.TransportError{Op: op, DeviceID: device, StatusCode: resp.StatusCode, Err: err}
	}

	// The envelope code wins over the status when it names a key problem.
	var env envelope
	_ = json.Unmarshal(data, &env)
	if isKeyError(resp.StatusCode, env.Code) {
		if env.Code == codeMissingKey {
			return &domain.ConfigurationError{
				Reason: "the STC service reports the integration key is missing",
				Err:    domain.ErrKeyNotConfigured,
			}
		}
		return domain.NewConfigurationError("the STC service rejected the integration key (%s)", resp.Status)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.TransportError{
			Op:         op,
			DeviceID:   device,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s: %s", resp.Status, truncate(string(data), 256)),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &domain.ProtocolError{Op: op, DeviceID: device, Detail: fmt.Sprintf("undecodable response: %v", err)}
	}
	if e := out.env(); !e.Success {
		return &domain.ProtocolError{
			Op: op, DeviceID: device, Detail: fmt.Sprintf("vendor reported failure %s: %s", e.Code, e.Message),
		}
	}

	c.logger.Debug(ctx, "STC request completed", "operation", op, "device_id", int64(device), "status", resp.StatusCode)
	return nil
}

func isKeyError(status int, code string) bool {
	return code == codeMissingKey || code == codeInvalidKey ||
		status == http.StatusUnauthorized || status == http.StatusForbidden
}

// retryable reports whether a failed read may be attempted again: the
// request never got an answer or the vendor failed on its side.
func retryable(err error) bool {
	var transErr *domain.TransportError
	if !errors.As(err, &transErr) {
		return false
	}
	return transErr.StatusCode == 0 || transErr.StatusCode >= http.StatusInternalServerError
}

func outcome(err error) string {
	var (
		cfgErr   *domain.ConfigurationError
		transErr *domain.TransportError
		protoErr *domain.ProtocolError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &cfgErr):
		return "configuration_error"
	case errors.As(err, &transErr):
		return "transport_error"
	case errors.As(err, &protoErr):
		return "protocol_error"
	default:
		return "error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
