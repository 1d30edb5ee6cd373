package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/retry"
)

// DefaultTimeout bounds a single facilitator call.
const DefaultTimeout = 10 * time.Second

// maxResponseSize caps how much of a facilitator response is read.
const maxResponseSize = 1 << 20

// Client is an HTTP facilitator client.
type Client struct {
	BaseURL string
	Client  *http.Client

	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration

	// Authorization is a static Authorization header value (e.g., "Bearer xyz").
	Authorization string

	// AuthorizationProvider computes the header per request and wins over Authorization.
	AuthorizationProvider func(*http.Request) string

	// SendExpectations adds expectedPayTo/expectedAsset to verify requests.
	SendExpectations bool

	// ProbeRetry controls retries of Supported. Verify is never retried.
	ProbeRetry retry.Config

	Logger *slog.Logger
}

var _ Interface = (*Client)(nil)

// NewClient returns a client for baseURL with default timeouts.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{},
		Timeout: DefaultTimeout,
		ProbeRetry: retry.Config{
			MaxAttempts:  2,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2,
		},
	}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c *Client) authorize(req *http.Request) {
	if c.AuthorizationProvider != nil {
		if v := c.AuthorizationProvider(req); v != "" {
			req.Header.Set("Authorization", v)
		}
		return
	}
	if c.Authorization != "" {
		req.Header.Set("Authorization", c.Authorization)
	}
}

// Verify posts the raw payment header and requirement to {BaseURL}/verify.
//
// Transport failures and timeouts wrap gateway.ErrFacilitatorUnavailable. A non-200 status or
// an undecodable body wraps gateway.ErrVerificationFailed.
func (c *Client) Verify(ctx context.Context, paymentHeader string, requirement gateway.PaymentRequirement) (*VerifyResponse, error) {
	body := VerifyRequest{
		PaymentHeader:       paymentHeader,
		PaymentRequirements: requirement,
	}
	if c.SendExpectations {
		body.ExpectedPayTo = requirement.PayTo
		body.ExpectedAsset = requirement.Asset
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/verify", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", gateway.ErrFacilitatorUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger().Debug("facilitator verify returned error status",
			"url", c.BaseURL, "status", resp.StatusCode, "body", truncate(raw, 256))
		return nil, fmt.Errorf("%w: status %d", gateway.ErrVerificationFailed, resp.StatusCode)
	}

	var verifyResp VerifyResponse
	if err := json.Unmarshal(raw, &verifyResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode verify response: %v", gateway.ErrVerificationFailed, err)
	}

	return &verifyResp, nil
}

// Supported queries {BaseURL}/supported. It doubles as the facilitator health probe.
func (c *Client) Supported(ctx context.Context) (*SupportedResponse, error) {
	return retry.WithRetry(ctx, c.ProbeRetry, isTransient, func(ctx context.Context) (*SupportedResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout())
		defer cancel()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/supported", nil)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		c.authorize(httpReq)

		resp, err := c.httpClient().Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrFacilitatorUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("supported endpoint failed: status %d", resp.StatusCode)
		}

		var supportedResp SupportedResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&supportedResp); err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to decode supported response: %w", err))
		}
		return &supportedResp, nil
	})
}

func isTransient(err error) bool {
	return errors.Is(err, gateway.ErrFacilitatorUnavailable)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
