package staking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcfi/gateway"
)

// ServiceClient asks an external staking service for stake status.
//
// The service answers GET {BaseURL}/status?address=<addr> with a Status document.
type ServiceClient struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

var _ StatusProvider = (*ServiceClient)(nil)

// StakeStatus implements StatusProvider.
func (c *ServiceClient) StakeStatus(ctx context.Context, address string) (*Status, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	endpoint := strings.TrimSuffix(c.BaseURL, "/") + "/status?address=" + url.QueryEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrStakingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", gateway.ErrStakingUnavailable, resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode staking status: %w", err)
	}
	if status.Tier == "" {
		status.Tier = TierForStake(status.StakedUSDC).Name
	}
	return &status, nil
}
