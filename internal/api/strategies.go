package api

import (
	"context"
	"fmt"

	"github.com/rickgao/tradestream/internal/classify"
	"github.com/rickgao/tradestream/internal/model"
)

var errNilID = classify.Validation("id is required", nil)

// GetStatus fetches backend health.
func (c *Client) GetStatus(ctx context.Context) (*model.ServiceStatus, error) {
	var resp StatusResponse
	if err := c.get(ctx, "/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return &resp.Status, nil
}

// ListStrategies fetches every configured strategy.
func (c *Client) ListStrategies(ctx context.Context) ([]model.Strategy, error) {
	var resp StrategiesResponse
	if err := c.get(ctx, "/strategies", nil, &resp); err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	return resp.Strategies, nil
}
