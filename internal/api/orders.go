package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/rickgao/tradestream/internal/model"
)

// maxPageSize is the largest page the backend serves.
const maxPageSize = 500

// ListOrders fetches a page of orders.
func (c *Client) ListOrders(ctx context.Context, opts ListOrdersOptions) (*OrdersResponse, error) {
	query := url.Values{}

	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if opts.Symbol != "" {
		query.Set("symbol", opts.Symbol)
	}
	if opts.Status != "" {
		query.Set("status", string(opts.Status))
	}
	if opts.StrategyID != "" {
		query.Set("strategy_id", opts.StrategyID)
	}

	var resp OrdersResponse
	if err := c.get(ctx, "/orders", query, &resp); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return &resp, nil
}

// ListAllOrders pages through every order matching opts.
func (c *Client) ListAllOrders(ctx context.Context, opts ListOrdersOptions) ([]model.Order, error) {
	var all []model.Order
	opts.Limit = maxPageSize
	opts.Cursor = ""

	for {
		resp, err := c.ListOrders(ctx, opts)
		if err != nil {
			return nil, err
		}

		all = append(all, resp.Orders...)

		if resp.Cursor == "" || len(resp.Orders) == 0 {
			break
		}
		opts.Cursor = resp.Cursor
	}

	return all, nil
}

// GetOrder fetches a single order.
func (c *Client) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var resp SingleOrderResponse
	if err := c.get(ctx, "/orders/"+id.String(), nil, &resp); err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &resp.Order, nil
}

// CancelOrder requests cancellation and returns the order as the backend
// reports it afterwards.
func (c *Client) CancelOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("cancel order: %w", errNilID)
	}
	var resp SingleOrderResponse
	if err := c.do(ctx, http.MethodDelete, "/orders/"+id.String(), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", id, err)
	}
	return &resp.Order, nil
}
