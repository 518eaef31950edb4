package api

import "github.com/rickgao/tradestream/internal/model"

// StatusResponse from GET /status
type StatusResponse struct {
	Status model.ServiceStatus `json:"status"`
}

// OrdersResponse from GET /orders
type OrdersResponse struct {
	Orders []model.Order `json:"orders"`
	Cursor string        `json:"cursor"`
}

// SingleOrderResponse from GET /orders/{id} and DELETE /orders/{id}
type SingleOrderResponse struct {
	Order model.Order `json:"order"`
}

// StrategiesResponse from GET /strategies
type StrategiesResponse struct {
	Strategies []model.Strategy `json:"strategies"`
}

// ListOrdersOptions filters GET /orders.
type ListOrdersOptions struct {
	Limit      int
	Cursor     string
	Symbol     string
	Status     model.OrderStatus
	StrategyID string
}
