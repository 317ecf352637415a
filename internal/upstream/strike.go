package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"region-sync/internal/model"
)

// LaunchStrike：请求对区域执行打击；资格判定由后端负责
func (c *Client) LaunchStrike(ctx context.Context, regionID string) error {
	return c.call(ctx, "strike_launch", http.MethodPost, "/government/deploy-oreshnik/"+seg(regionID), nil, nil)
}

func (c *Client) Depots(ctx context.Context) ([]model.SupplyDepot, error) {
	var out []model.SupplyDepot
	if err := c.getJSON(ctx, "supply_depots", "/missile-supply/depots", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Routes(ctx context.Context) ([]model.SupplyRoute, error) {
	var out []model.SupplyRoute
	if err := c.getJSON(ctx, "supply_routes", "/missile-supply/routes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OptimalRoute：最优路线由后端计算，逐跳内容原样返回
func (c *Client) OptimalRoute(ctx context.Context, fromDepotID, toDepotID string) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("fromDepotId", fromDepotID)
	q.Set("toDepotId", toDepotID)
	var out []json.RawMessage
	if err := c.getJSON(ctx, "supply_optimal_route", "/missile-supply/routes/optimal", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}
