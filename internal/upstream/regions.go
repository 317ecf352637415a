package upstream

import (
	"context"
	"net/http"
	"net/url"

	"region-sync/internal/model"
)

// 所有返回的区域都已经过边界归一化；单个区域损坏不会导致整批失败

func (c *Client) regionList(ctx context.Context, op, method, path string, q url.Values) ([]model.Region, error) {
	var out []model.Region
	err := c.call(ctx, op, method, path, q, func(b []byte) error {
		rs, err := c.norm.DecodeRegions(b)
		out = rs
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Region{}
	}
	return out, nil
}

func (c *Client) region(ctx context.Context, op, method, path string) (model.Region, error) {
	var out model.Region
	err := c.call(ctx, op, method, path, nil, func(b []byte) error {
		r, err := c.norm.DecodeRegion(b)
		out = r
		return err
	})
	return out, err
}

func (c *Client) AllRegions(ctx context.Context) ([]model.Region, error) {
	return c.regionList(ctx, "regions_all", http.MethodGet, "/regions", nil)
}

// RegionsByType：某一层级的全部区域（导航顶层集合）
func (c *Client) RegionsByType(ctx context.Context, t model.RegionType) ([]model.Region, error) {
	return c.regionList(ctx, "regions_by_type", http.MethodGet, "/regions/type/"+seg(string(t)), nil)
}

// SubRegions：直接下级区域
func (c *Client) SubRegions(ctx context.Context, parentID string) ([]model.Region, error) {
	return c.regionList(ctx, "regions_by_parent", http.MethodGet, "/regions/parent/"+seg(parentID), nil)
}

func (c *Client) RegionByID(ctx context.Context, id string) (model.Region, error) {
	return c.region(ctx, "region_by_id", http.MethodGet, "/regions/"+seg(id))
}

// RegionsContaining：包含给定点的区域（各层级）
func (c *Client) RegionsContaining(ctx context.Context, loc model.GeoLocation) ([]model.Region, error) {
	q := url.Values{}
	q.Set("latitude", ftoa(loc.Latitude))
	q.Set("longitude", ftoa(loc.Longitude))
	return c.regionList(ctx, "regions_containing", http.MethodGet, "/regions/containing", q)
}

func (c *Client) LowRatedRegions(ctx context.Context, threshold float64) ([]model.Region, error) {
	q := url.Values{}
	q.Set("threshold", ftoa(threshold))
	return c.regionList(ctx, "regions_low_rated", http.MethodGet, "/regions/low-rated", q)
}

func (c *Client) RegionsUnderThreat(ctx context.Context, t model.RegionType) ([]model.Region, error) {
	return c.regionList(ctx, "regions_under_threat", http.MethodGet, "/regions/under-threat/"+seg(string(t)), nil)
}

// RefreshStatistics：让后端重算单个区域的统计并返回结果
func (c *Client) RefreshStatistics(ctx context.Context, id string) (model.Region, error) {
	return c.region(ctx, "region_refresh_stats", http.MethodPut, "/regions/"+seg(id)+"/statistics")
}

// RefreshAllStatistics：全量重算，在拉取顶层集合之前调用
func (c *Client) RefreshAllStatistics(ctx context.Context) error {
	return c.call(ctx, "regions_refresh_stats_all", http.MethodPut, "/regions/statistics/all", nil, nil)
}

// EliminatedUsers：区域内已被清除的用户
func (c *Client) EliminatedUsers(ctx context.Context, regionID string) ([]model.User, error) {
	var out []model.User
	if err := c.getJSON(ctx, "region_eliminated_users", "/regions/"+seg(regionID)+"/eliminated-users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
