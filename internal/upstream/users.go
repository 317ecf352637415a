package upstream

import (
	"context"
	"net/http"
	"net/url"

	"region-sync/internal/model"
)

func (c *Client) UserByID(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := c.getJSON(ctx, "user_by_id", "/users/"+seg(id), nil, &u)
	return u, err
}

// UsersNear：给定点 maxKm 公里内的用户，用作附近用户列表的轮询兜底
func (c *Client) UsersNear(ctx context.Context, loc model.GeoLocation, maxKm float64) ([]model.User, error) {
	q := url.Values{}
	q.Set("latitude", ftoa(loc.Latitude))
	q.Set("longitude", ftoa(loc.Longitude))
	q.Set("maxDistanceKm", ftoa(maxKm))
	var out []model.User
	if err := c.getJSON(ctx, "users_near", "/users/near", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UsersInRegion(ctx context.Context, regionID string) ([]model.User, error) {
	var out []model.User
	if err := c.getJSON(ctx, "users_in_region", "/users/region/"+seg(regionID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSocialRating：raterID 为空时不传
func (c *Client) UpdateSocialRating(ctx context.Context, id string, rating float64, raterID string) (model.User, error) {
	q := url.Values{}
	q.Set("rating", ftoa(rating))
	if raterID != "" {
		q.Set("raterId", raterID)
	}
	var u model.User
	err := c.call(ctx, "user_update_rating", http.MethodPut, "/users/"+seg(id)+"/social-rating", q, jsonInto(&u))
	return u, err
}

// UpdateUserLocation：REST 方式上报位置，实时通道不可用时使用
func (c *Client) UpdateUserLocation(ctx context.Context, id string, loc model.GeoLocation, regionID, districtID, countryID string) (model.User, error) {
	q := url.Values{}
	q.Set("latitude", ftoa(loc.Latitude))
	q.Set("longitude", ftoa(loc.Longitude))
	q.Set("regionId", regionID)
	q.Set("districtId", districtID)
	q.Set("countryId", countryID)
	var u model.User
	err := c.call(ctx, "user_update_location", http.MethodPut, "/users/"+seg(id)+"/location", q, jsonInto(&u))
	return u, err
}
