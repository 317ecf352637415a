package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"region-sync/internal/model"
)

// 活动服务在主体没有数据时以 404 加固定前缀的文本回应
const noDataPrefix = "No data found for user"

type activityResponse struct {
	Data []model.ActivityDelta `json:"data"`
}

// ActivityDeltas：按归一化时间窗取位移序列
// 返回：无数据时为 (nil, nil)，与请求失败区分
func (c *Client) ActivityDeltas(ctx context.Context, subjectID string, w model.TimeWindow) ([]model.ActivityDelta, error) {
	q := url.Values{}
	q.Set("min", ftoa(w.Min))
	q.Set("max", ftoa(w.Max))
	var resp activityResponse
	err := c.call(ctx, "activity_deltas", http.MethodGet, "/user/"+seg(subjectID), q, jsonInto(&resp))
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound && strings.HasPrefix(strings.TrimSpace(se.Body), noDataPrefix) {
			return nil, nil
		}
		return nil, err
	}
	return resp.Data, nil
}
