package geometry

import (
	"encoding/json"
	"errors"
	"fmt"

	"region-sync/internal/logger"
	"region-sync/internal/model"
)

// wireRegion：区域服务的原始形状，边界留待归一化
type wireRegion struct {
	ID                    json.RawMessage  `json:"id"`
	Name                  string           `json:"name"`
	Type                  model.RegionType `json:"type"`
	ParentRegionID        json.RawMessage  `json:"parentRegionId"`
	Boundaries            json.RawMessage  `json:"boundaries"`
	AverageSocialRating   float64          `json:"averageSocialRating"`
	PopulationCount       int64            `json:"populationCount"`
	ImportantPersonsCount int64            `json:"importantPersonsCount"`
	UnderThreat           bool             `json:"underThreat"`
}

var ErrNoRegionID = errors.New("region without id")

// DecodeRegion：解码单个区域并归一化边界
// 约束：标识可能是字符串或数字，统一转为字符串；缺少 id 的区域无法参与按 id 替换，返回错误
func (n *Normalizer) DecodeRegion(raw []byte) (model.Region, error) {
	var w wireRegion
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Region{}, fmt.Errorf("decode region: %w", err)
	}
	id := idString(w.ID)
	if id == "" {
		return model.Region{}, ErrNoRegionID
	}
	return model.Region{
		ID:                    id,
		Name:                  w.Name,
		Type:                  w.Type,
		ParentRegionID:        idString(w.ParentRegionID),
		Boundaries:            n.Normalize(w.Name, w.Boundaries),
		AverageSocialRating:   w.AverageSocialRating,
		PopulationCount:       w.PopulationCount,
		ImportantPersonsCount: w.ImportantPersonsCount,
		UnderThreat:           w.UnderThreat,
	}, nil
}

// DecodeRegions：解码区域数组；单个区域损坏时跳过并记录，不影响整批
func (n *Normalizer) DecodeRegions(raw []byte) ([]model.Region, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode regions: %w", err)
	}
	out := make([]model.Region, 0, len(items))
	for i, it := range items {
		r, err := n.DecodeRegion(it)
		if err != nil {
			logger.L().Warn("region_decode_skip", "idx", i, "err", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}
