package upstream

import (
	"context"
	"errors"
	"net/http"

	"region-sync/internal/model"
)

// 互动服务（举报、点赞、点踩）与区域服务部署在不同前缀下，调用方用单独的 Client 指向它

var ErrBadDirection = errors.New("direction must be sent or received")

type interactionBody struct {
	UserID         string `json:"userId"`
	ReportedUserID string `json:"reportedUserId"`
	Message        string `json:"message,omitempty"`
}

func (c *Client) recordInteraction(ctx context.Context, kind model.InteractionType, in interactionBody) (model.Interaction, error) {
	var out model.Interaction
	err := c.send(ctx, "interaction_"+string(kind), http.MethodPost, "/app/"+string(kind), nil, in, jsonInto(&out))
	return out, err
}

// RecordReport：举报他人，message 为举报理由
func (c *Client) RecordReport(ctx context.Context, userID, reportedUserID, message string) (model.Interaction, error) {
	return c.recordInteraction(ctx, model.InteractionReport, interactionBody{UserID: userID, ReportedUserID: reportedUserID, Message: message})
}

func (c *Client) RecordLike(ctx context.Context, userID, likedUserID string) (model.Interaction, error) {
	return c.recordInteraction(ctx, model.InteractionLike, interactionBody{UserID: userID, ReportedUserID: likedUserID})
}

func (c *Client) RecordDislike(ctx context.Context, userID, dislikedUserID string) (model.Interaction, error) {
	return c.recordInteraction(ctx, model.InteractionDislike, interactionBody{UserID: userID, ReportedUserID: dislikedUserID})
}

// Interactions：direction 为 sent 或 received
func (c *Client) Interactions(ctx context.Context, userID, direction string) ([]model.Interaction, error) {
	if direction != "sent" && direction != "received" {
		return nil, ErrBadDirection
	}
	out := []model.Interaction{}
	if err := c.getJSON(ctx, "interactions_"+direction, "/app/user/"+seg(userID)+"/interactions/"+direction, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
