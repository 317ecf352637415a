package api

import (
	"net/http"

	"region-sync/internal/logger"
	"region-sync/internal/model"
)

// strike：请求后端执行打击，结果以推送通知返回；成功后后台重新拉取统计与当前视图
func (s *server) strike(w http.ResponseWriter, r *http.Request) {
	if s.Strikes == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	id := r.PathValue("regionId")
	if s.Dedupe != nil && !s.Dedupe.FirstSeen(r.Context(), "strike:"+id) {
		logger.L().Info("strike_duplicate", "region", id)
		writeJSON(w, http.StatusConflict, errorBody{Error: "strike already requested"})
		return
	}
	if err := s.Strikes.LaunchStrike(r.Context(), id); err != nil {
		writeErr(w, r, err, "")
		return
	}
	logger.L().Info("strike_requested", "region", id)
	if s.Nav != nil {
		s.Nav.Reload()
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) eliminated(w http.ResponseWriter, r *http.Request) {
	if s.Users == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	users, err := s.Users.EliminatedUsers(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err, "")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *server) depots(w http.ResponseWriter, r *http.Request) {
	if s.Supply == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	out, err := s.Supply.Depots(r.Context())
	if err != nil {
		writeErr(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) routes(w http.ResponseWriter, r *http.Request) {
	if s.Supply == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	out, err := s.Supply.Routes(r.Context())
	if err != nil {
		writeErr(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) optimal(w http.ResponseWriter, r *http.Request) {
	if s.Supply == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		badRequest(w, "from and to are required")
		return
	}
	out, err := s.Supply.OptimalRoute(r.Context(), from, to)
	if err != nil {
		writeErr(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// publishLocation：以当前会话主体上报位置
func (s *server) publishLocation(w http.ResponseWriter, r *http.Request) {
	if s.Channel == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	var loc model.GeoLocation
	if err := decodeBody(r, &loc); err != nil {
		badRequest(w, "body must be {latitude, longitude}")
		return
	}
	if err := s.Channel.UpdateLocation(s.Channel.Subject(), loc); err != nil {
		writeErr(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type rateBody struct {
	TargetUserID string  `json:"targetUserId"`
	RatingChange float64 `json:"ratingChange"`
}

func (s *server) publishRating(w http.ResponseWriter, r *http.Request) {
	if s.Channel == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	var in rateBody
	if err := decodeBody(r, &in); err != nil || in.TargetUserID == "" {
		badRequest(w, "body must be {targetUserId, ratingChange}")
		return
	}
	if err := s.Channel.RatePerson(s.Channel.Subject(), in.TargetUserID, in.RatingChange); err != nil {
		writeErr(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type interactionIn struct {
	UserID       string `json:"userId"`
	TargetUserID string `json:"targetUserId"`
	Message      string `json:"message,omitempty"`
}

// recordInteraction：kind 为 report、like 或 dislike；缺省 userId 时取会话主体
func (s *server) recordInteraction(w http.ResponseWriter, r *http.Request) {
	if s.Interactions == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	var in interactionIn
	if err := decodeBody(r, &in); err != nil || in.TargetUserID == "" {
		badRequest(w, "body must be {userId, targetUserId, message}")
		return
	}
	if in.UserID == "" && s.Channel != nil {
		in.UserID = s.Channel.Subject()
	}
	if in.UserID == "" {
		badRequest(w, "userId is required")
		return
	}
	var (
		out model.Interaction
		err error
	)
	switch model.InteractionType(r.PathValue("kind")) {
	case model.InteractionReport:
		out, err = s.Interactions.RecordReport(r.Context(), in.UserID, in.TargetUserID, in.Message)
	case model.InteractionLike:
		out, err = s.Interactions.RecordLike(r.Context(), in.UserID, in.TargetUserID)
	case model.InteractionDislike:
		out, err = s.Interactions.RecordDislike(r.Context(), in.UserID, in.TargetUserID)
	default:
		badRequest(w, "kind must be report, like or dislike")
		return
	}
	if err != nil {
		writeErr(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *server) listInteractions(w http.ResponseWriter, r *http.Request) {
	if s.Interactions == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	out, err := s.Interactions.Interactions(r.Context(), r.PathValue("user"), r.PathValue("direction"))
	if err != nil {
		writeErr(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
