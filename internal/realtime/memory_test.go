package realtime

import (
	"testing"

	"region-sync/internal/model"
)

func TestMemTransportRoundTrip(t *testing.T) {
	tr := NewMemTransport()
	ch := New(tr)
	defer ch.Dispose()

	got := make(chan model.RatingChange, 1)
	Handle(ch, KindRatingUpdate, func(v model.RatingChange) { got <- v })
	ch.Connect("u9")
	waitFor(t, "subscribed", func() bool {
		return ch.IsConnected() && tr.Subscribed("/user/u9/queue/social-rating-update")
	})

	if n := tr.Inject("/user/u9/queue/social-rating-update", []byte(`{"userId":"u1","targetUserId":"u9","ratingChange":-3}`)); n != 1 {
		t.Fatalf("delivered to %d subscriptions", n)
	}
	if v := <-got; v.RatingChange != -3 || v.TargetUserID != "u9" {
		t.Fatalf("rating change = %+v", v)
	}

	if err := ch.RatePerson("u9", "u1", 2); err != nil {
		t.Fatalf("RatePerson: %v", err)
	}
	sent := tr.Sent()
	if len(sent) != 2 || sent[0].Destination != DestConnect || sent[1].Destination != "/app/rate-person" {
		t.Fatalf("sent = %+v", sent)
	}

	ch.Disconnect()
	if tr.Inject("/user/u9/queue/social-rating-update", []byte(`{}`)) != 0 {
		t.Fatalf("closed session should not deliver")
	}
}
