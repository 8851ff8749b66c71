package security

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAlerter(t *testing.T) *Alerter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAlerter(client, "test:alerts")
}

func TestAlerterTriggersAtThreshold(t *testing.T) {
	a := newTestAlerter(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		alert, err := a.Observe(ctx, "user.password.change", "fail", "10.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if alert.Count != int64(i) {
			t.Fatalf("expected count %d, got %d", i, alert.Count)
		}
		if want := i == 5; alert.Triggered != want {
			t.Fatalf("attempt %d: triggered=%v", i, alert.Triggered)
		}
	}
	other, err := a.Observe(ctx, "user.password.change", "fail", "10.0.0.2")
	if err != nil || other.Count != 1 {
		t.Fatalf("other client must have its own counter: %+v %v", other, err)
	}
}

func TestAlerterIgnoresUnruledEvents(t *testing.T) {
	a := newTestAlerter(t)
	for _, tc := range []struct{ event, outcome string }{
		{"auth.login", "success"},
		{"chat.rename", "fail"},
	} {
		alert, err := a.Observe(context.Background(), tc.event, tc.outcome, "10.0.0.1")
		if err != nil || alert.Triggered || alert.Count != 0 {
			t.Fatalf("%s/%s: unexpected %+v %v", tc.event, tc.outcome, alert, err)
		}
	}
	if _, ok := RuleFor("anything", "rate_limited"); !ok {
		t.Fatalf("rate limited events always have a rule")
	}
}

func TestNilAlerter(t *testing.T) {
	var a *Alerter
	if NewAlerter(nil, "") != nil {
		t.Fatalf("expected nil alerter without redis")
	}
	alert, err := a.Observe(context.Background(), "auth.login", "fail", "ip")
	if err != nil || alert.Triggered {
		t.Fatalf("nil alerter must be a no-op")
	}
}
