// Package security counts failed security events per client and flags bursts.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "studybuddy:alerts"

var incrWithExpiry = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Rule is the number of matching events within Window that raises an alert.
type Rule struct {
	Threshold int64
	Window    time.Duration
}

// Alert is the outcome of observing one event.
type Alert struct {
	Triggered bool
	Count     int64
	Rule      Rule
}

// failureRules apply to events whose outcome is "fail".
var failureRules = map[string]Rule{
	"auth.login":           {10, 5 * time.Minute},
	"auth.signup":          {10, 5 * time.Minute},
	"auth.refresh":         {15, 5 * time.Minute},
	"auth.logout":          {15, 5 * time.Minute},
	"user.password.change": {5, 15 * time.Minute},
	"token.verify":         {25, 5 * time.Minute},
	"events.connect":       {25, 5 * time.Minute},
	"document.upload":      {20, 10 * time.Minute},
}

var rateLimitedRule = Rule{20, time.Minute}

// Alerter keeps fixed-window counters in Redis so bursts are seen across
// instances.
type Alerter struct {
	client redis.UniversalClient
	prefix string
}

// NewAlerter returns nil without a client; a nil Alerter observes nothing.
func NewAlerter(client redis.UniversalClient, prefix string) *Alerter {
	if client == nil {
		return nil
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = defaultPrefix
	}
	return &Alerter{client: client, prefix: prefix}
}

// RuleFor reports the rule for an event outcome.
func RuleFor(event, outcome string) (Rule, bool) {
	switch strings.TrimSpace(outcome) {
	case "rate_limited":
		return rateLimitedRule, true
	case "fail":
		r, ok := failureRules[strings.TrimSpace(event)]
		return r, ok
	}
	return Rule{}, false
}

// Observe counts one event from ip and reports whether its rule threshold
// has been reached in the current window.
func (a *Alerter) Observe(ctx context.Context, event, outcome, ip string) (Alert, error) {
	if a == nil {
		return Alert{}, nil
	}
	rule, ok := RuleFor(event, outcome)
	if !ok {
		return Alert{}, nil
	}
	windowMs := rule.Window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, segment(event), segment(outcome), segment(ip), slot)
	n, err := incrWithExpiry.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return Alert{}, fmt.Errorf("count security event: %w", err)
	}
	return Alert{Triggered: n >= rule.Threshold, Count: n, Rule: rule}, nil
}

var segmentReplacer = strings.NewReplacer(":", "_", "|", "_", " ", "_")

func segment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return segmentReplacer.Replace(s)
}
