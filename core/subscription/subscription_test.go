package subscription

import (
	"testing"
	"time"
)

func TestWithinPeriodSkew(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name      string
		status    Status
		periodEnd time.Duration // relative to now
		want      bool
	}{
		{"well inside period", Active, time.Hour, true},
		{"expired 4m ago, inside skew", Active, -4 * time.Minute, true},
		{"expired 6m ago, outside skew", Active, -6 * time.Minute, false},
		{"canceled inside period", Canceled, time.Hour, false},
		{"pending inside period", Pending, time.Hour, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			end := now.Add(c.periodEnd)
			sub := Subscription{Status: c.status, CurrentPeriodEnd: &end}

			if got := WithinPeriod(sub, now); got != c.want {
				t.Fatalf("WithinPeriod(end=%v) = %v, want %v", c.periodEnd, got, c.want)
			}
		})
	}
}

func TestWithinPeriodNoEnd(t *testing.T) {
	sub := Subscription{Status: Active}
	if WithinPeriod(sub, time.Now().UTC()) {
		t.Fatal("active subscription without a period end must not be entitled")
	}
}
