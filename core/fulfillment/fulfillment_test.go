package fulfillment

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{Assigned, PickedUp, true},
		{Assigned, Canceled, true},
		{Assigned, Delivered, false},
		{PickedUp, Delivered, true},
		{PickedUp, Canceled, true},
		{PickedUp, Assigned, false},
		{Delivered, Canceled, false},
		{Delivered, PickedUp, false},
		{Canceled, PickedUp, false},
		{Canceled, Delivered, false},
	}

	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
