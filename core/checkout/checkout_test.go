package checkout

import "testing"

func TestCentsValue(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{50, "0.50"},
		{1000, "10.00"},
		{2000, "20.00"},
		{123456, "1234.56"},
	}

	for _, c := range cases {
		if got := centsValue(c.cents); got != c.want {
			t.Errorf("centsValue(%d) = %q, want %q", c.cents, got, c.want)
		}
	}
}
