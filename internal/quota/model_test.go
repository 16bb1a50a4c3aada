package quota

import "testing"

func TestModelQuota_PercentKnown(t *testing.T) {
	cases := []struct {
		pct  float64
		want bool
	}{
		{0, true},
		{100, true},
		{42.5, true},
		{PercentUnknown, false},
		{-0.5, false},
		{101, false},
	}
	for _, tc := range cases {
		m := ModelQuota{Percentage: tc.pct}
		if got := m.PercentKnown(); got != tc.want {
			t.Errorf("PercentKnown(%g) = %v, want %v", tc.pct, got, tc.want)
		}
	}
}

func TestAccountQuota_LowestPercentage(t *testing.T) {
	a := &AccountQuota{Models: []ModelQuota{
		{Name: "a", Percentage: 80},
		{Name: "b", Percentage: PercentUnknown},
		{Name: "c", Percentage: 12.5},
	}}
	pct, ok := a.LowestPercentage()
	if !ok || pct != 12.5 {
		t.Errorf("LowestPercentage: got (%g, %v), want (12.5, true)", pct, ok)
	}

	unknownOnly := &AccountQuota{Models: []ModelQuota{{Percentage: PercentUnknown}}}
	if _, ok := unknownOnly.LowestPercentage(); ok {
		t.Error("all-unknown account should report no known percentage")
	}
}

func TestAccountQuota_DisplayName(t *testing.T) {
	a := &AccountQuota{AccountName: "Work", AccountEmail: "w@example.com"}
	if got := a.DisplayName(); got != "Work" {
		t.Errorf("DisplayName: got %q, want name over email", got)
	}
	b := &AccountQuota{AccountEmail: "w@example.com"}
	if got := b.DisplayName(); got != "w@example.com" {
		t.Errorf("DisplayName fallback: got %q", got)
	}
}
