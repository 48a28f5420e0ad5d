package textutil

import "testing"

func TestCleanText(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"strips tags":          {in: "<b>12</b> Le Loi<script>alert(1)</script>", want: "12 Le Loi"},
		"keeps ampersand":      {in: "Lot 4 & 5, Q1", want: "Lot 4 & 5, Q1"},
		"collapses spaces":     {in: "  12   Le\tLoi \n Q1 ", want: "12 Le Loi Q1"},
		"nfc composes":         {in: "Ha\u0300 No\u0302\u0323i", want: "H\u00e0 N\u1ed9i"},
		"blank stays blank":    {in: "   ", want: ""},
		"plain text untouched": {in: "Da Nang", want: "Da Nang"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := CleanText(tc.in); got != tc.want {
				t.Fatalf("CleanText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDigitsOnly(t *testing.T) {
	if got := DigitsOnly(" 090-123.45 67 "); got != "0901234567" {
		t.Fatalf("unexpected digits %q", got)
	}
	if got := DigitsOnly("+84 90 123"); got != "+8490123" {
		t.Fatalf("unexpected digits %q", got)
	}
}
