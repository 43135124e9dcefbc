package app

import (
	"testing"
	"time"
)

func TestParseDevProfiles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want map[string]string
	}{
		{name: "empty", in: "", want: map[string]string{}},
		{name: "single", in: "u1=Ada", want: map[string]string{"u1": "Ada"}},
		{
			name: "multiple with spaces",
			in:   " u1=Ada , u2=Grace ",
			want: map[string]string{"u1": "Ada", "u2": "Grace"},
		},
		{name: "missing name dropped", in: "u1=,u2=Grace", want: map[string]string{"u2": "Grace"}},
		{name: "missing separator dropped", in: "garbage,u2=Grace", want: map[string]string{"u2": "Grace"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := parseDevProfiles(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("parseDevProfiles(%q)=%v want=%v", tc.in, got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("parseDevProfiles(%q)[%q]=%q want=%q", tc.in, k, got[k], v)
				}
			}
		})
	}
}

func TestNonZeroDefaults(t *testing.T) {
	t.Parallel()

	if got := nonZeroDuration(0, 5*time.Second); got != 5*time.Second {
		t.Fatalf("nonZeroDuration(0)=%v", got)
	}
	if got := nonZeroDuration(time.Second, 5*time.Second); got != time.Second {
		t.Fatalf("nonZeroDuration(1s)=%v", got)
	}
	if got := nonZeroInt(0, 7); got != 7 {
		t.Fatalf("nonZeroInt(0)=%d", got)
	}
	if got := nonZeroInt(3, 7); got != 3 {
		t.Fatalf("nonZeroInt(3)=%d", got)
	}
}
