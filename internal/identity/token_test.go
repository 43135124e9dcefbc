package identity

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewVerifier_RejectsShortSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier([]byte("short")); err == nil {
		t.Fatalf("expected error for short secret")
	}
	if _, err := NewVerifier(testSecret); err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
}

func TestVerifier_Verify_RoundTrip(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	token, err := SignForTest(testSecret, "user-42", "Ada", time.Minute)
	if err != nil {
		t.Fatalf("SignForTest: %v", err)
	}

	sess, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sess.UserID != "user-42" || sess.DisplayName != "Ada" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if !sess.Authenticated() {
		t.Fatalf("verified session must be authenticated")
	}
}

func TestVerifier_Verify_Rejections(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	expired, err := SignForTest(testSecret, "user-42", "Ada", -time.Minute)
	if err != nil {
		t.Fatalf("SignForTest: %v", err)
	}
	wrongKey, err := SignForTest([]byte("ffffffffffffffffffffffffffffffff"), "user-42", "Ada", time.Minute)
	if err != nil {
		t.Fatalf("SignForTest: %v", err)
	}
	noSubject, err := SignForTest(testSecret, "", "Ada", time.Minute)
	if err != nil {
		t.Fatalf("SignForTest: %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "whitespace", token: "   "},
		{name: "garbage", token: "not.a.jwt"},
		{name: "expired", token: expired},
		{name: "wrong key", token: wrongKey},
		{name: "missing subject", token: noSubject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := v.Verify(tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Verify(%q)=%v want=ErrInvalidToken", tc.token, err)
			}
		})
	}
}

func TestBearerFromHeader(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "Bearer abc", want: "abc"},
		{in: "bearer abc", want: "abc"},
		{in: "Bearer   abc  ", want: "abc"},
		{in: "Bearer ", want: ""},
		{in: "Basic abc", want: ""},
		{in: "", want: ""},
		{in: strings.Repeat("x", 4), want: ""},
	}
	for _, tc := range cases {
		if got := BearerFromHeader(tc.in); got != tc.want {
			t.Fatalf("BearerFromHeader(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}
