package auth

import (
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{
		UserID:          42,
		Role:            "student",
		PasswordVersion: 3,
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	if claims.UserID != 42 || claims.Role != "student" || claims.PasswordVersion != 3 {
		t.Fatalf("unexpected claims")
	}
	if claims.Admin {
		t.Fatalf("unexpected admin claim")
	}
}

func TestAccessTokenWrongSecret(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{UserID: 1, Role: "student"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("other", token); err == nil {
		t.Fatalf("expected parse failure with wrong secret")
	}
}

func TestAccessTokenExpired(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", -time.Minute, Claims{UserID: 1, Role: "student"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("secret", token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestTokenVersionDefaultsToOne(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 1},
		{-1, 1},
		{1, 1},
		{7, 7},
	}
	for _, tc := range cases {
		c := &Claims{PasswordVersion: tc.in}
		if got := c.TokenVersion(); got != tc.want {
			t.Fatalf("TokenVersion(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
