package auth

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := Claims{
		BusinessID: "biz-1",
		Role:       "owner",
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := SignHS256(claims, "test-secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	parsed, err := NewVerifier("test-secret", 0).Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if parsed.Subject != "user-1" || parsed.BusinessID != "biz-1" || parsed.Role != "owner" {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := NewVerifier("wrong-secret", 0).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpiredAndIncomplete(t *testing.T) {
	expired, err := SignHS256(Claims{
		BusinessID: "biz-1",
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, "s")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewVerifier("s", 0).Verify(expired); err == nil {
		t.Fatal("expected expired token to fail")
	}

	noOrg, err := SignHS256(Claims{RegisteredClaims: jwtlib.RegisteredClaims{Subject: "user-1"}}, "s")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewVerifier("s", 0).Verify(noOrg); err == nil {
		t.Fatal("expected token without business_id to fail")
	}
}

func TestBearerToken(t *testing.T) {
	if got := BearerToken("Bearer abc.def.ghi"); got != "abc.def.ghi" {
		t.Fatalf("unexpected token %q", got)
	}
	if got := BearerToken("Basic xyz"); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}
