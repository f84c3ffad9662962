package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	v, err := NewVerifier("s3cret", WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	token, err := v.GenerateToken(" 0xAbC ", "Rector@Uni.edu", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := v.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Wallet != "0xabc" || claims.Subject != "0xabc" {
		t.Fatalf("unexpected wallet: %+v", claims)
	}
	if claims.Email != "rector@uni.edu" {
		t.Fatalf("unexpected email: %s", claims.Email)
	}
	if claims.Issuer != "test-issuer" || claims.ID == "" {
		t.Fatalf("unexpected registered claims: %+v", claims.RegisteredClaims)
	}
	c := claims.Caller()
	if c.Identity != "0xabc" || c.TokenID != claims.ID {
		t.Fatalf("unexpected caller %+v", c)
	}
}

func TestRejectsBadTokens(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	v, _ := NewVerifier("s3cret", WithClock(func() time.Time { return now }))
	other, _ := NewVerifier("other", WithClock(func() time.Time { return now }))
	foreign, _ := NewVerifier("s3cret", WithIssuer("someone-else"), WithClock(func() time.Time { return now }))

	expired, _ := v.GenerateToken("0xa", "", time.Minute)
	later, _ := NewVerifier("s3cret", WithClock(func() time.Time { return now.Add(time.Hour) }))

	wrongKey, _ := other.GenerateToken("0xa", "", time.Hour)
	wrongIssuer, _ := foreign.GenerateToken("0xa", "", time.Hour)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Wallet: "0xa"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	noWallet := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    defaultIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}})
	missingWallet, _ := noWallet.SignedString([]byte("s3cret"))

	tests := []struct {
		name  string
		v     *Verifier
		token string
	}{
		{"empty", v, ""},
		{"garbage", v, "not.a.token"},
		{"expired", later, expired},
		{"wrong key", v, wrongKey},
		{"wrong issuer", v, wrongIssuer},
		{"alg none", v, unsigned},
		{"no wallet", v, missingWallet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.v.ParseAndValidate(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("  "); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := CallerFromContext(ctx); ok {
		t.Fatal("empty context has a caller")
	}
	ctx = ContextWithCaller(ctx, Caller{Identity: " 0xABC ", Email: "A@B.C"})
	c, ok := CallerFromContext(ctx)
	if !ok || c.Identity != "0xabc" || c.Email != "a@b.c" {
		t.Fatalf("unexpected caller %+v ok=%v", c, ok)
	}
	ctx = ContextWithToken(ctx, "tok")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token %q", tok)
	}
}
