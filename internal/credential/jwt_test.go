package credential_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lucky7slw/construction-erp-sub001/internal/credential"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims credential.AppClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}
	return signed
}

func TestValidateAcceptsWellFormedToken(t *testing.T) {
	v := credential.NewJWTValidator(testSecret)
	token := signToken(t, credential.AppClaims{
		TenantID: "t1",
		Roles:    []string{"admin"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	ident, err := v.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if ident.UserID != "u1" {
		t.Errorf("Expected user u1, got %q", ident.UserID)
	}
	if ident.TenantID != "t1" {
		t.Errorf("Expected tenant t1, got %q", ident.TenantID)
	}
	if len(ident.Claims) != 1 || ident.Claims[0] != "admin" {
		t.Errorf("Expected claims [admin], got %v", ident.Claims)
	}
}

func TestValidateRejectsWrongSignature(t *testing.T) {
	v := credential.NewJWTValidator(testSecret)
	token := signToken(t, credential.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}, "some-other-secret")

	_, err := v.Validate(context.Background(), token)
	if !errors.Is(err, credential.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	v := credential.NewJWTValidator(testSecret)
	token := signToken(t, credential.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSecret)

	_, err := v.Validate(context.Background(), token)
	if !errors.Is(err, credential.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestValidateRejectsMissingSubject(t *testing.T) {
	v := credential.NewJWTValidator(testSecret)
	token := signToken(t, credential.AppClaims{TenantID: "t1"}, testSecret)

	_, err := v.Validate(context.Background(), token)
	if !errors.Is(err, credential.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for missing subject, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	v := credential.NewJWTValidator(testSecret)

	_, err := v.Validate(context.Background(), "not-a-token")
	if !errors.Is(err, credential.ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}
