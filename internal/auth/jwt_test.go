package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"
const testIssuer = "zmanim-platform"

func signToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func validClaims() *Claims {
	return &Claims{
		Name:  "Audit Admin",
		Roles: []string{RoleAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestVerify_ValidToken(t *testing.T) {
	v, err := NewVerifier(testSecret, testIssuer)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	claims, err := v.Verify(signToken(t, testSecret, validClaims()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
	if !claims.HasRole(RoleAdmin) {
		t.Error("HasRole(admin) = false")
	}
	if claims.HasRole(RoleAuditor) {
		t.Error("HasRole(auditor) = true, want false")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	v, _ := NewVerifier(testSecret, testIssuer)
	if _, err := v.Verify(signToken(t, "another-secret-another-secret-00", validClaims())); err == nil {
		t.Error("expected error for wrong signing secret")
	}
}

func TestVerify_WrongIssuer(t *testing.T) {
	v, _ := NewVerifier(testSecret, testIssuer)
	c := validClaims()
	c.Issuer = "someone-else"
	if _, err := v.Verify(signToken(t, testSecret, c)); err == nil {
		t.Error("expected error for wrong issuer")
	}
}

func TestVerify_Expired(t *testing.T) {
	v, _ := NewVerifier(testSecret, testIssuer)
	c := validClaims()
	c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	if _, err := v.Verify(signToken(t, testSecret, c)); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestVerify_MissingSubject(t *testing.T) {
	v, _ := NewVerifier(testSecret, testIssuer)
	c := validClaims()
	c.Subject = ""
	if _, err := v.Verify(signToken(t, testSecret, c)); err == nil {
		t.Error("expected error for missing subject")
	}
}

func TestVerify_RejectsNonHMAC(t *testing.T) {
	v, _ := NewVerifier(testSecret, testIssuer)
	// alg=none tokens must never verify.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims())
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := v.Verify(s); err == nil {
		t.Error("expected error for alg=none token")
	}
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	if _, err := NewVerifier("", testIssuer); err == nil {
		t.Error("expected error for empty secret")
	}
}
