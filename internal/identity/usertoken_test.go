package identity

import (
	"strings"
	"testing"
	"time"
)

func newTestIssuer(ttl time.Duration) *UserTokenIssuer {
	return NewUserTokenIssuer([]byte("test-secret"), "https://ledger.test", ttl)
}

func TestIssueAndVerify(t *testing.T) {
	iss := newTestIssuer(0)

	tok, err := iss.Issue("user-123", "alice@example.com", "member")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := iss.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("user_id = %q", claims.UserID)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("email = %q", claims.Email)
	}
	if claims.Role != "member" {
		t.Errorf("role = %q", claims.Role)
	}
	if claims.Issuer != "https://ledger.test" {
		t.Errorf("issuer = %q", claims.Issuer)
	}
}

func TestVerify_rejectsWrongSecret(t *testing.T) {
	tok, err := newTestIssuer(0).Issue("user-123", "a@b.c", "member")
	if err != nil {
		t.Fatal(err)
	}

	other := NewUserTokenIssuer([]byte("different-secret"), "https://ledger.test", 0)
	if _, err := other.Verify(tok); err == nil {
		t.Error("expected verification failure with wrong secret")
	}
}

func TestVerify_rejectsWrongIssuer(t *testing.T) {
	tok, err := newTestIssuer(0).Issue("user-123", "a@b.c", "member")
	if err != nil {
		t.Fatal(err)
	}

	other := NewUserTokenIssuer([]byte("test-secret"), "https://other.test", 0)
	if _, err := other.Verify(tok); err == nil {
		t.Error("expected verification failure with wrong issuer")
	}
}

func TestVerify_rejectsExpired(t *testing.T) {
	iss := newTestIssuer(-time.Minute)
	tok, err := iss.Issue("user-123", "a@b.c", "member")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.Verify(tok); err == nil {
		t.Error("expected verification failure for expired token")
	}
}

func TestVerify_rejectsGarbage(t *testing.T) {
	iss := newTestIssuer(0)
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := iss.Verify(tok); err == nil {
			t.Errorf("Verify(%q) succeeded", tok)
		}
	}
}

func TestVerify_rejectsOAuthStateAsSession(t *testing.T) {
	iss := newTestIssuer(0)
	state, err := iss.IssueOAuthState("github")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.Verify(state); err == nil {
		t.Error("oauth state token must not pass session verification")
	}
}

func TestOAuthStateRoundTrip(t *testing.T) {
	iss := newTestIssuer(0)
	state, err := iss.IssueOAuthState("google")
	if err != nil {
		t.Fatal(err)
	}
	provider, err := iss.VerifyOAuthState(state)
	if err != nil {
		t.Fatalf("VerifyOAuthState: %v", err)
	}
	if provider != "google" {
		t.Errorf("provider = %q", provider)
	}

	// A session token is not a valid state parameter.
	tok, _ := iss.Issue("user-123", "a@b.c", "member")
	if _, err := iss.VerifyOAuthState(tok); err == nil {
		t.Error("session token must not pass oauth state verification")
	}
}

func TestIssueOperatorToken(t *testing.T) {
	iss := newTestIssuer(0)
	tok, err := iss.IssueOperatorToken(0)
	if err != nil {
		t.Fatalf("IssueOperatorToken: %v", err)
	}
	claims, err := iss.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Role != "operator" {
		t.Errorf("role = %q, want operator", claims.Role)
	}
	if !strings.EqualFold(claims.Subject, "operator") {
		t.Errorf("subject = %q", claims.Subject)
	}
}
