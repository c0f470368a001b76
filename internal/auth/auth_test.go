package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func setSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv(secretEnvVariable, value)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndParseToken(t *testing.T) {
	setSecret(t, "test-secret")

	token, err := GenerateToken("acct-1", []string{"Accountant", "accountant", " clerk "}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "acct-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	// Roles are lower-cased and deduplicated.
	if len(claims.Roles) != 2 || claims.Roles[0] != "accountant" || claims.Roles[1] != "clerk" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	setSecret(t, "test-secret")

	if _, err := GenerateToken("  ", []string{"clerk"}, time.Minute); err == nil {
		t.Fatal("expected error for blank actor id")
	}
	if _, err := GenerateToken("acct-1", nil, 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestParseRejectsInvalidTokens(t *testing.T) {
	setSecret(t, "test-secret")

	for _, token := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", token, err)
		}
	}

	// Token signed under a different secret.
	token, err := GenerateToken("acct-1", []string{"clerk"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	setSecret(t, "other-secret")
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken under rotated secret, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	setSecret(t, "")

	if _, err := GenerateToken("acct-1", []string{"clerk"}, time.Minute); !errors.Is(err, errMissingSecret) {
		t.Fatalf("expected missing-secret error, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithActor(context.Background(), "ctrl-1", []string{"Controller", "controller", "clerk"})

	id, ok := ActorIDFromContext(ctx)
	if !ok || id != "ctrl-1" {
		t.Fatalf("unexpected actor: %q ok=%v", id, ok)
	}
	if !HasRole(ctx, "controller") || !HasRole(ctx, "CLERK") {
		t.Fatal("expected roles present")
	}
	if HasRole(ctx, "accountant") {
		t.Fatal("unexpected role present")
	}

	if _, ok := ActorIDFromContext(context.Background()); ok {
		t.Fatal("expected no actor on empty context")
	}
	if HasRole(context.Background(), "clerk") {
		t.Fatal("expected no roles on empty context")
	}
}

func TestKnownRole(t *testing.T) {
	for _, role := range []string{RoleClerk, RoleController, RoleAuthorizingOfficer, RoleAccountant} {
		if !KnownRole(role) {
			t.Fatalf("%s should be known", role)
		}
	}
	if KnownRole("admin") {
		t.Fatal("admin should be unknown")
	}
}
