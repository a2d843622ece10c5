package auth

import (
	"context"
	"testing"
	"time"

	"skillchat/internal/config"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecretKey: "unit-test-secret",
		JWTExpiry:    time.Hour,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := testAuthConfig()
	token, err := GenerateToken(42, "alice", cfg)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := ValidateToken(context.Background(), token, cfg.JWTSecretKey, nil)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("expected a JTI on the token")
	}
}

func TestValidateTokenWrongKey(t *testing.T) {
	cfg := testAuthConfig()
	token, err := GenerateToken(42, "alice", cfg)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := ValidateToken(context.Background(), token, "another-key", nil); err == nil {
		t.Fatalf("expected validation to fail with the wrong key")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	cfg := testAuthConfig()
	cfg.JWTExpiry = -time.Minute
	token, err := GenerateToken(42, "alice", cfg)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := ValidateToken(context.Background(), token, cfg.JWTSecretKey, nil); err == nil {
		t.Fatalf("expected validation to fail for an expired token")
	}
}

type memBlacklist map[string]bool

func (m memBlacklist) Add(ctx context.Context, jti string, exp time.Time) error {
	m[jti] = true
	return nil
}

func (m memBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	return m[jti], nil
}

func TestValidateTokenRevoked(t *testing.T) {
	cfg := testAuthConfig()
	token, err := GenerateToken(42, "alice", cfg)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	claims, err := ValidateToken(context.Background(), token, cfg.JWTSecretKey, nil)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	bl := memBlacklist{}
	if err := bl.Add(context.Background(), claims.ID, claims.ExpiresAt.Time); err != nil {
		t.Fatalf("blacklist add failed: %v", err)
	}
	if _, err := ValidateToken(context.Background(), token, cfg.JWTSecretKey, bl); err == nil {
		t.Fatalf("expected a revoked token to be rejected")
	}
}

func TestInspectToken(t *testing.T) {
	cfg := testAuthConfig()
	token, err := GenerateToken(7, "bob", cfg)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := InspectToken(token)
	if err != nil {
		t.Fatalf("InspectToken failed: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "bob" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	cfg.JWTExpiry = -time.Minute
	expired, err := GenerateToken(7, "bob", cfg)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := InspectToken(expired); err == nil {
		t.Fatalf("expected InspectToken to reject an expired token")
	}
}

func TestTokenSources(t *testing.T) {
	if _, err := StaticTokenSource("").Token(context.Background()); err != ErrNoToken {
		t.Fatalf("expected ErrNoToken from an empty static source, got %v", err)
	}
	tok, err := StaticTokenSource("abc").Token(context.Background())
	if err != nil || tok != "abc" {
		t.Fatalf("unexpected static token result: %q, %v", tok, err)
	}

	store := &MemoryTokenStore{}
	if _, err := store.Token(context.Background()); err != ErrNoToken {
		t.Fatalf("expected ErrNoToken from an empty store, got %v", err)
	}
	store.Set("xyz")
	tok, err = store.Token(context.Background())
	if err != nil || tok != "xyz" {
		t.Fatalf("unexpected store token result: %q, %v", tok, err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !CheckPasswordHash("s3cret", hash) {
		t.Fatalf("expected the password to match its hash")
	}
	if CheckPasswordHash("wrong", hash) {
		t.Fatalf("expected a wrong password to be rejected")
	}
}
