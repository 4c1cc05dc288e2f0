package tokens_test

import (
	"testing"
	"time"

	"github.com/technosupport/ts-telematics/internal/tokens"
)

func TestTokenGeneration(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")
	userID := "user-123"

	token, err := mgr.GenerateToken(userID, "operator", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("Expected UserID %s, got %s", userID, claims.UserID)
	}
	if claims.Role != "operator" {
		t.Errorf("Expected Role operator, got %s", claims.Role)
	}
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1")
	mgr2 := tokens.NewManager("secret-2")

	token, _ := mgr1.GenerateToken("u1", "operator", time.Hour)
	_, err := mgr2.ValidateToken(token)
	if err == nil {
		t.Error("Expected validation error for wrong signature")
	}
}

func TestExpiredToken(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")

	token, _ := mgr.GenerateToken("u1", "operator", -time.Minute)
	_, err := mgr.ValidateToken(token)
	if err == nil {
		t.Error("Expected validation error for expired token")
	}
}
