package security

import (
	"testing"
)

func TestHashToken_Consistent(t *testing.T) {
	hash1 := HashToken("session-token-123")
	hash2 := HashToken("session-token-123")
	if hash1 != hash2 {
		t.Errorf("HashToken not consistent: %q vs %q", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(hash1))
	}
	if HashToken("token-1") == HashToken("token-2") {
		t.Error("HashToken produced same hash for different tokens")
	}
}

func TestTokenHashEqual(t *testing.T) {
	stored := HashToken("correct-token")

	if !TokenHashEqual("correct-token", stored) {
		t.Error("TokenHashEqual should match correct token")
	}
	if TokenHashEqual("wrong-token", stored) {
		t.Error("TokenHashEqual should reject incorrect token")
	}
	if TokenHashEqual("correct-token", "a"+stored) {
		t.Error("TokenHashEqual should reject hash with different length")
	}
	if TokenHashEqual("", "") || TokenHashEqual("", stored) {
		t.Error("TokenHashEqual should not match empty inputs")
	}
}
