package security

import (
	"errors"
	"testing"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash([]byte("secret123"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Compare(hash, []byte("secret123")); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if err := h.Compare(hash, []byte("wrong")); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("Compare with wrong password = %v, want ErrPasswordMismatch", err)
	}
	if err := h.Compare("not-a-hash", []byte("secret123")); err == nil || errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("Compare with malformed hash = %v", err)
	}
}

func TestNewHasher_Cost(t *testing.T) {
	testCases := []struct {
		in, want int
	}{
		{0, DefaultBcryptCost},
		{-1, DefaultBcryptCost},
		{2, 4},
		{10, 10},
		{40, 31},
	}
	for _, tc := range testCases {
		if got := NewHasher(tc.in).Cost(); got != tc.want {
			t.Errorf("NewHasher(%d).Cost() = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestHasher_NeedsRehash(t *testing.T) {
	old := NewHasher(4)
	hash, err := old.Hash([]byte("secret123"))
	if err != nil {
		t.Fatal(err)
	}
	if old.NeedsRehash(hash) {
		t.Error("hash at the configured cost should not need a rehash")
	}
	if !NewHasher(5).NeedsRehash(hash) {
		t.Error("hash below the configured cost should need a rehash")
	}
	if !old.NeedsRehash("garbage") {
		t.Error("malformed hash should need a rehash")
	}
}
