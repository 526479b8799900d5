package database

import (
	"strings"
	"testing"
)

func TestFieldCipher_RoundTrip(t *testing.T) {
	c, err := NewFieldCipher("test-passphrase-123")
	if err != nil {
		t.Fatalf("NewFieldCipher() error: %v", err)
	}
	if !c.Enabled() {
		t.Fatal("expected cipher to be enabled")
	}

	sealed, err := c.Seal("+91 98765 43210")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) {
		t.Errorf("sealed value %q lacks prefix", sealed)
	}
	if strings.Contains(sealed, "98765") {
		t.Error("sealed value leaks plaintext")
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if opened != "+91 98765 43210" {
		t.Errorf("Open() = %q", opened)
	}
}

func TestFieldCipher_NonceIsRandom(t *testing.T) {
	c, _ := NewFieldCipher("k")
	a, _ := c.Seal("same")
	b, _ := c.Seal("same")
	if a == b {
		t.Error("two seals of the same value should differ")
	}
}

func TestFieldCipher_Disabled(t *testing.T) {
	c, err := NewFieldCipher("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil || c.Enabled() {
		t.Fatal("empty passphrase should disable encryption")
	}

	sealed, err := c.Seal("plain")
	if err != nil || sealed != "plain" {
		t.Errorf("nil cipher Seal() = %q, %v", sealed, err)
	}

	// Legacy plaintext rows pass through
	opened, err := c.Open("plain")
	if err != nil || opened != "plain" {
		t.Errorf("nil cipher Open() = %q, %v", opened, err)
	}

	// A sealed row cannot be read without a key
	keyed, _ := NewFieldCipher("k")
	value, _ := keyed.Seal("secret")
	if _, err := c.Open(value); err == nil {
		t.Error("expected error opening sealed value without key")
	}
}

func TestFieldCipher_WrongKey(t *testing.T) {
	a, _ := NewFieldCipher("one")
	b, _ := NewFieldCipher("two")
	sealed, _ := a.Seal("secret")
	if _, err := b.Open(sealed); err == nil {
		t.Error("expected error opening with the wrong key")
	}
}

func TestFieldCipher_Corrupt(t *testing.T) {
	c, _ := NewFieldCipher("k")
	tests := []string{
		sealedPrefix + "!!!not-base64!!!",
		sealedPrefix + "c2hvcnQ=",
	}
	for _, value := range tests {
		if _, err := c.Open(value); err == nil {
			t.Errorf("Open(%q) expected error", value)
		}
	}
}
