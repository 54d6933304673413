package security

import (
	"strings"
	"testing"
)

func TestGenerateAPIKeyIsUniqueAndPrefixed(t *testing.T) {
	first, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct keys")
	}
	if !strings.HasPrefix(first, "bzk_") {
		t.Fatalf("unexpected prefix on %q", first)
	}

	callback, err := GenerateCallbackKey()
	if err != nil {
		t.Fatalf("generate callback: %v", err)
	}
	if !strings.HasPrefix(callback, "bzc_") {
		t.Fatalf("unexpected prefix on %q", callback)
	}
}

func TestVerifyAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := DigestAPIKey(key)

	if !VerifyAPIKey(key, digest) {
		t.Fatal("expected key to verify against its own digest")
	}
	if VerifyAPIKey(key+"x", digest) {
		t.Fatal("tampered key must not verify")
	}
	if VerifyAPIKey("  "+key+"  ", digest) != true {
		t.Fatal("whitespace around the presented key should be ignored")
	}
}
