package apikeys

import (
	"path/filepath"
	"testing"
)

func TestMaskHidesMiddleOfKey(t *testing.T) {
	got := Mask("sk-ant-1234567890abcdef")
	if got != "sk-a****cdef" {
		t.Fatalf("unexpected mask: %q", got)
	}
}

func TestMaskShortKeyFullyHidden(t *testing.T) {
	if got := Mask("short"); got != "****" {
		t.Fatalf("expected full mask for short key, got %q", got)
	}
}

func TestSetAndGetRoundTripsMaskedView(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-keys.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Set("anthropic", "sk-ant-1234567890abcdef"); err != nil {
		t.Fatalf("set: %v", err)
	}

	pub, ok := store.Get("anthropic")
	if !ok {
		t.Fatal("expected key to be present")
	}
	if !pub.Configured || pub.Masked != "sk-a****cdef" {
		t.Fatalf("unexpected public record: %+v", pub)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	raw, ok := reopened.Resolve("anthropic")
	if !ok || raw != "sk-ant-1234567890abcdef" {
		t.Fatalf("expected persisted raw key to round-trip, got %q ok=%v", raw, ok)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-keys.json")
	store, _ := Open(path)
	store.Set("anthropic", "sk-ant-1234567890abcdef")
	if err := store.Delete("anthropic"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.Get("anthropic"); ok {
		t.Fatal("expected key to be gone after delete")
	}
}
