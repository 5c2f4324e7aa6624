package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore(t.TempDir())
	key := Key{Reference: "308", VehicleType: "cars", Name: "models_59"}

	if _, err := store.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Expected ErrCacheMiss, got %v", err)
	}

	body := []byte(`[{"code":"5940","name":"Gol"}]`)
	if err := store.Set(ctx, key, body); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("Get = %s, want %s", got, body)
	}
}

func TestFSStoreLayout(t *testing.T) {
	root := t.TempDir()
	store := NewFSStore(root)
	key := Key{Reference: "308", VehicleType: "trucks", Name: "brands"}

	if err := store.Set(context.Background(), key, []byte(`[]`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Entries nest by reference and vehicle type so a reference's cache
	// can be inspected or pruned as one directory.
	want := filepath.Join(root, "308", "trucks", "brands.json")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("Expected cache file at %s: %v", want, err)
	}
}

func TestKeyString(t *testing.T) {
	key := Key{Reference: "308", VehicleType: "cars", Name: "years_59_5940"}
	if got := key.String(); got != "308:cars:years_59_5940" {
		t.Errorf("String = %q", got)
	}
}
