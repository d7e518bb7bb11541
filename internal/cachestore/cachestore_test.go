package cachestore_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"blaze/internal/cachestore"
)

func overwriteEntry(dir string, key uint64) error {
	name := fmt.Sprintf("%016x", key)
	path := filepath.Join(dir, name[:2], name)
	return os.WriteFile(path, []byte("not valid cbor"), 0o644)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s, err := cachestore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := cachestore.Key("proj:build")
	want := cachestore.ExecutionCacheState{
		Nonce:    7,
		Hash:     12345,
		Time:     time.Unix(1700000000, 0).UTC(),
		Metadata: map[string][]byte{"output_hash": []byte{1, 2, 3}},
	}
	if err := s.Put(key, want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got.Nonce != want.Nonce || got.Hash != want.Hash || !got.Time.Equal(want.Time) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
	if string(got.Metadata["output_hash"]) != string(want.Metadata["output_hash"]) {
		t.Fatalf("metadata mismatch: %+v", got.Metadata)
	}
}

func TestGetMissingIsNotError(t *testing.T) {
	s, err := cachestore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.Get(cachestore.Key("nothing"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestCorruptEntryTreatedAsMiss(t *testing.T) {
	dir := t.TempDir()
	s, err := cachestore.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	key := cachestore.Key("bad")
	if err := s.Put(key, cachestore.ExecutionCacheState{Nonce: 1}); err != nil {
		t.Fatal(err)
	}
	// Corrupt it in place without going through the Store (simulating
	// truncation or a partial write from a crashed process).
	if err := overwriteEntry(dir, key); err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.Get(key)
	if err != nil {
		t.Fatalf("expected corrupt entry to be treated as a miss, not an error: %v", err)
	}
	if ok {
		t.Fatal("expected corrupt entry to report as a miss")
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	s, err := cachestore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := cachestore.Key("x")
	if err := s.Put(key, cachestore.ExecutionCacheState{Nonce: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Invalidate(key); err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss after invalidate")
	}
}
