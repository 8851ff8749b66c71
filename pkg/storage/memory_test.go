package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMemoryStorePutURLDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("https://cdn.example.com/")

	if _, err := s.URL(ctx, "documents/u1/d1/a b.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, "documents/u1/d1/a b.txt", strings.NewReader("hello"), 5, "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	u, err := s.URL(ctx, "documents/u1/d1/a b.txt")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if u != "https://cdn.example.com/documents/u1/d1/a%20b.txt" {
		t.Fatalf("unexpected url %q", u)
	}
	data, ct, ok := s.Get("documents/u1/d1/a b.txt")
	if !ok || string(data) != "hello" || ct != "text/plain" {
		t.Fatalf("unexpected object: %q %q %v", data, ct, ok)
	}
	if err := s.Delete(ctx, "documents/u1/d1/a b.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore("")
	if err := s.Put(ctx, "k", strings.NewReader("x"), 1, "text/plain"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
