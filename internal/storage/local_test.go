package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryStoreGetPut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("http://files.local")

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Put(ctx, "a/b.pdf", []byte("%PDF-1.4"), "application/pdf"); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	data, err := store.Get(ctx, "a/b.pdf")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(data) != "%PDF-1.4" {
		t.Fatalf("unexpected content: %q", data)
	}

	// 取得したスライスを書き換えても保存内容は変わらない
	data[0] = 'X'
	again, _ := store.Get(ctx, "a/b.pdf")
	if again[0] != '%' {
		t.Fatal("stored content was mutated through returned slice")
	}
}

func TestMemoryStoreSignedURL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("http://files.local")

	if _, err := store.SignedURL(ctx, "nope", time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = store.Put(ctx, "temp_files/J1-x.pdf", []byte("x"), "")
	url, err := store.SignedURL(ctx, "temp_files/J1-x.pdf", time.Minute)
	if err != nil {
		t.Fatalf("SignedURL returned error: %v", err)
	}
	if !strings.HasPrefix(url, "http://files.local/temp_files/J1-x.pdf") {
		t.Fatalf("unexpected url: %s", url)
	}
}
