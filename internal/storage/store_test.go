package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewStoreBackends(t *testing.T) {
	for _, kind := range []string{"", "file", "memory"} {
		store, err := NewStore(kind, t.TempDir())
		if err != nil {
			t.Fatalf("new %q store: %v", kind, err)
		}
		if store == nil {
			t.Fatalf("expected non-nil %q store", kind)
		}
		if err := CloseIfSupported(store); err != nil {
			t.Fatalf("close %q store: %v", kind, err)
		}
	}
	if _, err := NewStore("unknown", ""); err == nil {
		t.Fatal("expected unsupported store error")
	}
	if DefaultStoreKind() != "file" {
		t.Fatalf("unexpected default store kind %q", DefaultStoreKind())
	}
}

func TestStoresRoundTripResults(t *testing.T) {
	ctx := context.Background()
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(t.TempDir()),
	}
	for name, store := range stores {
		if err := store.Init(ctx); err != nil {
			t.Fatalf("%s init: %v", name, err)
		}
		if _, ok, err := store.GetResult(ctx, "lfcnn_synthetic"); err != nil || ok {
			t.Fatalf("%s: expected missing result, ok=%t err=%v", name, ok, err)
		}

		first := sampleResult()
		if err := store.SaveResult(ctx, first); err != nil {
			t.Fatalf("%s save: %v", name, err)
		}
		second := sampleResult()
		second.RunID = "run-2"
		if err := store.SaveResult(ctx, second); err != nil {
			t.Fatalf("%s save again: %v", name, err)
		}
		other := sampleResult()
		other.DataID = "other"
		if err := store.SaveResult(ctx, other); err != nil {
			t.Fatalf("%s save other: %v", name, err)
		}

		got, ok, err := store.GetResult(ctx, "lfcnn_synthetic")
		if err != nil || !ok {
			t.Fatalf("%s get: ok=%t err=%v", name, ok, err)
		}
		if got.RunID != "run-2" {
			t.Fatalf("%s: expected latest run to replace earlier one, got %s", name, got.RunID)
		}

		infos, err := store.ListResults(ctx)
		if err != nil {
			t.Fatalf("%s list: %v", name, err)
		}
		if len(infos) != 2 || infos[0].Key != "lfcnn_other" || infos[1].Key != "lfcnn_synthetic" {
			t.Fatalf("%s list: %+v", name, infos)
		}
		if infos[1].Folds != 2 || infos[1].Bytes <= 0 {
			t.Fatalf("%s info: %+v", name, infos[1])
		}
	}
}

func TestFileStoreLayout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewFileStore(root)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.SaveResult(ctx, sampleResult()); err != nil {
		t.Fatalf("save: %v", err)
	}
	path := filepath.Join(root, "lfcnn_synthetic", ArchiveName)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected archive at %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte{0xff, 0xff}, 0o644); err != nil {
		t.Fatalf("corrupt archive: %v", err)
	}
	if _, _, err := store.GetResult(ctx, "lfcnn_synthetic"); err == nil {
		t.Fatal("expected decode error for corrupt archive")
	}
	if err := NewFileStore("").Init(ctx); err == nil {
		t.Fatal("expected missing root error")
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	if err := NewMemoryStore().SaveResult(context.Background(), sampleResult()); err == nil {
		t.Fatal("expected uninitialized store error")
	}
}
