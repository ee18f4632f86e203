//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreResultRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "neurodecode.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	in := sampleResult()
	if err := store.SaveResult(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	in.RunID = "run-2"
	if err := store.SaveResult(ctx, in); err != nil {
		t.Fatalf("save again: %v", err)
	}

	out, ok, err := store.GetResult(ctx, in.Key())
	if err != nil || !ok {
		t.Fatalf("get: ok=%t err=%v", ok, err)
	}
	if out.RunID != "run-2" || len(out.Folds) != 2 || out.Confusion[1][1] != 4 {
		t.Fatalf("unexpected result: %+v", out)
	}

	infos, err := store.ListResults(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "lfcnn_synthetic" || infos[0].Folds != 2 || infos[0].Bytes <= 0 {
		t.Fatalf("unexpected listing: %+v", infos)
	}

	if _, ok, err := store.GetResult(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing result, ok=%t err=%v", ok, err)
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"))
	if err := store.SaveResult(context.Background(), sampleResult()); err == nil {
		t.Fatal("expected uninitialized store error")
	}
	if err := NewSQLiteStore("").Init(context.Background()); err == nil {
		t.Fatal("expected missing path error")
	}
}
