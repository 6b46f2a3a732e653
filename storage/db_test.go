package storage

import (
	"errors"
	"testing"
)

func TestBackends(t *testing.T) {
	for _, kind := range []string{"memory", "leveldb", "bolt"} {
		kind := kind
		t.Run(kind, func(t *testing.T) {
			db, err := Open(kind, t.TempDir())
			if err != nil {
				t.Fatalf("open %s: %v", kind, err)
			}
			defer db.Close()

			if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := db.Put([]byte("escrow/a"), []byte("one")); err != nil {
				t.Fatalf("put: %v", err)
			}
			value, err := db.Get([]byte("escrow/a"))
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(value) != "one" {
				t.Fatalf("unexpected value %q", value)
			}
			ok, err := db.Has([]byte("escrow/a"))
			if err != nil || !ok {
				t.Fatalf("expected key present, ok=%v err=%v", ok, err)
			}
			if err := db.Delete([]byte("escrow/a")); err != nil {
				t.Fatalf("delete: %v", err)
			}
			ok, err = db.Has([]byte("escrow/a"))
			if err != nil || ok {
				t.Fatalf("expected key removed, ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("redis", t.TempDir()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'z'
	got, _ := db.Get([]byte("k"))
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
}
