package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	b, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": b,
	}
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
			}

			for _, key := range []string{"conv/b", "conv/a", "history/1"} {
				if err := st.Set(ctx, key, []byte("v-"+key), 0); err != nil {
					t.Fatalf("Set(%s) error = %v", key, err)
				}
			}

			got, err := st.Get(ctx, "conv/a")
			if err != nil || string(got) != "v-conv/a" {
				t.Errorf("Get(conv/a) = %q, %v", got, err)
			}

			keys, err := st.List(ctx, "conv/")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if want := []string{"conv/a", "conv/b"}; !reflect.DeepEqual(keys, want) {
				t.Errorf("List(conv/) = %v, want %v", keys, want)
			}

			if err := st.Delete(ctx, "conv/a"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := st.Delete(ctx, "conv/a"); err != nil {
				t.Errorf("second Delete() error = %v, want nil", err)
			}
			if _, err := st.Get(ctx, "conv/a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := NewMemoryStore()
	st.now = func() time.Time { return now }
	ctx := context.Background()

	if err := st.Set(ctx, "short", []byte("x"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := st.Set(ctx, "forever", []byte("y"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := st.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(expired) error = %v, want ErrNotFound", err)
	}
	keys, _ := st.List(ctx, "")
	if !reflect.DeepEqual(keys, []string{"forever"}) {
		t.Errorf("List() = %v, want [forever]", keys)
	}
	if n := st.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	ctx := context.Background()
	value := []byte("abc")
	_ = st.Set(ctx, "k", value, 0)
	value[0] = 'z'

	got, _ := st.Get(ctx, "k")
	got[1] = 'z'
	again, _ := st.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value = %q, want abc", again)
	}
}
