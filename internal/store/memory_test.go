package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_SetGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get mismatch: got %q, want %q", got, "v")
	}
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, err := s.Get(ctx, "k")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		if err := s.ListPush(ctx, "list", []byte(v)); err != nil {
			t.Fatalf("ListPush error: %v", err)
		}
	}

	got, err := s.ListRange(ctx, "list", 0, -1)
	if err != nil {
		t.Fatalf("ListRange error: %v", err)
	}

	want := []string{"c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("ListRange length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Fatalf("ListRange[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMemoryStore_ListTrimCapsOldest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d"} {
		if err := s.ListPush(ctx, "list", []byte(v)); err != nil {
			t.Fatalf("ListPush error: %v", err)
		}
	}

	// keep only the two newest entries
	if err := s.ListTrim(ctx, "list", 0, 1); err != nil {
		t.Fatalf("ListTrim error: %v", err)
	}

	got, err := s.ListRange(ctx, "list", 0, -1)
	if err != nil {
		t.Fatalf("ListRange error: %v", err)
	}
	if len(got) != 2 || string(got[0]) != "d" || string(got[1]) != "c" {
		t.Fatalf("ListTrim result wrong: %q", got)
	}
}

func TestMemoryStore_ListRangeBounds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		_ = s.ListPush(ctx, "list", []byte(v))
	}

	tests := []struct {
		name        string
		start, stop int64
		want        []string
	}{
		{"full negative stop", 0, -1, []string{"c", "b", "a"}},
		{"first two", 0, 1, []string{"c", "b"}},
		{"offset past end", 5, 10, nil},
		{"stop past end", 1, 99, []string{"b", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListRange(ctx, "list", tt.start, tt.stop)
			if err != nil {
				t.Fatalf("ListRange error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("length: got %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if string(got[i]) != tt.want[i] {
					t.Fatalf("[%d]: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMemoryStore_PublishRecorded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Publish(ctx, "events", []byte("hello")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	pubs := s.Published()
	if len(pubs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(pubs))
	}
	if pubs[0].Channel != "events" || string(pubs[0].Message) != "hello" {
		t.Fatalf("unexpected publish: %+v", pubs[0])
	}
}
