package ledger

import (
	"errors"
	"testing"
)

func TestAppendAndExactLookup(t *testing.T) {
	l := New()
	if err := l.Append(100, 1_0000000000); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := l.Append(160, 1_0000050000); err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	v, ok := l.ValueAt(100)
	if !ok || v != 1_0000000000 {
		t.Fatalf("ValueAt(100) = %d, %v", v, ok)
	}
	if _, ok := l.ValueAt(130); ok {
		t.Fatal("expected no entry between triggers")
	}

	// reads are idempotent
	again, ok := l.ValueAt(100)
	if !ok || again != v {
		t.Fatalf("repeated read differed: %d vs %d", again, v)
	}
}

func TestAppendRejectsNonIncreasingTimestamp(t *testing.T) {
	l := New()
	if err := l.Append(100, 10); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(100, 20); !errors.Is(err, ErrNonIncreasingTimestamp) {
		t.Fatalf("duplicate timestamp: got %v", err)
	}
	if err := l.Append(50, 20); !errors.Is(err, ErrNonIncreasingTimestamp) {
		t.Fatalf("past timestamp: got %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("rejected appends must not be stored, len=%d", l.Len())
	}
}

func TestAppendRejectsDecreasingValue(t *testing.T) {
	l := New()
	if err := l.Append(100, 30); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(200, 29); !errors.Is(err, ErrDecreasingValue) {
		t.Fatalf("decreasing value: got %v", err)
	}
	if err := l.Append(200, 30); err != nil {
		t.Fatalf("equal value is allowed (zero-fee interval): %v", err)
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	l := New()
	if err := l.Append(100, 10); err != nil {
		t.Fatal(err)
	}
	entries := l.Entries()
	entries[0].Cumulative = 999

	v, _ := l.ValueAt(100)
	if v != 10 {
		t.Fatal("mutating the returned slice must not affect the ledger")
	}
}
