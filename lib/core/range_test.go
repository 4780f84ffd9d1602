package core

import "testing"

func TestBuilderCoalescesAdjacent(t *testing.T) {
	var b Builder
	b.Add(0, 10)
	b.Add(10, 5)
	b.Add(20, 3)
	r := b.Build()
	spans := r.Spans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans after coalescing, got %d: %+v", len(spans), spans)
	}
	if spans[0] != (Span{Start: 0, Size: 15}) {
		t.Errorf("first span = %+v, want {0 15}", spans[0])
	}
	if spans[1] != (Span{Start: 20, Size: 3}) {
		t.Errorf("second span = %+v, want {20 3}", spans[1])
	}
}

func TestCursorConsumeDoesNotMutateOriginal(t *testing.T) {
	r := NewRange([]Span{{Start: 0, Size: 10}, {Start: 20, Size: 5}})
	c := NewCursor(r)
	c.Consume(4)

	orig := r.Spans()
	if orig[0] != (Span{Start: 0, Size: 10}) {
		t.Errorf("original range was mutated: %+v", orig[0])
	}

	s, ok := c.Peek()
	if !ok || s != (Span{Start: 4, Size: 6}) {
		t.Errorf("cursor span = %+v, ok=%v, want {4 6}", s, ok)
	}
}

func TestCursorTrimFront(t *testing.T) {
	r := NewRange([]Span{{Start: 0, Size: 10}, {Start: 10, Size: 10}, {Start: 30, Size: 5}})
	c := NewCursor(r)
	c.TrimFront(15)
	s, ok := c.Peek()
	if !ok || s != (Span{Start: 15, Size: 5}) {
		t.Fatalf("got %+v, ok=%v, want {15 5}", s, ok)
	}
	c.Consume(5)
	c.TrimFront(25)
	s, ok = c.Peek()
	if !ok || s != (Span{Start: 30, Size: 5}) {
		t.Fatalf("got %+v, ok=%v, want {30 5}", s, ok)
	}
}

func TestCursorDoneAtEnd(t *testing.T) {
	r := NewRange([]Span{{Start: 0, Size: 1}})
	c := NewCursor(r)
	c.Consume(1)
	if !c.Done() {
		t.Fatal("expected cursor to be done after consuming only span")
	}
	if _, ok := c.Peek(); ok {
		t.Fatal("expected Peek to fail on a done cursor")
	}
}
