package core

// Span is one contiguous run of sectors, [Start, Start+Size).
type Span struct {
	Start uint64
	Size  uint64
}

// End returns the first sector past the span.
func (s Span) End() uint64 { return s.Start + s.Size }

// Range is an ordered, non-overlapping sequence of spans. A Range value is
// never mutated in place by any ndzcore operation: every function that
// would historically have spliced a caller's linked list instead returns a
// new Range, or walks the input through a Cursor. This is deliberate — the
// delta engine takes a caller-owned Range as input and must never surprise
// the caller by rewriting it underfoot.
type Range struct {
	spans []Span
}

// NewRange builds a Range from already-ordered, non-overlapping spans. The
// slice is copied, so the caller's backing array is never aliased.
func NewRange(spans []Span) Range {
	out := make([]Span, len(spans))
	copy(out, spans)
	return Range{spans: out}
}

// Spans returns a copy of the range's spans.
func (r Range) Spans() []Span {
	out := make([]Span, len(r.spans))
	copy(out, r.spans)
	return out
}

// Len reports the number of spans.
func (r Range) Len() int { return len(r.spans) }

// Builder accumulates spans with coalescing of adjacent runs, mirroring
// add_to_range's tail-append-or-extend behavior.
type Builder struct {
	spans []Span
}

// Add appends (start, size) to the builder, extending the last span in
// place if it is contiguous with the new one.
func (b *Builder) Add(start, size uint64) {
	if size == 0 {
		return
	}
	if n := len(b.spans); n > 0 && b.spans[n-1].End() == start {
		b.spans[n-1].Size += size
		return
	}
	b.spans = append(b.spans, Span{Start: start, Size: size})
}

// AddSpan appends a Span to the builder.
func (b *Builder) AddSpan(s Span) { b.Add(s.Start, s.Size) }

// Build finalizes the builder into a Range.
func (b *Builder) Build() Range {
	return Range{spans: b.spans}
}

// Cursor walks a Range's spans front to back without mutating the
// underlying Range, consuming prefixes of the current span as the caller
// advances. It is the replacement for hashmap.c's COPYRANGE(r) pattern: a
// local, disposable view over the caller's data.
type Cursor struct {
	spans []Span
	idx   int
}

// NewCursor returns a Cursor positioned at the start of r. The cursor
// copies r's spans up front, so consuming it never touches r's backing
// array.
func NewCursor(r Range) *Cursor {
	spans := make([]Span, len(r.spans))
	copy(spans, r.spans)
	return &Cursor{spans: spans}
}

// Done reports whether the cursor has consumed every span.
func (c *Cursor) Done() bool { return c.idx >= len(c.spans) }

// Peek returns the current (possibly already-trimmed) span without
// consuming it.
func (c *Cursor) Peek() (Span, bool) {
	if c.Done() {
		return Span{}, false
	}
	return c.spans[c.idx], true
}

// Consume removes n sectors from the front of the current span, advancing
// past it once fully consumed. n must not exceed the current span's size.
func (c *Cursor) Consume(n uint64) {
	if c.Done() || n == 0 {
		return
	}
	s := &c.spans[c.idx]
	s.Start += n
	s.Size -= n
	if s.Size == 0 {
		c.idx++
	}
}

// TrimFront advances the cursor until its current span starts at or after
// boundary, discarding anything strictly before it without emitting it
// anywhere.
func (c *Cursor) TrimFront(boundary uint64) {
	for !c.Done() {
		s := c.spans[c.idx]
		if s.End() <= boundary {
			c.idx++
			continue
		}
		if s.Start < boundary {
			c.Consume(boundary - s.Start)
		}
		return
	}
}
