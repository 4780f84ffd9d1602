package ndz

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestAssembleAndDecodeChunkRoundTrip(t *testing.T) {
	relocs := NewRelocTable()
	asm := NewAssembler(V2, false, uuid.Nil, NewZstdCompressor(), relocs)
	asm.SetBlockTotal(1)

	data := bytes.Repeat([]byte{0xAB}, 512*4)
	chunk, err := asm.AddRegion(0, 4, data)
	if err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	if chunk != nil {
		t.Fatalf("expected no flush from a single small region")
	}

	final, err := asm.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if final == nil {
		t.Fatal("expected a chunk from Flush")
	}

	buf, err := EncodeChunk(final, false)
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	if len(buf) != 1024*1024 {
		t.Fatalf("chunk buffer size = %d, want 1 MiB", len(buf))
	}

	readRelocs := NewRelocTable()
	decoded, err := DecodeChunk(buf, readRelocs)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if decoded.Header.RegionCount != 1 || decoded.Regions[0].Start != 0 || decoded.Regions[0].Size != 4 {
		t.Fatalf("decoded regions mismatch: %+v", decoded.Regions)
	}

	out, err := NewZstdCompressor().Decompress(decoded.Data, len(data))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("round-tripped chunk data does not match original")
	}
}

func TestAssemblerFlushesWhenChunkFull(t *testing.T) {
	asm := NewAssembler(V2, false, uuid.Nil, NewZstdCompressor(), NewRelocTable())

	// The flush decision is made on raw (uncompressed) bytes, so a second
	// region that would push them past the chunk's data budget forces a
	// flush however well the data compresses.
	big := make([]byte, 512*2000)
	for i := range big {
		big[i] = byte(i)
	}
	flushed, err := asm.AddRegion(0, 2000, big)
	if err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	if flushed != nil {
		t.Fatal("first region should not force a flush")
	}

	more := make([]byte, 512*2000)
	for i := range more {
		more[i] = byte(i + 1)
	}
	flushed, err = asm.AddRegion(2000, 2000, more)
	if err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	if flushed == nil {
		t.Fatal("expected the second region to force a flush of the first chunk")
	}
}
