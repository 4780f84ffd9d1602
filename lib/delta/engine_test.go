package delta

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/emulab/ndzcore/lib/core"
	"github.com/emulab/ndzcore/lib/signature"
)

// memDisk is an in-memory io.ReaderAt backing a fake disk for tests.
type memDisk []byte

func (m memDisk) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m[off:])
	if n < len(p) {
		return n, nil
	}
	return n, nil
}

func sectorFill(nsectors int, b byte) []byte {
	return bytes.Repeat([]byte{b}, nsectors*core.SecSize)
}

func hashOf(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

func TestComputeDeltaAllNewWhenNoSignature(t *testing.T) {
	disk := memDisk(sectorFill(20, 0xAA))
	ranges := core.NewRange([]core.Span{{Start: 0, Size: 20}})

	e := NewDeltaEngine(nil)
	nranges, nsig, err := e.ComputeDelta(ranges, nil, disk, 0, true)
	if err != nil {
		t.Fatalf("ComputeDelta: %v", err)
	}
	spans := nranges.Spans()
	if len(spans) != 1 || spans[0] != (core.Span{Start: 0, Size: 20}) {
		t.Fatalf("spans = %+v, want [{0 20}]", spans)
	}
	if nsig == nil || len(nsig.Regions) == 0 {
		t.Fatal("expected a new signature with at least one region")
	}
}

func TestComputeDeltaMatchingRegionIsDroppedFromOutput(t *testing.T) {
	data := sectorFill(10, 0xBB)
	disk := memDisk(data)
	ranges := core.NewRange([]core.Span{{Start: 0, Size: 10}})

	sig := &signature.Signature{
		Version:   signature.V3,
		HashType:  signature.HashSHA256,
		BlockSize: 2048,
		Regions:   []signature.HashRegion{{Start: 0, Size: 10, Hash: hashOf(data)}},
	}

	e := NewDeltaEngine(nil)
	nranges, _, err := e.ComputeDelta(ranges, sig, disk, 0, false)
	if err != nil {
		t.Fatalf("ComputeDelta: %v", err)
	}
	spans := nranges.Spans()
	if len(spans) != 0 {
		t.Fatalf("expected a fully-matching region to be dropped from the output, got %+v", spans)
	}
}

func TestComputeDeltaDifferingRegionIsEmitted(t *testing.T) {
	data := sectorFill(10, 0xBB)
	disk := memDisk(data)
	ranges := core.NewRange([]core.Span{{Start: 0, Size: 10}})

	sig := &signature.Signature{
		HashType:  signature.HashSHA256,
		BlockSize: 2048,
		Regions:   []signature.HashRegion{{Start: 0, Size: 10, Hash: bytes.Repeat([]byte{0xFF}, 32)}},
	}

	e := NewDeltaEngine(nil)
	nranges, _, err := e.ComputeDelta(ranges, sig, disk, 0, false)
	if err != nil {
		t.Fatalf("ComputeDelta: %v", err)
	}
	spans := nranges.Spans()
	if len(spans) != 1 || spans[0] != (core.Span{Start: 0, Size: 10}) {
		t.Fatalf("expected the differing region to be emitted, got %+v", spans)
	}
}

func TestComputeDeltaDroppedHashRegionIsDiscarded(t *testing.T) {
	disk := memDisk(sectorFill(5, 0xCC))
	// Current disk only has sectors [0,5); the prior signature also
	// covers a now-deallocated region at [100,110) that should simply
	// be dropped, not emitted or carried forward.
	ranges := core.NewRange([]core.Span{{Start: 0, Size: 5}})
	sig := &signature.Signature{
		HashType:  signature.HashSHA256,
		BlockSize: 2048,
		Regions: []signature.HashRegion{
			{Start: 100, Size: 10, Hash: bytes.Repeat([]byte{0}, 32)},
		},
	}

	e := NewDeltaEngine(nil)
	nranges, nsig, err := e.ComputeDelta(ranges, sig, disk, 0, true)
	if err != nil {
		t.Fatalf("ComputeDelta: %v", err)
	}
	spans := nranges.Spans()
	if len(spans) != 1 || spans[0] != (core.Span{Start: 0, Size: 5}) {
		t.Fatalf("spans = %+v, want only the live [0,5) range", spans)
	}
	for _, r := range nsig.Regions {
		if r.Start == 100 {
			t.Fatal("deallocated hash region must not carry forward into the new signature")
		}
	}
}

func TestUpdateChunkSetsSpanBitAcrossBoundary(t *testing.T) {
	sig := &signature.Signature{
		Regions: []signature.HashRegion{
			{Start: 0, Size: 20}, // crosses lsect=10
		},
	}
	e := NewDeltaEngine(nil)
	if err := e.UpdateChunk(sig, 0, 10, 3); err != nil {
		t.Fatalf("UpdateChunk: %v", err)
	}
	if !sig.Regions[0].Spans() {
		t.Fatal("expected span bit set on a region crossing the chunk boundary")
	}
	if sig.Regions[0].ChunkNumber() != 3 {
		t.Errorf("ChunkNumber() = %d, want 3", sig.Regions[0].ChunkNumber())
	}
}

func TestUpdateChunkRequiresSpanBitOnCarryover(t *testing.T) {
	sig := &signature.Signature{
		Regions: []signature.HashRegion{
			{Start: 0, Size: 20}, // starts before ssect=15, no span bit set
		},
	}
	e := NewDeltaEngine(nil)
	if err := e.UpdateChunk(sig, 15, 25, 1); err == nil {
		t.Fatal("expected an error when a carried-over region lacks the span bit")
	}
}
