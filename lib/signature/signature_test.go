package signature

import (
	"bytes"
	"testing"
)

func sampleSignature() *Signature {
	return &Signature{
		Version:  V3,
		HashType: HashSHA256,
		BlockSize: 2048,
		Regions: []HashRegion{
			{Start: 100, Size: 10, ChunkNo: 0, Hash: bytes.Repeat([]byte{0x11}, 32)},
			{Start: 200, Size: 20, ChunkNo: 1, Hash: bytes.Repeat([]byte{0x22}, 32)},
		},
	}
}

func TestSignatureEncodeDecodeRoundTrip(t *testing.T) {
	sig := sampleSignature()
	var buf bytes.Buffer
	if err := encode(&buf, sig); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Read(&buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Version != V3 || got.HashType != HashSHA256 || len(got.Regions) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Regions[1].Start != 200 || got.Regions[1].Size != 20 {
		t.Errorf("region 1 mismatch: %+v", got.Regions[1])
	}
	if !bytes.Equal(got.Regions[0].Hash, sig.Regions[0].Hash) {
		t.Errorf("hash mismatch for region 0")
	}
}

func TestReadAppliesPartitionOffset(t *testing.T) {
	sig := sampleSignature()
	var buf bytes.Buffer
	if err := encode(&buf, sig); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Read(&buf, 1000)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Regions[0].Start != 1100 {
		t.Errorf("Start = %d, want 1100 (100 + poffset 1000)", got.Regions[0].Start)
	}
}

func TestSpanBitRoundTrips(t *testing.T) {
	var r HashRegion
	r.ChunkNo = 5
	r.SetSpanning(true)
	if !r.Spans() {
		t.Fatal("expected Spans() true after SetSpanning(true)")
	}
	if r.ChunkNumber() != 5 {
		t.Errorf("ChunkNumber() = %d, want 5 (span bit must not leak into the chunk number)", r.ChunkNumber())
	}
	r.SetSpanning(false)
	if r.Spans() {
		t.Fatal("expected Spans() false after SetSpanning(false)")
	}
}

func TestRejectsBadMagic(t *testing.T) {
	buf := bytes.NewReader(make([]byte, 32))
	if _, err := Read(buf, 0); err == nil {
		t.Fatal("expected error reading a buffer with no valid signature magic")
	}
}
