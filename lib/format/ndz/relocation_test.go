package ndz

import "testing"

func chunkHeader(first, last uint64, version Version, count int32) *Header {
	return &Header{Version: version, FirstSect: first, LastSect: last, RelocCount: count}
}

func TestRelocTableAppendAndSelect(t *testing.T) {
	rt := NewRelocTable()

	hdr1 := chunkHeader(0, 100, V2, 2)
	buf1 := append(encodeReloc(Relocation{Type: RelocFBSDDiskLabel, Sector: 5, SectOff: 0, Size: 4}, true),
		encodeReloc(Relocation{Type: RelocLiloSAddr, Sector: 50, SectOff: 0, Size: 4}, true)...)
	if err := rt.AppendFromChunk(hdr1, buf1); err != nil {
		t.Fatalf("AppendFromChunk: %v", err)
	}
	if rt.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rt.Len())
	}

	hdr2 := chunkHeader(100, 200, V2, 0)
	out := rt.SelectIntoChunk(hdr2)
	if len(out) != 0 {
		t.Errorf("expected no relocations selected for a disjoint chunk range, got %d bytes", len(out))
	}

	selectHdr := chunkHeader(0, 10, V2, 0)
	out = rt.SelectIntoChunk(selectHdr)
	if len(out) != relocRecSize(true) {
		t.Errorf("expected exactly 1 relocation selected, got %d bytes", len(out))
	}
}

func TestRelocTableWidthLockedToFirstHeader(t *testing.T) {
	rt := NewRelocTable()
	hdr32 := chunkHeader(0, 10, V2, 1)
	if err := rt.AppendFromChunk(hdr32, encodeReloc(Relocation{Sector: 1, Size: 1}, true)); err != nil {
		t.Fatalf("AppendFromChunk: %v", err)
	}

	hdr64 := chunkHeader(0, 10, V5, 1)
	err := rt.AppendFromChunk(hdr64, encodeReloc(Relocation{Sector: 1, Size: 1}, false))
	if err == nil {
		t.Fatal("expected error when relocation width changes mid-image")
	}
}

func TestRelocTableCountInRange(t *testing.T) {
	rt := NewRelocTable()
	hdr := chunkHeader(0, 100, V2, 3)
	buf := append(encodeReloc(Relocation{Sector: 1}, true),
		append(encodeReloc(Relocation{Sector: 2}, true), encodeReloc(Relocation{Sector: 50}, true)...)...)
	if err := rt.AppendFromChunk(hdr, buf); err != nil {
		t.Fatalf("AppendFromChunk: %v", err)
	}
	if n := rt.CountInRange(0, 3); n != 2 {
		t.Errorf("CountInRange(0,3) = %d, want 2", n)
	}
	if n := rt.CountInRange(0, 0); n != 3 {
		t.Errorf("CountInRange(0,0) = %d, want 3 (size 0 means count to high-water mark)", n)
	}
}

func TestRelocTableCopyRequiresEmptyDestination(t *testing.T) {
	src := NewRelocTable()
	hdr := chunkHeader(0, 10, V2, 1)
	if err := src.AppendFromChunk(hdr, encodeReloc(Relocation{Sector: 1, Size: 1}, true)); err != nil {
		t.Fatalf("AppendFromChunk: %v", err)
	}

	dst := NewRelocTable()
	if err := Copy(src, dst); err != nil {
		t.Fatalf("Copy into empty destination: %v", err)
	}
	if dst.Len() != 1 {
		t.Fatalf("dst.Len() = %d, want 1", dst.Len())
	}

	if err := Copy(src, dst); err == nil {
		t.Fatal("expected Copy into a non-empty destination to fail")
	}
}
