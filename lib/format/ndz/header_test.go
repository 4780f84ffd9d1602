package ndz

import (
	"testing"

	"github.com/google/uuid"
)

func TestHeaderRoundTripV2(t *testing.T) {
	h := &Header{
		Version:     V2,
		Size:        1234,
		BlockIndex:  7,
		BlockTotal:  100,
		RegionSize:  4096,
		RegionCount: 3,
		RelocCount:  2,
		FirstSect:   1000,
		LastSect:    2000,
	}
	buf, err := EncodeHeader(h)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got.Version != V2 || got.Size != 1234 || got.BlockIndex != 7 || got.FirstSect != 1000 || got.LastSect != 2000 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestHeaderRoundTripV5WithUUID(t *testing.T) {
	id := uuid.New()
	h := &Header{
		Version:     V5,
		Size:        555,
		RegionCount: 1,
		FirstSect:   10,
		LastSect:    20,
		ImageID:     id,
	}
	buf, err := EncodeHeader(h)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got.ImageID != id {
		t.Errorf("ImageID = %v, want %v", got.ImageID, id)
	}
}

func TestHeaderRejectsReservedV4(t *testing.T) {
	buf := make([]byte, 4096)
	// magicBase + (4 - 1) = reserved V4 magic.
	magic := magicBase + 3
	buf[0] = byte(magic)
	buf[1] = byte(magic >> 8)
	buf[2] = byte(magic >> 16)
	buf[3] = byte(magic >> 24)
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatal("expected error decoding reserved version 4 header")
	}
}

func TestV1ZeroBlockTotalDisablesIndexCheck(t *testing.T) {
	h := &Header{Version: V1, BlockTotal: 0}
	if !h.IndexCheckDisabled() {
		t.Fatal("expected zero BlockTotal on a V1 header to disable index checking")
	}
	h.BlockTotal = 5
	if h.IndexCheckDisabled() {
		t.Fatal("expected nonzero BlockTotal to leave index checking enabled")
	}
}

func TestChecksumTypesAreDistinct(t *testing.T) {
	if ChecksumSHA1 == ChecksumSHA256 || ChecksumSHA256 == ChecksumSHA512 || ChecksumSHA1 == ChecksumSHA512 {
		t.Fatal("checksum type codes must be pairwise distinct")
	}
}
